// Copyright 2018 MPI-SWS and Valentin Wuestholz

// This file is part of Sifter.
//
// Sifter is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Sifter is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Sifter.  If not, see <https://www.gnu.org/licenses/>.
package decompiler

import (
	"encoding/binary"
	"hash/fnv"
)

// absStack is an abstract operand stack. The last element is the top.
type absStack struct {
	isTop bool
	stack []*absVal
}

func (s absStack) clone() absStack {
	if s.isTop {
		return topStack()
	}
	c := make([]*absVal, len(s.stack))
	for i, v := range s.stack {
		c[i] = constVal(v)
	}
	return absStack{stack: c}
}

func (s absStack) len() int {
	return len(s.stack)
}

// back returns the n-th element from the top.
func (s absStack) back(n int) *absVal {
	return s.stack[len(s.stack)-1-n]
}

func (s *absStack) push(v *absVal) {
	s.stack = append(s.stack, v)
}

func (s *absStack) pop() *absVal {
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v
}

// digest identifies the stack contents for context-sensitive state keys.
func (s absStack) digest() uint32 {
	h := fnv.New32a()
	if s.isTop {
		h.Write([]byte{0xff})
		return h.Sum32()
	}
	for _, v := range s.stack {
		b := v.Bytes32()
		h.Write(b[:])
	}
	var l [8]byte
	binary.LittleEndian.PutUint64(l[:], uint64(len(s.stack)))
	h.Write(l[:])
	return h.Sum32()
}

func topStack() absStack {
	return absStack{isTop: true}
}

func emptyStack() absStack {
	return absStack{}
}

func joinStacks(s1 absStack, s2 absStack) (absStack, bool) {
	if s1.isTop {
		return topStack(), false
	}
	if s2.isTop {
		return topStack(), true
	}

	l1 := s1.len()
	l2 := s2.len()

	diff := false
	minLen := l1
	// If the stack sizes differ we make the joined stack be of the smaller size and join the elements pointwise.
	// This is sound, but may result in spurious failures later when validating stacks (i.e., it is too small).
	if l2 < minLen {
		minLen = l2
		diff = true
	}
	res := emptyStack()
	for i := minLen - 1; 0 <= i; i-- {
		v, diffV := joinVals(s1.back(i), s2.back(i))
		res.push(v)
		diff = diff || diffV
	}
	return res, diff
}
