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

package vm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	evm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// RawInstruction is one decoded opcode together with its immediate payload.
type RawInstruction struct {
	Offset int
	Index  int
	Op     OpCode
	// Payload holds the bytes actually present in the code. It is shorter
	// than the immediate size for a push that runs past the end of the code.
	Payload []byte
}

// ParseFunc receives every decoded instruction in code order.
type ParseFunc func(offset, index int, op OpCode, payload []byte)

// Parse decodes code from left to right and calls fn for every instruction.
// Unknown opcodes are reported like any other byte.
func Parse(code []byte, fn ParseFunc) {
	index := 0
	for pc := 0; pc < len(code); {
		op := OpCode(code[pc])
		n := Lookup(op).Immediate
		start := pc + 1
		end := start + n
		if end > len(code) {
			end = len(code)
		}
		var payload []byte
		if start < end {
			payload = code[start:end]
		}
		fn(pc, index, op, payload)
		index++
		pc += 1 + n
	}
}

// ParseAll decodes the whole code into a slice.
func ParseAll(code []byte) []RawInstruction {
	var res []RawInstruction
	Parse(code, func(offset, index int, op OpCode, payload []byte) {
		res = append(res, RawInstruction{
			Offset:  offset,
			Index:   index,
			Op:      op,
			Payload: common.CopyBytes(payload),
		})
	})
	return res
}

// JumpDests returns the offsets of all JUMPDEST instructions that are not
// part of a push payload.
func JumpDests(code []byte) map[int]bool {
	dests := map[int]bool{}
	Parse(code, func(offset, _ int, op OpCode, _ []byte) {
		if op == evm.JUMPDEST {
			dests[offset] = true
		}
	})
	return dests
}

// Valid reports whether the opcode is known.
func (r RawInstruction) Valid() bool {
	return Lookup(r.Op).Valid
}

// Truncated reports whether the push payload ran past the end of the code.
func (r RawInstruction) Truncated() bool {
	return len(r.Payload) < Lookup(r.Op).Immediate
}

// Value returns the constant pushed by a push instruction. Missing trailing
// bytes read as zero, as they do on the EVM.
func (r RawInstruction) Value() *uint256.Int {
	n := Lookup(r.Op).Immediate
	return new(uint256.Int).SetBytes(common.RightPadBytes(r.Payload, n))
}

// Next returns the offset of the following instruction.
func (r RawInstruction) Next() int {
	return r.Offset + 1 + Lookup(r.Op).Immediate
}

func (r RawInstruction) String() string {
	return fmt.Sprintf("%02X: %s", r.Offset, mnemonic(r.Op, r.Payload))
}
