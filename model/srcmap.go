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

package model

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrMappingNotFound is returned when a bytecode position has no source
// location.
var ErrMappingNotFound = errors.New("source mapping not found")

// SourceMap is an exploded srcmap-runtime string: one entry per
// instruction, each split into its s:l:f:j fields. Empty fields inherit the
// value of the previous entry.
type SourceMap [][]string

func ExplodeSourceMap(s string) SourceMap {
	var m SourceMap
	for _, e := range strings.Split(s, ";") {
		m = append(m, strings.Split(e, ":"))
	}
	return m
}

// BytecodeOffsetToSourceOffset returns the source offset of the
// instruction preceding position n, walking back over entries that leave
// the offset unspecified.
func BytecodeOffsetToSourceOffset(n int, m SourceMap) (int, error) {
	if n <= 0 || len(m) < n {
		return 0, fmt.Errorf("%w: position %d", ErrMappingNotFound, n)
	}
	for i := n - 1; 0 <= i; i-- {
		if len(m[i]) == 0 || m[i][0] == "" {
			continue
		}
		off, err := strconv.Atoi(m[i][0])
		if err != nil || off < 0 {
			return 0, fmt.Errorf("%w: position %d", ErrMappingNotFound, n)
		}
		return off, nil
	}
	return 0, fmt.Errorf("%w: position %d", ErrMappingNotFound, n)
}

// LineOf returns the zero based line of a source offset.
func LineOf(source []byte, offset int) int {
	if len(source) < offset {
		offset = len(source)
	}
	return bytes.Count(source[:offset], []byte{'\n'})
}

// Lines maps instruction positions to sorted, distinct source lines.
// Positions without a mapping are reported as line -1 and counted in the
// returned number of misses.
func Lines(source []byte, positions []int, m SourceMap) ([]int, int) {
	seen := map[int]bool{}
	var lines []int
	misses := 0
	for _, n := range positions {
		line := -1
		if off, err := BytecodeOffsetToSourceOffset(n, m); err == nil {
			line = LineOf(source, off)
		} else {
			misses++
		}
		if !seen[line] {
			seen[line] = true
			lines = append(lines, line)
		}
	}
	sort.Ints(lines)
	return lines, misses
}

// Selector computes the 4 byte ABI selector of a method signature such
// as "transfer(address,uint256)".
func Selector(signature string) uint32 {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	sum := h.Sum(nil)
	return uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])
}
