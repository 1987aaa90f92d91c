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
	"bufio"
	"fmt"
	"io"
	"strings"

	evm "github.com/ethereum/go-ethereum/core/vm"
)

func mnemonic(op OpCode, payload []byte) string {
	o := Lookup(op)
	if !o.Valid {
		return fmt.Sprintf("%02X unknown operation %02X", byte(op), byte(op))
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%02X %s", byte(op), o.Name)
	if 0 < o.Immediate {
		sb.WriteString(" 0x")
		for _, b := range payload {
			fmt.Fprintf(&sb, "%02X", b)
		}
	}
	return sb.String()
}

// Disassemble writes a listing of code to w. Every JUMPDEST opens a
// numbered tag region.
func Disassemble(code []byte, w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "-- START")
	tag := 0
	Parse(code, func(offset, _ int, op OpCode, payload []byte) {
		if op == evm.JUMPDEST {
			tag++
			fmt.Fprintf(bw, "-- tag %d\n", tag)
		}
		fmt.Fprintf(bw, "%02X: %s\n", offset, mnemonic(op, payload))
	})
	fmt.Fprintln(bw, "-- EOF")
	return bw.Flush()
}

// DisassembleString is a convenience wrapper around Disassemble.
func DisassembleString(code []byte) string {
	var sb strings.Builder
	_ = Disassemble(code, &sb)
	return sb.String()
}
