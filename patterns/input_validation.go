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

package patterns

import (
	evm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/practical-formal-methods/sifter/dataflow"
	"github.com/practical-formal-methods/sifter/decompiler"
)

// sensitive lists the operations whose operands should be validated when
// they come from the call data.
var sensitive = []evm.OpCode{evm.SSTORE, evm.SLOAD, evm.MSTORE, evm.MLOAD, evm.KECCAK256, evm.CALL}

func isSensitive(in *decompiler.Instruction) bool {
	for _, op := range sensitive {
		if in.Is(op) {
			return true
		}
	}
	return false
}

// arguments returns the call data words read by a method body.
func arguments(body []*decompiler.Instruction) []*decompiler.Variable {
	var res []*decompiler.Variable
	for _, in := range body {
		if in.Is(evm.CALLDATALOAD) && in.Output != nil {
			res = append(res, in.Output)
		}
	}
	return res
}

// eachArgumentUse calls fn for every operand of a sensitive operation in
// body that dep relates to an argument, until fn returns false.
func eachArgumentUse(body []*decompiler.Instruction, dep func(v, arg *decompiler.Variable) bool,
	fn func(use *decompiler.Instruction, arg *decompiler.Variable) bool) {
	for _, arg := range arguments(body) {
		for _, use := range body {
			if !isSensitive(use) {
				continue
			}
			for _, v := range use.Inputs {
				if dep(v, arg) && !fn(use, arg) {
					return
				}
			}
		}
	}
}

// MissingInputValidation flags methods that use arguments without checking
// them first.
func MissingInputValidation() Pattern {
	return &instructionPattern{
		desc: Description{
			Name:     "MissingInputValidation",
			Category: "MissingInputValidation",
			Title:    "Missing input validation",
			Text:     "Method arguments must be sanitized before they are used in computations.",
			Severity: Medium,
			Type:     Security,
		},
		applicable: func(_ *dataflow.Analysis, in *decompiler.Instruction) bool {
			return in.Kind == decompiler.KindMethodHead
		},
		violation: func(a *dataflow.Analysis, _ *decompiler.Instruction, body []*decompiler.Instruction) bool {
			found := false
			eachArgumentUse(body, a.VarMustDepOnVar, func(use *decompiler.Instruction, arg *decompiler.Variable) bool {
				for _, j := range jumpsIn(body) {
					if a.MayFollow(j, use).Holds() && a.VarMayDepOnVar(j.Condition(), arg) {
						return true
					}
				}
				found = true
				return false
			})
			return found
		},
		compliant: func(a *dataflow.Analysis, _ *decompiler.Instruction, body []*decompiler.Instruction) bool {
			ok := true
			eachArgumentUse(body, a.VarMayDepOnVar, func(use *decompiler.Instruction, arg *decompiler.Variable) bool {
				for _, j := range jumpsIn(body) {
					if a.MustPrecede(j, use) == dataflow.Valid && a.VarMustDepOnVar(j.Condition(), arg) {
						return true
					}
				}
				ok = false
				return false
			})
			return ok
		},
	}
}
