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

func userChosen(a *dataflow.Analysis, v *decompiler.Variable) bool {
	return a.VarMayDepOn(v, tag(evm.CALLDATALOAD)) || a.VarMayDepOn(v, tag(evm.CALLDATACOPY))
}

// reentered reports whether call can run again after itself.
func reentered(a *dataflow.Analysis, call *decompiler.Instruction) bool {
	prev := call.Prev()
	return prev != nil && a.MayFollow(call, prev).Holds()
}

// RepeatedCall flags calls to a user supplied address that repeat an
// earlier identical call of the same method.
func RepeatedCall() Pattern {
	return &instructionPattern{
		desc: Description{
			Name:     "RepeatedCall",
			Category: "RepeatedCall",
			Title:    "Repeated call to an untrusted contract",
			Text:     "Repeated call to an untrusted contract may result in different values",
			Severity: High,
			Type:     Security,
		},
		applicable: func(a *dataflow.Analysis, in *decompiler.Instruction) bool {
			return in.IsCall() && !isBuiltin(in) && !isZero(in.Input(0))
		},
		violation: func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
			to := callee(in)
			if to == nil || to.IsConst() || !userChosen(a, to) {
				return false
			}
			for _, other := range body {
				if other.Kind != in.Kind || callee(other) == nil || callee(other).IsConst() {
					continue
				}
				if other == in {
					if !reentered(a, in) {
						continue
					}
				} else if a.MustPrecede(other, in) != dataflow.Valid {
					continue
				}
				if sameRequest(other, in) {
					return true
				}
			}
			return false
		},
		compliant: func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
			to := callee(in)
			if to == nil || !userChosen(a, to) {
				return true
			}
			for _, other := range body {
				if other == in {
					if !reentered(a, in) {
						continue
					}
				} else if !a.MayFollow(other, in).Holds() {
					continue
				}
				if other.Kind != in.Kind || callee(other) == nil || callee(other).IsConst() || to.IsConst() {
					continue
				}
				if sameRequest(other, in) {
					return false
				}
			}
			return true
		},
	}
}
