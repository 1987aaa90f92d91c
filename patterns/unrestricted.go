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

// guardedByCaller reports whether a conditional jump testing the caller
// dominates in.
func guardedByCaller(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
	for _, j := range jumpsIn(body) {
		if a.MustPrecede(j, in) == dataflow.Valid && a.VarMustDepOn(j.Condition(), tag(evm.CALLER)) {
			return true
		}
	}
	return false
}

// UnrestrictedWrite flags storage writes any user can trigger.
func UnrestrictedWrite() Pattern {
	return &instructionPattern{
		desc: Description{
			Name:     "UnrestrictedWrite",
			Category: "InsecureCodingPatterns",
			Title:    "Unrestricted write to storage",
			Text:     "Contract fields that can be modified by any user must be inspected.",
			Severity: Critical,
			Type:     Security,
		},
		applicable: func(_ *dataflow.Analysis, in *decompiler.Instruction) bool {
			return in.Is(evm.SSTORE) && len(in.Inputs) == 2
		},
		violation: func(a *dataflow.Analysis, in *decompiler.Instruction, _ []*decompiler.Instruction) bool {
			return !a.VarMayDepOn(in.Input(0), tag(evm.CALLER)) &&
				a.InstrMayDepOn(in, tag(evm.CALLER)) == dataflow.Unsatisfiable
		},
		compliant: func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
			return a.VarMustDepOn(in.Input(0), tag(evm.CALLER)) || guardedByCaller(a, in, body)
		},
	}
}

// UnrestrictedEtherFlow flags ether transfers any user can trigger.
func UnrestrictedEtherFlow() Pattern {
	return &instructionPattern{
		desc: Description{
			Name:     "UnrestrictedEtherFlow",
			Category: "InsecureCodingPatterns",
			Title:    "Unrestricted ether flow",
			Text:     "The execution of ether flows should be restricted to an authorized set of users.",
			Severity: Critical,
			Type:     Security,
		},
		applicable: func(_ *dataflow.Analysis, in *decompiler.Instruction) bool {
			return isCall(in)
		},
		violation: func(a *dataflow.Analysis, in *decompiler.Instruction, _ []*decompiler.Instruction) bool {
			if a.InstrMayDepOn(in, tag(evm.CALLER)).Holds() {
				return false
			}
			v := amount(in)
			switch {
			case isZero(v):
				return false
			case v.IsConst():
				return true
			}
			return a.VarMustDepOn(v, tag(evm.CALLDATALOAD))
		},
		compliant: func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
			return isZero(amount(in)) || guardedByCaller(a, in, body)
		},
	}
}
