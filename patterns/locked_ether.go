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

// delegates holds for instructions through which foreign code or a self
// destruct can move the balance.
func delegates(in *decompiler.Instruction) bool {
	return in.Is(evm.DELEGATECALL) || in.Is(evm.CALLCODE) || in.Is(evm.SELFDESTRUCT)
}

// rejectsValue reports whether every path to stop passes a guard testing
// that no ether was sent.
func rejectsValue(a *dataflow.Analysis, stop *decompiler.Instruction, instrs []*decompiler.Instruction) bool {
	for _, j := range instrs {
		if !isJumpI(j) || a.MustPrecede(j, stop) != dataflow.Valid {
			continue
		}
		cond := j.Condition()
		if a.VarMustDepOn(cond, tag(evm.CALLVALUE)) && a.VarMustDepOn(cond, tag(evm.ISZERO)) {
			return true
		}
	}
	return false
}

// LockedEther flags contracts that accept ether but have no way to send it.
func LockedEther() Pattern {
	return &contractPattern{
		desc: Description{
			Name:     "LockedEther",
			Category: "LockedEther",
			Title:    "Locked Ether",
			Text:     "Contracts that may receive ether must also allow users to extract the deposited ether from the contract.",
			Severity: Medium,
			Type:     Security,
		},
		violation: func(a *dataflow.Analysis, instrs []*decompiler.Instruction) bool {
			receives := false
			for _, in := range instrs {
				if in.Is(evm.STOP) && a.InstrMayDepOn(in, tag(evm.CALLVALUE)) == dataflow.Unsatisfiable {
					receives = true
					break
				}
			}
			if !receives {
				return false
			}
			for _, in := range instrs {
				if delegates(in) || transfersEther(in) {
					return false
				}
			}
			return true
		},
		safe: func(a *dataflow.Analysis, instrs []*decompiler.Instruction) bool {
			rejects := true
			for _, in := range instrs {
				if in.Is(evm.STOP) && !rejectsValue(a, in, instrs) {
					rejects = false
					break
				}
			}
			if rejects {
				return true
			}
			for _, in := range instrs {
				if delegates(in) {
					return true
				}
				if !isCall(in) {
					continue
				}
				v := amount(in)
				for _, op := range []evm.OpCode{evm.BALANCE, evm.CALLDATALOAD, evm.MLOAD, evm.SLOAD} {
					if a.VarMustDepOn(v, tag(op)) {
						return true
					}
				}
			}
			return false
		},
	}
}
