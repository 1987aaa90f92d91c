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

func writeAfterCall(a *dataflow.Analysis, call *decompiler.Instruction, body []*decompiler.Instruction) bool {
	for _, in := range body {
		if in.Is(evm.SSTORE) && a.MustPrecede(call, in) == dataflow.Valid {
			return true
		}
	}
	return false
}

func noWriteAfterCall(a *dataflow.Analysis, call *decompiler.Instruction, body []*decompiler.Instruction) bool {
	for _, in := range body {
		if in.Is(evm.SSTORE) && a.MayFollow(call, in).Holds() {
			return false
		}
	}
	return true
}

// DAO flags ether transfers forwarding all remaining gas that are followed
// by storage writes.
func DAO() Pattern {
	return &instructionPattern{
		desc: Description{
			Name:     "DAO",
			Category: "RecursiveCalls",
			Title:    "Reentrancy",
			Text:     "Ether transfers that forward the remaining gas and are followed by state changes may be reentrant.",
			Severity: Critical,
			Type:     Security,
		},
		applicable: func(a *dataflow.Analysis, in *decompiler.Instruction) bool {
			return transfersEther(in) && a.VarMayDepOn(in.Input(0), tag(evm.GAS))
		},
		violation: writeAfterCall,
		compliant: noWriteAfterCall,
	}
}

// DAOConstantGas is DAO for transfers with a fixed gas stipend.
func DAOConstantGas() Pattern {
	return &instructionPattern{
		desc: Description{
			Name:     "DAOConstantGas",
			Category: "RecursiveCalls",
			Title:    "Reentrancy with constant gas",
			Text:     "Ether transfers (such as send and transfer) that are followed by state changes may be reentrant.",
			Severity: Critical,
			Type:     Security,
		},
		applicable: func(a *dataflow.Analysis, in *decompiler.Instruction) bool {
			return transfersEther(in) && !isBuiltin(in) && !a.VarMayDepOn(in.Input(0), tag(evm.GAS))
		},
		violation: writeAfterCall,
		compliant: noWriteAfterCall,
	}
}
