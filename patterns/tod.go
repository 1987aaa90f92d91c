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

var reordering = Description{
	Category: "TransactionReordering",
	Severity: Critical,
	Type:     Security,
}

func todApplicable(_ *dataflow.Analysis, in *decompiler.Instruction) bool {
	return transfersEther(in) && !isBuiltin(in)
}

// fixedBy reports whether v is computed from one of ops on every path.
func fixedBy(a *dataflow.Analysis, v *decompiler.Variable, ops ...evm.OpCode) bool {
	for _, op := range ops {
		if a.VarMustDepOn(v, tag(op)) {
			return true
		}
	}
	return false
}

// readsWrittenSlot reports whether v is always read from storage that some
// transaction can overwrite.
func readsWrittenSlot(a *dataflow.Analysis, v *decompiler.Variable) bool {
	if !a.VarMustDepOn(v, tag(evm.SLOAD)) {
		return false
	}
	s, _ := storageDeps(a, v, true)
	return s
}

// storageIndependent reports whether v cannot observe a storage write.
func storageIndependent(a *dataflow.Analysis, v *decompiler.Variable) bool {
	s, u := storageDeps(a, v, false)
	return !s && !u
}

// TODAmount flags transfers whose amount another transaction can change.
func TODAmount() Pattern {
	d := reordering
	d.Name = "TODAmount"
	d.Title = "Transaction Order Affects Ether Amount"
	d.Text = "The amount of ether transferred must not be influenced by other transactions."
	return &instructionPattern{
		desc:       d,
		applicable: todApplicable,
		violation: func(a *dataflow.Analysis, in *decompiler.Instruction, _ []*decompiler.Instruction) bool {
			v := amount(in)
			return readsWrittenSlot(a, v) || a.VarMustDepOn(v, tag(evm.BALANCE))
		},
		compliant: func(a *dataflow.Analysis, in *decompiler.Instruction, _ []*decompiler.Instruction) bool {
			v := amount(in)
			switch {
			case v.IsConst(), fixedBy(a, v, evm.CALLER, evm.CALLDATALOAD):
				return true
			case a.VarMayDepOn(v, tag(evm.BALANCE)):
				return false
			case a.VarMayDepOn(v, tag(evm.SLOAD)):
				return storageIndependent(a, v)
			}
			return false
		},
	}
}

// TODReceiver flags transfers whose receiver another transaction can change.
func TODReceiver() Pattern {
	d := reordering
	d.Name = "TODReceiver"
	d.Title = "Transaction Order Affects Ether Receiver"
	d.Text = "The receiver of ether transfers must not be influenced by other transactions."
	return &instructionPattern{
		desc:       d,
		applicable: todApplicable,
		violation: func(a *dataflow.Analysis, in *decompiler.Instruction, _ []*decompiler.Instruction) bool {
			return readsWrittenSlot(a, callee(in))
		},
		compliant: func(a *dataflow.Analysis, in *decompiler.Instruction, _ []*decompiler.Instruction) bool {
			v := callee(in)
			switch {
			case v.IsConst(), fixedBy(a, v, evm.CALLER, evm.CALLDATALOAD, evm.ADDRESS):
				return true
			case a.VarMayDepOn(v, tag(evm.SLOAD)):
				return storageIndependent(a, v)
			}
			return false
		},
	}
}

// TODTransfer flags transfers guarded by conditions another transaction
// can change.
func TODTransfer() Pattern {
	d := reordering
	d.Name = "TODTransfer"
	d.Title = "Transaction Order Affects Execution of Ether Transfer"
	d.Text = "Ether transfers whose execution can be manipulated by other transactions must be inspected for unintended behavior."
	return &instructionPattern{
		desc:       d,
		applicable: todApplicable,
		violation: func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
			for _, j := range jumpsIn(body) {
				if a.MustPrecede(j, in) == dataflow.Unsatisfiable {
					continue
				}
				if readsWrittenSlot(a, j.Condition()) {
					return true
				}
			}
			return false
		},
		compliant: func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
			if a.InstrMayDepOn(in, tag(evm.SLOAD)) == dataflow.Unsatisfiable {
				return a.InstrMayDepOn(in, tag(evm.BALANCE)) == dataflow.Unsatisfiable
			}
			guarded := false
			for _, j := range jumpsIn(body) {
				if !a.MayFollow(j, in).Holds() {
					continue
				}
				if !storageIndependent(a, j.Condition()) {
					return false
				}
				guarded = true
			}
			return guarded
		},
	}
}
