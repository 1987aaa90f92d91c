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
	"github.com/practical-formal-methods/sifter/vm"
)

// Precompiled contracts live at addresses 1 to 8.
const (
	firstPrecompile = 1
	lastPrecompile  = 8
)

func tag(op vm.OpCode) dataflow.Tag {
	return dataflow.KindTag(decompiler.OpKind(op))
}

// isCall matches plain value transferring calls.
func isCall(in *decompiler.Instruction) bool {
	return in.Is(evm.CALL) && len(in.Inputs) == 7
}

func isJumpI(in *decompiler.Instruction) bool {
	return in.Is(evm.JUMPI) && in.Condition() != nil
}

func callee(in *decompiler.Instruction) *decompiler.Variable {
	return in.Input(1)
}

func amount(in *decompiler.Instruction) *decompiler.Variable {
	return in.Input(2)
}

// isBuiltin reports whether a call targets a precompiled contract.
func isBuiltin(in *decompiler.Instruction) bool {
	to := callee(in)
	if to == nil || !to.IsConst() || !to.Value.IsUint64() {
		return false
	}
	addr := to.Value.Uint64()
	return firstPrecompile <= addr && addr <= lastPrecompile
}

func isZero(v *decompiler.Variable) bool {
	return v != nil && v.HasValue(0)
}

// transfersEther holds for calls that do not send a constant zero amount.
func transfersEther(in *decompiler.Instruction) bool {
	return isCall(in) && !isZero(amount(in))
}

// inputRegion returns the offset and size of the memory a call sends.
func inputRegion(in *decompiler.Instruction) (*decompiler.Variable, *decompiler.Variable) {
	switch {
	case in.Is(evm.CALL), in.Is(evm.CALLCODE):
		return in.Input(3), in.Input(4)
	case in.Is(evm.DELEGATECALL), in.Is(evm.STATICCALL):
		return in.Input(2), in.Input(3)
	}
	return nil, nil
}

func sameConst(x, y *decompiler.Variable) bool {
	if x == nil || y == nil {
		return x == y
	}
	if x.IsConst() != y.IsConst() {
		return false
	}
	return !x.IsConst() || x.Value.Eq(y.Value)
}

// sameRequest reports whether two calls send matching arguments. Only
// constant offsets and sizes can be compared; unknown ones match each other.
func sameRequest(x, y *decompiler.Instruction) bool {
	if x.Kind != y.Kind {
		return false
	}
	xo, xs := inputRegion(x)
	yo, ys := inputRegion(y)
	return sameConst(xo, yo) && sameConst(xs, ys)
}

// jumpsIn returns the conditional jumps of body.
func jumpsIn(body []*decompiler.Instruction) []*decompiler.Instruction {
	var res []*decompiler.Instruction
	for _, in := range body {
		if isJumpI(in) {
			res = append(res, in)
		}
	}
	return res
}

func storedSlots(instrs []*decompiler.Instruction) []*decompiler.Variable {
	var res []*decompiler.Variable
	for _, in := range instrs {
		if in.Is(evm.SSTORE) && in.Input(0) != nil && in.Input(0).IsConst() {
			res = append(res, in.Input(0))
		}
	}
	return res
}

func stored(slots []*decompiler.Variable, off *decompiler.Variable) bool {
	for _, s := range slots {
		if s.Value.Eq(off.Value) {
			return true
		}
	}
	return false
}

// storageDeps inspects the SLOADs v depends on. stored is set when one of
// them reads a constant slot that the contract also writes, unknown when
// one reads a computed slot.
func storageDeps(a *dataflow.Analysis, v *decompiler.Variable, must bool) (fromStored, unknown bool) {
	if v == nil {
		return false, false
	}
	instrs := a.Contract().Instructions
	slots := storedSlots(instrs)
	for _, in := range instrs {
		if !in.Is(evm.SLOAD) || in.Output == nil {
			continue
		}
		var dep bool
		if must {
			dep = a.VarMustDepOnVar(v, in.Output)
		} else {
			dep = a.VarMayDepOnVar(v, in.Output)
		}
		if !dep {
			continue
		}
		off := in.Input(0)
		switch {
		case off == nil || !off.IsConst():
			unknown = true
		case stored(slots, off):
			fromStored = true
		}
	}
	return fromStored, unknown
}
