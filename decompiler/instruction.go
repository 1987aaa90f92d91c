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
package decompiler

import (
	"fmt"
	"strings"

	evm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/practical-formal-methods/sifter/vm"
)

// Kind discriminates instructions. Values below 256 are EVM opcodes, the
// rest are virtual instructions introduced by the decompiler.
type Kind int

const (
	// KindAssign copies one variable into another on a control-flow edge.
	KindAssign Kind = 256 + iota
	// KindMethodHead marks the entry of a public method.
	KindMethodHead
	// KindVirtualJump transfers control after edge assignments.
	KindVirtualJump
)

// OpKind returns the kind of a real instruction.
func OpKind(op vm.OpCode) Kind {
	return Kind(op)
}

// Op returns the opcode of a real instruction.
func (k Kind) Op() (vm.OpCode, bool) {
	if k < 0 || 256 <= k {
		return 0, false
	}
	return vm.OpCode(k), true
}

func (k Kind) IsVirtual() bool {
	return 256 <= k
}

func (k Kind) String() string {
	switch k {
	case KindAssign:
		return "ASSIGN"
	case KindMethodHead:
		return "METHODHEAD"
	case KindVirtualJump:
		return "VJUMP"
	}
	if op, ok := k.Op(); ok {
		if o := vm.Lookup(op); o.Valid {
			return o.Name
		}
		return fmt.Sprintf("UNKNOWN_%02X", byte(op))
	}
	return fmt.Sprintf("KIND_%d", int(k))
}

// Variable is a value produced by an instruction or pushed as a constant.
type Variable struct {
	ID   int
	Name string
	// Value is set when the variable holds the same constant on every path.
	Value *uint256.Int
	// Defs are the instructions assigning the variable. Constants pushed
	// by the code and values of unknown origin have none.
	Defs []*Instruction
}

func (v *Variable) IsConst() bool {
	return v.Value != nil
}

// HasValue reports whether the variable is the constant n.
func (v *Variable) HasValue(n uint64) bool {
	return v.Value != nil && v.Value.IsUint64() && v.Value.Uint64() == n
}

func (v *Variable) String() string {
	if v.Value != nil && len(v.Defs) == 0 {
		return v.Value.Hex()
	}
	return v.Name
}

// Instruction is one decompiled statement over variables.
type Instruction struct {
	ID    int
	Kind  Kind
	Label string
	// Inputs are ordered like the operands of the EVM instruction: Inputs[0]
	// was the top of the stack.
	Inputs []*Variable
	Output *Variable
	// Raw is the originating bytecode instruction, nil for virtual ones.
	Raw *vm.RawInstruction
	// Targets are the block entries a jump leads to.
	Targets []*Instruction
	Preds   []*Instruction
	Succs   []*Instruction
	Method  *Method

	prev *Instruction
	next *Instruction
}

// Prev returns the instruction decompiled immediately before this one on
// the same straight-line path.
func (i *Instruction) Prev() *Instruction {
	return i.prev
}

// Next is the counterpart of Prev.
func (i *Instruction) Next() *Instruction {
	return i.next
}

// Is reports whether the instruction is the given EVM opcode.
func (i *Instruction) Is(op vm.OpCode) bool {
	return i.Kind == OpKind(op)
}

// Input returns the n-th input or nil.
func (i *Instruction) Input(n int) *Variable {
	if n < len(i.Inputs) {
		return i.Inputs[n]
	}
	return nil
}

// Condition returns the branch condition of a JUMPI.
func (i *Instruction) Condition() *Variable {
	if !i.Is(evm.JUMPI) {
		return nil
	}
	return i.Input(1)
}

// Offset returns the bytecode offset or -1 for virtual instructions.
func (i *Instruction) Offset() int {
	if i.Raw == nil {
		return -1
	}
	return i.Raw.Offset
}

// IsCall reports whether the instruction transfers control to another account.
func (i *Instruction) IsCall() bool {
	op, ok := i.Kind.Op()
	return ok && vm.IsCall(op)
}

func labels(instrs []*Instruction) string {
	ls := make([]string, len(instrs))
	for i, in := range instrs {
		ls[i] = in.Label
	}
	return strings.Join(ls, ", ")
}

func (i *Instruction) String() string {
	args := make([]string, len(i.Inputs))
	for n, v := range i.Inputs {
		args[n] = v.String()
	}
	var body string
	switch {
	case i.Kind == KindAssign:
		body = fmt.Sprintf("%s = %s", i.Output.Name, args[0])
	case i.Kind == KindMethodHead:
		body = "METHOD"
		if i.Method != nil {
			body += " " + i.Method.Name
		}
	case i.Kind == KindVirtualJump:
		body = "GOTO " + labels(i.Targets)
	case i.Is(evm.JUMP):
		body = "JUMP " + labels(i.Targets)
	case i.Is(evm.JUMPI):
		body = fmt.Sprintf("IF %s GOTO %s", args[1], labels(i.Targets))
	case i.Is(evm.JUMPDEST):
		body = "JUMPDEST"
	case i.Output != nil:
		body = fmt.Sprintf("%s = %s(%s)", i.Output.Name, i.Kind, strings.Join(args, ", "))
	default:
		body = fmt.Sprintf("%s(%s)", i.Kind, strings.Join(args, ", "))
	}
	return i.Label + ": " + body
}
