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
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	evm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/sifter/naming"
)

const (
	// CALL(gas, caller, callvalue, 0, 0, 0, 0); SSTORE(0, 1); STOP
	callThenStore = "0x600060006000600034335af1506001600055" + "00"
	// JUMPDEST; CALL(gas, caller, callvalue, 0, 0, 0, 0); JUMP 0
	callLoop = "0x5b600060006000600034335af150600056"
	// Two-method selector dispatcher, both methods just STOP.
	twoMethods = "0x60003560e01c806311111111146" + "01e57" +
		"806322222222146" + "02057" +
		"600080fd" +
		"5b00" +
		"5b00"
)

func decompile(t *testing.T, code string) *Contract {
	t.Helper()
	c, err := Decompile(common.FromHex(code), naming.NewContext(), DefaultOptions())
	require.NoError(t, err)
	return c
}

func kinds(instrs []*Instruction) []Kind {
	var res []Kind
	for _, in := range instrs {
		res = append(res, in.Kind)
	}
	return res
}

func find(c *Contract, op evm.OpCode) []*Instruction {
	var res []*Instruction
	for _, in := range c.Instructions {
		if in.Is(op) {
			res = append(res, in)
		}
	}
	return res
}

func TestDecompileStraightLine(t *testing.T) {
	c := decompile(t, callThenStore)
	assert.False(t, c.Partial)
	assert.Empty(t, c.Warnings)
	assert.Equal(t, []Kind{
		OpKind(evm.CALLVALUE), OpKind(evm.CALLER), OpKind(evm.GAS),
		OpKind(evm.CALL), OpKind(evm.SSTORE), OpKind(evm.STOP),
	}, kinds(c.Instructions))
	assert.Equal(t, c.Instructions[0], c.Entry)

	call := find(c, evm.CALL)[0]
	require.Len(t, call.Inputs, 7)
	assert.True(t, call.Input(0).Defs[0].Is(evm.GAS))
	assert.True(t, call.Input(1).Defs[0].Is(evm.CALLER))
	assert.True(t, call.Input(2).Defs[0].Is(evm.CALLVALUE))
	for i := 3; i < 7; i++ {
		assert.True(t, call.Input(i).HasValue(0))
	}
	require.NotNil(t, call.Output)

	sstore := find(c, evm.SSTORE)[0]
	assert.True(t, sstore.Input(0).HasValue(0))
	assert.True(t, sstore.Input(1).HasValue(1))
	assert.Equal(t, call, sstore.Prev())
	assert.Equal(t, []*Instruction{sstore}, call.Succs)

	assert.Empty(t, c.Methods)
	require.Len(t, c.Bodies(), 1)
	assert.Len(t, c.Bodies()[0], 6)
}

func TestDecompileIsDeterministic(t *testing.T) {
	for _, code := range []string{callThenStore, callLoop, twoMethods} {
		names := naming.NewContext()
		c1, err := Decompile(common.FromHex(code), names, DefaultOptions())
		require.NoError(t, err)
		names.Reset()
		c2, err := Decompile(common.FromHex(code), names, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, c1.String(), c2.String())
	}
}

func TestDecompileLoop(t *testing.T) {
	c := decompile(t, callLoop)
	assert.False(t, c.Partial)
	dest := find(c, evm.JUMPDEST)[0]
	assert.Equal(t, dest, c.Entry)

	call := find(c, evm.CALL)[0]
	require.NotNil(t, call.Prev())
	assert.True(t, call.Prev().Is(evm.GAS))

	jump := find(c, evm.JUMP)[0]
	assert.Equal(t, []*Instruction{dest}, jump.Targets)
	assert.Contains(t, dest.Preds, jump)
}

func TestDecompileMethods(t *testing.T) {
	c := decompile(t, twoMethods)
	require.Len(t, c.Methods, 2)
	assert.Equal(t, "abi_11111111", c.Methods[0].Name)
	assert.Equal(t, "abi_22222222", c.Methods[1].Name)
	assert.Equal(t, 0x1e, c.Methods[0].Offset)
	assert.NotNil(t, c.Method(0x22222222))

	for _, m := range c.Methods {
		assert.Equal(t, []Kind{KindMethodHead, OpKind(evm.JUMPDEST), OpKind(evm.STOP)}, kinds(m.Instructions))
		assert.Equal(t, m.Entry, m.Instructions[0])
	}

	owner := map[*Instruction]*Method{}
	for _, m := range append([]*Method{c.Dispatcher}, c.Methods...) {
		for _, in := range m.Instructions {
			_, dup := owner[in]
			assert.False(t, dup, "instruction %s in two methods", in)
			owner[in] = m
			assert.Equal(t, m, in.Method)
		}
	}
	assert.Len(t, owner, len(c.Instructions))

	jumpis := find(c, evm.JUMPI)
	require.Len(t, jumpis, 2)
	assert.Equal(t, []*Instruction{c.Methods[0].Entry}, jumpis[0].Targets)
	assert.Len(t, c.Bodies(), 2)
}

func TestDecompileDepthMismatch(t *testing.T) {
	// Two paths reach the JUMPDEST at 0x0a with different stack depths.
	c := decompile(t, "0x34600a57600560" + "0a5600" + "5b00")
	assert.True(t, c.Partial)
	require.NotEmpty(t, c.Warnings)
	assert.True(t, strings.Contains(strings.Join(c.Warnings, "\n"), "stack depth mismatch"))
	assert.Len(t, find(c, evm.STOP), 1)
}

// 0x00 PUSH1 05; PUSH1 10; JUMP
// 0x05 JUMPDEST; PUSH1 01; PUSH1 0e; PUSH1 10; JUMP
// 0x0d STOP
// 0x0e JUMPDEST; STOP
// 0x10 JUMPDEST; JUMP
// The function at 0x10 is called with one and with two stack slots.
const calledAtTwoDepths = "0x6005601056" + "5b6001600e601056" + "00" + "5b00" + "5b56"

func atOffset(instrs []*Instruction, offset int) []*Instruction {
	var res []*Instruction
	for _, in := range instrs {
		if in.Raw != nil && in.Raw.Offset == offset {
			res = append(res, in)
		}
	}
	return res
}

func TestDecompileInternalFunctionDepths(t *testing.T) {
	c := decompile(t, calledAtTwoDepths)
	assert.False(t, c.Partial)
	assert.Empty(t, c.Warnings)

	assert.Len(t, atOffset(find(c, evm.JUMPDEST), 0x10), 2)
	rets := atOffset(find(c, evm.JUMP), 0x11)
	require.Len(t, rets, 2)
	var dests []int
	for _, r := range rets {
		require.Len(t, r.Targets, 1)
		require.NotNil(t, r.Targets[0].Raw)
		dests = append(dests, r.Targets[0].Raw.Offset)
	}
	assert.ElementsMatch(t, []int{0x05, 0x0e}, dests)
	assert.Len(t, find(c, evm.STOP), 1)
}

func TestDecompileInternalFunctionCopyLimit(t *testing.T) {
	old := maxCopies
	maxCopies = 1
	defer func() { maxCopies = old }()

	c := decompile(t, calledAtTwoDepths)
	assert.True(t, c.Partial)
	assert.Contains(t, c.Warnings, "stack depth mismatch at 0x10: 1 vs 2")
	assert.Len(t, atOffset(find(c, evm.JUMPDEST), 0x10), 1)
}

func TestDecompileUnderflow(t *testing.T) {
	c := decompile(t, "0x0100")
	assert.True(t, c.Partial)
	add := find(c, evm.ADD)[0]
	require.Len(t, add.Inputs, 2)
	assert.Empty(t, add.Input(0).Defs)
	assert.Empty(t, add.Succs)
}

func TestDecompileUnresolvedJump(t *testing.T) {
	c := decompile(t, "0x600035565b005b00")
	assert.True(t, c.Partial)
	jump := find(c, evm.JUMP)[0]
	assert.Len(t, jump.Targets, 2)
	assert.Len(t, jump.Succs, 2)
	assert.Equal(t, 1, c.FailureCauses[JumpToTopFail])
}

func TestDecompileEdgeAssignments(t *testing.T) {
	// 0x00 PUSH1 2a; 0x02 CALLVALUE; 0x03 PUSH1 08; 0x05 JUMPI; 0x06 PUSH1 01
	// 0x08 JUMPDEST; 0x09 STOP
	c := decompile(t, "0x602a34600857" + "6001" + "5b00")
	dest := find(c, evm.JUMPDEST)[0]
	assert.True(t, c.Partial, "depths 1 and 2 differ")

	var assigns []*Instruction
	for _, in := range c.Instructions {
		if in.Kind == KindAssign {
			assigns = append(assigns, in)
		}
	}
	require.NotEmpty(t, assigns)
	for _, a := range assigns {
		require.NotNil(t, a.Output)
		assert.Contains(t, a.Output.Defs, a)
	}

	var vjumps []*Instruction
	for _, in := range c.Instructions {
		if in.Kind == KindVirtualJump {
			vjumps = append(vjumps, in)
		}
	}
	require.Len(t, vjumps, 1)
	assert.Equal(t, []*Instruction{dest}, vjumps[0].Targets)
}

func TestDecompileEmpty(t *testing.T) {
	_, err := Decompile(nil, naming.NewContext(), DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyCode)
}

func TestExport(t *testing.T) {
	c := decompile(t, twoMethods)
	d := c.Dot()
	assert.Contains(t, d, "digraph")
	assert.Contains(t, d, "abi_11111111")
	tr := c.Tree()
	assert.Contains(t, tr, "dispatcher")
	assert.Contains(t, tr, "abi_22222222")
}
