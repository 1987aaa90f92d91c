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
package dataflow

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	evm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/sifter/decompiler"
	"github.com/practical-formal-methods/sifter/naming"
)

const (
	// CALL(gas, caller, callvalue, 0, 0, 0, 0); SSTORE(0, 1); STOP
	callThenStore = "0x600060006000600034335af1506001600055" + "00"
	// JUMPDEST; CALL(gas, caller, callvalue, 0, 0, 0, 0); JUMP 0
	callLoop = "0x5b600060006000600034335af150600056"
	twoMethods = "0x60003560e01c806311111111146" + "01e57" +
		"806322222222146" + "02057" +
		"600080fd" +
		"5b00" +
		"5b00"
	// SSTORE(0, caller); SLOAD(0); SLOAD(1); STOP
	storeThenLoad = "0x33600055" + "600054" + "600154" + "00"
	// MSTORE(0, caller); KECCAK256(0, 32); STOP
	hashOfCaller = "0x33600052" + "6020600020" + "00"
)

func analyze(t *testing.T, code string) (*decompiler.Contract, *Analysis) {
	t.Helper()
	c, err := decompiler.Decompile(common.FromHex(code), naming.NewContext(), decompiler.DefaultOptions())
	require.NoError(t, err)
	return c, New(c)
}

func find(c *decompiler.Contract, op evm.OpCode) []*decompiler.Instruction {
	var res []*decompiler.Instruction
	for _, in := range c.Instructions {
		if in.Is(op) {
			res = append(res, in)
		}
	}
	return res
}

func tag(op evm.OpCode) Tag {
	return KindTag(decompiler.OpKind(op))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "UNSAT", Unsatisfiable.String())
	assert.Equal(t, "SAT", Satisfiable.String())
	assert.Equal(t, "VALID", Valid.String())
	assert.False(t, Unsatisfiable.Holds())
	assert.True(t, Valid.Holds())
	assert.Equal(t, "ARG", TagArg.String())
	assert.Equal(t, "CALLER", tag(evm.CALLER).String())
}

func TestStraightLineOrder(t *testing.T) {
	c, a := analyze(t, callThenStore)
	call := find(c, evm.CALL)[0]
	sstore := find(c, evm.SSTORE)[0]

	assert.Equal(t, Valid, a.MustPrecede(call, sstore))
	assert.Equal(t, Unsatisfiable, a.MustPrecede(sstore, call))
	assert.Equal(t, Unsatisfiable, a.MustPrecede(call, call))
	assert.Equal(t, Satisfiable, a.MayFollow(call, sstore))
	assert.Equal(t, Unsatisfiable, a.MayFollow(sstore, call))
	assert.True(t, a.Follows(call, sstore))
	assert.False(t, a.Follows(sstore, call))
}

func TestLoopOrder(t *testing.T) {
	c, a := analyze(t, callLoop)
	call := find(c, evm.CALL)[0]
	gas := call.Prev()
	require.NotNil(t, gas)

	assert.Equal(t, Satisfiable, a.MayFollow(call, gas))
	assert.Equal(t, Satisfiable, a.MayFollow(gas, call))
	assert.Equal(t, Satisfiable, a.MayFollow(call, call))
	assert.Equal(t, Valid, a.MustPrecede(gas, call))
}

func TestVariableTags(t *testing.T) {
	c, a := analyze(t, callThenStore)
	call := find(c, evm.CALL)[0]

	assert.Equal(t, Valid, a.VarDepOn(call.Input(0), tag(evm.GAS)))
	assert.Equal(t, Valid, a.VarDepOn(call.Input(1), tag(evm.CALLER)))
	assert.Equal(t, Unsatisfiable, a.VarDepOn(call.Input(1), tag(evm.CALLVALUE)))
	assert.True(t, a.VarMustDepOn(call.Input(2), tag(evm.CALLVALUE)))
	assert.Empty(t, a.MayTags(call.Input(3)))
	assert.Equal(t, []Tag{tag(evm.CALL)}, a.MustTags(call.Output))
	assert.False(t, a.IsArg(call.Input(1)))
	assert.Equal(t, Valid, a.VarDepOnVar(call.Input(0), call.Input(0)))
	assert.Equal(t, Unsatisfiable, a.VarDepOnVar(call.Output, call.Input(0)))
}

func TestControlDependence(t *testing.T) {
	c, a := analyze(t, twoMethods)
	require.Len(t, c.Methods, 2)
	for _, m := range c.Methods {
		stop := m.Instructions[len(m.Instructions)-1]
		require.True(t, stop.Is(evm.STOP))
		assert.Equal(t, Satisfiable, a.InstrMayDepOn(stop, tag(evm.CALLDATALOAD)))
		assert.Equal(t, Satisfiable, a.InstrMayDepOn(stop, TagArg))
		assert.Equal(t, Unsatisfiable, a.InstrMayDepOn(stop, tag(evm.CALLVALUE)))
		assert.NotEmpty(t, a.ControlDependences(stop))
	}
	jumpis := find(c, evm.JUMPI)
	require.Len(t, jumpis, 2)
	assert.True(t, a.IsArg(jumpis[0].Condition()))
	assert.Equal(t, Unsatisfiable, a.InstrMayDepOn(jumpis[0], TagArg))
}

func TestStorageFlow(t *testing.T) {
	c, a := analyze(t, storeThenLoad)
	sstore := find(c, evm.SSTORE)[0]
	sloads := find(c, evm.SLOAD)
	require.Len(t, sloads, 2)

	assert.Equal(t, Valid, a.StorageAlias(sstore, sloads[0]))
	assert.Equal(t, Unsatisfiable, a.StorageAlias(sstore, sloads[1]))
	assert.Equal(t, Unsatisfiable, a.MemoryAlias(sstore, sloads[0]))

	assert.Equal(t, Satisfiable, a.VarDepOn(sloads[0].Output, tag(evm.CALLER)))
	assert.Equal(t, Unsatisfiable, a.VarDepOn(sloads[1].Output, tag(evm.CALLER)))
	assert.Equal(t, Valid, a.VarDepOn(sloads[1].Output, tag(evm.SLOAD)))
	assert.Equal(t, Satisfiable, a.VarDepOnVar(sloads[0].Output, sstore.Input(1)))
}

func TestMemoryFlowIntoHash(t *testing.T) {
	c, a := analyze(t, hashOfCaller)
	mstore := find(c, evm.MSTORE)[0]
	hash := find(c, evm.KECCAK256)[0]

	assert.Equal(t, Satisfiable, a.VarDepOn(hash.Output, tag(evm.CALLER)))
	assert.Equal(t, Valid, a.VarDepOn(hash.Output, tag(evm.KECCAK256)))
	assert.Equal(t, Satisfiable, a.VarDepOnVar(hash.Output, mstore.Input(1)))
}

func TestDominators(t *testing.T) {
	// 0 -> 1, 0 -> 2, 1 -> 3, 2 -> 3
	succs := [][]int{{1, 2}, {3}, {3}, nil}
	preds := [][]int{nil, {0}, {0}, {1, 2}}
	idom := dominators(4, 0, func(x int) []int { return succs[x] }, func(x int) []int { return preds[x] })
	assert.Equal(t, []int{0, 0, 0, 0}, idom)
	assert.True(t, dominates(idom, 0, 3))
	assert.False(t, dominates(idom, 1, 3))
}

func TestTagSets(t *testing.T) {
	full := fullTagSet()
	assert.Len(t, tagsOf(full), numTags)
	assert.True(t, hasTag(full, TagArg))
	assert.Empty(t, tagsOf(newTagSet()))

	s := newTagSet()
	for _, tg := range []Tag{TagArg, 5, 0, 5} {
		addTag(s, tg)
	}
	assert.Equal(t, []Tag{0, 5, TagArg}, tagsOf(s))
	assert.True(t, hasTag(s, 5))
	assert.False(t, hasTag(s, 6))

	meet := full.Clone()
	meet.InPlaceIntersection(s)
	assert.True(t, meet.Equal(s))
	assert.False(t, meet.Equal(full))
}
