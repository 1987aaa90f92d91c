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
// Package dataflow computes control-flow and dependence relations over a
// decompiled contract.
package dataflow

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	evm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/practical-formal-methods/sifter/decompiler"
)

// Status is the answer to a relational query.
type Status int

const (
	// Unsatisfiable means the relation never holds.
	Unsatisfiable Status = iota
	// Satisfiable means the relation holds on some path.
	Satisfiable
	// Valid means the relation holds on every path.
	Valid
)

func (s Status) String() string {
	switch s {
	case Unsatisfiable:
		return "UNSAT"
	case Satisfiable:
		return "SAT"
	case Valid:
		return "VALID"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Holds reports whether the relation may hold.
func (s Status) Holds() bool {
	return s != Unsatisfiable
}

// Tag names the origin of a value: the kind of the instruction that
// produced it, or TagArg for method arguments.
type Tag int

// TagArg marks values read from the call data.
const TagArg Tag = 300

func KindTag(k decompiler.Kind) Tag {
	return Tag(k)
}

func (t Tag) String() string {
	if t == TagArg {
		return "ARG"
	}
	return decompiler.Kind(t).String()
}

// Analysis holds the relations of one contract. It is read-only after New
// returns, except for internal memoization; it is not safe for concurrent use.
type Analysis struct {
	c     *decompiler.Contract
	g     *graph
	reach []*bitset.BitSet
	idom  []int
	cdeps [][]int

	deps      [][]int
	mayTags   []*bitset.BitSet
	mustTags  []*bitset.BitSet
	instrTags []*bitset.BitSet

	varReach map[int]*bitset.BitSet
	mustVar  map[[2]int]int8
}

// New computes the relations for c.
func New(c *decompiler.Contract) *Analysis {
	g := newGraph(c)
	a := &Analysis{
		c:        c,
		g:        g,
		varReach: map[int]*bitset.BitSet{},
		mustVar:  map[[2]int]int8{},
	}
	a.reach = g.reachability()
	a.idom = dominators(g.n, g.entry, func(x int) []int { return g.succs[x] }, func(x int) []int { return g.preds[x] })
	a.cdeps = g.controlDependences(g.postDominators())
	a.computeDeps()
	a.computeMayTags()
	a.computeMustTags()
	a.computeInstrTags()
	return a
}

// Contract returns the analyzed contract.
func (a *Analysis) Contract() *decompiler.Contract {
	return a.c
}

// MayFollow reports whether b can execute after a.
func (a *Analysis) MayFollow(x, y *decompiler.Instruction) Status {
	if a.reach[x.ID].Test(uint(y.ID)) {
		return Satisfiable
	}
	return Unsatisfiable
}

// Follows reports whether y is a direct successor of x.
func (a *Analysis) Follows(x, y *decompiler.Instruction) bool {
	for _, s := range x.Succs {
		if s == y {
			return true
		}
	}
	return false
}

// MustPrecede is Valid when every path to y goes through x, Satisfiable
// when some path does.
func (a *Analysis) MustPrecede(x, y *decompiler.Instruction) Status {
	if x != y && dominates(a.idom, x.ID, y.ID) {
		return Valid
	}
	if a.reach[x.ID].Test(uint(y.ID)) {
		return Satisfiable
	}
	return Unsatisfiable
}

// ControlDependences returns the branching instructions that decide
// whether in executes.
func (a *Analysis) ControlDependences(in *decompiler.Instruction) []*decompiler.Instruction {
	var res []*decompiler.Instruction
	for _, j := range a.cdeps[in.ID] {
		res = append(res, a.c.Instructions[j])
	}
	return res
}

func memoryWriter(in *decompiler.Instruction) bool {
	if in.IsCall() {
		return true
	}
	switch {
	case in.Is(evm.CALLDATACOPY), in.Is(evm.CODECOPY), in.Is(evm.EXTCODECOPY),
		in.Is(evm.RETURNDATACOPY), in.Is(evm.MCOPY):
		return true
	}
	return false
}

func isStorage(in *decompiler.Instruction) bool {
	return in.Is(evm.SLOAD) || in.Is(evm.SSTORE)
}

func isTransient(in *decompiler.Instruction) bool {
	return in.Is(evm.TLOAD) || in.Is(evm.TSTORE)
}

func isMemory(in *decompiler.Instruction) bool {
	return in.Is(evm.MLOAD) || in.Is(evm.MSTORE) || in.Is(evm.MSTORE8)
}

func offsetAlias(x, y *decompiler.Instruction) Status {
	ox, oy := x.Input(0), y.Input(0)
	if ox == nil || oy == nil {
		return Satisfiable
	}
	if ox == oy {
		return Valid
	}
	if ox.IsConst() && oy.IsConst() {
		if ox.Value.Eq(oy.Value) {
			return Valid
		}
		return Unsatisfiable
	}
	return Satisfiable
}

// StorageAlias relates two storage accesses by their offsets.
func (a *Analysis) StorageAlias(x, y *decompiler.Instruction) Status {
	if !(isStorage(x) && isStorage(y)) && !(isTransient(x) && isTransient(y)) {
		return Unsatisfiable
	}
	return offsetAlias(x, y)
}

// MemoryAlias relates two word-sized memory accesses by their offsets.
func (a *Analysis) MemoryAlias(x, y *decompiler.Instruction) Status {
	if !isMemory(x) || !isMemory(y) {
		return Unsatisfiable
	}
	return offsetAlias(x, y)
}

// hashReads reports whether the KECCAK256 in may read the word stored at off.
func hashReads(in *decompiler.Instruction, off *decompiler.Variable) bool {
	start, size := in.Input(0), in.Input(1)
	if start == nil || size == nil || !start.IsConst() || !size.IsConst() || !off.IsConst() {
		return true
	}
	if !start.Value.IsUint64() || !size.Value.IsUint64() || !off.Value.IsUint64() {
		return true
	}
	s, n, o := start.Value.Uint64(), size.Value.Uint64(), off.Value.Uint64()
	return o+32 > s && o < s+n
}

// computeDeps collects for every variable the variables it is computed
// from, including values flowing through storage and memory.
func (a *Analysis) computeDeps() {
	a.deps = make([][]int, len(a.c.Variables))
	var sstores, tstores, mstores []*decompiler.Instruction
	for _, in := range a.c.Instructions {
		switch {
		case in.Is(evm.SSTORE):
			sstores = append(sstores, in)
		case in.Is(evm.TSTORE):
			tstores = append(tstores, in)
		case in.Is(evm.MSTORE), in.Is(evm.MSTORE8):
			mstores = append(mstores, in)
		}
	}
	for _, v := range a.c.Variables {
		var ds []int
		for _, d := range v.Defs {
			for _, u := range d.Inputs {
				ds = appendUnique(ds, u.ID)
			}
			var stores []*decompiler.Instruction
			switch {
			case d.Is(evm.SLOAD):
				stores = sstores
			case d.Is(evm.TLOAD):
				stores = tstores
			case d.Is(evm.MLOAD):
				stores = mstores
			}
			for _, s := range stores {
				if offsetAlias(d, s).Holds() && s.Input(1) != nil {
					ds = appendUnique(ds, s.Input(1).ID)
				}
			}
			if d.Is(evm.KECCAK256) {
				for _, s := range mstores {
					if s.Input(0) != nil && s.Input(1) != nil && hashReads(d, s.Input(0)) {
						ds = appendUnique(ds, s.Input(1).ID)
					}
				}
			}
		}
		a.deps[v.ID] = ds
	}
}

func ownTags(d *decompiler.Instruction, memWriters *bitset.BitSet) *bitset.BitSet {
	s := newTagSet()
	if d.Kind != decompiler.KindAssign {
		addTag(s, KindTag(d.Kind))
	}
	if d.Is(evm.MLOAD) || d.Is(evm.KECCAK256) {
		s.InPlaceUnion(memWriters)
	}
	return s
}

func withArg(s *bitset.BitSet) {
	if hasTag(s, KindTag(decompiler.OpKind(evm.CALLDATALOAD))) || hasTag(s, KindTag(decompiler.OpKind(evm.CALLDATACOPY))) {
		addTag(s, TagArg)
	}
}

func (a *Analysis) memoryWriterTags() *bitset.BitSet {
	s := newTagSet()
	for _, in := range a.c.Instructions {
		if memoryWriter(in) {
			addTag(s, KindTag(in.Kind))
		}
	}
	return s
}

// computeMayTags is a least fixpoint over all dependences.
func (a *Analysis) computeMayTags() {
	vars := a.c.Variables
	memWriters := a.memoryWriterTags()
	users := make([][]int, len(vars))
	a.mayTags = make([]*bitset.BitSet, len(vars))
	var work []int
	for _, v := range vars {
		a.mayTags[v.ID] = newTagSet()
		for _, d := range v.Defs {
			a.mayTags[v.ID].InPlaceUnion(ownTags(d, memWriters))
		}
		for _, u := range a.deps[v.ID] {
			users[u] = append(users[u], v.ID)
		}
		work = append(work, v.ID)
	}
	for 0 < len(work) {
		u := work[len(work)-1]
		work = work[:len(work)-1]
		for _, v := range users[u] {
			before := a.mayTags[v].Count()
			a.mayTags[v].InPlaceUnion(a.mayTags[u])
			if a.mayTags[v].Count() != before {
				work = append(work, v)
			}
		}
	}
	for _, s := range a.mayTags {
		withArg(s)
	}
}

// computeMustTags is a greatest fixpoint: a tag must be present along
// every definition of a variable.
func (a *Analysis) computeMustTags() {
	vars := a.c.Variables
	a.mustTags = make([]*bitset.BitSet, len(vars))
	full := fullTagSet()
	for _, v := range vars {
		if 0 < len(v.Defs) {
			a.mustTags[v.ID] = full.Clone()
		} else {
			a.mustTags[v.ID] = newTagSet()
		}
	}
	for changed := true; changed; {
		changed = false
		for _, v := range vars {
			if len(v.Defs) == 0 {
				continue
			}
			next := full.Clone()
			for _, d := range v.Defs {
				s := ownTags(d, newTagSet())
				for _, u := range d.Inputs {
					s.InPlaceUnion(a.mustTags[u.ID])
				}
				next.InPlaceIntersection(s)
			}
			if !next.Equal(a.mustTags[v.ID]) {
				a.mustTags[v.ID] = next
				changed = true
			}
		}
	}
	for i, s := range a.mustTags {
		if s.Equal(full) {
			a.mustTags[i] = newTagSet()
		}
		withArg(a.mustTags[i])
	}
}

// branchVar is the variable deciding where a branching instruction goes.
func branchVar(in *decompiler.Instruction) *decompiler.Variable {
	if in.Is(evm.JUMPI) {
		return in.Condition()
	}
	return in.Input(0)
}

// computeInstrTags propagates the tags of branch conditions to the
// instructions they control.
func (a *Analysis) computeInstrTags() {
	n := len(a.c.Instructions)
	a.instrTags = make([]*bitset.BitSet, n)
	for i := range a.instrTags {
		a.instrTags[i] = newTagSet()
	}
	for changed := true; changed; {
		changed = false
		for i := 0; i < n; i++ {
			s := newTagSet()
			for _, j := range a.cdeps[i] {
				if v := branchVar(a.c.Instructions[j]); v != nil {
					s.InPlaceUnion(a.mayTags[v.ID])
				}
				s.InPlaceUnion(a.instrTags[j])
			}
			if !s.Equal(a.instrTags[i]) {
				a.instrTags[i] = s
				changed = true
			}
		}
	}
}

// VarDepOn relates a variable to a tag: Valid if it depends on the tag on
// every path, Satisfiable if on some path.
func (a *Analysis) VarDepOn(v *decompiler.Variable, t Tag) Status {
	switch {
	case hasTag(a.mustTags[v.ID], t):
		return Valid
	case hasTag(a.mayTags[v.ID], t):
		return Satisfiable
	}
	return Unsatisfiable
}

func (a *Analysis) VarMayDepOn(v *decompiler.Variable, t Tag) bool {
	return a.VarDepOn(v, t).Holds()
}

func (a *Analysis) VarMustDepOn(v *decompiler.Variable, t Tag) bool {
	return a.VarDepOn(v, t) == Valid
}

// InstrMayDepOn reports whether the execution of in may be decided by a
// value carrying tag t.
func (a *Analysis) InstrMayDepOn(in *decompiler.Instruction, t Tag) Status {
	if hasTag(a.instrTags[in.ID], t) {
		return Satisfiable
	}
	return Unsatisfiable
}

// MayTags lists the tags a variable may depend on.
func (a *Analysis) MayTags(v *decompiler.Variable) []Tag {
	return tagsOf(a.mayTags[v.ID])
}

// MustTags lists the tags a variable depends on along every path.
func (a *Analysis) MustTags(v *decompiler.Variable) []Tag {
	return tagsOf(a.mustTags[v.ID])
}

// InstrTags lists the tags that may decide whether in executes.
func (a *Analysis) InstrTags(in *decompiler.Instruction) []Tag {
	return tagsOf(a.instrTags[in.ID])
}

// IsArg reports whether v may be derived from the call data.
func (a *Analysis) IsArg(v *decompiler.Variable) bool {
	return hasTag(a.mayTags[v.ID], TagArg)
}

func (a *Analysis) varReachable(v int) *bitset.BitSet {
	if r, ok := a.varReach[v]; ok {
		return r
	}
	seen := bitset.New(uint(len(a.c.Variables)))
	stack := append([]int(nil), a.deps[v]...)
	for 0 < len(stack) {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen.Test(uint(x)) {
			continue
		}
		seen.Set(uint(x))
		stack = append(stack, a.deps[x]...)
	}
	a.varReach[v] = seen
	return seen
}

// mustDepOnVar is memoized; a cycle counts as no dependence.
func (a *Analysis) mustDepOnVar(v, w int) bool {
	if v == w {
		return true
	}
	key := [2]int{v, w}
	switch a.mustVar[key] {
	case 1:
		return true
	case -1, 2:
		return false
	}
	a.mustVar[key] = 2
	defs := a.c.Variables[v].Defs
	res := 0 < len(defs)
	for _, d := range defs {
		found := false
		for _, u := range d.Inputs {
			if a.mustDepOnVar(u.ID, w) {
				found = true
				break
			}
		}
		if !found {
			res = false
			break
		}
	}
	if res {
		a.mustVar[key] = 1
	} else {
		a.mustVar[key] = -1
	}
	return res
}

// VarDepOnVar relates two variables: Valid if v is computed from w on
// every path, Satisfiable if on some path.
func (a *Analysis) VarDepOnVar(v, w *decompiler.Variable) Status {
	if a.mustDepOnVar(v.ID, w.ID) {
		return Valid
	}
	if a.varReachable(v.ID).Test(uint(w.ID)) {
		return Satisfiable
	}
	return Unsatisfiable
}

func (a *Analysis) VarMayDepOnVar(v, w *decompiler.Variable) bool {
	return a.VarDepOnVar(v, w).Holds()
}

func (a *Analysis) VarMustDepOnVar(v, w *decompiler.Variable) bool {
	return a.VarDepOnVar(v, w) == Valid
}

// Reachable lists the instructions that may execute after in.
func (a *Analysis) Reachable(in *decompiler.Instruction) []*decompiler.Instruction {
	var res []*decompiler.Instruction
	each(a.reach[in.ID], func(i int) {
		res = append(res, a.c.Instructions[i])
	})
	return res
}

// Dominators lists the instructions that precede in on every path from
// the contract entry, nearest first.
func (a *Analysis) Dominators(in *decompiler.Instruction) []*decompiler.Instruction {
	var res []*decompiler.Instruction
	for x := in.ID; a.idom[x] != -1 && a.idom[x] != x; {
		x = a.idom[x]
		res = append(res, a.c.Instructions[x])
	}
	return res
}

// Deps lists the variables v may be computed from.
func (a *Analysis) Deps(v *decompiler.Variable) []*decompiler.Variable {
	var res []*decompiler.Variable
	each(a.varReachable(v.ID), func(i int) {
		res = append(res, a.c.Variables[i])
	})
	return res
}
