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
	"sort"

	"github.com/practical-formal-methods/sifter/vm"
)

var InvalidOpcodeFail = "invalid-opcode"
var TopStackFail = "top-stack"
var StackValidationFail = "invalid-stack"
var JumpToTopFail = "jump-to-top"
var InvalidJumpFail = "invalid-jump-destination"
var StepBudgetFail = "step-budget-exhausted"

type pcType uint64

// program is the decoded code of one contract.
type program struct {
	code     []byte
	raws     []vm.RawInstruction
	byOffset map[pcType]int
	dests    []int
	isDest   map[int]bool
}

func newProgram(code []byte) *program {
	p := &program{
		code:     code,
		raws:     vm.ParseAll(code),
		byOffset: map[pcType]int{},
		isDest:   vm.JumpDests(code),
	}
	for i, r := range p.raws {
		p.byOffset[pcType(r.Offset)] = i
	}
	for d := range p.isDest {
		p.dests = append(p.dests, d)
	}
	sort.Ints(p.dests)
	return p
}

func (p *program) at(pc pcType) (vm.RawInstruction, bool) {
	i, ok := p.byOffset[pc]
	if !ok {
		return vm.RawInstruction{}, false
	}
	return p.raws[i], true
}

// getOp mirrors the EVM: reading past the end of the code yields STOP.
func (p *program) getOp(pc pcType) vm.OpCode {
	if r, ok := p.at(pc); ok {
		return r.Op
	}
	return 0
}

type prevPCMap struct {
	prevPC        map[pcType]pcType
	multiplePreds map[pcType]bool // default: false
}

func newPrevPCMap() *prevPCMap {
	return &prevPCMap{
		prevPC:        map[pcType]pcType{},
		multiplePreds: map[pcType]bool{},
	}
}

func (m *prevPCMap) addPrevPC(currPc, prevPc pcType) {
	if !m.multiplePreds[currPc] {
		ppc, exists := m.prevPC[currPc]
		if !exists {
			m.prevPC[currPc] = prevPc
		} else if ppc != prevPc {
			delete(m.prevPC, currPc)
			m.multiplePreds[currPc] = true
		}
	}
}

func (m *prevPCMap) getPrevPC(pc pcType) (pcType, bool) {
	ppc, exists := m.prevPC[pc]
	return ppc, exists
}

// controlFlow is what the abstract interpretation learned about a program.
type controlFlow struct {
	// edges holds the feasible successors of every reached instruction.
	edges map[pcType]map[pcType]bool
	// unresolved marks jumps whose target could not be determined.
	unresolved map[pcType]bool
	// entries is the join of all stacks reaching an instruction.
	entries map[pcType]absStack
	// depthEdges and depthEntries split edges and entries by the stack
	// depth at the source and at the instruction respectively.
	depthEdges   map[depthKey]map[pcType]bool
	depthEntries map[depthKey]absStack
	ppcMap  *prevPCMap
	// failures counts the reasons why paths were cut short.
	failures  map[string]int
	exhausted bool
	steps     int
}

func (f *controlFlow) successors(pc pcType) []pcType {
	var res []pcType
	for s := range f.edges[pc] {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// depthKey identifies an instruction reached with a given stack depth.
type depthKey struct {
	pc    pcType
	depth int
}

// successorsAt returns the successors of pc for paths that reach it with
// the given stack depth. It falls back to all successors when the depth
// was never seen.
func (f *controlFlow) successorsAt(pc pcType, depth int) []pcType {
	es, ok := f.depthEdges[depthKey{pc, depth}]
	if !ok {
		return f.successors(pc)
	}
	var res []pcType
	for s := range es {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

func (f *controlFlow) reached(pc pcType) bool {
	_, ok := f.entries[pc]
	return ok
}

// constantAt returns the constant in the given stack slot at pc if every
// path agrees on it.
func (f *controlFlow) constantAt(pc pcType, fromTop int) (*absVal, bool) {
	if f.exhausted {
		return nil, false
	}
	st, ok := f.entries[pc]
	if !ok || st.isTop || st.len() <= fromTop {
		return nil, false
	}
	v := st.back(fromTop)
	if isTop(v) {
		return nil, false
	}
	return v, true
}

// constantAtDepth is constantAt restricted to paths that reach pc with the
// given stack depth.
func (f *controlFlow) constantAtDepth(pc pcType, depth, fromTop int) (*absVal, bool) {
	if f.exhausted {
		return nil, false
	}
	st, ok := f.depthEntries[depthKey{pc, depth}]
	if !ok || st.isTop || st.len() <= fromTop {
		return nil, false
	}
	v := st.back(fromTop)
	if isTop(v) {
		return nil, false
	}
	return v, true
}

type controlFlowAnalyzer struct {
	prog         *program
	maxDisjuncts int
	maxSteps     int
}

func newControlFlowAnalyzer(prog *program, opts Options) *controlFlowAnalyzer {
	return &controlFlowAnalyzer{
		prog:         prog,
		maxDisjuncts: opts.MaxContexts,
		maxSteps:     opts.MaxSteps,
	}
}

// Analyze runs the worklist fixpoint from the program entry.
func (a *controlFlowAnalyzer) Analyze() *controlFlow {
	flow := &controlFlow{
		edges:      map[pcType]map[pcType]bool{},
		unresolved: map[pcType]bool{},
		entries:    map[pcType]absStack{},
		ppcMap:     newPrevPCMap(),
		failures:   map[string]int{},

		depthEdges:   map[depthKey]map[pcType]bool{},
		depthEntries: map[depthKey]absStack{},
	}
	absJt := newAbsJumpTable()
	states := map[string]absState{}
	keys := map[pcType]map[string]bool{}
	var worklist []string
	workset := map[string]pcType{}

	addNewStates := func(prevPC pcType, prevDepth int, hasPrev bool, newStates []pcAndSt) {
		for _, st := range newStates {
			pc := st.pc
			if _, ok := a.prog.at(pc); !ok {
				// Falling off the end of the code stops execution.
				continue
			}
			if hasPrev {
				flow.ppcMap.addPrevPC(pc, prevPC)
				es := flow.edges[prevPC]
				if es == nil {
					es = map[pcType]bool{}
					flow.edges[prevPC] = es
				}
				es[pc] = true
				if 0 <= prevDepth {
					dk := depthKey{prevPC, prevDepth}
					des := flow.depthEdges[dk]
					if des == nil {
						des = map[pcType]bool{}
						flow.depthEdges[dk] = des
					}
					des[pc] = true
				}
			}
			newState := st.st.withStackCopy()
			if old, ok := flow.entries[pc]; ok {
				flow.entries[pc], _ = joinStacks(old, newState.stack)
			} else {
				flow.entries[pc] = newState.stack.clone()
			}
			if !newState.isBot && !newState.stack.isTop {
				dk := depthKey{pc, newState.stack.len()}
				if old, ok := flow.depthEntries[dk]; ok {
					flow.depthEntries[dk], _ = joinStacks(old, newState.stack)
				} else {
					flow.depthEntries[dk] = newState.stack.clone()
				}
			}

			stSize := -1
			if !newState.isBot && !newState.stack.isTop {
				stSize = newState.stack.len()
			}
			loc := fmt.Sprintf("%x:%x:%x", pc, stSize, newState.stack.digest())

			oldState, exists := states[loc]
			ks := keys[pc]
			if ks == nil {
				ks = map[string]bool{}
			}
			numDisjs := len(ks)
			if !exists && a.maxDisjuncts <= numDisjs {
				loc = fmt.Sprintf("%x:%x", pc, stSize)
				oldState, exists = states[loc]
			}
			if exists {
				var diff bool
				newState, diff = joinStates(oldState, newState)
				if !diff {
					continue
				}
			}

			states[loc] = newState
			ks[loc] = true
			keys[pc] = ks
			if _, ex := workset[loc]; !ex {
				worklist = append(worklist, loc)
				workset[loc] = pc
			}
		}
	}

	popState := func() (absState, pcType) {
		ret := worklist[0]
		worklist = worklist[1:]
		pc := workset[ret]
		delete(workset, ret)
		return states[ret], pc
	}

	if len(a.prog.raws) == 0 {
		return flow
	}
	addNewStates(0, -1, false, initRes().postStates)

	for 0 < len(worklist) {
		if a.maxSteps <= flow.steps {
			flow.exhausted = true
			flow.failures[StepBudgetFail]++
			break
		}
		flow.steps++
		st, pc := popState()
		if st.isBot {
			continue
		}
		res := a.step(pc, flow.ppcMap, st, absJt)
		if res.failureCause != "" {
			flow.failures[res.failureCause]++
		}
		if res.unresolved {
			flow.unresolved[pc] = true
			flow.failures[JumpToTopFail]++
		}
		depth := -1
		if !st.stack.isTop {
			depth = st.stack.len()
		}
		addNewStates(pc, depth, true, res.postStates)
	}
	return flow
}

func (a *controlFlowAnalyzer) step(pc pcType, ppcMap *prevPCMap, st absState, jt absJumpTable) stepRes {
	raw, ok := a.prog.at(pc)
	if !ok {
		return emptyRes()
	}
	abstractOp := jt[raw.Op]
	conc := vm.Lookup(raw.Op)
	if abstractOp.valid != conc.Valid {
		return failRes(InvalidOpcodeFail)
	}
	if !abstractOp.valid {
		return failRes(InvalidOpcodeFail)
	}

	if st.stack.isTop {
		return failRes(TopStackFail)
	}

	if stLen := st.stack.len(); stLen < conc.MinStack || conc.MaxStack < stLen {
		return failRes(StackValidationFail)
	}

	env := execEnv{
		pc:     pc,
		raw:    raw,
		prog:   a.prog,
		ppcMap: ppcMap,
		st:     st,
		conc:   conc,
	}
	return abstractOp.exec(env)
}
