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

	evm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/practical-formal-methods/sifter/naming"
	"github.com/practical-formal-methods/sifter/vm"
)

// block is a jump destination together with the variables that hold the
// stack on entry. Every edge into the block assigns these variables.
type block struct {
	pc    pcType
	entry *Instruction
	canon []*Variable
	// frames is the number of internal function copies the block lies in.
	frames int
}

type pending struct {
	pc     pcType
	stack  []*Variable
	last   *Instruction
	frames int
}

// maxCopies bounds the number of copies of one instruction made for the
// different stack depths of internal function calls. Further depths share
// the first copy.
var maxCopies = MagicInt(16)

// destacker turns the stack machine into instructions over variables. It
// follows the edges found by the control-flow analysis and decompiles
// every reachable instruction once per stack depth it is reached with inside
// an internal function, and exactly once elsewhere.
type destacker struct {
	prog      *program
	flow      *controlFlow
	names     *naming.Context
	c         *Contract
	methods   map[pcType]*Method
	functions map[pcType]bool
	blocks    map[depthKey]*block
	first     map[pcType]*block
	copies    map[pcType]int
	visited   map[depthKey]bool
	queue     []pending
	warned    map[string]bool
}

func newDestacker(prog *program, flow *controlFlow, names *naming.Context, c *Contract) *destacker {
	return &destacker{
		prog:    prog,
		flow:    flow,
		names:   names,
		c:       c,
		methods:   map[pcType]*Method{},
		functions: map[pcType]bool{},
		blocks:    map[depthKey]*block{},
		first:     map[pcType]*block{},
		copies:    map[pcType]int{},
		visited:   map[depthKey]bool{},
		warned:    map[string]bool{},
	}
}

// key identifies the copy of pc reached with the given stack depth. Code
// outside internal functions has a single copy.
func (d *destacker) key(pc pcType, depth, frames int) depthKey {
	if frames == 0 {
		return depthKey{pc, -1}
	}
	return depthKey{pc, depth}
}

// isReturn tells whether the jump at pc takes its target from the stack
// rather than from the immediately preceding push.
func (d *destacker) isReturn(pc pcType) bool {
	i, ok := d.prog.byOffset[pc]
	if !ok || i == 0 {
		return true
	}
	op := d.prog.raws[i-1].Op
	return !vm.IsPush(op) && op != evm.PUSH0
}

func (d *destacker) run() {
	if _, ok := d.prog.at(0); !ok {
		return
	}
	if d.prog.isDest[0] {
		b, _ := d.arrive(0, nil, 0)
		d.c.Entry = b.entry
	} else {
		d.queue = append(d.queue, pending{pc: 0})
	}
	for 0 < len(d.queue) {
		p := d.queue[0]
		d.queue = d.queue[1:]
		d.walk(p.pc, p.stack, p.last, p.frames)
	}
}

func (d *destacker) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.c.Partial = true
	if !d.warned[msg] {
		d.warned[msg] = true
		d.c.Warnings = append(d.c.Warnings, msg)
	}
}

func (d *destacker) newVar() *Variable {
	v := &Variable{
		ID:   len(d.c.Variables),
		Name: d.names.NextVar(),
	}
	d.c.Variables = append(d.c.Variables, v)
	return v
}

func (d *destacker) constVar(val *uint256.Int) *Variable {
	v := d.newVar()
	v.Value = val
	return v
}

func (d *destacker) newInstr(kind Kind, raw *vm.RawInstruction, inputs []*Variable) *Instruction {
	in := &Instruction{
		ID:     len(d.c.Instructions),
		Kind:   kind,
		Label:  d.names.NextLabel(),
		Inputs: inputs,
		Raw:    raw,
	}
	d.c.Instructions = append(d.c.Instructions, in)
	return in
}

func (d *destacker) define(in *Instruction) *Variable {
	out := d.newVar()
	out.Defs = append(out.Defs, in)
	in.Output = out
	return out
}

func link(from, to *Instruction) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// chain links two instructions that follow each other on a straight line.
func chain(from, to *Instruction) {
	if from == nil {
		return
	}
	link(from, to)
	if from.next == nil && to.prev == nil {
		from.next = to
		to.prev = from
	}
}

// chainAll appends the instructions after last and returns the new tail.
func chainAll(last *Instruction, instrs []*Instruction) *Instruction {
	for _, in := range instrs {
		chain(last, in)
		last = in
	}
	return last
}

// append chains instrs after *last and advances it. The first instruction
// on the path from the program start becomes the contract entry.
func (d *destacker) append(last **Instruction, instrs ...*Instruction) {
	for _, in := range instrs {
		if *last == nil {
			if d.c.Entry == nil {
				d.c.Entry = in
			}
		} else {
			chain(*last, in)
		}
		*last = in
	}
}

// ensure pads the bottom of the stack with variables of unknown origin.
func (d *destacker) ensure(stack []*Variable, n int, pc pcType) []*Variable {
	if n <= len(stack) {
		return stack
	}
	d.warn("stack underflow at %#x", uint64(pc))
	pad := make([]*Variable, n-len(stack))
	for i := range pad {
		pad[i] = d.newVar()
	}
	return append(pad, stack...)
}

// arrive returns the block at pc, creating it on first arrival, together
// with the assignments that move the given stack into its canonical variables.
// Entering an internal function opens a new frame, so its body is copied for
// every stack depth the function is called with.
func (d *destacker) arrive(pc pcType, stack []*Variable, frames int) (*block, []*Instruction) {
	if d.functions[pc] {
		frames++
	}
	k := d.key(pc, len(stack), frames)
	b, exists := d.blocks[k]
	if !exists && maxCopies <= d.copies[pc] {
		b, exists = d.first[pc], true
	}
	if !exists {
		b = &block{pc: pc, canon: make([]*Variable, len(stack)), frames: frames}
		for i := range b.canon {
			v := d.newVar()
			if val, ok := d.constantAt(pc, len(stack), len(stack)-1-i, frames); ok {
				v.Value = constVal(val)
			}
			b.canon[i] = v
		}
		d.blocks[k] = b
		if d.first[pc] == nil {
			d.first[pc] = b
		}
		d.copies[pc]++

		raw, _ := d.prog.at(pc)
		var last *Instruction
		if m, ok := d.methods[pc]; ok && m.Entry == nil {
			head := d.newInstr(KindMethodHead, nil, nil)
			head.Method = m
			m.Entry = head
			last = head
		}
		dest := d.newInstr(OpKind(evm.JUMPDEST), &raw, nil)
		chain(last, dest)
		if last == nil {
			b.entry = dest
		} else {
			b.entry = last
		}
		d.visited[k] = true
		next := pcType(raw.Next())
		if d.flow.edges[pc][next] {
			d.queue = append(d.queue, pending{pc: next, stack: append([]*Variable(nil), b.canon...), last: dest, frames: frames})
		}
	} else if len(stack) != len(b.canon) {
		d.warn("stack depth mismatch at %#x: %d vs %d", uint64(pc), len(b.canon), len(stack))
	}
	return b, d.moves(b.canon, stack)
}

// moves assigns src to dst slot by slot from the top of both stacks.
// Sources that are overwritten by an earlier assignment are saved first.
func (d *destacker) moves(dst, src []*Variable) []*Instruction {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	type move struct{ to, from *Variable }
	var ms []move
	isDst := map[*Variable]bool{}
	for i := 1; i <= n; i++ {
		to, from := dst[len(dst)-i], src[len(src)-i]
		if to == from {
			continue
		}
		ms = append(ms, move{to, from})
		isDst[to] = true
	}
	var res []*Instruction
	saved := map[*Variable]*Variable{}
	for i, m := range ms {
		if isDst[m.from] && saved[m.from] == nil {
			tmp := d.newVar()
			tmp.Value = m.from.Value
			res = append(res, d.assign(tmp, m.from))
			saved[m.from] = tmp
		}
		if tmp := saved[m.from]; tmp != nil {
			ms[i].from = tmp
		}
	}
	for _, m := range ms {
		res = append(res, d.assign(m.to, m.from))
	}
	return res
}

func (d *destacker) constantAt(pc pcType, depth, fromTop, frames int) (*absVal, bool) {
	if frames == 0 {
		return d.flow.constantAt(pc, fromTop)
	}
	return d.flow.constantAtDepth(pc, depth, fromTop)
}

func (d *destacker) assign(to, from *Variable) *Instruction {
	in := d.newInstr(KindAssign, nil, []*Variable{from})
	in.Output = to
	to.Defs = append(to.Defs, in)
	return in
}

// edge connects a jump to the block at pc, going through a trampoline of
// assignments when the stack has to be moved.
func (d *destacker) edge(from *Instruction, pc pcType, stack []*Variable, frames int) {
	b, mv := d.arrive(pc, stack, frames)
	from.Targets = append(from.Targets, b.entry)
	if len(mv) == 0 {
		link(from, b.entry)
		return
	}
	link(from, mv[0])
	last := chainAll(mv[0], mv[1:])
	vjump := d.newInstr(KindVirtualJump, nil, nil)
	vjump.Targets = []*Instruction{b.entry}
	chain(last, vjump)
	link(vjump, b.entry)
}

// targets lists the jump targets of pc. Inside internal functions only the
// targets seen with the given stack depth count.
func (d *destacker) targets(pc pcType, next pcType, isJumpi bool, depth, frames int) []pcType {
	succs := d.flow.successors(pc)
	if 0 < frames {
		succs = d.flow.successorsAt(pc, depth)
	}
	var res []pcType
	for _, t := range succs {
		if isJumpi && t == next {
			continue
		}
		res = append(res, t)
	}
	if d.flow.unresolved[pc] {
		d.warn("unresolved jump at %#x", uint64(pc))
	}
	return res
}

func (d *destacker) pop(stack []*Variable, n int, pc pcType) ([]*Variable, []*Variable) {
	stack = d.ensure(stack, n, pc)
	inputs := make([]*Variable, n)
	for i := 0; i < n; i++ {
		inputs[i] = stack[len(stack)-1-i]
	}
	return stack[:len(stack)-n], inputs
}

func (d *destacker) walk(pc pcType, stack []*Variable, last *Instruction, frames int) {
	for {
		raw, ok := d.prog.at(pc)
		if !ok || d.visited[d.key(pc, len(stack), frames)] && !d.prog.isDest[int(pc)] {
			return
		}
		if raw.Op == evm.JUMPDEST {
			b, mv := d.arrive(pc, stack, frames)
			d.append(&last, mv...)
			d.append(&last, b.entry)
			return
		}
		d.visited[d.key(pc, len(stack), frames)] = true
		next := pcType(raw.Next())
		op := raw.Op
		conc := vm.Lookup(op)

		switch {
		case vm.IsPush(op) || op == evm.PUSH0:
			stack = append(stack, d.constVar(raw.Value()))
		case vm.IsDup(op):
			n := int(op-evm.DUP1) + 1
			stack = d.ensure(stack, n, pc)
			stack = append(stack, stack[len(stack)-n])
		case vm.IsSwap(op):
			n := int(op-evm.SWAP1) + 1
			stack = d.ensure(stack, n+1, pc)
			top := len(stack) - 1
			stack[top], stack[top-n] = stack[top-n], stack[top]
		case op == evm.POP:
			stack, _ = d.pop(stack, 1, pc)
		case op == evm.JUMP:
			depth := len(stack)
			var inputs []*Variable
			stack, inputs = d.pop(stack, 1, pc)
			ts := d.targets(pc, next, false, depth, frames)
			if 0 < frames && d.isReturn(pc) {
				frames--
			}
			r := raw
			in := d.newInstr(OpKind(op), &r, inputs)
			if len(ts) == 1 {
				b, mv := d.arrive(ts[0], stack, frames)
				d.append(&last, mv...)
				d.append(&last, in)
				in.Targets = []*Instruction{b.entry}
				link(in, b.entry)
				return
			}
			d.append(&last, in)
			for _, t := range ts {
				d.edge(in, t, stack, frames)
			}
			return
		case op == evm.JUMPI:
			depth := len(stack)
			var inputs []*Variable
			stack, inputs = d.pop(stack, 2, pc)
			r := raw
			in := d.newInstr(OpKind(op), &r, inputs)
			d.append(&last, in)
			for _, t := range d.targets(pc, next, true, depth, frames) {
				d.edge(in, t, stack, frames)
			}
		default:
			var inputs []*Variable
			stack, inputs = d.pop(stack, conc.Pops, pc)
			r := raw
			in := d.newInstr(OpKind(op), &r, inputs)
			if conc.Pushes == 1 {
				stack = append(stack, d.define(in))
			}
			d.append(&last, in)
			if !conc.Valid || conc.Halts() {
				return
			}
		}
		if !d.flow.edges[pc][next] {
			return
		}
		pc = next
	}
}
