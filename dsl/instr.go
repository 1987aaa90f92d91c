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
package dsl

type instrKind int

const (
	callInstr instrKind = iota
	sloadInstr
	sstoreInstr
	gotoInstr
	stopInstr
	methodHeadInstr
)

var instrRels = [...]string{
	callInstr:       "call",
	sloadInstr:      "sload",
	sstoreInstr:     "sstore",
	gotoInstr:       "goto",
	stopInstr:       "stop",
	methodHeadInstr: "methodHead",
}

// Instr is an instruction placeholder. Its label and variables are matched
// against the decompiled instructions of a contract.
type Instr struct {
	kind   instrKind
	Label  Label
	vars   []Var
	target Label
}

// Call matches a CALL: out is the success flag, to the callee.
func Call(l Label, out, to, amount Var) *Instr {
	return &Instr{kind: callInstr, Label: l, vars: []Var{out, to, amount}}
}

func Sload(l Label, out, offset Var) *Instr {
	return &Instr{kind: sloadInstr, Label: l, vars: []Var{out, offset}}
}

func Sstore(l Label, offset, value Var) *Instr {
	return &Instr{kind: sstoreInstr, Label: l, vars: []Var{offset, value}}
}

// Goto matches a conditional jump on cond whose taken branch starts at target.
func Goto(l Label, cond Var, target Label) *Instr {
	return &Instr{kind: gotoInstr, Label: l, vars: []Var{cond}, target: target}
}

func Stop(l Label) *Instr {
	return &Instr{kind: stopInstr, Label: l}
}

func MethodHead(l Label) *Instr {
	return &Instr{kind: methodHeadInstr, Label: l}
}

// Vars returns the variable slots in argument order.
func (i *Instr) Vars() []Var {
	return i.vars
}

// WithLabel returns a copy placed at l.
func (i *Instr) WithLabel(l Label) *Instr {
	c := *i
	c.Label = l
	return &c
}

// Shape returns a copy with every variable slot replaced by a wildcard.
func (i *Instr) Shape() *Instr {
	c := *i
	c.vars = make([]Var, len(i.vars))
	for n := range c.vars {
		c.vars[n] = AnyVar
	}
	return &c
}

func (i *Instr) terms() []Term {
	ts := []Term{i.Label}
	for _, v := range i.vars {
		ts = append(ts, v)
	}
	if i.kind == gotoInstr {
		ts = append(ts, i.target)
	}
	return ts
}

func (i *Instr) Atom() Atom {
	return Atom{Rel: instrRels[i.kind], Args: i.terms()}
}

func (i *Instr) Guards() []Atom {
	return guards(i.terms())
}

func (i *Instr) String() string {
	return render(instrRels[i.kind], i.terms())
}

func (*Instr) node() {}
