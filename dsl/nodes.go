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

import (
	"strings"
)

// Not negates a formula.
type Not struct {
	X Node
}

func (n Not) String() string {
	if _, ok := n.X.(Elem); ok {
		return "!" + n.X.String()
	}
	return "!(" + n.X.String() + ")"
}

func (Not) node() {}

// And is a conjunction.
type And []Node

func (a And) String() string {
	return "(" + join(a, " && ") + ")"
}

func (And) node() {}

// Or is a disjunction.
type Or []Node

func (o Or) String() string {
	return "(" + join(o, " || ") + ")"
}

func (Or) node() {}

type Implies struct {
	If, Then Node
}

func (i Implies) String() string {
	return "(" + i.If.String() + " => " + i.Then.String() + ")"
}

func (Implies) node() {}

// Some holds when an instruction matching Instr satisfies Body.
type Some struct {
	Instr *Instr
	Body  Node
}

func (s Some) String() string {
	return "some " + s.Instr.String() + " . " + s.Body.String()
}

func (Some) node() {}

// All holds when every instruction matching Instr satisfies Body.
type All struct {
	Instr *Instr
	Body  Node
}

func (a All) String() string {
	return "all " + a.Instr.String() + " . " + a.Body.String()
}

func (All) node() {}

// InstructionPattern selects the instructions matching Instr for which
// Body holds.
type InstructionPattern struct {
	Instr *Instr
	Body  Node
}

func (p *InstructionPattern) String() string {
	return p.Instr.String() + " : " + p.Body.String()
}

func (*InstructionPattern) node() {}

func join(ns []Node, sep string) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = n.String()
	}
	return strings.Join(parts, sep)
}
