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
	"fmt"
	"strings"
)

// EqRel is the relation name of term equality.
const EqRel = "="

// Atom is the Datalog form of an instruction placeholder, predicate or
// equality.
type Atom struct {
	Rel  string
	Args []Term
}

func (a Atom) String() string {
	if a.Rel == EqRel {
		return a.Args[0].Datalog() + " = " + a.Args[1].Datalog()
	}
	args := make([]string, len(a.Args))
	for i, t := range a.Args {
		args[i] = t.Datalog()
	}
	return fmt.Sprintf("%s(%s)", a.Rel, strings.Join(args, ", "))
}

// Node is a pattern formula.
type Node interface {
	String() string
	node()
}

// Elem is a formula that lowers to one atom.
type Elem interface {
	Node
	Atom() Atom
	// Guards are positive atoms that restrict argument slots.
	Guards() []Atom
}

func guards(ts []Term) []Atom {
	var res []Atom
	seen := map[string]bool{}
	for _, t := range ts {
		v, ok := t.(Var)
		if !ok || !v.IsArg() || seen[v.name] {
			continue
		}
		seen[v.name] = true
		res = append(res, Atom{Rel: "isArg", Args: []Term{v}})
	}
	return res
}

func render(name string, ts []Term) string {
	args := make([]string, len(ts))
	for i, t := range ts {
		args[i] = t.String()
	}
	return name + "(" + strings.Join(args, " , ") + ")"
}
