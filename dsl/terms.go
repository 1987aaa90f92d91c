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
// Package dsl describes security patterns declaratively as quantified
// formulas over decompiled instructions and dataflow predicates.
package dsl

import (
	"strconv"

	"github.com/practical-formal-methods/sifter/dataflow"
	"github.com/practical-formal-methods/sifter/decompiler"
	"github.com/practical-formal-methods/sifter/naming"
	"github.com/practical-formal-methods/sifter/vm"
)

// Term is an argument of an instruction placeholder or a predicate.
type Term interface {
	String() string
	// Datalog renders the term inside a rule.
	Datalog() string
	// Ident returns the name of a named variable or label.
	Ident() (string, bool)
	// Value returns the code of a constant term.
	Value() (int64, bool)
	isTerm()
}

type slotKind int

const (
	named slotKind = iota
	wildcard
	argument
)

// Var is a variable slot: named, a wildcard matching anything, or a named
// slot restricted to values derived from the call data.
type Var struct {
	kind slotKind
	name string
}

// AnyVar never binds.
var AnyVar = Var{kind: wildcard}

func NewVar(names *naming.Context) Var {
	return Var{name: names.NextVar()}
}

// ArgVar returns a variable that only matches method arguments.
func ArgVar(names *naming.Context) Var {
	return Var{kind: argument, name: names.NextVar()}
}

func (v Var) IsWildcard() bool { return v.kind == wildcard }
func (v Var) IsArg() bool { return v.kind == argument }

func (v Var) String() string {
	if v.kind == wildcard {
		return naming.Wildcard
	}
	return v.name
}

func (v Var) Datalog() string { return v.String() }

func (v Var) Ident() (string, bool) {
	return v.name, v.kind != wildcard
}

func (Var) Value() (int64, bool) { return 0, false }
func (Var) isTerm() {}

// Label is an instruction slot.
type Label struct {
	kind slotKind
	name string
}

// AnyLabel never binds.
var AnyLabel = Label{kind: wildcard}

func NewLabel(names *naming.Context) Label {
	return Label{name: names.NextLabel()}
}

func (l Label) IsWildcard() bool { return l.kind == wildcard }

func (l Label) String() string {
	if l.kind == wildcard {
		return naming.Wildcard
	}
	return l.name
}

func (l Label) Datalog() string { return l.String() }

func (l Label) Ident() (string, bool) {
	return l.name, l.kind != wildcard
}

func (Label) Value() (int64, bool) { return 0, false }
func (Label) isTerm() {}

// Tag names a value origin. Tags share their codes with dataflow.Tag.
type Tag int

// ArgTag marks values read from the call data.
const ArgTag = Tag(dataflow.TagArg)

// OpTag is the tag of values produced by op.
func OpTag(op vm.OpCode) Tag {
	return Tag(decompiler.OpKind(op))
}

// Flow converts the tag for dataflow queries.
func (t Tag) Flow() dataflow.Tag {
	return dataflow.Tag(t)
}

func (t Tag) String() string { return t.Flow().String() }

// Datalog renders the numeric code.
func (t Tag) Datalog() string { return strconv.Itoa(int(t)) }

func (Tag) Ident() (string, bool) { return "", false }
func (t Tag) Value() (int64, bool) { return int64(t), true }
func (Tag) isTerm() {}

// Number is a constant operand.
type Number uint64

func (n Number) String() string { return strconv.FormatUint(uint64(n), 10) }
func (n Number) Datalog() string { return n.String() }

func (Number) Ident() (string, bool) { return "", false }
func (n Number) Value() (int64, bool) { return int64(n), true }
func (Number) isTerm() {}
