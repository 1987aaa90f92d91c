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

// Pred is a dataflow predicate.
type Pred struct {
	name string
	rel  string
	args []Term
}

// Rel is the relation the predicate is evaluated against.
func (p *Pred) Rel() string {
	return p.rel
}

func pred(name, rel string, args ...Term) *Pred {
	return &Pred{name: name, rel: rel, args: args}
}

// MayFollow holds when l2 can execute after l1.
func MayFollow(l1, l2 Label) *Pred { return pred("mayFollow", "mayFollow", l1, l2) }

// MustFollow holds when every path to l2 passes through l1.
func MustFollow(l1, l2 Label) *Pred { return pred("mustFollow", "mustFollow", l1, l2) }

// Follow holds when l2 directly succeeds l1.
func Follow(l1, l2 Label) *Pred { return pred("follow", "follow", l1, l2) }

func MayDepOn(v Var, t Tag) *Pred { return pred("mayDepOn", "mayDepOn", v, t) }

// InstrMayDepOn holds when the execution of l may be decided by a value
// carrying t.
func InstrMayDepOn(l Label, t Tag) *Pred { return pred("mayDepOn", "instrMayDepOn", l, t) }

func MayDepOnVar(v, w Var) *Pred { return pred("mayDepOn", "mayDepOnVar", v, w) }

// DetBy holds when v depends on t along every path.
func DetBy(v Var, t Tag) *Pred { return pred("detBy", "mustDepOn", v, t) }

func DetByVar(v, w Var) *Pred { return pred("detBy", "mustDepOnVar", v, w) }

func IsConst(v Var) *Pred { return pred("isConst", "isConst", v) }

func IsArg(v Var) *Pred { return pred("isArg", "isArg", v) }

// MayStorage holds when two storage accesses may touch the same slot.
func MayStorage(l1, l2 Label) *Pred { return pred("mayStorage", "mayStorage", l1, l2) }

func MustStorage(l1, l2 Label) *Pred { return pred("mustStorage", "mustStorage", l1, l2) }

func (p *Pred) Atom() Atom {
	return Atom{Rel: p.rel, Args: p.args}
}

func (p *Pred) Guards() []Atom {
	return guards(p.args)
}

func (p *Pred) String() string {
	return render(p.name, p.args)
}

func (*Pred) node() {}

// Eq compares a variable with another variable, a number or the kind of
// its defining instruction, or compares two labels.
type Eq struct {
	left, right Term
}

func EqVar(v, w Var) *Eq { return &Eq{left: v, right: w} }
func EqLabel(l1, l2 Label) *Eq { return &Eq{left: l1, right: l2} }
func EqNumber(v Var, n uint64) *Eq { return &Eq{left: v, right: Number(n)} }

// EqTag holds when v is defined by an instruction of kind t.
func EqTag(v Var, t Tag) *Eq { return &Eq{left: v, right: t} }

func (e *Eq) Atom() Atom {
	switch e.right.(type) {
	case Number:
		return Atom{Rel: "hasValue", Args: []Term{e.left, e.right}}
	case Tag:
		return Atom{Rel: "assignType", Args: []Term{e.left, e.right}}
	}
	return Atom{Rel: EqRel, Args: []Term{e.left, e.right}}
}

func (e *Eq) Guards() []Atom {
	return guards([]Term{e.left, e.right})
}

func (e *Eq) String() string {
	return e.left.String() + " = " + e.right.String()
}

func (*Eq) node() {}
