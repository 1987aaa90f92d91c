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
// Package datalog compiles DSL patterns into Datalog rules and solves them
// against fact tables derived from a decompiled contract.
package datalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/practical-formal-methods/sifter/dsl"
)

// ErrInvalidPattern is wrapped by every InvalidPatternError.
var ErrInvalidPattern = errors.New("invalid pattern")

// InvalidPatternError reports a rule that cannot be evaluated.
type InvalidPatternError struct {
	Rule   string
	Reason string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %s: %s", e.Rule, e.Reason)
}

func (e *InvalidPatternError) Unwrap() error {
	return ErrInvalidPattern
}

// Literal is a possibly negated atom.
type Literal struct {
	Atom    dsl.Atom
	Negated bool
}

func (l Literal) String() string {
	if l.Atom.Rel == dsl.EqRel {
		op := " = "
		if l.Negated {
			op = " != "
		}
		return l.Atom.Args[0].Datalog() + op + l.Atom.Args[1].Datalog()
	}
	if l.Negated {
		return "!" + l.Atom.String()
	}
	return l.Atom.String()
}

// Elem is an element of a rule body.
type Elem interface {
	Literals() []Literal
}

// Pos wraps an instruction placeholder, predicate or equality.
type Pos struct {
	dsl.Elem
}

func (p Pos) Literals() []Literal {
	res := []Literal{{Atom: p.Atom()}}
	for _, g := range p.Guards() {
		res = append(res, Literal{Atom: g})
	}
	return res
}

// Not negates the main literal of an element. Guards stay positive.
type Not struct {
	X Elem
}

func (n Not) Literals() []Literal {
	ls := n.X.Literals()
	ls[0].Negated = !ls[0].Negated
	return ls
}

// Ref refers to a derived relation.
type Ref struct {
	Name   string
	Vars   []dsl.Var
	Labels []dsl.Label
}

func (r Ref) Literals() []Literal {
	return []Literal{{Atom: dsl.Atom{Rel: r.Name, Args: terms(r.Vars, r.Labels)}}}
}

// Head names the relation a rule derives. Variables come before labels.
type Head struct {
	Name   string
	Vars   []dsl.Var
	Labels []dsl.Label
}

func (h Head) Args() []dsl.Term {
	return terms(h.Vars, h.Labels)
}

func (h Head) String() string {
	args := make([]string, 0, len(h.Vars)+len(h.Labels))
	for _, t := range h.Args() {
		args = append(args, t.Datalog())
	}
	return h.Name + "(" + strings.Join(args, ", ") + ")"
}

func terms(vars []dsl.Var, labels []dsl.Label) []dsl.Term {
	var ts []dsl.Term
	for _, v := range vars {
		ts = append(ts, v)
	}
	for _, l := range labels {
		ts = append(ts, l)
	}
	return ts
}

// Rule is a Horn clause over facts and derived relations.
type Rule struct {
	Head Head
	Body []Elem
}

// NewRule checks that every head slot is bound by a positive body literal
// and that every variable of a negated literal is range restricted.
func NewRule(head Head, body ...Elem) (*Rule, error) {
	r := &Rule{Head: head, Body: body}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Literals flattens the body, dropping repeated literals.
func (r *Rule) Literals() []Literal {
	var res []Literal
	seen := map[string]bool{}
	for _, e := range r.Body {
		for _, l := range e.Literals() {
			if s := l.String(); !seen[s] {
				seen[s] = true
				res = append(res, l)
			}
		}
	}
	return res
}

func (r *Rule) validate() error {
	invalid := func(format string, args ...interface{}) error {
		return &InvalidPatternError{Rule: r.Head.Name, Reason: fmt.Sprintf(format, args...)}
	}
	lits := r.Literals()
	if len(lits) == 0 {
		return invalid("empty body")
	}
	bound := map[string]bool{}
	for _, l := range lits {
		if l.Negated || l.Atom.Rel == dsl.EqRel {
			continue
		}
		for _, t := range l.Atom.Args {
			if id, ok := t.Ident(); ok {
				bound[id] = true
			}
		}
	}
	// Equalities propagate bindings.
	isBound := func(t dsl.Term) bool {
		if _, ok := t.Value(); ok {
			return true
		}
		id, ok := t.Ident()
		return ok && bound[id]
	}
	for changed := true; changed; {
		changed = false
		for _, l := range lits {
			if l.Negated || l.Atom.Rel != dsl.EqRel {
				continue
			}
			a, b := l.Atom.Args[0], l.Atom.Args[1]
			for _, p := range [][2]dsl.Term{{a, b}, {b, a}} {
				if id, ok := p[1].Ident(); ok && isBound(p[0]) && !bound[id] {
					bound[id] = true
					changed = true
				}
			}
		}
	}
	for _, t := range r.Head.Args() {
		id, ok := t.Ident()
		if !ok {
			return invalid("head slot %s is a wildcard", t)
		}
		if !bound[id] {
			return invalid("head slot %s is not bound in the body", id)
		}
	}
	for _, l := range lits {
		if !l.Negated && l.Atom.Rel != dsl.EqRel {
			continue
		}
		for _, t := range l.Atom.Args {
			if id, ok := t.Ident(); ok && !bound[id] {
				return invalid("%s in %s is not range restricted", id, l)
			}
		}
	}
	return nil
}

func (r *Rule) String() string {
	lits := r.Literals()
	parts := make([]string, len(lits))
	for i, l := range lits {
		parts[i] = l.String()
	}
	return r.Head.String() + " :- " + strings.Join(parts, " , ") + "."
}
