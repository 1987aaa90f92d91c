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
package datalog

import (
	"fmt"

	"github.com/practical-formal-methods/sifter/dsl"
	"github.com/practical-formal-methods/sifter/naming"
)

// Compiler lowers instruction patterns into rules. Fresh labels are drawn
// from its naming context.
type Compiler struct {
	names *naming.Context
	name  string
	aux   int
	rules []*Rule
}

func NewCompiler(names *naming.Context) *Compiler {
	return &Compiler{names: names}
}

type builder struct {
	body []Elem
}

func (b *builder) add(e Elem) {
	b.body = append(b.body, e)
}

func (b *builder) fork() *builder {
	return &builder{body: append([]Elem(nil), b.body...)}
}

// bound returns the slots bound by positive literals, in order of first
// occurrence.
func bound(body []Elem) []dsl.Term {
	var res []dsl.Term
	seen := map[string]bool{}
	for _, e := range body {
		for _, l := range e.Literals() {
			if l.Negated || l.Atom.Rel == dsl.EqRel {
				continue
			}
			for _, t := range l.Atom.Args {
				if id, ok := t.Ident(); ok && !seen[id] {
					seen[id] = true
					res = append(res, t)
				}
			}
		}
	}
	return res
}

func mentioned(body []Elem) map[string]bool {
	res := map[string]bool{}
	for _, e := range body {
		for _, l := range e.Literals() {
			for _, t := range l.Atom.Args {
				if id, ok := t.Ident(); ok {
					res[id] = true
				}
			}
		}
	}
	return res
}

// Translate compiles p into a rule named name plus the auxiliary rules
// named <name>_<n> it needs. The main rule comes first.
func (c *Compiler) Translate(p *dsl.InstructionPattern, name string) ([]*Rule, error) {
	c.name = name
	c.aux = 0
	c.rules = nil

	q := p.Instr
	if q.Label.IsWildcard() {
		q = q.WithLabel(dsl.NewLabel(c.names))
	}
	b := &builder{}
	if err := c.lower(q, b); err != nil {
		return nil, err
	}
	if err := c.lower(p.Body, b); err != nil {
		return nil, err
	}
	main, err := NewRule(Head{Name: name, Labels: []dsl.Label{q.Label}}, b.body...)
	if err != nil {
		return nil, err
	}
	return append([]*Rule{main}, c.rules...), nil
}

func (c *Compiler) lower(n dsl.Node, b *builder) error {
	switch x := n.(type) {
	case dsl.Elem:
		b.add(Pos{x})
	case *dsl.InstructionPattern:
		if err := c.lower(x.Instr, b); err != nil {
			return err
		}
		return c.lower(x.Body, b)
	case dsl.And:
		for _, y := range x {
			if err := c.lower(y, b); err != nil {
				return err
			}
		}
	case dsl.Some:
		if err := c.lower(x.Instr, b); err != nil {
			return err
		}
		return c.lower(x.Body, b)
	case dsl.All:
		return c.lower(dsl.Not{X: dsl.Some{Instr: x.Instr, Body: dsl.Not{X: x.Body}}}, b)
	case dsl.Implies:
		return c.lower(dsl.Or{dsl.Not{X: x.If}, x.Then}, b)
	case dsl.Or:
		if len(x) == 1 {
			return c.lower(x[0], b)
		}
		ref, err := c.auxRule(b, x...)
		if err != nil {
			return err
		}
		b.add(ref)
	case dsl.Not:
		return c.lowerNot(x.X, b)
	default:
		return &InvalidPatternError{Rule: c.name, Reason: fmt.Sprintf("unsupported node %T", n)}
	}
	return nil
}

func (c *Compiler) lowerNot(n dsl.Node, b *builder) error {
	switch x := n.(type) {
	case dsl.Elem:
		b.add(Not{Pos{x}})
		return nil
	case dsl.Not:
		return c.lower(x.X, b)
	case dsl.And:
		if len(x) == 1 {
			return c.lowerNot(x[0], b)
		}
	case dsl.Or:
		// !(a || b) is !a && !b.
		for _, y := range x {
			if err := c.lowerNot(y, b); err != nil {
				return err
			}
		}
		return nil
	case dsl.All:
		return c.lower(dsl.Some{Instr: x.Instr, Body: dsl.Not{X: x.Body}}, b)
	case dsl.Implies:
		if err := c.lower(x.If, b); err != nil {
			return err
		}
		return c.lowerNot(x.Then, b)
	}
	ref, err := c.auxRule(b, n)
	if err != nil {
		return err
	}
	b.add(Not{ref})
	return nil
}

// auxRule derives a relation holding when one of the branches holds in
// the context built so far. Its slots are the context slots the branches
// mention.
func (c *Compiler) auxRule(b *builder, branches ...dsl.Node) (Ref, error) {
	c.aux++
	ref := Ref{Name: fmt.Sprintf("%s_%d", c.name, c.aux)}

	var forks []*builder
	used := map[string]bool{}
	for _, n := range branches {
		f := b.fork()
		if err := c.lower(n, f); err != nil {
			return Ref{}, err
		}
		for id := range mentioned(f.body[len(b.body):]) {
			used[id] = true
		}
		forks = append(forks, f)
	}
	for _, t := range bound(b.body) {
		id, _ := t.Ident()
		if !used[id] {
			continue
		}
		switch s := t.(type) {
		case dsl.Var:
			ref.Vars = append(ref.Vars, s)
		case dsl.Label:
			ref.Labels = append(ref.Labels, s)
		}
	}
	head := Head{Name: ref.Name, Vars: ref.Vars, Labels: ref.Labels}
	for _, f := range forks {
		r, err := NewRule(head, f.body...)
		if err != nil {
			return Ref{}, err
		}
		c.rules = append(c.rules, r)
	}
	return ref, nil
}

// CompletePattern pairs the compliance and violation forms of a check.
type CompletePattern struct {
	Name       string
	Compliance *dsl.InstructionPattern
	Violation  *dsl.InstructionPattern
}

func (p CompletePattern) ComplianceName() string { return p.Name + "Compliance" }
func (p CompletePattern) ViolationName() string { return p.Name + "Violation" }
func (p CompletePattern) WarningsName() string { return p.Name + "Warnings" }
func (p CompletePattern) ConflictsName() string { return p.Name + "Conflicts" }

// Outputs lists the relations a solver has to report for the pattern.
func (p CompletePattern) Outputs() []string {
	return []string{p.ComplianceName(), p.ViolationName(), p.WarningsName(), p.ConflictsName()}
}

// Compile translates both forms and adds the warning and conflict rules.
func (c *Compiler) Compile(p CompletePattern) ([]*Rule, error) {
	compliance, err := c.Translate(p.Compliance, p.ComplianceName())
	if err != nil {
		return nil, err
	}
	violation, err := c.Translate(p.Violation, p.ViolationName())
	if err != nil {
		return nil, err
	}
	rules := append(compliance, violation...)

	q := p.Compliance.Instr.Shape()
	if q.Label.IsWildcard() {
		q = q.WithLabel(dsl.NewLabel(c.names))
	}
	l := []dsl.Label{q.Label}
	warnings, err := NewRule(Head{Name: p.WarningsName(), Labels: l},
		Pos{q},
		Not{Ref{Name: p.ComplianceName(), Labels: l}},
		Not{Ref{Name: p.ViolationName(), Labels: l}})
	if err != nil {
		return nil, err
	}
	conflicts, err := NewRule(Head{Name: p.ConflictsName(), Labels: l},
		Ref{Name: p.ComplianceName(), Labels: l},
		Ref{Name: p.ViolationName(), Labels: l})
	if err != nil {
		return nil, err
	}
	return append(rules, warnings, conflicts), nil
}
