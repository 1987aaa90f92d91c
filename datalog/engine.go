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
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/practical-formal-methods/sifter/dsl"
)

// Engine evaluates non-recursive programs in process. Derived relations
// are computed stratum by stratum, so negation only ever sees complete
// relations.
type Engine struct{}

func (Engine) Solve(ctx context.Context, p *Program, facts *Facts) (Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	order, err := stratify(p)
	if err != nil {
		return nil, err
	}
	derived := map[string]*Relation{}
	for _, h := range p.derived() {
		derived[h.Name] = newRelation(h.Name, len(h.Vars)+len(h.Labels))
	}
	lookup := func(name string) *Relation {
		if r, ok := derived[name]; ok {
			return r
		}
		return facts.Relation(name)
	}
	byHead := map[string][]*Rule{}
	for _, r := range p.Rules {
		byHead[r.Head.Name] = append(byHead[r.Head.Name], r)
	}
	for _, name := range order {
		for _, r := range byHead[name] {
			if err := evalRule(ctx, r, lookup, derived[name]); err != nil {
				return nil, err
			}
		}
		log.Trace("Evaluated relation", "name", name, "tuples", derived[name].Len())
	}
	res := Result{}
	for _, o := range p.Outputs {
		res[o] = derived[o].Sorted()
	}
	return res, nil
}

// stratify orders derived relations so that every relation comes after
// the relations its rules refer to.
func stratify(p *Program) ([]string, error) {
	deps := map[string][]string{}
	for _, r := range p.Rules {
		for _, l := range r.Literals() {
			deps[r.Head.Name] = append(deps[r.Head.Name], l.Atom.Rel)
		}
	}
	isDerived := map[string]bool{}
	for _, h := range p.derived() {
		isDerived[h.Name] = true
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var order []string
	var visit func(string) error
	visit = func(n string) error {
		switch state[n] {
		case visiting:
			return fmt.Errorf("%w: recursive relation %s", ErrSolverFailed, n)
		case done:
			return nil
		}
		state[n] = visiting
		for _, d := range deps[n] {
			if isDerived[d] {
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		state[n] = done
		order = append(order, n)
		return nil
	}
	for _, h := range p.derived() {
		if err := visit(h.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

type env map[string]int64

// value resolves a term under the current bindings.
func (e env) value(t dsl.Term) (int64, bool) {
	if v, ok := t.Value(); ok {
		return v, true
	}
	if id, ok := t.Ident(); ok {
		v, bound := e[id]
		return v, bound
	}
	return 0, false
}

func idents(l Literal) []string {
	var res []string
	for _, t := range l.Atom.Args {
		if id, ok := t.Ident(); ok {
			res = append(res, id)
		}
	}
	return res
}

// schedule orders the body for evaluation. Negated literals and
// equalities are filters: each runs as soon as the slots it needs are
// bound, so the result does not depend on the order the body was
// written in.
func schedule(lits []Literal) []Literal {
	bound := map[string]bool{}
	ready := func(l Literal) bool {
		if l.Atom.Rel == dsl.EqRel && !l.Negated {
			for _, t := range l.Atom.Args {
				if id, ok := t.Ident(); !ok || bound[id] {
					return true
				}
			}
			return false
		}
		for _, id := range idents(l) {
			if !bound[id] {
				return false
			}
		}
		return true
	}
	isFilter := func(l Literal) bool {
		return l.Negated || l.Atom.Rel == dsl.EqRel
	}
	pending := append([]Literal(nil), lits...)
	res := make([]Literal, 0, len(lits))
	take := func(i int) {
		l := pending[i]
		pending = append(pending[:i], pending[i+1:]...)
		if !l.Negated {
			for _, id := range idents(l) {
				bound[id] = true
			}
		}
		res = append(res, l)
	}
	for 0 < len(pending) {
		next := -1
		for i, l := range pending {
			if isFilter(l) && ready(l) {
				next = i
				break
			}
		}
		if next < 0 {
			for i, l := range pending {
				if !isFilter(l) {
					next = i
					break
				}
			}
		}
		if next < 0 {
			// Only unsatisfiable filters are left; rule validation
			// rejects such bodies.
			next = 0
		}
		take(next)
	}
	return res
}

// checkEvery is the number of derivation steps between two context checks.
const checkEvery = 1 << 10

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSolverTimeout, err)
	}
	return err
}

func evalRule(ctx context.Context, r *Rule, lookup func(string) *Relation, out *Relation) error {
	if err := ctx.Err(); err != nil {
		return contextError(err)
	}
	lits := schedule(r.Literals())
	head := r.Head.Args()
	var (
		steps int
		err   error
	)
	var step func(i int, e env)
	step = func(i int, e env) {
		if err != nil {
			return
		}
		if steps++; steps%checkEvery == 0 {
			if err = ctx.Err(); err != nil {
				return
			}
		}
		if i == len(lits) {
			t := make(Tuple, len(head))
			for k, h := range head {
				t[k], _ = e.value(h)
			}
			out.Insert(t)
			return
		}
		l := lits[i]
		if l.Atom.Rel == dsl.EqRel {
			a, b := l.Atom.Args[0], l.Atom.Args[1]
			va, okA := e.value(a)
			vb, okB := e.value(b)
			switch {
			case okA && okB:
				if (va == vb) != l.Negated {
					step(i+1, e)
				}
			case okA && !l.Negated:
				if id, ok := b.Ident(); ok {
					step(i+1, e.with(id, va))
				}
			case okB && !l.Negated:
				if id, ok := a.Ident(); ok {
					step(i+1, e.with(id, vb))
				}
			}
			return
		}
		rel := lookup(l.Atom.Rel)
		pattern := make([]Slot, len(l.Atom.Args))
		for k, t := range l.Atom.Args {
			if v, ok := e.value(t); ok {
				pattern[k] = Slot{Bound: true, Value: v}
			}
		}
		if l.Negated {
			found := false
			if rel != nil {
				rel.Scan(pattern, func(Tuple) bool {
					found = true
					return false
				})
			}
			if !found {
				step(i+1, e)
			}
			return
		}
		if rel == nil {
			return
		}
		rel.Scan(pattern, func(t Tuple) bool {
			next := e
			for k, term := range l.Atom.Args {
				if pattern[k].Bound {
					continue
				}
				id, ok := term.Ident()
				if !ok {
					continue
				}
				if v, bound := next[id]; bound {
					// The same slot appears twice in the atom.
					if v != t[k] {
						return true
					}
					continue
				}
				next = next.with(id, t[k])
			}
			step(i+1, next)
			return err == nil
		})
	}
	step(0, env{})
	if err != nil {
		return contextError(err)
	}
	return nil
}

func (e env) with(id string, v int64) env {
	n := make(env, len(e)+1)
	for k, x := range e {
		n[k] = x
	}
	n[id] = v
	return n
}
