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
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/practical-formal-methods/sifter/dsl"
)

// Program is a set of rules together with the relations to report.
type Program struct {
	Rules   []*Rule
	Outputs []string
}

func NewProgram() *Program {
	return &Program{}
}

// Add appends rules and marks outputs.
func (p *Program) Add(rules []*Rule, outputs ...string) {
	p.Rules = append(p.Rules, rules...)
	p.Outputs = append(p.Outputs, outputs...)
}

// AddPattern compiles a complete pattern into the program.
func (p *Program) AddPattern(c *Compiler, pat CompletePattern) error {
	rules, err := c.Compile(pat)
	if err != nil {
		return err
	}
	p.Add(rules, pat.Outputs()...)
	return nil
}

// derived returns the heads of all rules in order of first definition.
func (p *Program) derived() []Head {
	var res []Head
	seen := map[string]bool{}
	for _, r := range p.Rules {
		if !seen[r.Head.Name] {
			seen[r.Head.Name] = true
			res = append(res, r.Head)
		}
	}
	return res
}

func columns(h Head) string {
	var cols []string
	for i := range h.Vars {
		cols = append(cols, fmt.Sprintf("v%d: Var", i))
	}
	for i := range h.Labels {
		cols = append(cols, fmt.Sprintf("l%d: Label", i))
	}
	return strings.Join(cols, ", ")
}

// String renders the program for Souffle.
func (p *Program) String() string {
	var sb strings.Builder
	sb.WriteString(".type Label <: number\n.type Var <: number\n.type Tag <: number\n\n")
	for _, rel := range schema {
		cols := make([]string, len(rel.cols))
		for i, c := range rel.cols {
			cols[i] = c.name + ": " + c.typ
		}
		fmt.Fprintf(&sb, ".decl %s(%s)\n.input %s\n", rel.name, strings.Join(cols, ", "), rel.name)
	}
	sb.WriteString("\n")
	outputs := map[string]bool{}
	for _, o := range p.Outputs {
		outputs[o] = true
	}
	for _, h := range p.derived() {
		fmt.Fprintf(&sb, ".decl %s(%s)\n", h.Name, columns(h))
		if outputs[h.Name] {
			fmt.Fprintf(&sb, ".output %s\n", h.Name)
		}
	}
	sb.WriteString("\n")
	for _, r := range p.Rules {
		sb.WriteString(r.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Digest identifies the program text.
func (p *Program) Digest() string {
	h := sha3.Sum256([]byte(p.String()))
	return hex.EncodeToString(h[:])
}

// Validate checks that every referenced relation is a fact table or
// derived by some rule, and that arities agree.
func (p *Program) Validate() error {
	arity := map[string]int{}
	for _, rel := range schema {
		arity[rel.name] = len(rel.cols)
	}
	for _, h := range p.derived() {
		if _, ok := arity[h.Name]; ok {
			return &InvalidPatternError{Rule: h.Name, Reason: "redefines a fact table"}
		}
		arity[h.Name] = len(h.Vars) + len(h.Labels)
	}
	for _, r := range p.Rules {
		if n := len(r.Head.Vars) + len(r.Head.Labels); n != arity[r.Head.Name] {
			return &InvalidPatternError{Rule: r.Head.Name, Reason: fmt.Sprintf("arity %d, declared %d", n, arity[r.Head.Name])}
		}
		for _, l := range r.Literals() {
			if l.Atom.Rel == dsl.EqRel {
				continue
			}
			n, ok := arity[l.Atom.Rel]
			if !ok {
				return &InvalidPatternError{Rule: r.Head.Name, Reason: "unknown relation " + l.Atom.Rel}
			}
			if n != len(l.Atom.Args) {
				return &InvalidPatternError{Rule: r.Head.Name, Reason: fmt.Sprintf("%s used with %d arguments, declared %d", l.Atom.Rel, len(l.Atom.Args), n)}
			}
		}
	}
	for _, o := range p.Outputs {
		if _, ok := arity[o]; !ok {
			return &InvalidPatternError{Rule: o, Reason: "output is never derived"}
		}
	}
	return nil
}
