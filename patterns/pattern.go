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

// Package patterns implements hand-written security checks over the
// dataflow relations of a decompiled contract.
package patterns

import (
	"github.com/practical-formal-methods/sifter/dataflow"
	"github.com/practical-formal-methods/sifter/decompiler"
)

type Severity string

const (
	Critical Severity = "Critical"
	High     Severity = "High"
	Medium   Severity = "Medium"
	Low      Severity = "Low"
)

type Type string

const (
	Security Type = "Security"
	Trust    Type = "Trust"
	Design   Type = "Design"
)

// Description is the metadata reported with the findings of a pattern.
type Description struct {
	Name     string
	Category string
	Title    string
	Text     string
	Severity Severity
	Type     Type
}

// Findings classifies the instructions a pattern applies to. Every
// instruction ends up in exactly one list per body it was checked in.
type Findings struct {
	Violations []*decompiler.Instruction
	Warnings   []*decompiler.Instruction
	Safe       []*decompiler.Instruction
	Conflicts  []*decompiler.Instruction
}

func (f *Findings) classify(in *decompiler.Instruction, violation, compliant bool) {
	switch {
	case violation && !compliant:
		f.Violations = append(f.Violations, in)
	case !violation && compliant:
		f.Safe = append(f.Safe, in)
	case !violation && !compliant:
		f.Warnings = append(f.Warnings, in)
	default:
		f.Conflicts = append(f.Conflicts, in)
	}
}

// Pattern is a security check.
type Pattern interface {
	Description() Description
	Check(a *dataflow.Analysis) *Findings
}

// instructionPattern classifies every applicable instruction of each
// public method body on its own.
type instructionPattern struct {
	desc       Description
	applicable func(a *dataflow.Analysis, in *decompiler.Instruction) bool
	violation  func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool
	compliant  func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool
}

func (p *instructionPattern) Description() Description {
	return p.desc
}

func (p *instructionPattern) Check(a *dataflow.Analysis) *Findings {
	f := &Findings{}
	for _, body := range a.Contract().Bodies() {
		for _, in := range body {
			if !p.applicable(a, in) {
				continue
			}
			f.classify(in, p.violation(a, in, body), p.compliant(a, in, body))
		}
	}
	return f
}

// contractPattern decides once over the whole contract and reports the
// verdict on the first instruction of every public method body.
type contractPattern struct {
	desc      Description
	violation func(a *dataflow.Analysis, instrs []*decompiler.Instruction) bool
	safe      func(a *dataflow.Analysis, instrs []*decompiler.Instruction) bool
}

func (p *contractPattern) Description() Description {
	return p.desc
}

func (p *contractPattern) Check(a *dataflow.Analysis) *Findings {
	f := &Findings{}
	all := a.Contract().Instructions
	for _, body := range a.Contract().Bodies() {
		if len(body) == 0 {
			continue
		}
		f.classify(body[0], p.violation(a, all), p.safe(a, all))
	}
	return f
}

// All returns every hand-written pattern in reporting order.
func All() []Pattern {
	return []Pattern{
		DAO(),
		DAOConstantGas(),
		RepeatedCall(),
		LockedEther(),
		UnrestrictedWrite(),
		UnrestrictedEtherFlow(),
		TODAmount(),
		TODReceiver(),
		TODTransfer(),
		MissingInputValidation(),
		UnhandledException(),
	}
}

// Lookup finds a pattern by name.
func Lookup(name string) (Pattern, bool) {
	for _, p := range All() {
		if p.Description().Name == name {
			return p, true
		}
	}
	return nil, false
}
