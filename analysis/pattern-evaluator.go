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

package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/practical-formal-methods/sifter/datalog"
	"github.com/practical-formal-methods/sifter/decompiler"
	"github.com/practical-formal-methods/sifter/model"
	"github.com/practical-formal-methods/sifter/patterns"
)

// CompiledPattern is a declarative pattern together with its program.
// Programs are shared read-only between contracts.
type CompiledPattern struct {
	Pattern datalog.CompletePattern
	Program *datalog.Program
}

// CompilePattern translates pat with c into a standalone program.
func CompilePattern(c *datalog.Compiler, pat datalog.CompletePattern) (*CompiledPattern, error) {
	p := datalog.NewProgram()
	if err := p.AddPattern(c, pat); err != nil {
		return nil, fmt.Errorf("compiling %s: %w", pat.Name, err)
	}
	return &CompiledPattern{Pattern: pat, Program: p}, nil
}

// Position returns the instruction number in the bytecode that identifies
// in in results. Virtual instructions report the first real instruction
// following them, going through jump targets where there is no straight
// line successor.
func Position(in *decompiler.Instruction) (int, bool) {
	seen := map[*decompiler.Instruction]bool{}
	for x := in; x != nil && !seen[x]; {
		if x.Raw != nil {
			return x.Raw.Index, true
		}
		seen[x] = true
		switch {
		case x.Next() != nil:
			x = x.Next()
		case 0 < len(x.Targets):
			x = x.Targets[0]
		case 0 < len(x.Succs):
			x = x.Succs[0]
		default:
			x = nil
		}
	}
	return 0, false
}

func positions(c *decompiler.Contract, labels []int64) []int {
	var res []int
	for _, l := range labels {
		if l < 0 || int64(len(c.Instructions)) <= l {
			continue
		}
		if p, ok := Position(c.Instructions[l]); ok {
			res = append(res, p)
		}
	}
	return res
}

// EvaluatePattern solves a compiled pattern against the facts of c.
// Instructions matching both forms are conflicts; a solver failure yields
// an incomplete result without findings.
func EvaluatePattern(ctx context.Context, s datalog.Solver, c *decompiler.Contract, facts *datalog.Facts, cp *CompiledPattern, timeout time.Duration) *model.PatternResult {
	if 0 < timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := s.Solve(ctx, cp.Program, facts)
	if err != nil {
		return model.Failed(fmt.Errorf("pattern %s: %w", cp.Pattern.Name, err))
	}
	pat := cp.Pattern
	compliant := map[int64]bool{}
	for _, l := range res.Labels(pat.ComplianceName()) {
		compliant[l] = true
	}
	var violations, safe, conflicts []int64
	violating := map[int64]bool{}
	for _, l := range res.Labels(pat.ViolationName()) {
		violating[l] = true
		if compliant[l] {
			conflicts = append(conflicts, l)
		} else {
			violations = append(violations, l)
		}
	}
	for _, l := range res.Labels(pat.ComplianceName()) {
		if !violating[l] {
			safe = append(safe, l)
		}
	}

	r := model.NewPatternResult()
	r.Violations = positions(c, violations)
	r.Safe = positions(c, safe)
	r.Conflicts = positions(c, conflicts)
	r.Warnings = positions(c, res.Labels(pat.WarningsName()))
	r.Normalize()
	return r
}

// FindingsResult converts the findings of a hand-written pattern.
func FindingsResult(c *decompiler.Contract, f *patterns.Findings) *model.PatternResult {
	r := model.NewPatternResult()
	add := func(instrs []*decompiler.Instruction, fn func(int)) {
		for _, in := range instrs {
			if p, ok := Position(in); ok {
				fn(p)
			}
		}
	}
	add(f.Violations, r.AddViolation)
	add(f.Warnings, r.AddWarning)
	add(f.Safe, r.AddSafe)
	add(f.Conflicts, r.AddConflict)
	r.Normalize()
	return r
}
