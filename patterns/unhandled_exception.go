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

package patterns

import (
	"github.com/practical-formal-methods/sifter/dataflow"
	"github.com/practical-formal-methods/sifter/decompiler"
)

// UnhandledException flags calls whose success flag never reaches a branch.
func UnhandledException() Pattern {
	return &instructionPattern{
		desc: Description{
			Name:     "UnhandledException",
			Category: "InsecureCodingPatterns",
			Title:    "Unhandled Exception",
			Text:     "The return value of statements that may return error values must be explicitly checked.",
			Severity: High,
			Type:     Security,
		},
		applicable: func(_ *dataflow.Analysis, in *decompiler.Instruction) bool {
			return isCall(in) && !isBuiltin(in) && in.Output != nil
		},
		violation: func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
			for _, j := range jumpsIn(body) {
				if a.MayFollow(in, j).Holds() && a.VarMayDepOnVar(j.Condition(), in.Output) {
					return false
				}
			}
			return true
		},
		compliant: func(a *dataflow.Analysis, in *decompiler.Instruction, body []*decompiler.Instruction) bool {
			for _, j := range jumpsIn(body) {
				if a.MustPrecede(in, j) == dataflow.Valid && a.VarMustDepOnVar(j.Condition(), in.Output) {
					return true
				}
			}
			return false
		},
	}
}
