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
)

var (
	// ErrSolverTimeout is returned when solving exceeds its time budget.
	ErrSolverTimeout = errors.New("datalog solver timed out")
	// ErrSolverFailed is returned when the solver rejects the program or
	// exits abnormally.
	ErrSolverFailed = errors.New("datalog solver failed")
)

// Result maps output relations to their derived tuples.
type Result map[string][]Tuple

// Labels returns the first column of rel, sorted.
func (r Result) Labels(rel string) []int64 {
	var res []int64
	for _, t := range r[rel] {
		if 0 < len(t) {
			res = append(res, t[0])
		}
	}
	return res
}

// Solver evaluates a program against the facts of one contract.
type Solver interface {
	Solve(ctx context.Context, p *Program, facts *Facts) (Result, error)
}
