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

// Package model holds the data exchanged with solc and reported to users.
package model

import (
	"sort"
)

// PatternResult classifies the instructions a pattern was checked on.
// Instructions are identified by their index in the bytecode. The four
// lists are disjoint; a result that did not complete carries an error and
// no findings.
type PatternResult struct {
	Completed  bool   `json:"completed"`
	Error      string `json:"error,omitempty"`
	Violations []int  `json:"violations"`
	Warnings   []int  `json:"warnings"`
	Safe       []int  `json:"safe"`
	Conflicts  []int  `json:"conflicts"`
}

// NewPatternResult returns an empty completed result.
func NewPatternResult() *PatternResult {
	return &PatternResult{
		Completed:  true,
		Violations: []int{},
		Warnings:   []int{},
		Safe:       []int{},
		Conflicts:  []int{},
	}
}

// Failed returns a result recording err.
func Failed(err error) *PatternResult {
	r := NewPatternResult()
	r.Completed = false
	r.Error = err.Error()
	return r
}

func (r *PatternResult) AddViolation(id int) { r.Violations = append(r.Violations, id) }
func (r *PatternResult) AddWarning(id int)   { r.Warnings = append(r.Warnings, id) }
func (r *PatternResult) AddSafe(id int)      { r.Safe = append(r.Safe, id) }
func (r *PatternResult) AddConflict(id int)  { r.Conflicts = append(r.Conflicts, id) }

func (r *PatternResult) HasViolations() bool { return 0 < len(r.Violations) }
func (r *PatternResult) HasWarnings() bool   { return 0 < len(r.Warnings) }
func (r *PatternResult) HasSafe() bool       { return 0 < len(r.Safe) }
func (r *PatternResult) HasConflicts() bool  { return 0 < len(r.Conflicts) }

func sortedSet(ids []int, drop map[int]bool) []int {
	seen := map[int]bool{}
	res := []int{}
	for _, id := range ids {
		if seen[id] || drop[id] {
			continue
		}
		seen[id] = true
		res = append(res, id)
	}
	sort.Ints(res)
	return res
}

// Normalize sorts and deduplicates the lists and restores disjointness.
// An instruction reported in more than one list becomes a conflict when
// it is both a violation and safe; otherwise the most severe list wins.
func (r *PatternResult) Normalize() {
	if !r.Completed {
		r.Violations, r.Warnings, r.Safe, r.Conflicts = []int{}, []int{}, []int{}, []int{}
		return
	}
	conflicts := map[int]bool{}
	for _, id := range r.Conflicts {
		conflicts[id] = true
	}
	violations := map[int]bool{}
	for _, id := range r.Violations {
		violations[id] = true
	}
	for _, id := range r.Safe {
		if violations[id] {
			conflicts[id] = true
		}
	}
	r.Conflicts = r.Conflicts[:0]
	for id := range conflicts {
		r.Conflicts = append(r.Conflicts, id)
	}
	r.Conflicts = sortedSet(r.Conflicts, nil)

	r.Violations = sortedSet(r.Violations, conflicts)
	taken := map[int]bool{}
	for id := range conflicts {
		taken[id] = true
	}
	for _, id := range r.Violations {
		taken[id] = true
	}
	r.Warnings = sortedSet(r.Warnings, taken)
	for _, id := range r.Warnings {
		taken[id] = true
	}
	r.Safe = sortedSet(r.Safe, taken)
}
