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

// Package analysis runs security patterns over decompiled contracts and
// aggregates their results.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/practical-formal-methods/sifter/config"
	"github.com/practical-formal-methods/sifter/dataflow"
	"github.com/practical-formal-methods/sifter/datalog"
	"github.com/practical-formal-methods/sifter/decompiler"
	"github.com/practical-formal-methods/sifter/model"
	"github.com/practical-formal-methods/sifter/naming"
	"github.com/practical-formal-methods/sifter/patterns"
)

// Input is one contract to analyze.
type Input struct {
	Name string
	Code []byte
	// MethodNames optionally maps selectors to ABI signatures.
	MethodNames map[uint32]string
}

// Report holds the results of all patterns for one contract.
type Report struct {
	Name     string                          `json:"name"`
	CodeHash common.Hash                     `json:"codeHash"`
	Partial  bool                            `json:"partial"`
	Warnings []string                        `json:"warnings,omitempty"`
	Error    string                          `json:"error,omitempty"`
	Results  map[string]*model.PatternResult `json:"patternResults"`
}

// PatternAnalyzer checks contracts against the configured hand-written and
// declarative patterns. It may be shared between goroutines.
type PatternAnalyzer struct {
	opts     decompiler.Options
	solver   datalog.Solver
	timeout  time.Duration
	workers  int
	cache    *ResultCache
	patterns []patterns.Pattern
	programs []*CompiledPattern

	mu            sync.Mutex
	numSuccess    uint64
	numFail       uint64
	numErrors     uint64
	failureCauses map[string]uint64
	time          time.Duration
}

// NewPatternAnalyzer prepares the patterns selected by cfg. The cache is
// optional.
func NewPatternAnalyzer(cfg *config.Config, cache *ResultCache) (*PatternAnalyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &PatternAnalyzer{
		opts:          cfg.Decompiler.Options(),
		solver:        cfg.Solver.NewSolver(),
		timeout:       cfg.Solver.Timeout,
		workers:       cfg.Analysis.Workers,
		cache:         cache,
		failureCauses: map[string]uint64{},
	}
	if len(cfg.Analysis.Patterns) == 0 {
		a.patterns = patterns.All()
	}
	for _, name := range cfg.Analysis.Patterns {
		p, ok := patterns.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown pattern %q", name)
		}
		a.patterns = append(a.patterns, p)
	}
	if cfg.Analysis.DSL {
		names := naming.NewContext()
		c := datalog.NewCompiler(names)
		for _, pat := range patterns.Library(names) {
			cp, err := CompilePattern(c, pat)
			if err != nil {
				return nil, err
			}
			a.programs = append(a.programs, cp)
		}
	}
	return a, nil
}

// PatternNames lists the result keys of a report, sorted.
func (a *PatternAnalyzer) PatternNames() []string {
	var res []string
	for _, p := range a.patterns {
		res = append(res, p.Description().Name)
	}
	for _, cp := range a.programs {
		res = append(res, cp.Pattern.Name)
	}
	sort.Strings(res)
	return res
}

func (a *PatternAnalyzer) fail(r *Report, err error) *Report {
	r.Error = err.Error()
	for _, name := range a.PatternNames() {
		r.Results[name] = model.Failed(err)
	}
	a.recordError()
	return r
}

func (a *PatternAnalyzer) cached(hash common.Hash, digest string, compute func() *model.PatternResult) *model.PatternResult {
	if a.cache != nil {
		r, ok, err := a.cache.Get(hash, digest)
		if err != nil {
			log.Warn("Result cache lookup failed", "err", err)
		}
		if ok {
			return r
		}
	}
	r := compute()
	if a.cache != nil {
		if err := a.cache.Put(hash, digest, r); err != nil {
			log.Warn("Result cache update failed", "err", err)
		}
	}
	return r
}

// AnalyzeContract runs every pattern on one contract. Failures are
// reported in the results rather than returned.
func (a *PatternAnalyzer) AnalyzeContract(ctx context.Context, in Input) *Report {
	start := time.Now()
	defer a.addTime(start)

	hash := crypto.Keccak256Hash(in.Code)
	r := &Report{Name: in.Name, CodeHash: hash, Results: map[string]*model.PatternResult{}}
	c, err := decompiler.Decompile(in.Code, naming.NewContext(), a.opts)
	if err != nil {
		log.Warn("Decompilation failed", "contract", in.Name, "err", err)
		return a.fail(r, err)
	}
	for _, m := range c.Methods {
		if name, ok := in.MethodNames[m.Selector]; ok && m.HasSelector {
			m.Name = name
		}
	}
	r.Partial = c.Partial
	r.Warnings = c.Warnings
	for _, w := range c.Warnings {
		log.Warn("Decompilation inconsistency", "contract", in.Name, "warning", w)
	}
	a.recordCauses(c.FailureCauses)

	df := dataflow.New(c)
	for _, p := range a.patterns {
		name := p.Description().Name
		r.Results[name] = a.cached(hash, ResultDigest(a.opts, PatternDigest(name)), func() *model.PatternResult {
			return FindingsResult(c, p.Check(df))
		})
	}
	if 0 < len(a.programs) {
		facts := datalog.NewFacts(df)
		for _, cp := range a.programs {
			r.Results[cp.Pattern.Name] = a.cached(hash, ResultDigest(a.opts, ProgramDigest(cp.Program.Digest())), func() *model.PatternResult {
				return EvaluatePattern(ctx, a.solver, c, facts, cp, a.timeout)
			})
		}
	}

	failed := false
	for name, res := range r.Results {
		if !res.Completed {
			failed = true
			log.Warn("Pattern evaluation failed", "contract", in.Name, "pattern", name, "err", res.Error)
		}
	}
	if failed {
		a.recordFailure()
	} else {
		a.recordSuccess()
	}
	log.Debug("Analyzed contract", "contract", in.Name, "instructions", len(c.Instructions),
		"methods", len(c.Methods), "elapsed", common.PrettyDuration(time.Since(start)))
	return r
}

// AnalyzeAll analyzes the inputs concurrently. Reports are returned in
// input order; the error is only set when ctx was cancelled.
func (a *PatternAnalyzer) AnalyzeAll(ctx context.Context, inputs []Input) ([]*Report, error) {
	reports := make([]*Report, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = a.AnalyzeContract(gctx, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

func (a *PatternAnalyzer) addTime(start time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.time += time.Since(start)
}

func (a *PatternAnalyzer) recordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.numSuccess++
}

func (a *PatternAnalyzer) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.numFail++
}

func (a *PatternAnalyzer) recordError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.numErrors++
}

func (a *PatternAnalyzer) recordCauses(causes map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for cause, n := range causes {
		a.failureCauses[cause] += uint64(n)
	}
}

// NumSuccess counts contracts on which every pattern completed.
func (a *PatternAnalyzer) NumSuccess() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.numSuccess
}

// NumFail counts contracts with at least one incomplete pattern result.
func (a *PatternAnalyzer) NumFail() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.numFail
}

// NumErrors counts contracts that could not be decompiled.
func (a *PatternAnalyzer) NumErrors() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.numErrors
}

func (a *PatternAnalyzer) Time() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.time
}

// FailureCauses sums the reasons why control-flow paths were cut short.
func (a *PatternAnalyzer) FailureCauses() map[string]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	fcs := map[string]uint64{}
	for cause, cnt := range a.failureCauses {
		fcs[cause] = cnt
	}
	return fcs
}
