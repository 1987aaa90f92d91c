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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/sifter/config"
	"github.com/practical-formal-methods/sifter/dataflow"
	"github.com/practical-formal-methods/sifter/datalog"
	"github.com/practical-formal-methods/sifter/decompiler"
	"github.com/practical-formal-methods/sifter/model"
	"github.com/practical-formal-methods/sifter/naming"
	"github.com/practical-formal-methods/sifter/patterns"
)

const (
	// CALL(gas, caller, callvalue, 0, 0, 0, 0) at index 7; SSTORE(0, 1); STOP
	callThenStore = "0x600060006000600034335af1506001600055" + "00"
	// One method storing its first argument; its JUMPDEST has index 12.
	storeArgument = "0x60003560e01c80631111111114601457" +
		"600080fd" +
		"5b" + "6004356000" + "55" + "00"
)

var errBroken = errors.New("broken solver")

type brokenSolver struct{}

func (brokenSolver) Solve(context.Context, *datalog.Program, *datalog.Facts) (datalog.Result, error) {
	return nil, errBroken
}

func decompile(t *testing.T, code string) *decompiler.Contract {
	t.Helper()
	c, err := decompiler.Decompile(common.FromHex(code), naming.NewContext(), decompiler.DefaultOptions())
	require.NoError(t, err)
	return c
}

func compileNW(t *testing.T) *CompiledPattern {
	t.Helper()
	names := naming.NewContext()
	cp, err := CompilePattern(datalog.NewCompiler(names), patterns.NoWriteAfterCall(names))
	require.NoError(t, err)
	return cp
}

func TestEvaluatePattern(t *testing.T) {
	c := decompile(t, callThenStore)
	facts := datalog.NewFacts(dataflow.New(c))
	r := EvaluatePattern(context.Background(), datalog.Engine{}, c, facts, compileNW(t), 0)
	assert.True(t, r.Completed)
	assert.Equal(t, []int{7}, r.Violations)
	assert.Empty(t, r.Safe)
	assert.Empty(t, r.Conflicts)
}

func TestEvaluatePatternSolverFailure(t *testing.T) {
	c := decompile(t, callThenStore)
	facts := datalog.NewFacts(dataflow.New(c))
	r := EvaluatePattern(context.Background(), brokenSolver{}, c, facts, compileNW(t), 0)
	assert.False(t, r.Completed)
	assert.Contains(t, r.Error, errBroken.Error())
	assert.Empty(t, r.Violations)
}

func TestPositionOfMethodHead(t *testing.T) {
	c := decompile(t, storeArgument)
	require.Len(t, c.Methods, 1)
	head := c.Methods[0].Entry
	require.Equal(t, decompiler.KindMethodHead, head.Kind)
	pos, ok := Position(head)
	require.True(t, ok)
	assert.Equal(t, 12, pos)
}

func TestPositionOfVirtualInstructions(t *testing.T) {
	// 0x00 PUSH1 2a; CALLVALUE; PUSH1 08; JUMPI; PUSH1 01
	// 0x08 JUMPDEST (index 5); STOP
	c := decompile(t, "0x602a34600857"+"6001"+"5b00")
	tests := []struct {
		kind decompiler.Kind
		want int
	}{
		{decompiler.KindVirtualJump, 5},
		{decompiler.KindAssign, 5},
	}
	for _, test := range tests {
		var found bool
		for _, in := range c.Instructions {
			if in.Kind != test.kind {
				continue
			}
			found = true
			pos, ok := Position(in)
			require.True(t, ok, in.String())
			assert.Equal(t, test.want, pos, in.String())
		}
		assert.True(t, found, "kind %d", test.kind)
	}
}

func TestResultCache(t *testing.T) {
	rc, err := OpenResultCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer rc.Close()

	hash := crypto.Keccak256Hash([]byte{0x00})
	digest := ResultDigest(decompiler.DefaultOptions(), PatternDigest("DAO"))
	_, ok, err := rc.Get(hash, digest)
	require.NoError(t, err)
	assert.False(t, ok)

	r := model.NewPatternResult()
	r.Violations = []int{3, 7}
	r.Safe = []int{9}
	require.NoError(t, rc.Put(hash, digest, r))

	got, ok, err := rc.Get(hash, digest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r, got)

	_, ok, err = rc.Get(hash, ResultDigest(decompiler.DefaultOptions(), PatternDigest("LockedEther")))
	require.NoError(t, err)
	assert.False(t, ok)

	other := crypto.Keccak256Hash([]byte{0x01})
	require.NoError(t, rc.Put(other, digest, model.Failed(errBroken)))
	_, ok, err = rc.Get(other, digest)
	require.NoError(t, err)
	assert.False(t, ok, "incomplete results are not cached")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Analysis.Workers = 2
	return cfg
}

func TestAnalyzeAll(t *testing.T) {
	a, err := NewPatternAnalyzer(testConfig(), nil)
	require.NoError(t, err)

	inputs := []Input{
		{Name: "callThenStore", Code: common.FromHex(callThenStore)},
		{Name: "empty"},
		{Name: "storeArgument", Code: common.FromHex(storeArgument), MethodNames: map[uint32]string{0x11111111: "store(uint256)"}},
	}
	reports, err := a.AnalyzeAll(context.Background(), inputs)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	first := reports[0]
	assert.Equal(t, "callThenStore", first.Name)
	assert.Equal(t, crypto.Keccak256Hash(inputs[0].Code), first.CodeHash)
	assert.ElementsMatch(t, a.PatternNames(), keys(first.Results))
	assert.Equal(t, []int{7}, first.Results["DAO"].Violations)
	assert.Equal(t, []int{7}, first.Results["NW"].Violations)

	empty := reports[1]
	assert.NotEmpty(t, empty.Error)
	require.NotEmpty(t, empty.Results)
	for name, r := range empty.Results {
		assert.False(t, r.Completed, name)
	}

	assert.True(t, reports[2].Results["MissingInputValidation"].HasViolations())

	assert.Equal(t, uint64(1), a.NumErrors())
	assert.Equal(t, uint64(2), a.NumSuccess()+a.NumFail())
	assert.Greater(t, a.Time(), time.Duration(0))
}

func TestAnalyzerSelectsPatterns(t *testing.T) {
	cfg := testConfig()
	cfg.Analysis.Patterns = []string{"DAO"}
	cfg.Analysis.DSL = false
	a, err := NewPatternAnalyzer(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"DAO"}, a.PatternNames())

	cfg.Analysis.Patterns = []string{"NoSuchPattern"}
	_, err = NewPatternAnalyzer(cfg, nil)
	assert.Error(t, err)
}

func TestAnalyzerUsesCache(t *testing.T) {
	rc, err := OpenResultCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer rc.Close()

	cfg := testConfig()
	cfg.Analysis.Patterns = []string{"DAO"}
	cfg.Analysis.DSL = false
	a, err := NewPatternAnalyzer(cfg, rc)
	require.NoError(t, err)

	in := Input{Name: "callThenStore", Code: common.FromHex(callThenStore)}
	first := a.AnalyzeContract(context.Background(), in)
	cached, ok, err := rc.Get(first.CodeHash, ResultDigest(cfg.Decompiler.Options(), PatternDigest("DAO")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Results["DAO"], cached)

	second := a.AnalyzeContract(context.Background(), in)
	assert.Equal(t, first.Results, second.Results)
}

func TestResultDigest(t *testing.T) {
	opts := decompiler.DefaultOptions()
	base := ResultDigest(opts, PatternDigest("DAO"))
	assert.Equal(t, base, ResultDigest(opts, PatternDigest("DAO")))

	tests := map[string]string{
		"contexts": ResultDigest(decompiler.Options{MaxContexts: opts.MaxContexts + 1, MaxSteps: opts.MaxSteps}, PatternDigest("DAO")),
		"steps":    ResultDigest(decompiler.Options{MaxContexts: opts.MaxContexts, MaxSteps: opts.MaxSteps + 1}, PatternDigest("DAO")),
		"pattern":  ResultDigest(opts, PatternDigest("LockedEther")),
		"program":  ResultDigest(opts, ProgramDigest("DAO")),
	}
	for name, digest := range tests {
		assert.NotEqual(t, base, digest, name)
	}
}

func TestAnalyzerCacheKeyedByOptions(t *testing.T) {
	rc, err := OpenResultCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer rc.Close()

	cfg := testConfig()
	cfg.Analysis.Patterns = []string{"DAO"}
	cfg.Analysis.DSL = false
	in := Input{Name: "callThenStore", Code: common.FromHex(callThenStore)}

	stale := model.NewPatternResult()
	stale.Violations = []int{12345}
	hash := crypto.Keccak256Hash(in.Code)
	require.NoError(t, rc.Put(hash, ResultDigest(cfg.Decompiler.Options(), PatternDigest("DAO")), stale))

	a, err := NewPatternAnalyzer(cfg, rc)
	require.NoError(t, err)
	assert.Equal(t, stale, a.AnalyzeContract(context.Background(), in).Results["DAO"])

	cfg.Decompiler.MaxContexts++
	b, err := NewPatternAnalyzer(cfg, rc)
	require.NoError(t, err)
	fresh := b.AnalyzeContract(context.Background(), in).Results["DAO"]
	require.True(t, fresh.Completed)
	assert.NotContains(t, fresh.Violations, 12345)
	assert.Contains(t, fresh.Violations, 7)
}

func keys(m map[string]*model.PatternResult) []string {
	var res []string
	for k := range m {
		res = append(res, k)
	}
	return res
}
