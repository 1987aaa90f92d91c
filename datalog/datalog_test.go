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
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	evm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/sifter/dataflow"
	"github.com/practical-formal-methods/sifter/decompiler"
	"github.com/practical-formal-methods/sifter/dsl"
	"github.com/practical-formal-methods/sifter/naming"
)

func nwPattern(names *naming.Context) CompletePattern {
	l1, l2 := dsl.NewLabel(names), dsl.NewLabel(names)
	call := dsl.Call(l1, dsl.AnyVar, dsl.AnyVar, dsl.AnyVar)
	return CompletePattern{
		Name: "NW",
		Compliance: &dsl.InstructionPattern{Instr: call, Body: dsl.All{
			Instr: dsl.Sstore(l2, dsl.AnyVar, dsl.AnyVar),
			Body:  dsl.Not{X: dsl.MayFollow(l1, l2)},
		}},
		Violation: &dsl.InstructionPattern{Instr: call, Body: dsl.Some{
			Instr: dsl.Sstore(l2, dsl.AnyVar, dsl.AnyVar),
			Body:  dsl.MustFollow(l1, l2),
		}},
	}
}

func ruleStrings(rules []*Rule) []string {
	var res []string
	for _, r := range rules {
		res = append(res, r.String())
	}
	return res
}

func TestTranslateAll(t *testing.T) {
	names := naming.NewContext()
	p := nwPattern(names)
	rules, err := NewCompiler(names).Translate(p.Compliance, p.ComplianceName())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"NWCompliance(aL) :- call(aL, _, _, _) , !NWCompliance_1(aL).",
		"NWCompliance_1(aL) :- call(aL, _, _, _) , sstore(bL, _, _) , mayFollow(aL, bL).",
	}, ruleStrings(rules))
}

func TestCompileCompletePattern(t *testing.T) {
	names := naming.NewContext()
	rules, err := NewCompiler(names).Compile(nwPattern(names))
	require.NoError(t, err)
	got := ruleStrings(rules)
	require.Len(t, got, 5)
	assert.Equal(t, "NWViolation(aL) :- call(aL, _, _, _) , sstore(bL, _, _) , mustFollow(aL, bL).", got[2])
	assert.Equal(t, "NWWarnings(aL) :- call(aL, _, _, _) , !NWCompliance(aL) , !NWViolation(aL).", got[3])
	assert.Equal(t, "NWConflicts(aL) :- NWCompliance(aL) , NWViolation(aL).", got[4])
}

func TestTranslateWildcardLabelAndArgs(t *testing.T) {
	names := naming.NewContext()
	x := dsl.ArgVar(names)
	y := dsl.NewVar(names)
	p := &dsl.InstructionPattern{
		Instr: dsl.Sstore(dsl.AnyLabel, x, dsl.AnyVar),
		Body: dsl.Or{
			dsl.EqNumber(x, 0),
			dsl.Some{Instr: dsl.Sload(dsl.AnyLabel, y, dsl.AnyVar), Body: dsl.Not{X: dsl.EqVar(x, y)}},
		},
	}
	rules, err := NewCompiler(names).Translate(p, "P")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"P(aL) :- sstore(aL, a, _) , isArg(a) , P_1(a).",
		"P_1(a) :- sstore(aL, a, _) , isArg(a) , hasValue(a, 0).",
		"P_1(a) :- sstore(aL, a, _) , isArg(a) , sload(_, b, _) , a != b.",
	}, ruleStrings(rules))
}

func TestTranslateImplies(t *testing.T) {
	names := naming.NewContext()
	l1, l2 := dsl.NewLabel(names), dsl.NewLabel(names)
	x, y := dsl.NewVar(names), dsl.NewVar(names)
	p := &dsl.InstructionPattern{
		Instr: dsl.Sstore(l1, dsl.AnyVar, x),
		Body: dsl.Implies{
			If: dsl.MayDepOn(x, dsl.ArgTag),
			Then: dsl.Not{X: dsl.Some{
				Instr: dsl.Goto(l2, y, dsl.AnyLabel),
				Body:  dsl.And{dsl.MustFollow(l2, l1), dsl.MayDepOn(y, dsl.ArgTag)},
			}},
		},
	}
	rules, err := NewCompiler(names).Translate(p, "VA")
	require.NoError(t, err)
	got := ruleStrings(rules)
	require.Len(t, got, 4)
	assert.Equal(t, "VA(aL) :- sstore(aL, _, a) , VA_1(a, aL).", got[0])
	assert.Contains(t, got, "VA_1(a, aL) :- sstore(aL, _, a) , !mayDepOn(a, 300).")
	assert.Contains(t, got, "VA_1(a, aL) :- sstore(aL, _, a) , !VA_2(aL).")
	assert.Contains(t, got, "VA_2(aL) :- sstore(aL, _, a) , goto(bL, b, _) , mustFollow(bL, aL) , mayDepOn(b, 300).")
}

func TestNewRuleValidation(t *testing.T) {
	names := naming.NewContext()
	l1, l2, l3 := dsl.NewLabel(names), dsl.NewLabel(names), dsl.NewLabel(names)

	_, err := NewRule(Head{Name: "unbound", Labels: []dsl.Label{l3}}, Pos{dsl.Stop(l1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPattern))
	var perr *InvalidPatternError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "unbound", perr.Rule)

	_, err = NewRule(Head{Name: "neg", Labels: []dsl.Label{l1}}, Pos{dsl.Stop(l1)}, Not{Pos{dsl.MayFollow(l1, l2)}})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = NewRule(Head{Name: "wild", Labels: []dsl.Label{l1}}, Pos{dsl.Stop(l1)}, Not{Pos{dsl.MayFollow(l1, dsl.AnyLabel)}})
	assert.NoError(t, err)

	_, err = NewRule(Head{Name: "eq", Labels: []dsl.Label{l2}}, Pos{dsl.Stop(l1)}, Pos{dsl.EqLabel(l1, l2)})
	assert.NoError(t, err)

	_, err = NewRule(Head{Name: "empty", Labels: []dsl.Label{l1}})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestProgramRendering(t *testing.T) {
	names := naming.NewContext()
	p := NewProgram()
	require.NoError(t, p.AddPattern(NewCompiler(names), nwPattern(names)))
	require.NoError(t, p.Validate())

	s := p.String()
	assert.Contains(t, s, ".decl call(l: Label, out: Var, to: Var, amount: Var)\n.input call\n")
	assert.Contains(t, s, ".decl NWCompliance(l0: Label)\n.output NWCompliance\n")
	assert.Contains(t, s, ".decl NWCompliance_1(l0: Label)\n")
	assert.NotContains(t, s, ".output NWCompliance_1")
	assert.Len(t, p.Digest(), 64)

	names.Reset()
	q := NewProgram()
	require.NoError(t, q.AddPattern(NewCompiler(names), nwPattern(names)))
	assert.Equal(t, p.Digest(), q.Digest())
	q.Outputs = q.Outputs[:1]
	assert.NotEqual(t, p.Digest(), q.Digest())
}

func TestProgramValidate(t *testing.T) {
	names := naming.NewContext()
	l := dsl.NewLabel(names)
	r, err := NewRule(Head{Name: "x", Labels: []dsl.Label{l}}, Ref{Name: "missing", Labels: []dsl.Label{l}})
	require.NoError(t, err)
	p := NewProgram()
	p.Add([]*Rule{r}, "x")
	assert.ErrorIs(t, p.Validate(), ErrInvalidPattern)
}

func nwFacts() *Facts {
	f := EmptyFacts()
	// Call 1 is followed by the store 2 on every path, call 5 by nothing.
	f.add("call", 1, 10, 11, 12)
	f.add("call", 5, 13, 14, 15)
	f.add("sstore", 2, 16, 17)
	f.add("mayFollow", 1, 2)
	f.add("mustFollow", 1, 2)
	f.add("stop", 7)
	return f
}

func TestEngine(t *testing.T) {
	names := naming.NewContext()
	p := NewProgram()
	pat := nwPattern(names)
	require.NoError(t, p.AddPattern(NewCompiler(names), pat))

	res, err := Engine{}.Solve(context.Background(), p, nwFacts())
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, res.Labels(pat.ComplianceName()))
	assert.Equal(t, []int64{1}, res.Labels(pat.ViolationName()))
	assert.Empty(t, res.Labels(pat.WarningsName()))
	assert.Empty(t, res.Labels(pat.ConflictsName()))

	again, err := Engine{}.Solve(context.Background(), p, nwFacts())
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestEngineRejectsRecursion(t *testing.T) {
	names := naming.NewContext()
	l := dsl.NewLabel(names)
	ls := []dsl.Label{l}
	a, err := NewRule(Head{Name: "a", Labels: ls}, Pos{dsl.Stop(l)}, Ref{Name: "b", Labels: ls})
	require.NoError(t, err)
	b, err := NewRule(Head{Name: "b", Labels: ls}, Ref{Name: "a", Labels: ls})
	require.NoError(t, err)
	p := NewProgram()
	p.Add([]*Rule{a, b}, "a")
	_, err = Engine{}.Solve(context.Background(), p, EmptyFacts())
	assert.ErrorIs(t, err, ErrSolverFailed)
}

func TestEngineHonoursContext(t *testing.T) {
	names := naming.NewContext()
	p := NewProgram()
	require.NoError(t, p.AddPattern(NewCompiler(names), nwPattern(names)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Engine{}.Solve(ctx, p, nwFacts())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactsFromContract(t *testing.T) {
	code := common.FromHex("0x600060006000600034335af1506001600055" + "00")
	c, err := decompiler.Decompile(code, naming.NewContext(), decompiler.DefaultOptions())
	require.NoError(t, err)
	f := NewFacts(dataflow.New(c))

	var call, sstore *decompiler.Instruction
	for _, in := range c.Instructions {
		switch {
		case in.Is(evm.CALL):
			call = in
		case in.Is(evm.SSTORE):
			sstore = in
		}
	}
	require.NotNil(t, call)
	require.NotNil(t, sstore)

	require.Equal(t, 1, f.Relation("call").Len())
	assert.Equal(t, Tuple{int64(call.ID), int64(call.Output.ID), int64(call.Input(1).ID), int64(call.Input(2).ID)},
		f.Relation("call").Tuples[0])

	found := false
	f.Relation("mustFollow").Scan([]Slot{{Bound: true, Value: int64(call.ID)}, {}}, func(t Tuple) bool {
		if t[1] == int64(sstore.ID) {
			found = true
		}
		return true
	})
	assert.True(t, found)
	assert.Equal(t, 1, f.Relation("mustStorage").Len())

	dir := t.TempDir()
	require.NoError(t, f.WriteTSV(dir))
	data, err := os.ReadFile(filepath.Join(dir, "sstore.facts"))
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(string(data)), "\t")
	assert.Len(t, fields, 3)
	_, err = os.Stat(filepath.Join(dir, "mayDepOnVar.facts"))
	assert.NoError(t, err)
}

const fakeSouffle = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -F) indir="$2"; shift ;;
    -D) outdir="$2"; shift ;;
  esac
  shift
done
[ -f "$indir/call.facts" ] || exit 3
printf '1\n' > "$outdir/NWViolation.csv"
printf '5\n' > "$outdir/NWCompliance.csv"
: > "$outdir/NWWarnings.csv"
: > "$outdir/NWConflicts.csv"
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "souffle")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func souffleProgram(t *testing.T) *Program {
	names := naming.NewContext()
	p := NewProgram()
	require.NoError(t, p.AddPattern(NewCompiler(names), nwPattern(names)))
	return p
}

func TestSouffle(t *testing.T) {
	s := &Souffle{Binary: writeScript(t, fakeSouffle), Jobs: 2, Timeout: 10 * time.Second, WorkDir: t.TempDir()}
	res, err := s.Solve(context.Background(), souffleProgram(t), nwFacts())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.Labels("NWViolation"))
	assert.Equal(t, []int64{5}, res.Labels("NWCompliance"))
	assert.Empty(t, res["NWWarnings"])

	left, err := os.ReadDir(s.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSouffleTimeout(t *testing.T) {
	s := &Souffle{Binary: writeScript(t, "#!/bin/sh\nexec sleep 5\n"), Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, err := s.Solve(context.Background(), souffleProgram(t), nwFacts())
	assert.ErrorIs(t, err, ErrSolverTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestSouffleFailure(t *testing.T) {
	s := &Souffle{Binary: writeScript(t, "#!/bin/sh\necho boom >&2\nexit 2\n"), Timeout: 10 * time.Second}
	_, err := s.Solve(context.Background(), souffleProgram(t), nwFacts())
	require.ErrorIs(t, err, ErrSolverFailed)
	assert.Contains(t, err.Error(), "boom")
}

func labels(names *naming.Context, n int) []dsl.Label {
	res := make([]dsl.Label, n)
	for i := range res {
		res[i] = dsl.NewLabel(names)
	}
	return res
}

func solveRule(t *testing.T, f *Facts, r *Rule) []Tuple {
	t.Helper()
	p := NewProgram()
	p.Add([]*Rule{r}, r.Head.Name)
	res, err := Engine{}.Solve(context.Background(), p, f)
	require.NoError(t, err)
	return res[r.Head.Name]
}

func TestEngineBodyOrder(t *testing.T) {
	names := naming.NewContext()
	l := labels(names, 2)
	call := Pos{dsl.Call(l[0], dsl.AnyVar, dsl.AnyVar, dsl.AnyVar)}
	notFollowed := Not{Pos{dsl.MayFollow(l[0], l[1])}}
	store := Pos{dsl.Sstore(l[1], dsl.AnyVar, dsl.AnyVar)}
	head := Head{Name: "P", Labels: l[:1]}

	f := EmptyFacts()
	f.add("call", 1, 10, 11, 12)
	f.add("sstore", 2, 13, 14)
	f.add("sstore", 3, 15, 16)
	f.add("mayFollow", 1, 2)

	negFirst, err := NewRule(head, call, notFollowed, store)
	require.NoError(t, err)
	negLast, err := NewRule(head, call, store, notFollowed)
	require.NoError(t, err)
	assert.Equal(t, []Tuple{{1}}, solveRule(t, f, negLast))
	assert.Equal(t, solveRule(t, f, negLast), solveRule(t, f, negFirst))
}

func TestEngineEqualityBeforeBinding(t *testing.T) {
	names := naming.NewContext()
	l := labels(names, 2)
	f := EmptyFacts()
	f.add("call", 1, 10, 11, 12)
	f.add("call", 5, 13, 14, 15)
	f.add("stop", 1)

	r, err := NewRule(Head{Name: "P", Labels: l[:1]},
		Pos{dsl.EqLabel(l[0], l[1])},
		Pos{dsl.Call(l[0], dsl.AnyVar, dsl.AnyVar, dsl.AnyVar)},
		Pos{dsl.Stop(l[1])})
	require.NoError(t, err)
	assert.Equal(t, []Tuple{{1}}, solveRule(t, f, r))
}

func TestRelationWideTuples(t *testing.T) {
	r := newRelation("H", 6)
	assert.True(t, r.Insert(Tuple{7, 5, 4, 3, 4, 1}))
	assert.True(t, r.Insert(Tuple{7, 5, 4, 3, 5, 1}))
	assert.True(t, r.Insert(Tuple{7, 5, 4, 3, 5, 2}))
	assert.False(t, r.Insert(Tuple{7, 5, 4, 3, 5, 2}))
	assert.Equal(t, 3, r.Len())

	names := naming.NewContext()
	o, to, amt := dsl.NewVar(names), dsl.NewVar(names), dsl.NewVar(names)
	l := labels(names, 2)
	f := EmptyFacts()
	f.add("call", 3, 7, 5, 4)
	f.add("sstore", 4, 8, 9)
	f.add("sstore", 6, 10, 11)
	rule, err := NewRule(Head{Name: "H", Vars: []dsl.Var{o, to, amt}, Labels: l},
		Pos{dsl.Call(l[0], o, to, amt)},
		Pos{dsl.Sstore(l[1], dsl.AnyVar, dsl.AnyVar)})
	require.NoError(t, err)
	assert.Equal(t, []Tuple{{7, 5, 4, 3, 4}, {7, 5, 4, 3, 6}}, solveRule(t, f, rule))
}

func TestEngineTimeoutWithinRule(t *testing.T) {
	names := naming.NewContext()
	l := labels(names, 7)
	f := EmptyFacts()
	f.add("stop", 1)
	for i := int64(0); i < 2000; i++ {
		f.add("mayFollow", i, i+1)
	}
	r, err := NewRule(Head{Name: "Slow", Labels: l[:1]},
		Pos{dsl.Stop(l[0])},
		Pos{dsl.MayFollow(l[1], l[2])},
		Pos{dsl.MayFollow(l[3], l[4])},
		Pos{dsl.MayFollow(l[5], l[6])})
	require.NoError(t, err)
	p := NewProgram()
	p.Add([]*Rule{r}, "Slow")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = Engine{}.Solve(ctx, p, f)
	assert.ErrorIs(t, err, ErrSolverTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}
