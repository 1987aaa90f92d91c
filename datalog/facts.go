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
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	evm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"

	"github.com/practical-formal-methods/sifter/dataflow"
	"github.com/practical-formal-methods/sifter/decompiler"
)

type column struct {
	name, typ string
}

type relationDecl struct {
	name string
	cols []column
}

func decl(name string, cols ...string) relationDecl {
	r := relationDecl{name: name}
	for i := 0; i < len(cols); i += 2 {
		r.cols = append(r.cols, column{cols[i], cols[i+1]})
	}
	return r
}

// schema lists the fact tables. Variables are encoded by their ID, labels
// by the instruction ID and tags by their code.
var schema = []relationDecl{
	decl("call", "l", "Label", "out", "Var", "to", "Var", "amount", "Var"),
	decl("sload", "l", "Label", "out", "Var", "offset", "Var"),
	decl("sstore", "l", "Label", "offset", "Var", "value", "Var"),
	decl("goto", "l", "Label", "cond", "Var", "target", "Label"),
	decl("stop", "l", "Label"),
	decl("methodHead", "l", "Label"),
	decl("follow", "l1", "Label", "l2", "Label"),
	decl("mayFollow", "l1", "Label", "l2", "Label"),
	decl("mustFollow", "l1", "Label", "l2", "Label"),
	decl("mayDepOn", "v", "Var", "t", "Tag"),
	decl("mustDepOn", "v", "Var", "t", "Tag"),
	decl("instrMayDepOn", "l", "Label", "t", "Tag"),
	decl("mayDepOnVar", "v", "Var", "w", "Var"),
	decl("mustDepOnVar", "v", "Var", "w", "Var"),
	decl("isConst", "v", "Var"),
	decl("isArg", "v", "Var"),
	decl("hasValue", "v", "Var", "n", "number"),
	decl("assignType", "v", "Var", "t", "Tag"),
	decl("mayStorage", "l1", "Label", "l2", "Label"),
	decl("mustStorage", "l1", "Label", "l2", "Label"),
}

// Tuple is a row of a relation.
type Tuple []int64

// tupleKey encodes every column of a tuple.
type tupleKey string

func keyOf(t Tuple) tupleKey {
	buf := make([]byte, 0, binary.MaxVarintLen64*len(t))
	for _, v := range t {
		buf = binary.AppendVarint(buf, v)
	}
	return tupleKey(buf)
}

// Relation is a set of tuples of equal arity.
type Relation struct {
	Name   string
	Arity  int
	Tuples []Tuple

	seen  map[tupleKey]bool
	index map[int]map[int64][]int
}

func newRelation(name string, arity int) *Relation {
	return &Relation{Name: name, Arity: arity, seen: map[tupleKey]bool{}}
}

// Insert adds t unless present and reports whether it was new.
func (r *Relation) Insert(t Tuple) bool {
	k := keyOf(t)
	if r.seen[k] {
		return false
	}
	r.seen[k] = true
	r.Tuples = append(r.Tuples, t)
	r.index = nil
	return true
}

func (r *Relation) Len() int {
	return len(r.Tuples)
}

// Slot is one position of a scan pattern.
type Slot struct {
	Bound bool
	Value int64
}

// Scan calls fn for every tuple matching the bound slots until fn returns
// false.
func (r *Relation) Scan(pattern []Slot, fn func(Tuple) bool) {
	col := -1
	for i, s := range pattern {
		if s.Bound {
			col = i
			break
		}
	}
	match := func(t Tuple) bool {
		for i, s := range pattern {
			if s.Bound && t[i] != s.Value {
				return false
			}
		}
		return true
	}
	if col < 0 {
		for _, t := range r.Tuples {
			if match(t) && !fn(t) {
				return
			}
		}
		return
	}
	for _, i := range r.lookup(col, pattern[col].Value) {
		if t := r.Tuples[i]; match(t) && !fn(t) {
			return
		}
	}
}

func (r *Relation) lookup(col int, v int64) []int {
	if r.index == nil {
		r.index = map[int]map[int64][]int{}
	}
	idx, ok := r.index[col]
	if !ok {
		idx = map[int64][]int{}
		for i, t := range r.Tuples {
			idx[t[col]] = append(idx[t[col]], i)
		}
		r.index[col] = idx
	}
	return idx[v]
}

// Sorted returns the tuples in lexicographic order.
func (r *Relation) Sorted() []Tuple {
	res := append([]Tuple(nil), r.Tuples...)
	sort.Slice(res, func(i, j int) bool {
		a, b := res[i], res[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return res
}

// Facts holds the fact tables of one contract.
type Facts struct {
	rels map[string]*Relation
}

// EmptyFacts returns empty tables for every relation of the schema.
func EmptyFacts() *Facts {
	f := &Facts{rels: map[string]*Relation{}}
	for _, d := range schema {
		f.rels[d.name] = newRelation(d.name, len(d.cols))
	}
	return f
}

// Relation returns a fact table or nil.
func (f *Facts) Relation(name string) *Relation {
	return f.rels[name]
}

func (f *Facts) add(rel string, vals ...int64) {
	f.rels[rel].Insert(Tuple(vals))
}

func lbl(in *decompiler.Instruction) int64 { return int64(in.ID) }
func vr(v *decompiler.Variable) int64 { return int64(v.ID) }

// NewFacts derives the fact tables from a dataflow analysis.
func NewFacts(a *dataflow.Analysis) *Facts {
	f := EmptyFacts()
	c := a.Contract()
	var storage []*decompiler.Instruction
	for _, in := range c.Instructions {
		l := lbl(in)
		switch {
		case in.Is(evm.CALL) || in.Is(evm.CALLCODE):
			if in.Output != nil && len(in.Inputs) > 2 {
				f.add("call", l, vr(in.Output), vr(in.Input(1)), vr(in.Input(2)))
			}
		case in.Is(evm.SLOAD):
			if in.Output != nil && in.Input(0) != nil {
				f.add("sload", l, vr(in.Output), vr(in.Input(0)))
			}
			storage = append(storage, in)
		case in.Is(evm.SSTORE):
			if len(in.Inputs) == 2 {
				f.add("sstore", l, vr(in.Input(0)), vr(in.Input(1)))
			}
			storage = append(storage, in)
		case in.Is(evm.JUMPI):
			if cond := in.Condition(); cond != nil {
				for _, t := range in.Targets {
					f.add("goto", l, vr(cond), lbl(t))
				}
			}
		case in.Is(evm.STOP):
			f.add("stop", l)
		case in.Kind == decompiler.KindMethodHead:
			f.add("methodHead", l)
		}
		for _, s := range in.Succs {
			f.add("follow", l, lbl(s))
		}
		for _, s := range a.Reachable(in) {
			f.add("mayFollow", l, lbl(s))
		}
		for _, d := range a.Dominators(in) {
			f.add("mustFollow", lbl(d), l)
		}
		for _, t := range a.InstrTags(in) {
			f.add("instrMayDepOn", l, int64(t))
		}
	}
	for _, v := range c.Variables {
		for _, t := range a.MayTags(v) {
			f.add("mayDepOn", vr(v), int64(t))
		}
		for _, t := range a.MustTags(v) {
			f.add("mustDepOn", vr(v), int64(t))
		}
		f.add("mayDepOnVar", vr(v), vr(v))
		f.add("mustDepOnVar", vr(v), vr(v))
		for _, w := range a.Deps(v) {
			f.add("mayDepOnVar", vr(v), vr(w))
			if a.VarMustDepOnVar(v, w) {
				f.add("mustDepOnVar", vr(v), vr(w))
			}
		}
		if v.IsConst() {
			f.add("isConst", vr(v))
			if v.Value.IsUint64() && v.Value.Uint64() <= math.MaxInt32 {
				f.add("hasValue", vr(v), int64(v.Value.Uint64()))
			}
		}
		if a.IsArg(v) {
			f.add("isArg", vr(v))
		}
		for _, d := range v.Defs {
			if d.Kind != decompiler.KindAssign {
				f.add("assignType", vr(v), int64(dataflow.KindTag(d.Kind)))
			}
		}
	}
	for _, x := range storage {
		for _, y := range storage {
			switch a.StorageAlias(x, y) {
			case dataflow.Valid:
				f.add("mustStorage", lbl(x), lbl(y))
				f.add("mayStorage", lbl(x), lbl(y))
			case dataflow.Satisfiable:
				f.add("mayStorage", lbl(x), lbl(y))
			}
		}
	}
	log.Debug("Derived fact tables", "instructions", len(c.Instructions), "mayFollow", f.rels["mayFollow"].Len())
	return f
}

// WriteTSV writes one tab separated <relation>.facts file per table.
func (f *Facts) WriteTSV(dir string) error {
	for _, d := range schema {
		if err := writeTSV(filepath.Join(dir, d.name+".facts"), f.rels[d.name].Sorted()); err != nil {
			return err
		}
	}
	return nil
}

func writeTSV(path string, tuples []Tuple) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	for _, t := range tuples {
		for i, v := range t {
			if i > 0 {
				w.WriteByte('\t')
			}
			w.WriteString(strconv.FormatInt(v, 10))
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}
