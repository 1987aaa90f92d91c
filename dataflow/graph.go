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
package dataflow

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/practical-formal-methods/sifter/decompiler"
)

// graph is the instruction graph with dense node numbers. Node n is the
// virtual exit used for post-dominance.
type graph struct {
	n     int
	succs [][]int
	preds [][]int
	entry int
}

func newGraph(c *decompiler.Contract) *graph {
	n := len(c.Instructions)
	g := &graph{
		n:     n,
		succs: make([][]int, n+1),
		preds: make([][]int, n+1),
		entry: -1,
	}
	for _, in := range c.Instructions {
		for _, s := range in.Succs {
			g.succs[in.ID] = append(g.succs[in.ID], s.ID)
			g.preds[s.ID] = append(g.preds[s.ID], in.ID)
		}
	}
	if c.Entry != nil {
		g.entry = c.Entry.ID
	}
	return g
}

// reachability computes, for every node, the nodes reachable in one or more steps.
func (g *graph) reachability() []*bitset.BitSet {
	res := make([]*bitset.BitSet, g.n)
	for i := 0; i < g.n; i++ {
		seen := bitset.New(uint(g.n))
		stack := append([]int(nil), g.succs[i]...)
		for 0 < len(stack) {
			x := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen.Test(uint(x)) {
				continue
			}
			seen.Set(uint(x))
			stack = append(stack, g.succs[x]...)
		}
		res[i] = seen
	}
	return res
}

// dominators returns the immediate dominator of every node (-1 if the node
// is unreachable from root) using the algorithm of Cooper, Harvey and Kennedy.
func dominators(size, root int, succs, preds func(int) []int) []int {
	idom := make([]int, size)
	for i := range idom {
		idom[i] = -1
	}
	if root < 0 {
		return idom
	}
	// Reverse post-order by iterative DFS.
	order := make([]int, size)
	for i := range order {
		order[i] = -1
	}
	var post []int
	visited := make([]bool, size)
	type frame struct {
		node int
		next int
	}
	stack := []frame{{node: root}}
	visited[root] = true
	for 0 < len(stack) {
		top := &stack[len(stack)-1]
		ss := succs(top.node)
		if top.next < len(ss) {
			s := ss[top.next]
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{node: s})
			}
			continue
		}
		order[top.node] = len(post)
		post = append(post, top.node)
		stack = stack[:len(stack)-1]
	}

	intersect := func(a, b int) int {
		for a != b {
			for order[a] < order[b] {
				a = idom[a]
			}
			for order[b] < order[a] {
				b = idom[b]
			}
		}
		return a
	}

	idom[root] = root
	for changed := true; changed; {
		changed = false
		for i := len(post) - 1; 0 <= i; i-- {
			b := post[i]
			if b == root {
				continue
			}
			newIdom := -1
			for _, p := range preds(b) {
				if idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	return idom
}

func dominates(idom []int, a, b int) bool {
	if idom[b] == -1 {
		return false
	}
	for {
		if a == b {
			return true
		}
		if idom[b] == b {
			return false
		}
		b = idom[b]
	}
}

// postDominators computes immediate post-dominators on the graph extended
// with a virtual exit. Nodes that cannot reach a halting instruction are
// connected to the exit as well.
func (g *graph) postDominators() []int {
	exit := g.n
	toExit := make([][]int, g.n+1)
	reaches := make([]bool, g.n)
	var stack []int
	for i := 0; i < g.n; i++ {
		if len(g.succs[i]) == 0 {
			toExit[exit] = append(toExit[exit], i)
			reaches[i] = true
			stack = append(stack, i)
		}
	}
	for 0 < len(stack) {
		x := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.preds[x] {
			if !reaches[p] {
				reaches[p] = true
				stack = append(stack, p)
			}
		}
	}
	for i := 0; i < g.n; i++ {
		if !reaches[i] {
			toExit[exit] = append(toExit[exit], i)
		}
	}
	exitSuccs := func(x int) []int {
		if x == exit {
			return nil
		}
		return g.succs[x]
	}
	isExitPred := make([]bool, g.n)
	for _, x := range toExit[exit] {
		isExitPred[x] = true
	}
	// Successors in the reversed graph are predecessors in the original one.
	rsuccs := func(x int) []int {
		if x == exit {
			return toExit[exit]
		}
		return g.preds[x]
	}
	rpreds := func(x int) []int {
		if x == exit {
			return nil
		}
		ss := exitSuccs(x)
		if isExitPred[x] {
			ss = append(append([]int(nil), ss...), exit)
		}
		return ss
	}
	return dominators(g.n+1, exit, rsuccs, rpreds)
}

// controlDependences returns, for every node, the branching nodes it is
// directly control dependent on.
func (g *graph) controlDependences(ipdom []int) [][]int {
	res := make([][]int, g.n)
	for a := 0; a < g.n; a++ {
		if len(g.succs[a]) < 2 {
			continue
		}
		for _, b := range g.succs[a] {
			// Walk up the post-dominator tree from b until reaching ipdom(a).
			for x := b; x != -1 && x != ipdom[a] && x < g.n; {
				res[x] = appendUnique(res[x], a)
				if ipdom[x] == x {
					break
				}
				x = ipdom[x]
			}
		}
	}
	return res
}

func appendUnique(s []int, x int) []int {
	for _, y := range s {
		if y == x {
			return s
		}
	}
	return append(s, x)
}
