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
package decompiler

import (
	"github.com/emicklei/dot"
	"github.com/xlab/treeprint"
)

// Dot renders the instruction graph in Graphviz format with one cluster
// per method.
func (c *Contract) Dot() string {
	g := dot.NewGraph(dot.Directed)
	nodes := make([]dot.Node, len(c.Instructions))
	for _, m := range append([]*Method{c.Dispatcher}, c.Methods...) {
		sub := g.Subgraph(m.Name, dot.ClusterOption{})
		for _, in := range m.Instructions {
			nodes[in.ID] = sub.Node(in.Label).Box().Label(in.String())
		}
	}
	for _, in := range c.Instructions {
		for _, s := range in.Succs {
			g.Edge(nodes[in.ID], nodes[s.ID])
		}
	}
	return g.String()
}

// Tree renders methods and their instructions as an indented tree.
func (c *Contract) Tree() string {
	tree := treeprint.NewWithRoot("contract")
	for _, m := range append([]*Method{c.Dispatcher}, c.Methods...) {
		br := tree.AddBranch(m.Name)
		for _, in := range m.Instructions {
			br.AddNode(in.String())
		}
	}
	return tree.String()
}
