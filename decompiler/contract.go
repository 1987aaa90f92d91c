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
// Package decompiler reconstructs instructions over variables from EVM
// bytecode.
package decompiler

import (
	"errors"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/practical-formal-methods/sifter/naming"
)

// ErrEmptyCode is returned when there is nothing to decompile.
var ErrEmptyCode = errors.New("empty contract code")

// Options bound the control-flow analysis.
type Options struct {
	// MaxContexts is the number of distinct stacks tracked per instruction
	// before further stacks are joined.
	MaxContexts int
	// MaxSteps bounds the number of abstract execution steps.
	MaxSteps int
}

func DefaultOptions() Options {
	return Options{
		MaxContexts: MagicInt(8),
		MaxSteps:    MagicInt(200000),
	}
}

// Method is a region of the instruction graph. Public methods start at a
// method head; the dispatcher owns everything else.
type Method struct {
	Name        string
	Selector    uint32
	HasSelector bool
	// Entry is the method head; nil for the dispatcher.
	Entry        *Instruction
	Offset       int
	Instructions []*Instruction
}

// Contract is the decompiled form of one piece of runtime bytecode.
type Contract struct {
	Code         []byte
	Entry        *Instruction
	Instructions []*Instruction
	Variables    []*Variable
	Dispatcher   *Method
	Methods      []*Method
	// Warnings describe decompilation inconsistencies. They imply Partial.
	Warnings []string
	Partial  bool
	// FailureCauses counts why abstract execution paths were cut short.
	FailureCauses map[string]int
}

// Decompile reconstructs the instruction graph of code. Names are drawn
// from the given context.
func Decompile(code []byte, names *naming.Context, opts Options) (*Contract, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}
	prog := newProgram(code)
	flow := newControlFlowAnalyzer(prog, opts).Analyze()

	c := &Contract{
		Code:          code,
		FailureCauses: flow.failures,
	}
	d := newDestacker(prog, flow, names, c)
	d.functions = detectFunctions(prog, flow)
	for _, e := range detectMethods(prog, flow) {
		m := &Method{
			Name:        methodName(e.selector),
			Selector:    e.selector,
			HasSelector: true,
			Offset:      int(e.pc),
		}
		d.methods[e.pc] = m
		c.Methods = append(c.Methods, m)
	}
	if flow.exhausted {
		d.warn("abstract execution stopped after %d steps", flow.steps)
	}
	d.run()

	// Methods whose entry was never decompiled do not exist.
	var methods []*Method
	for _, m := range c.Methods {
		if m.Entry != nil {
			methods = append(methods, m)
		}
	}
	c.Methods = methods
	c.partition()

	log.Debug("Decompiled contract", "instructions", len(c.Instructions), "variables", len(c.Variables),
		"methods", len(c.Methods), "partial", c.Partial)
	return c, nil
}

// partition assigns every instruction to exactly one method. Each method
// claims what it reaches without entering another method head; the
// dispatcher goes first and keeps whatever nobody reached.
func (c *Contract) partition() {
	c.Dispatcher = &Method{Name: "dispatcher", Offset: 0}
	claim := func(m *Method, start *Instruction) {
		if start == nil || start.Method != nil {
			return
		}
		start.Method = m
		queue := []*Instruction{start}
		for 0 < len(queue) {
			in := queue[0]
			queue = queue[1:]
			m.Instructions = append(m.Instructions, in)
			for _, s := range in.Succs {
				if s.Method != nil || s.Kind == KindMethodHead {
					continue
				}
				s.Method = m
				queue = append(queue, s)
			}
		}
	}
	if c.Entry != nil && c.Entry.Kind != KindMethodHead {
		claim(c.Dispatcher, c.Entry)
	}
	for _, m := range c.Methods {
		m.Entry.Method = nil
		claim(m, m.Entry)
	}
	for _, in := range c.Instructions {
		if in.Method == nil {
			in.Method = c.Dispatcher
			c.Dispatcher.Instructions = append(c.Dispatcher.Instructions, in)
		}
	}
	for _, m := range append([]*Method{c.Dispatcher}, c.Methods...) {
		sort.Slice(m.Instructions, func(i, j int) bool { return m.Instructions[i].ID < m.Instructions[j].ID })
	}
}

// Bodies returns the instruction sets checked by patterns: the public
// methods, or the whole contract when no method was detected.
func (c *Contract) Bodies() [][]*Instruction {
	if len(c.Methods) == 0 {
		return [][]*Instruction{c.Instructions}
	}
	res := make([][]*Instruction, len(c.Methods))
	for i, m := range c.Methods {
		res[i] = m.Instructions
	}
	return res
}

// Method returns the method with the given selector.
func (c *Contract) Method(selector uint32) *Method {
	for _, m := range c.Methods {
		if m.HasSelector && m.Selector == selector {
			return m
		}
	}
	return nil
}

// String lists all instructions grouped by method.
func (c *Contract) String() string {
	var sb strings.Builder
	for _, m := range append([]*Method{c.Dispatcher}, c.Methods...) {
		sb.WriteString(m.Name)
		sb.WriteString(":\n")
		for _, in := range m.Instructions {
			sb.WriteString("  ")
			sb.WriteString(in.String())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
