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

// Package naming hands out the variable and label names used by the
// decompiler and the pattern language.
package naming

// Wildcard is the rendering of a slot that matches anything.
const Wildcard = "_"

// LabelSuffix marks a name as a control-flow label.
const LabelSuffix = "L"

// Context owns the counters of one analysis run. It is not safe for
// concurrent use; every analyzed contract gets its own context.
type Context struct {
	nextVar   uint64
	nextLabel uint64
}

// NewContext returns a context whose first names are "a" and "aL".
func NewContext() *Context {
	return &Context{}
}

// NextVar returns a fresh variable name.
func (c *Context) NextVar() string {
	n := c.nextVar
	c.nextVar++
	return Name(n)
}

// NextLabel returns a fresh label name.
func (c *Context) NextLabel() string {
	n := c.nextLabel
	c.nextLabel++
	return Name(n) + LabelSuffix
}

// NumVars returns how many variable names were handed out.
func (c *Context) NumVars() uint64 {
	return c.nextVar
}

// NumLabels returns how many label names were handed out.
func (c *Context) NumLabels() uint64 {
	return c.nextLabel
}

// Reset restarts both sequences at "a".
func (c *Context) Reset() {
	c.nextVar = 0
	c.nextLabel = 0
}

// Name renders n in bijective base 26: 0 is "a", 25 is "z", 26 is "aa".
func Name(n uint64) string {
	var buf [16]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('a' + n%26)
		if n < 26 {
			break
		}
		n = n/26 - 1
	}
	return string(buf[i:])
}
