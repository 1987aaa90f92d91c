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

package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName(t *testing.T) {
	cases := map[uint64]string{
		0:   "a",
		1:   "b",
		25:  "z",
		26:  "aa",
		27:  "ab",
		51:  "az",
		52:  "ba",
		701: "zz",
		702: "aaa",
	}
	for n, want := range cases {
		assert.Equal(t, want, Name(n), "n=%d", n)
	}
}

func TestContextSequences(t *testing.T) {
	c := NewContext()
	var vars []string
	for i := 0; i < 28; i++ {
		vars = append(vars, c.NextVar())
	}
	assert.Equal(t, "a", vars[0])
	assert.Equal(t, "z", vars[25])
	assert.Equal(t, "aa", vars[26])
	assert.Equal(t, "ab", vars[27])

	assert.Equal(t, "aL", c.NextLabel())
	assert.Equal(t, "bL", c.NextLabel())
	assert.Equal(t, uint64(28), c.NumVars())
	assert.Equal(t, uint64(2), c.NumLabels())

	c.Reset()
	assert.Equal(t, "a", c.NextVar())
	assert.Equal(t, "aL", c.NextLabel())
}

func TestContextsAreIndependent(t *testing.T) {
	c1 := NewContext()
	c2 := NewContext()
	c1.NextVar()
	c1.NextVar()
	assert.Equal(t, "a", c2.NextVar())
	assert.Equal(t, "c", c1.NextVar())
}
