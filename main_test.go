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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/sifter/model"
)

const combinedJSON = `{"contracts": {
  "a.sol:A": {"bin-runtime": "600160005500", "srcmap-runtime": "0:10:0:-;6:3:0:-;;", "abi": "[]"},
  "a.sol:I": {"bin-runtime": "", "srcmap-runtime": ""}
}}`

func TestReadInputsCombined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined.json")
	require.NoError(t, os.WriteFile(path, []byte(combinedJSON), 0o644))

	inputs, srcmaps, err := readInputs(path, true)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "a.sol:A", inputs[0].Name)
	assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x00, 0x55, 0x00}, inputs[0].Code)
	assert.Empty(t, inputs[0].MethodNames)
	assert.Equal(t, "0:10:0:-;6:3:0:-;;", srcmaps["a.sol:A"])
}

func TestReadInputsHex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.hex")
	require.NoError(t, os.WriteFile(path, []byte("0x6001600055\n"), 0o644))

	inputs, srcmaps, err := readInputs(path, false)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x00, 0x55}, inputs[0].Code)
	assert.Nil(t, srcmaps)
}

func TestMapLines(t *testing.T) {
	source := []byte("line0\nline1\n")
	r := model.NewPatternResult()
	r.Violations = []int{1}
	r.Safe = []int{0, 2}
	failed := model.Failed(assert.AnError)

	lines := mapLines(source, "0:1:0;6:1:0", map[string]*model.PatternResult{"DAO": r, "NW": failed})
	require.Contains(t, lines, "DAO")
	assert.NotContains(t, lines, "NW")
	assert.Equal(t, []int{0}, lines["DAO"].Violations)
	assert.Equal(t, []int{-1, 1}, lines["DAO"].Safe)
	assert.Equal(t, 1, lines["DAO"].Unmapped)
}
