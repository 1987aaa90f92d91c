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

package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytecodeOffsetToSourceOffset(t *testing.T) {
	m := ExplodeSourceMap("0:1:1;1:1:1;2:1:1;;;3:1:1")
	for n, want := range map[int]int{1: 0, 2: 1, 5: 2, 6: 3} {
		got, err := BytecodeOffsetToSourceOffset(n, m)
		require.NoError(t, err, n)
		assert.Equal(t, want, got, n)
	}
	for _, n := range []int{0, 7, -1} {
		_, err := BytecodeOffsetToSourceOffset(n, m)
		assert.ErrorIs(t, err, ErrMappingNotFound, n)
	}
	_, err := BytecodeOffsetToSourceOffset(1, ExplodeSourceMap("-1:0:0"))
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestLines(t *testing.T) {
	source := []byte("a\nb\nc\nd")
	m := ExplodeSourceMap("0;2;4;;6")
	lines, misses := Lines(source, []int{1, 2, 4, 5, 9}, m)
	assert.Equal(t, []int{-1, 0, 1, 2, 3}, lines)
	assert.Equal(t, 1, misses)
	assert.Equal(t, 3, LineOf(source, 100))
}

func TestSanitizeLibraries(t *testing.T) {
	placeholder := "__lib/Math.sol:Math" + strings.Repeat("_", 21)
	require.Len(t, placeholder, len(libraryAddress))
	code := "6060" + placeholder + "00"
	assert.Equal(t, "6060"+libraryAddress+"00", SanitizeLibraries(code))

	b, err := DecodeCode(" 0x" + code + "\n")
	require.NoError(t, err)
	assert.Len(t, b, 2+20+1)

	_, err = DecodeCode("0x123")
	assert.Error(t, err)
}

func TestSelector(t *testing.T) {
	assert.Equal(t, uint32(0xa9059cbb), Selector("transfer(address,uint256)"))
}

func TestMethodNames(t *testing.T) {
	const abiJSON = `[{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"v","type":"uint256"}],"outputs":[]}]`
	quoted, err := json.Marshal(abiJSON)
	require.NoError(t, err)

	for _, raw := range []string{abiJSON, string(quoted)} {
		c := &CompiledContract{ABI: json.RawMessage(raw)}
		names, err := c.MethodNames()
		require.NoError(t, err)
		assert.Equal(t, map[uint32]string{0xa9059cbb: "transfer(address,uint256)"}, names)
	}

	names, err := (&CompiledContract{}).MethodNames()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestReadCombinedOutput(t *testing.T) {
	doc := `{"contracts":{"a.sol:A":{"bin-runtime":"6000","srcmap-runtime":"0:1:0"}}}`
	out, err := ReadCombinedOutput(strings.NewReader(doc))
	require.NoError(t, err)
	require.Contains(t, out.Contracts, "a.sol:A")
	code, err := out.Contracts["a.sol:A"].Code()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x00}, code)
}

func TestNormalize(t *testing.T) {
	r := NewPatternResult()
	r.AddViolation(4)
	r.AddViolation(2)
	r.AddSafe(4)
	r.AddSafe(7)
	r.AddWarning(2)
	r.AddWarning(9)
	r.AddWarning(9)
	r.Normalize()
	assert.Equal(t, []int{2}, r.Violations)
	assert.Equal(t, []int{9}, r.Warnings)
	assert.Equal(t, []int{7}, r.Safe)
	assert.Equal(t, []int{4}, r.Conflicts)

	f := Failed(assert.AnError)
	f.AddSafe(1)
	f.Normalize()
	assert.False(t, f.Completed)
	assert.NotEmpty(t, f.Error)
	assert.Empty(t, f.Safe)
}
