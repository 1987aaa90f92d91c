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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/sifter/datalog"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.IsType(t, datalog.Engine{}, c.Solver.NewSolver())
	assert.Equal(t, c.Decompiler.MaxSteps, c.Decompiler.Options().MaxSteps)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sifter.yaml")
	doc := `
log:
  level: debug
solver:
  kind: souffle
  binary: /opt/souffle/bin/souffle
  jobs: 4
  timeout: 30s
analysis:
  workers: 2
  patterns: [DAO, LockedEther]
cache:
  enabled: true
  path: /tmp/results
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 30*time.Second, c.Solver.Timeout)
	assert.Equal(t, 4, c.Solver.Jobs)
	assert.Equal(t, []string{"DAO", "LockedEther"}, c.Analysis.Patterns)
	assert.True(t, c.Analysis.DSL)
	assert.True(t, c.Cache.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Decompiler, c.Decompiler)

	s, ok := c.Solver.NewSolver().(*datalog.Souffle)
	require.True(t, ok)
	assert.Equal(t, "/opt/souffle/bin/souffle", s.Binary)
}

func TestReadRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field": "log:\n  colour: true\n",
		"bad level":     "log:\n  level: loud\n",
		"bad solver":    "solver:\n  kind: z3\n",
		"no workers":    "analysis:\n  workers: 0\n",
		"no cache path": "cache:\n  enabled: true\n  path: \"\"\n",
		"no contexts":   "decompiler:\n  max_contexts: 0\n",
	} {
		_, err := Read(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
