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

// Package config provides the configuration of an analysis run.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v2"

	"github.com/practical-formal-methods/sifter/datalog"
	"github.com/practical-formal-methods/sifter/decompiler"
)

// Solver kinds.
const (
	SolverEngine  = "engine"
	SolverSouffle = "souffle"
)

// Config holds the complete configuration.
type Config struct {
	Log        *LogConfig        `yaml:"log"`
	Decompiler *DecompilerConfig `yaml:"decompiler"`
	Solver     *SolverConfig     `yaml:"solver"`
	Analysis   *AnalysisConfig   `yaml:"analysis"`
	Cache      *CacheConfig      `yaml:"cache"`
}

// LogConfig configures the terminal logger.
type LogConfig struct {
	Level string `yaml:"level"` // trace, debug, info, warn, error, crit
	Color bool   `yaml:"color"`
}

// DecompilerConfig bounds the control-flow analysis.
type DecompilerConfig struct {
	MaxContexts int `yaml:"max_contexts"`
	MaxSteps    int `yaml:"max_steps"`
}

// SolverConfig selects and tunes the Datalog solver.
type SolverConfig struct {
	Kind      string        `yaml:"kind"` // engine or souffle
	Binary    string        `yaml:"binary"`
	Jobs      int           `yaml:"jobs"`
	Timeout   time.Duration `yaml:"timeout"`
	WorkDir   string        `yaml:"work_dir"`
	KeepFiles bool          `yaml:"keep_files"`
}

// AnalysisConfig selects what is checked and how many contracts are
// analyzed at once.
type AnalysisConfig struct {
	Workers int `yaml:"workers"`
	// Patterns names the hand-written patterns to run; empty means all.
	Patterns []string `yaml:"patterns"`
	// DSL enables the declarative pattern library.
	DSL bool `yaml:"dsl"`
}

// CacheConfig configures the persistent result cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	opts := decompiler.DefaultOptions()
	return &Config{
		Log: &LogConfig{
			Level: "info",
			Color: false,
		},
		Decompiler: &DecompilerConfig{
			MaxContexts: opts.MaxContexts,
			MaxSteps:    opts.MaxSteps,
		},
		Solver: &SolverConfig{
			Kind:    SolverEngine,
			Binary:  "souffle",
			Jobs:    1,
			Timeout: 5 * time.Minute,
		},
		Analysis: &AnalysisConfig{
			Workers: runtime.NumCPU(),
			DSL:     true,
		},
		Cache: &CacheConfig{
			Enabled: false,
			Path:    "sifter-cache",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes YAML on top of the defaults and validates the result.
func Read(r io.Reader) (*Config, error) {
	c := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.Log == nil || c.Decompiler == nil || c.Solver == nil || c.Analysis == nil || c.Cache == nil {
		return errors.New("config: missing section")
	}
	if _, err := log.LvlFromString(c.Log.Level); err != nil {
		return fmt.Errorf("config: log level %q: %w", c.Log.Level, err)
	}
	if c.Decompiler.MaxContexts < 1 {
		return errors.New("config: decompiler.max_contexts must be positive")
	}
	if c.Decompiler.MaxSteps < 1 {
		return errors.New("config: decompiler.max_steps must be positive")
	}
	switch c.Solver.Kind {
	case SolverEngine:
	case SolverSouffle:
		if c.Solver.Binary == "" {
			return errors.New("config: solver.binary is required for souffle")
		}
	default:
		return fmt.Errorf("config: unknown solver kind %q", c.Solver.Kind)
	}
	if c.Solver.Jobs < 1 {
		return errors.New("config: solver.jobs must be positive")
	}
	if c.Solver.Timeout < 0 {
		return errors.New("config: solver.timeout must not be negative")
	}
	if c.Analysis.Workers < 1 {
		return errors.New("config: analysis.workers must be positive")
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return errors.New("config: cache.path is required when the cache is enabled")
	}
	return nil
}

// Handler builds the log handler writing to w.
func (c *LogConfig) Handler(w io.Writer) slog.Handler {
	lvl, err := log.LvlFromString(c.Level)
	if err != nil {
		lvl = log.LevelInfo
	}
	return log.NewTerminalHandlerWithLevel(w, lvl, c.Color)
}

// Options converts the settings for the decompiler.
func (c *DecompilerConfig) Options() decompiler.Options {
	return decompiler.Options{MaxContexts: c.MaxContexts, MaxSteps: c.MaxSteps}
}

// NewSolver instantiates the configured solver.
func (c *SolverConfig) NewSolver() datalog.Solver {
	if c.Kind == SolverSouffle {
		return &datalog.Souffle{
			Binary:    c.Binary,
			Jobs:      c.Jobs,
			Timeout:   c.Timeout,
			WorkDir:   c.WorkDir,
			KeepFiles: c.KeepFiles,
		}
	}
	return datalog.Engine{}
}
