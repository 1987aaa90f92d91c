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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/practical-formal-methods/sifter/analysis"
	"github.com/practical-formal-methods/sifter/config"
	"github.com/practical-formal-methods/sifter/datalog"
	"github.com/practical-formal-methods/sifter/decompiler"
	"github.com/practical-formal-methods/sifter/model"
	"github.com/practical-formal-methods/sifter/naming"
	"github.com/practical-formal-methods/sifter/patterns"
	"github.com/practical-formal-methods/sifter/vm"
)

var (
	configPath string
	logLevel   string
	logColor   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "sifter",
		Short:         "Decompile EVM bytecode and check it against security patterns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, crit)")
	rootCmd.PersistentFlags().BoolVar(&logColor, "color", false, "colored log output")

	rootCmd.AddCommand(disasmCmd(), decompileCmd(), analyzeCmd(), patternsCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration, applies the global flags and
// installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("color") {
		cfg.Log.Color = logColor
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.SetDefault(log.NewLogger(cfg.Log.Handler(os.Stderr)))
	return cfg, nil
}

func readCode(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return model.DecodeCode(string(data))
}

func disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <file>",
		Short: "Print the disassembly of hex encoded bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			code, err := readCode(args[0])
			if err != nil {
				return err
			}
			return vm.Disassemble(code, cmd.OutOrStdout())
		},
	}
}

func decompileCmd() *cobra.Command {
	var dot, tree bool
	cmd := &cobra.Command{
		Use:   "decompile <file>",
		Short: "Print the decompiled instruction graph of hex encoded bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			code, err := readCode(args[0])
			if err != nil {
				return err
			}
			c, err := decompiler.Decompile(code, naming.NewContext(), cfg.Decompiler.Options())
			if err != nil {
				return err
			}
			for _, w := range c.Warnings {
				log.Warn("Decompilation inconsistency", "warning", w)
			}
			out := cmd.OutOrStdout()
			switch {
			case dot:
				_, err = io.WriteString(out, c.Dot())
			case tree:
				_, err = io.WriteString(out, c.Tree())
			default:
				_, err = io.WriteString(out, c.String())
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "emit the control-flow graph in Graphviz format")
	cmd.Flags().BoolVar(&tree, "tree", false, "emit methods and their instructions as a tree")
	cmd.MarkFlagsMutuallyExclusive("dot", "tree")
	return cmd
}

type analyzeFlags struct {
	combined bool
	source   string
	output   string
	solver   string
	workers  int
	patterns []string
	noDSL    bool
	cache    string
}

// overrides applies the command line flags that were set explicitly.
func (f *analyzeFlags) overrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("solver") {
		cfg.Solver.Kind = f.solver
	}
	if cmd.Flags().Changed("workers") {
		cfg.Analysis.Workers = f.workers
	}
	if cmd.Flags().Changed("patterns") {
		cfg.Analysis.Patterns = f.patterns
	}
	if f.noDSL {
		cfg.Analysis.DSL = false
	}
	if f.cache != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Path = f.cache
	}
}

// contractReport is a report together with the source lines of its
// findings, when a source map is available.
type contractReport struct {
	*analysis.Report
	Lines map[string]*lineResult `json:"lines,omitempty"`
}

type lineResult struct {
	Violations []int `json:"violations"`
	Warnings   []int `json:"warnings"`
	Safe       []int `json:"safe"`
	Conflicts  []int `json:"conflicts"`
	Unmapped   int   `json:"unmapped,omitempty"`
}

func mapLines(source []byte, srcmap string, results map[string]*model.PatternResult) map[string]*lineResult {
	m := model.ExplodeSourceMap(srcmap)
	res := map[string]*lineResult{}
	for name, r := range results {
		if !r.Completed {
			continue
		}
		lr := &lineResult{}
		var n int
		lr.Violations, n = model.Lines(source, r.Violations, m)
		lr.Unmapped += n
		lr.Warnings, n = model.Lines(source, r.Warnings, m)
		lr.Unmapped += n
		lr.Safe, n = model.Lines(source, r.Safe, m)
		lr.Unmapped += n
		lr.Conflicts, n = model.Lines(source, r.Conflicts, m)
		lr.Unmapped += n
		if 0 < lr.Unmapped {
			log.Warn("Unmapped findings", "pattern", name, "count", lr.Unmapped)
		}
		res[name] = lr
	}
	return res
}

// readInputs returns the contracts in path together with their source
// maps, keyed like the inputs.
func readInputs(path string, combined bool) ([]analysis.Input, map[string]string, error) {
	if !combined {
		code, err := readCode(path)
		if err != nil {
			return nil, nil, err
		}
		return []analysis.Input{{Name: path, Code: code}}, nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	out, err := model.ReadCombinedOutput(f)
	if err != nil {
		return nil, nil, err
	}
	var names []string
	for name := range out.Contracts {
		names = append(names, name)
	}
	sort.Strings(names)

	var inputs []analysis.Input
	srcmaps := map[string]string{}
	for _, name := range names {
		cc := out.Contracts[name]
		code, err := cc.Code()
		if err != nil {
			return nil, nil, fmt.Errorf("contract %s: %w", name, err)
		}
		if len(code) == 0 {
			log.Info("Skipping contract without runtime code", "contract", name)
			continue
		}
		methods, err := cc.MethodNames()
		if err != nil {
			log.Warn("Ignoring contract ABI", "contract", name, "err", err)
		}
		inputs = append(inputs, analysis.Input{Name: name, Code: code, MethodNames: methods})
		srcmaps[name] = cc.SourceMap
	}
	return inputs, srcmaps, nil
}

func analyzeCmd() *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Check hex encoded bytecode or solc combined JSON output against the patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f.overrides(cmd, cfg)

			var cache *analysis.ResultCache
			if cfg.Cache.Enabled {
				if cache, err = analysis.OpenResultCache(cfg.Cache.Path); err != nil {
					return err
				}
				defer cache.Close()
			}
			a, err := analysis.NewPatternAnalyzer(cfg, cache)
			if err != nil {
				return err
			}
			inputs, srcmaps, err := readInputs(args[0], f.combined)
			if err != nil {
				return err
			}
			var source []byte
			if f.source != "" {
				if source, err = os.ReadFile(f.source); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			reports, err := a.AnalyzeAll(ctx, inputs)
			if err != nil {
				return err
			}
			out := map[string]*contractReport{}
			for _, r := range reports {
				cr := &contractReport{Report: r}
				if srcmap, ok := srcmaps[r.Name]; ok && source != nil {
					cr.Lines = mapLines(source, srcmap, r.Results)
				}
				out[r.Name] = cr
			}
			log.Info("Analysis finished", "contracts", len(reports), "success", a.NumSuccess(),
				"fail", a.NumFail(), "errors", a.NumErrors(), "elapsed", a.Time())
			for cause, n := range a.FailureCauses() {
				log.Debug("Abstract execution cut short", "cause", cause, "count", n)
			}

			w := cmd.OutOrStdout()
			if f.output != "" {
				file, err := os.Create(f.output)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.combined, "combined", false, "input is solc --combined-json output")
	fl.StringVar(&f.source, "source", "", "Solidity source used to map findings to lines (with --combined)")
	fl.StringVarP(&f.output, "output", "o", "", "write the JSON report to this file")
	fl.StringVar(&f.solver, "solver", config.SolverEngine, "Datalog solver (engine or souffle)")
	fl.IntVar(&f.workers, "workers", 0, "number of contracts analyzed concurrently")
	fl.StringSliceVar(&f.patterns, "patterns", nil, "hand-written patterns to run (default all)")
	fl.BoolVar(&f.noDSL, "no-dsl", false, "skip the declarative pattern library")
	fl.StringVar(&f.cache, "cache", "", "directory of the persistent result cache")
	return cmd
}

func patternsCmd() *cobra.Command {
	var program bool
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the available patterns or print the Datalog program of the pattern library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			names := naming.NewContext()
			if program {
				p := datalog.NewProgram()
				c := datalog.NewCompiler(names)
				for _, pat := range patterns.Library(names) {
					if err := p.AddPattern(c, pat); err != nil {
						return err
					}
				}
				_, err := io.WriteString(out, p.String())
				return err
			}
			for _, p := range patterns.All() {
				d := p.Description()
				fmt.Fprintf(out, "%-24s %-8s %-8s %s\n", d.Name, d.Severity, d.Type, d.Title)
			}
			var dsl []string
			for _, pat := range patterns.Library(names) {
				dsl = append(dsl, pat.Name)
			}
			fmt.Fprintf(out, "declarative: %s\n", strings.Join(dsl, ", "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&program, "program", false, "print the compiled Datalog program")
	return cmd
}
