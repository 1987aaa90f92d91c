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
package datalog

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Souffle runs programs with an external Souffle binary.
type Souffle struct {
	Binary  string
	Jobs    int
	Timeout time.Duration
	// WorkDir holds the per-run directories; empty means the system
	// temporary directory.
	WorkDir   string
	KeepFiles bool
}

func (s *Souffle) Solve(ctx context.Context, p *Program, facts *Facts) (Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(s.WorkDir, "sifter-")
	if err != nil {
		return nil, err
	}
	if !s.KeepFiles {
		defer os.RemoveAll(dir)
	}
	in, out := filepath.Join(dir, "in"), filepath.Join(dir, "out")
	for _, d := range []string{in, out} {
		if err := os.Mkdir(d, 0o755); err != nil {
			return nil, err
		}
	}
	if err := facts.WriteTSV(in); err != nil {
		return nil, err
	}
	prog := filepath.Join(dir, "patterns.dl")
	if err := os.WriteFile(prog, []byte(p.String()), 0o644); err != nil {
		return nil, err
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	jobs := s.Jobs
	if jobs < 1 {
		jobs = 1
	}
	cmd := exec.CommandContext(ctx, s.Binary, "-j", strconv.Itoa(jobs), "-F", in, "-D", out, prog)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	log.Debug("Souffle finished", "dir", dir, "elapsed", time.Since(start), "err", err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrSolverTimeout, s.Timeout)
		}
		return nil, ctxErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrSolverFailed, err, strings.TrimSpace(stderr.String()))
	}

	res := Result{}
	for _, o := range p.Outputs {
		tuples, err := readCSV(filepath.Join(out, o+".csv"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSolverFailed, err)
		}
		rel := newRelation(o, 0)
		for _, t := range tuples {
			rel.Insert(t)
		}
		res[o] = rel.Sorted()
	}
	return res, nil
}

func readCSV(path string) ([]Tuple, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var res []Tuple
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var t Tuple
		for _, f := range strings.Split(line, "\t") {
			v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			t = append(t, v)
		}
		res = append(res, t)
	}
	return res, sc.Err()
}
