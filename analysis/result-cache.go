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

package analysis

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/practical-formal-methods/sifter/decompiler"
	"github.com/practical-formal-methods/sifter/model"
)

// ResultCache persists completed pattern results in LevelDB, keyed by the
// hash of the analyzed code and a digest of the pattern.
type ResultCache struct {
	db *leveldb.DB
}

type cachedResult struct {
	Violations []uint64
	Warnings   []uint64
	Safe       []uint64
	Conflicts  []uint64
}

func OpenResultCache(path string) (*ResultCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening result cache: %w", err)
	}
	return &ResultCache{db: db}, nil
}

func (rc *ResultCache) Close() error {
	return rc.db.Close()
}

// resultVersion is bumped whenever cached results change meaning.
const resultVersion = 2

// ResultDigest identifies a pattern evaluated on code decompiled with opts.
func ResultDigest(opts decompiler.Options, pattern string) string {
	key := fmt.Sprintf("v%d:%d:%d:%s", resultVersion, opts.MaxContexts, opts.MaxSteps, pattern)
	return crypto.Keccak256Hash([]byte(key)).Hex()
}

// PatternDigest names a hand-written pattern for ResultDigest.
func PatternDigest(name string) string {
	return "pattern:" + name
}

// ProgramDigest names a compiled DSL pattern for ResultDigest.
func ProgramDigest(digest string) string {
	return "program:" + digest
}

func cacheKey(codeHash common.Hash, digest string) []byte {
	return append(codeHash.Bytes(), digest...)
}

func toWords(ids []int) []uint64 {
	res := make([]uint64, len(ids))
	for i, id := range ids {
		res[i] = uint64(id)
	}
	return res
}

func fromWords(ws []uint64) []int {
	res := make([]int, len(ws))
	for i, w := range ws {
		res[i] = int(w)
	}
	return res
}

// Get returns the cached result, if any.
func (rc *ResultCache) Get(codeHash common.Hash, digest string) (*model.PatternResult, bool, error) {
	data, err := rc.db.Get(cacheKey(codeHash, digest), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec cachedResult
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decoding cached result: %w", err)
	}
	r := model.NewPatternResult()
	r.Violations = fromWords(rec.Violations)
	r.Warnings = fromWords(rec.Warnings)
	r.Safe = fromWords(rec.Safe)
	r.Conflicts = fromWords(rec.Conflicts)
	return r, true, nil
}

// Put stores r. Incomplete results are not cached.
func (rc *ResultCache) Put(codeHash common.Hash, digest string, r *model.PatternResult) error {
	if !r.Completed {
		return nil
	}
	data, err := rlp.EncodeToBytes(&cachedResult{
		Violations: toWords(r.Violations),
		Warnings:   toWords(r.Warnings),
		Safe:       toWords(r.Safe),
		Conflicts:  toWords(r.Conflicts),
	})
	if err != nil {
		return err
	}
	return rc.db.Put(cacheKey(codeHash, digest), data, nil)
}
