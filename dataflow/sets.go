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

package dataflow

import (
	"github.com/bits-and-blooms/bitset"
)

const numTags = 320

func newTagSet() *bitset.BitSet {
	return bitset.New(numTags)
}

func fullTagSet() *bitset.BitSet {
	return bitset.New(numTags).Complement()
}

func hasTag(s *bitset.BitSet, t Tag) bool {
	return s.Test(uint(t))
}

func addTag(s *bitset.BitSet, t Tag) {
	s.Set(uint(t))
}

func tagsOf(s *bitset.BitSet) []Tag {
	var res []Tag
	each(s, func(i int) {
		res = append(res, Tag(i))
	})
	return res
}

// each calls fn for every member in increasing order.
func each(b *bitset.BitSet, fn func(i int)) {
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		fn(int(i))
	}
}
