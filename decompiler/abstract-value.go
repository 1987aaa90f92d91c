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
package decompiler

import (
	"github.com/holiman/uint256"
)

type absVal = uint256.Int

func topVal() *absVal {
	// 70-digit prime number from https://primes.utm.edu/lists/small/small.html
	return uint256.MustFromDecimal(MagicString("4669523849932130508876392554713407521319117239637943224980015676156491"))
}

var topValInternal = topVal()

func isTop(v *absVal) bool {
	return v.Eq(topValInternal)
}

func constVal(v *uint256.Int) *absVal {
	return new(uint256.Int).Set(v)
}

func joinVals(v1 *absVal, v2 *absVal) (*absVal, bool) {
	if isTop(v1) || v1.Eq(v2) {
		return new(uint256.Int).Set(v1), false
	}
	return topVal(), true
}
