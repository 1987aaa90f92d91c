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

type absState struct {
	isBot bool
	stack absStack
}

func (s absState) withStackCopy() absState {
	if s.isBot {
		return botState()
	}
	return absState{
		stack: s.stack.clone(),
	}
}

func botState() absState {
	return absState{isBot: true}
}

func joinStates(s1 absState, s2 absState) (absState, bool) {
	if s2.isBot {
		return s1, false
	}
	if s1.isBot {
		return s2, true
	}
	nStack, diffStack := joinStacks(s1.stack, s2.stack)
	return absState{stack: nStack}, diffStack
}
