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

package patterns

import (
	evm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/practical-formal-methods/sifter/datalog"
	"github.com/practical-formal-methods/sifter/dsl"
	"github.com/practical-formal-methods/sifter/naming"
)

func pattern(i *dsl.Instr, body dsl.Node) *dsl.InstructionPattern {
	return &dsl.InstructionPattern{Instr: i, Body: body}
}

// NoWriteAfterCall is the declarative counterpart of DAO.
func NoWriteAfterCall(names *naming.Context) datalog.CompletePattern {
	l1, l2 := dsl.NewLabel(names), dsl.NewLabel(names)
	call := dsl.Call(l1, dsl.AnyVar, dsl.AnyVar, dsl.AnyVar)
	store := dsl.Sstore(l2, dsl.AnyVar, dsl.AnyVar)
	return datalog.CompletePattern{
		Name:       "NW",
		Compliance: pattern(call, dsl.All{Instr: store, Body: dsl.Not{X: dsl.MayFollow(l1, l2)}}),
		Violation:  pattern(call, dsl.Some{Instr: store, Body: dsl.MustFollow(l1, l2)}),
	}
}

// RestrictedWrite is the declarative counterpart of UnrestrictedWrite.
func RestrictedWrite(names *naming.Context) datalog.CompletePattern {
	l1, x := dsl.NewLabel(names), dsl.NewVar(names)
	caller := dsl.OpTag(evm.CALLER)
	return datalog.CompletePattern{
		Name:       "RW",
		Compliance: pattern(dsl.Sstore(dsl.AnyLabel, x, dsl.AnyVar), dsl.DetBy(x, caller)),
		Violation: pattern(dsl.Sstore(l1, x, dsl.AnyVar), dsl.And{
			dsl.Not{X: dsl.MayDepOn(x, caller)},
			dsl.Not{X: dsl.InstrMayDepOn(l1, caller)},
		}),
	}
}

// RestrictedTransfer is the declarative counterpart of UnrestrictedEtherFlow.
func RestrictedTransfer(names *naming.Context) datalog.CompletePattern {
	l1, amount := dsl.NewLabel(names), dsl.NewVar(names)
	return datalog.CompletePattern{
		Name:       "RT",
		Compliance: pattern(dsl.Call(dsl.AnyLabel, dsl.AnyVar, dsl.AnyVar, amount), dsl.EqNumber(amount, 0)),
		Violation: pattern(dsl.Call(l1, dsl.AnyVar, dsl.AnyVar, amount), dsl.And{
			dsl.DetBy(amount, dsl.OpTag(evm.CALLDATALOAD)),
			dsl.Not{X: dsl.InstrMayDepOn(l1, dsl.OpTag(evm.CALLER))},
			dsl.Not{X: dsl.InstrMayDepOn(l1, dsl.OpTag(evm.CALLDATALOAD))},
		}),
	}
}

// HandledException is the declarative counterpart of UnhandledException.
func HandledException(names *naming.Context) datalog.CompletePattern {
	l1, l2 := dsl.NewLabel(names), dsl.NewLabel(names)
	x, y := dsl.NewVar(names), dsl.NewVar(names)
	call := dsl.Call(l1, y, dsl.AnyVar, dsl.AnyVar)
	jump := dsl.Goto(l2, x, dsl.AnyLabel)
	return datalog.CompletePattern{
		Name: "HE",
		Compliance: pattern(call, dsl.Some{Instr: jump, Body: dsl.And{
			dsl.MustFollow(l1, l2), dsl.DetByVar(x, y),
		}}),
		Violation: pattern(call, dsl.All{Instr: jump, Body: dsl.Implies{
			If: dsl.MayFollow(l1, l2), Then: dsl.Not{X: dsl.MayDepOnVar(x, y)},
		}}),
	}
}

// TransactionOrdering is the declarative counterpart of TODAmount.
func TransactionOrdering(names *naming.Context) datalog.CompletePattern {
	amount, x, y := dsl.NewVar(names), dsl.NewVar(names), dsl.NewVar(names)
	call := dsl.Call(dsl.AnyLabel, dsl.AnyVar, dsl.AnyVar, amount)
	return datalog.CompletePattern{
		Name: "TOD",
		Compliance: pattern(call, dsl.And{
			dsl.Not{X: dsl.MayDepOn(amount, dsl.OpTag(evm.SLOAD))},
			dsl.Not{X: dsl.MayDepOn(amount, dsl.OpTag(evm.BALANCE))},
		}),
		Violation: pattern(call, dsl.Some{
			Instr: dsl.Sload(dsl.AnyLabel, y, x),
			Body: dsl.Some{
				Instr: dsl.Sstore(dsl.AnyLabel, x, dsl.AnyVar),
				Body:  dsl.And{dsl.DetByVar(amount, y), dsl.IsConst(x)},
			},
		}),
	}
}

// ValidatedArguments is the declarative counterpart of
// MissingInputValidation for stored values.
func ValidatedArguments(names *naming.Context) datalog.CompletePattern {
	l1, l2 := dsl.NewLabel(names), dsl.NewLabel(names)
	x, y := dsl.NewVar(names), dsl.NewVar(names)
	store := dsl.Sstore(l1, dsl.AnyVar, x)
	jump := dsl.Goto(l2, y, dsl.AnyLabel)
	return datalog.CompletePattern{
		Name: "VA",
		Compliance: pattern(store, dsl.Implies{
			If: dsl.MayDepOn(x, dsl.ArgTag),
			Then: dsl.Some{Instr: jump, Body: dsl.And{
				dsl.MustFollow(l2, l1), dsl.DetBy(y, dsl.ArgTag),
			}},
		}),
		Violation: pattern(store, dsl.Implies{
			If: dsl.MayDepOn(x, dsl.ArgTag),
			Then: dsl.Not{X: dsl.Some{Instr: jump, Body: dsl.And{
				dsl.MustFollow(l2, l1), dsl.MayDepOn(y, dsl.ArgTag),
			}}},
		}),
	}
}

// Library returns the declarative patterns, named from names.
func Library(names *naming.Context) []datalog.CompletePattern {
	return []datalog.CompletePattern{
		NoWriteAfterCall(names),
		RestrictedWrite(names),
		RestrictedTransfer(names),
		HandledException(names),
		TransactionOrdering(names),
		ValidatedArguments(names),
	}
}
