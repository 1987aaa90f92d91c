// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	evm "github.com/ethereum/go-ethereum/core/vm"
)

// OpCode is a single EVM instruction byte.
type OpCode = evm.OpCode

const stackLimit = 1024

type Operation struct {
	// Name is the mnemonic used in listings.
	Name string
	// Pops and Pushes describe the stack effect.
	Pops   int
	Pushes int
	// Immediate is the number of payload bytes following the opcode.
	Immediate int
	// minStack tells how many stack items are required
	MinStack int
	// maxStack specifies the max length the stack can have for this operation
	// to not overflow the stack.
	MaxStack int

	halts  bool // indicates whether the operation should halt further execution
	jumps  bool // indicates whether the program counter should not increment
	writes bool // determines whether this a state modifying operation
	Valid  bool // indication whether the retrieved operation is valid and known
}

// Halts reports whether execution ends after the operation.
func (o Operation) Halts() bool { return o.halts }

// Jumps reports whether the operation transfers control explicitly.
func (o Operation) Jumps() bool { return o.jumps }

// Writes reports whether the operation modifies world state.
func (o Operation) Writes() bool { return o.writes }

// JumpTable contains every EVM opcode known to the decompiler.
type JumpTable [256]Operation

var instructionSet = newInstructionSet()

// Lookup returns the table entry for op. Unknown bytes yield an invalid entry.
func Lookup(op OpCode) Operation {
	return instructionSet[op]
}

// Table returns a copy of the opcode table.
func Table() JumpTable {
	return instructionSet
}

func minStack(pops, push int) int {
	return pops
}

func maxStack(pop, push int) int {
	return stackLimit + pop - push
}

func stackOp(op OpCode, pops, pushes int) Operation {
	return Operation{
		Name:     op.String(),
		Pops:     pops,
		Pushes:   pushes,
		MinStack: minStack(pops, pushes),
		MaxStack: maxStack(pops, pushes),
		Valid:    true,
	}
}

func haltOp(op OpCode, pops int) Operation {
	o := stackOp(op, pops, 0)
	o.halts = true
	return o
}

func writeOp(op OpCode, pops, pushes int) Operation {
	o := stackOp(op, pops, pushes)
	o.writes = true
	return o
}

func jumpOp(op OpCode, pops int) Operation {
	o := stackOp(op, pops, 0)
	o.jumps = true
	return o
}

// newInstructionSet returns the instructions of the Cancun fork.
func newInstructionSet() JumpTable {
	tbl := JumpTable{
		evm.STOP: haltOp(evm.STOP, 0),

		evm.ADD:        stackOp(evm.ADD, 2, 1),
		evm.MUL:        stackOp(evm.MUL, 2, 1),
		evm.SUB:        stackOp(evm.SUB, 2, 1),
		evm.DIV:        stackOp(evm.DIV, 2, 1),
		evm.SDIV:       stackOp(evm.SDIV, 2, 1),
		evm.MOD:        stackOp(evm.MOD, 2, 1),
		evm.SMOD:       stackOp(evm.SMOD, 2, 1),
		evm.ADDMOD:     stackOp(evm.ADDMOD, 3, 1),
		evm.MULMOD:     stackOp(evm.MULMOD, 3, 1),
		evm.EXP:        stackOp(evm.EXP, 2, 1),
		evm.SIGNEXTEND: stackOp(evm.SIGNEXTEND, 2, 1),

		evm.LT:     stackOp(evm.LT, 2, 1),
		evm.GT:     stackOp(evm.GT, 2, 1),
		evm.SLT:    stackOp(evm.SLT, 2, 1),
		evm.SGT:    stackOp(evm.SGT, 2, 1),
		evm.EQ:     stackOp(evm.EQ, 2, 1),
		evm.ISZERO: stackOp(evm.ISZERO, 1, 1),
		evm.AND:    stackOp(evm.AND, 2, 1),
		evm.OR:     stackOp(evm.OR, 2, 1),
		evm.XOR:    stackOp(evm.XOR, 2, 1),
		evm.NOT:    stackOp(evm.NOT, 1, 1),
		evm.BYTE:   stackOp(evm.BYTE, 2, 1),
		evm.SHL:    stackOp(evm.SHL, 2, 1),
		evm.SHR:    stackOp(evm.SHR, 2, 1),
		evm.SAR:    stackOp(evm.SAR, 2, 1),

		evm.KECCAK256: stackOp(evm.KECCAK256, 2, 1),

		evm.ADDRESS:        stackOp(evm.ADDRESS, 0, 1),
		evm.BALANCE:        stackOp(evm.BALANCE, 1, 1),
		evm.ORIGIN:         stackOp(evm.ORIGIN, 0, 1),
		evm.CALLER:         stackOp(evm.CALLER, 0, 1),
		evm.CALLVALUE:      stackOp(evm.CALLVALUE, 0, 1),
		evm.CALLDATALOAD:   stackOp(evm.CALLDATALOAD, 1, 1),
		evm.CALLDATASIZE:   stackOp(evm.CALLDATASIZE, 0, 1),
		evm.CALLDATACOPY:   stackOp(evm.CALLDATACOPY, 3, 0),
		evm.CODESIZE:       stackOp(evm.CODESIZE, 0, 1),
		evm.CODECOPY:       stackOp(evm.CODECOPY, 3, 0),
		evm.GASPRICE:       stackOp(evm.GASPRICE, 0, 1),
		evm.EXTCODESIZE:    stackOp(evm.EXTCODESIZE, 1, 1),
		evm.EXTCODECOPY:    stackOp(evm.EXTCODECOPY, 4, 0),
		evm.RETURNDATASIZE: stackOp(evm.RETURNDATASIZE, 0, 1),
		evm.RETURNDATACOPY: stackOp(evm.RETURNDATACOPY, 3, 0),
		evm.EXTCODEHASH:    stackOp(evm.EXTCODEHASH, 1, 1),

		evm.BLOCKHASH:   stackOp(evm.BLOCKHASH, 1, 1),
		evm.COINBASE:    stackOp(evm.COINBASE, 0, 1),
		evm.TIMESTAMP:   stackOp(evm.TIMESTAMP, 0, 1),
		evm.NUMBER:      stackOp(evm.NUMBER, 0, 1),
		evm.DIFFICULTY:  stackOp(evm.DIFFICULTY, 0, 1),
		evm.GASLIMIT:    stackOp(evm.GASLIMIT, 0, 1),
		evm.CHAINID:     stackOp(evm.CHAINID, 0, 1),
		evm.SELFBALANCE: stackOp(evm.SELFBALANCE, 0, 1),
		evm.BASEFEE:     stackOp(evm.BASEFEE, 0, 1),
		evm.BLOBHASH:    stackOp(evm.BLOBHASH, 1, 1),
		evm.BLOBBASEFEE: stackOp(evm.BLOBBASEFEE, 0, 1),

		evm.POP:      stackOp(evm.POP, 1, 0),
		evm.MLOAD:    stackOp(evm.MLOAD, 1, 1),
		evm.MSTORE:   stackOp(evm.MSTORE, 2, 0),
		evm.MSTORE8:  stackOp(evm.MSTORE8, 2, 0),
		evm.SLOAD:    stackOp(evm.SLOAD, 1, 1),
		evm.SSTORE:   writeOp(evm.SSTORE, 2, 0),
		evm.JUMP:     jumpOp(evm.JUMP, 1),
		evm.JUMPI:    jumpOp(evm.JUMPI, 2),
		evm.PC:       stackOp(evm.PC, 0, 1),
		evm.MSIZE:    stackOp(evm.MSIZE, 0, 1),
		evm.GAS:      stackOp(evm.GAS, 0, 1),
		evm.JUMPDEST: stackOp(evm.JUMPDEST, 0, 0),
		evm.TLOAD:    stackOp(evm.TLOAD, 1, 1),
		evm.TSTORE:   writeOp(evm.TSTORE, 2, 0),
		evm.MCOPY:    stackOp(evm.MCOPY, 3, 0),
		evm.PUSH0:    stackOp(evm.PUSH0, 0, 1),

		evm.CREATE:       writeOp(evm.CREATE, 3, 1),
		evm.CALL:         stackOp(evm.CALL, 7, 1),
		evm.CALLCODE:     stackOp(evm.CALLCODE, 7, 1),
		evm.RETURN:       haltOp(evm.RETURN, 2),
		evm.DELEGATECALL: stackOp(evm.DELEGATECALL, 6, 1),
		evm.CREATE2:      writeOp(evm.CREATE2, 4, 1),
		evm.STATICCALL:   stackOp(evm.STATICCALL, 6, 1),
		evm.REVERT:       haltOp(evm.REVERT, 2),
		evm.INVALID:      haltOp(evm.INVALID, 0),
		evm.SELFDESTRUCT: haltOp(evm.SELFDESTRUCT, 1),
	}
	tbl[evm.SELFDESTRUCT].writes = true

	for i := 0; i < 32; i++ {
		op := evm.PUSH1 + OpCode(i)
		tbl[op] = stackOp(op, 0, 1)
		tbl[op].Immediate = i + 1
	}
	for i := 0; i < 16; i++ {
		dup := evm.DUP1 + OpCode(i)
		tbl[dup] = stackOp(dup, i+1, i+2)
		swap := evm.SWAP1 + OpCode(i)
		tbl[swap] = stackOp(swap, i+2, i+2)
	}
	for i := 0; i <= 4; i++ {
		op := evm.LOG0 + OpCode(i)
		tbl[op] = writeOp(op, 2+i, 0)
	}
	return tbl
}

// IsPush reports whether op is one of PUSH1..PUSH32.
func IsPush(op OpCode) bool {
	return evm.PUSH1 <= op && op <= evm.PUSH32
}

// IsDup reports whether op is one of DUP1..DUP16.
func IsDup(op OpCode) bool {
	return evm.DUP1 <= op && op <= evm.DUP16
}

// IsSwap reports whether op is one of SWAP1..SWAP16.
func IsSwap(op OpCode) bool {
	return evm.SWAP1 <= op && op <= evm.SWAP16
}

// IsCall reports whether op transfers control to another account.
func IsCall(op OpCode) bool {
	switch op {
	case evm.CALL, evm.CALLCODE, evm.DELEGATECALL, evm.STATICCALL:
		return true
	}
	return false
}
