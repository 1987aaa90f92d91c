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
	evm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/practical-formal-methods/sifter/vm"
)

// pcAndSt is a pair of program counter and state.
type pcAndSt struct {
	pc pcType
	st absState
}

// stepRes represents the result of executing an abstract transformer.
type stepRes struct {
	mayFail      bool
	failureCause string
	// unresolved is set when a jump target could not be determined.
	unresolved bool
	postStates []pcAndSt
}

// emptyRes returns a result with no post-states.
func emptyRes() stepRes {
	return stepRes{}
}

// initRes returns the initial program state (i.e., PC is 0 and the stack is empty).
func initRes() stepRes {
	return stepRes{
		postStates: []pcAndSt{
			{
				pc: 0,
				st: absState{stack: emptyStack()},
			},
		},
	}
}

// failRes returns a result that indicates a possible failure.
func failRes(cause string) stepRes {
	return stepRes{
		mayFail:      true,
		failureCause: cause,
	}
}

// nextPcRes produces a result from the current execution environment for non-jump instructions (i.e., PC incremented).
func nextPcRes(env execEnv) stepRes {
	return stepRes{
		postStates: []pcAndSt{
			{
				pc: pcType(env.raw.Next()),
				st: env.st,
			},
		},
	}
}

// absJumpTable represents a jump table for abstract operations.
type absJumpTable [256]absOp

// execFn is the type of functions executing abstract operations.
// It must not modify the state in the environment; operations work on a copy.
type execFn func(env execEnv) stepRes

// absOp represents an abstract operation.
type absOp struct {
	// valid is true if the operation has been initialized.
	valid bool
	// exec executes an abstract operation.
	// exec can safely assume that by the time it executes, the following will hold:
	//   1) the state and stack will not be top
	//   2) the stack will have been validated (but top values in it are still possible)
	exec execFn
}

// fromExec creates a valid abstract operation.
func fromExec(exec execFn) absOp {
	return absOp{
		valid: true,
		exec:  exec,
	}
}

// noOpOp is the no-op abstract operation.
var noOpOp = fromExec(func(env execEnv) stepRes {
	return nextPcRes(env)
})

// emptyResOp is the operation that returns an empty state (used for stopping execution).
var emptyResOp = fromExec(func(env execEnv) stepRes {
	return emptyRes()
})

// execEnv is the (abstract) execution environment.
type execEnv struct {
	pc     pcType
	raw    vm.RawInstruction
	prog   *program
	ppcMap *prevPCMap
	st     absState
	conc   vm.Operation
}

// withStackCopy returns an execution environment with a clone of the current stack.
func (e execEnv) withStackCopy() execEnv {
	e.st = e.st.withStackCopy()
	return e
}

type foldFn func(args []*absVal) *absVal

// makeStackOp returns an abstract operation that pops its operands and pushes
// either the folded constant or top.
func makeStackOp(pop int, fold foldFn) absOp {
	return fromExec(func(env execEnv) stepRes {
		env2 := env.withStackCopy()
		args := make([]*absVal, pop)
		anyTops := false
		for i := 0; i < pop; i++ {
			args[i] = env2.st.stack.pop()
			anyTops = anyTops || isTop(args[i])
		}
		if anyTops || fold == nil {
			env2.st.stack.push(topVal())
		} else {
			env2.st.stack.push(fold(args))
		}
		return nextPcRes(env2)
	})
}

// makePopPushTopOp returns an operation that first pops stack elements and then pushes top values.
func makePopPushTopOp(pop, push int) absOp {
	return fromExec(func(env execEnv) stepRes {
		env2 := env.withStackCopy()
		for i := 0; i < pop; i++ {
			env2.st.stack.pop()
		}
		for i := 0; i < push; i++ {
			env2.st.stack.push(topVal())
		}
		return nextPcRes(env2)
	})
}

func makePushOp() absOp {
	return fromExec(func(env execEnv) stepRes {
		env2 := env.withStackCopy()
		env2.st.stack.push(env.raw.Value())
		return nextPcRes(env2)
	})
}

func makeConstOp(val func(env execEnv) uint64) absOp {
	return fromExec(func(env execEnv) stepRes {
		env2 := env.withStackCopy()
		env2.st.stack.push(uint256.NewInt(val(env)))
		return nextPcRes(env2)
	})
}

func makeDupOp(n int) absOp {
	return fromExec(func(env execEnv) stepRes {
		env2 := env.withStackCopy()
		env2.st.stack.push(constVal(env2.st.stack.back(n - 1)))
		return nextPcRes(env2)
	})
}

func makeSwapOp(n int) absOp {
	return fromExec(func(env execEnv) stepRes {
		env2 := env.withStackCopy()
		s := env2.st.stack.stack
		top := len(s) - 1
		s[top], s[top-n] = s[top-n], s[top]
		return nextPcRes(env2)
	})
}

func binFold(f func(z, a, b *uint256.Int) *uint256.Int) foldFn {
	return func(args []*absVal) *absVal {
		return f(new(uint256.Int), args[0], args[1])
	}
}

func boolVal(b bool) *absVal {
	if b {
		return uint256.NewInt(1)
	}
	return uint256.NewInt(0)
}

func shiftFold(left bool) foldFn {
	return func(args []*absVal) *absVal {
		shift, value := args[0], args[1]
		if !shift.LtUint64(256) {
			return uint256.NewInt(0)
		}
		if left {
			return new(uint256.Int).Lsh(value, uint(shift.Uint64()))
		}
		return new(uint256.Int).Rsh(value, uint(shift.Uint64()))
	}
}

// newAbsJumpTable creates an abstract jump table.
func newAbsJumpTable() absJumpTable {
	var jt absJumpTable
	tbl := vm.Table()
	for op, conc := range tbl {
		if conc.Valid {
			jt[op] = makePopPushTopOp(conc.Pops, conc.Pushes)
		}
	}

	jt[evm.ADD] = makeStackOp(2, binFold((*uint256.Int).Add))
	jt[evm.MUL] = makeStackOp(2, binFold((*uint256.Int).Mul))
	jt[evm.SUB] = makeStackOp(2, binFold((*uint256.Int).Sub))
	jt[evm.DIV] = makeStackOp(2, binFold((*uint256.Int).Div))
	jt[evm.MOD] = makeStackOp(2, binFold((*uint256.Int).Mod))
	jt[evm.AND] = makeStackOp(2, binFold((*uint256.Int).And))
	jt[evm.OR] = makeStackOp(2, binFold((*uint256.Int).Or))
	jt[evm.XOR] = makeStackOp(2, binFold((*uint256.Int).Xor))
	jt[evm.NOT] = makeStackOp(1, func(args []*absVal) *absVal {
		return new(uint256.Int).Not(args[0])
	})
	jt[evm.ISZERO] = makeStackOp(1, func(args []*absVal) *absVal {
		return boolVal(args[0].IsZero())
	})
	jt[evm.EQ] = makeStackOp(2, func(args []*absVal) *absVal {
		return boolVal(args[0].Eq(args[1]))
	})
	jt[evm.LT] = makeStackOp(2, func(args []*absVal) *absVal {
		return boolVal(args[0].Lt(args[1]))
	})
	jt[evm.GT] = makeStackOp(2, func(args []*absVal) *absVal {
		return boolVal(args[0].Gt(args[1]))
	})
	jt[evm.SHL] = makeStackOp(2, shiftFold(true))
	jt[evm.SHR] = makeStackOp(2, shiftFold(false))

	for _, op := range []vm.OpCode{evm.STOP, evm.RETURN, evm.REVERT, evm.INVALID, evm.SELFDESTRUCT} {
		jt[op] = emptyResOp
	}

	jt[evm.JUMPDEST] = noOpOp
	jt[evm.JUMP] = fromExec(opJump)
	jt[evm.JUMPI] = fromExec(opJumpi)
	jt[evm.PC] = makeConstOp(func(env execEnv) uint64 { return uint64(env.pc) })
	jt[evm.CODESIZE] = makeConstOp(func(env execEnv) uint64 { return uint64(len(env.prog.code)) })

	jt[evm.PUSH0] = makePushOp()
	for i := 0; i < 32; i++ {
		jt[evm.PUSH1+vm.OpCode(i)] = makePushOp()
	}
	for i := 1; i <= 16; i++ {
		jt[evm.DUP1+vm.OpCode(i-1)] = makeDupOp(i)
		jt[evm.SWAP1+vm.OpCode(i-1)] = makeSwapOp(i)
	}
	return jt
}

// jumpTo returns the post-states for a jump with the given destination.
func jumpTo(env execEnv, dest *absVal, st absState) stepRes {
	if isTop(dest) {
		res := stepRes{unresolved: true}
		for _, d := range env.prog.dests {
			res.postStates = append(res.postStates, pcAndSt{pc: pcType(d), st: st.withStackCopy()})
		}
		return res
	}
	if !dest.IsUint64() || !env.prog.isDest[int(dest.Uint64())] {
		return failRes(InvalidJumpFail)
	}
	return stepRes{
		postStates: []pcAndSt{{pc: pcType(dest.Uint64()), st: st}},
	}
}

func opJump(env execEnv) stepRes {
	env2 := env.withStackCopy()
	dest := env2.st.stack.pop()
	return jumpTo(env2, dest, env2.st)
}

func opJumpi(env execEnv) stepRes {
	env2 := env.withStackCopy()
	dest := env2.st.stack.pop()
	cond := env2.st.stack.pop()

	fallthroughSt := pcAndSt{pc: pcType(env.raw.Next()), st: env2.st.withStackCopy()}
	if !isTop(cond) && cond.IsZero() {
		return stepRes{postStates: []pcAndSt{fallthroughSt}}
	}
	res := jumpTo(env2, dest, env2.st)
	if isTop(cond) {
		// The fall-through branch stays feasible even when the target is invalid.
		res.mayFail = false
		res.postStates = append(res.postStates, fallthroughSt)
	}
	return res
}
