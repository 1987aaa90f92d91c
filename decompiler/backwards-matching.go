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
	"fmt"
	"sort"

	evm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/practical-formal-methods/sifter/vm"
)

// Pseudo-opcodes matching any PUSHn or DUPn in a backwards pattern. Both
// bytes are unassigned in the EVM.
const (
	anyPush vm.OpCode = 0xb0
	anyDup  vm.OpCode = 0xb1
)

type opcodeArg struct {
	dupIdx  int
	pushArg *absVal
	pushLen int
}

// matchesBackwards determines if the given program matches the sequence of opcodes backwards from the given PC.
// It returns a boolean indicated whether the match succeeded.
// If it did, the returned array contains additional information (e.g., arguments) for every opcode in the pattern.
// If it did, it returns the PC of the last matched instruction.
func matchesBackwards(prog *program, ppcMap *prevPCMap, pc pcType, pattern []vm.OpCode) (bool, []opcodeArg, pcType) {
	args := make([]opcodeArg, len(pattern))
	idx := 0
	patLen := len(pattern)
	for {
		raw, ok := prog.at(pc)
		if !ok {
			return false, nil, 0
		}
		actualOp := raw.Op
		incr := 0
		if actualOp != evm.JUMPDEST {
			// We skip jump destinations since they are no-ops.

			expOp := pattern[idx]
			switch expOp {
			case anyDup:
				if !vm.IsDup(actualOp) {
					return false, nil, 0
				}
				args[idx].dupIdx = int(actualOp - evm.DUP1)
			case anyPush:
				if !vm.IsPush(actualOp) && actualOp != evm.PUSH0 {
					return false, nil, 0
				}
				args[idx].pushArg = raw.Value()
				args[idx].pushLen = vm.Lookup(actualOp).Immediate
			default:
				if actualOp != expOp {
					return false, nil, 0
				}
			}
			incr = 1
		}
		idx += incr
		if idx == patLen {
			return true, args, pc
		}

		var exists bool
		pc, exists = ppcMap.getPrevPC(pc)
		if !exists {
			return false, nil, 0
		}
	}
}

// dispatchPatterns are the instruction sequences (read backwards from the
// jump) that compare the call selector against a constant.
var dispatchPatterns = [][]vm.OpCode{
	{anyPush, evm.EQ, anyPush},
	{anyPush, evm.EQ, anyDup, anyPush},
}

type methodEntry struct {
	pc       pcType
	selector uint32
}

// detectMethods finds the targets of the selector dispatcher.
func detectMethods(prog *program, flow *controlFlow) []methodEntry {
	seen := map[pcType]bool{}
	var res []methodEntry
	for _, raw := range prog.raws {
		pc := pcType(raw.Offset)
		if raw.Op != evm.JUMPI || !flow.reached(pc) {
			continue
		}
		ppc, ok := flow.ppcMap.getPrevPC(pc)
		if !ok {
			continue
		}
		for _, pat := range dispatchPatterns {
			match, args, _ := matchesBackwards(prog, flow.ppcMap, ppc, pat)
			if !match {
				continue
			}
			sel := args[len(args)-1]
			if sel.pushLen == 0 || 4 < sel.pushLen {
				continue
			}
			dest := args[0].pushArg
			if !dest.IsUint64() {
				continue
			}
			target := pcType(dest.Uint64())
			if !flow.edges[pc][target] || !prog.isDest[int(target)] || seen[target] {
				continue
			}
			seen[target] = true
			res = append(res, methodEntry{pc: target, selector: uint32(sel.pushArg.Uint64())})
			break
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].pc < res[j].pc })
	return res
}

// methodName renders a selector the way it is shown in reports.
func methodName(selector uint32) string {
	return fmt.Sprintf("abi_%08x", selector)
}

// detectFunctions finds the heads of internal functions: jump destinations
// entered only by direct jumps, that is jumps whose target was pushed by the
// preceding instruction, from at least two call sites.
func detectFunctions(prog *program, flow *controlFlow) map[pcType]bool {
	preds := map[pcType][]pcType{}
	for from, tos := range flow.edges {
		for to := range tos {
			preds[to] = append(preds[to], from)
		}
	}
	res := map[pcType]bool{}
	for _, dest := range prog.dests {
		pc := pcType(dest)
		calls := preds[pc]
		if !flow.reached(pc) || len(calls) < 2 {
			continue
		}
		direct := true
		for _, from := range calls {
			i, ok := prog.byOffset[from]
			if !ok || i == 0 || prog.raws[i].Op != evm.JUMP {
				direct = false
				break
			}
			if op := prog.raws[i-1].Op; !vm.IsPush(op) && op != evm.PUSH0 {
				direct = false
				break
			}
		}
		if direct {
			res[pc] = true
		}
	}
	return res
}
