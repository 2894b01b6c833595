package interp

import (
	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

// stepBudget bounds the total number of instructions one describe run may
// execute across all frames. Descriptor functions are tiny straight-line
// code; hitting the budget means the binary is not descriptor-shaped.
var stepBudget = 1 << 20

// exec is the state of one describe run. Memory and globals are scratch:
// they start fresh for every run so that shadow-stack traffic from one
// descriptor cannot leak into the next.
type exec struct {
	in      *Interpreter
	mem     map[uint32]uint32
	globals []uint32
	stack   []uint32
	stream  []uint32
	symbol  string
	steps   int

	closureCalls uint32
	closure      [3]uint32
}

func (in *Interpreter) newExec(symbol string) (*exec, error) {
	e := &exec{
		in:      in,
		mem:     make(map[uint32]uint32),
		globals: make([]uint32, len(in.m.Globals)),
		symbol:  symbol,
	}
	if n := in.m.NumImportedGlobals(); n > 0 {
		return nil, errors.Unsupported(errors.PhaseInterpret, "imported globals in a descriptor-bearing module")
	}
	for i, g := range in.m.Globals {
		if g.Type.ValType != wasm.ValI32 {
			continue
		}
		instrs, err := wasm.DecodeInstructions(g.Init)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseInterpret, errors.KindInvalidData, err, "global init expression")
		}
		if len(instrs) > 0 && instrs[0].Opcode == wasm.OpI32Const {
			e.globals[i] = uint32(instrs[0].Imm.(wasm.I32Imm).Value)
		}
	}
	return e, nil
}

func (e *exec) push(v uint32) {
	e.stack = append(e.stack, v)
}

func (e *exec) pop() (uint32, error) {
	if len(e.stack) == 0 {
		return 0, errors.StackUnderflow(e.symbol, 1, 0)
	}
	v := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return v, nil
}

func (e *exec) popN(n int) ([]uint32, error) {
	if len(e.stack) < n {
		return nil, errors.StackUnderflow(e.symbol, n, len(e.stack))
	}
	vals := make([]uint32, n)
	copy(vals, e.stack[len(e.stack)-n:])
	e.stack = e.stack[:len(e.stack)-n]
	return vals, nil
}

// blockInfo records the matching end (and else, for if) instruction index
// of each structured-control opener. The restricted subset has no loop, so
// every branch is a forward jump to a block's end.
type blockInfo struct {
	end int
	els int // -1 when absent
}

// ctrlFrame is one live entry on the control stack: the opener's pc, the
// operand-stack height at entry, and the block's result arity. Leaving the
// block, by branch or by end, resets the stack to height plus arity.
type ctrlFrame struct {
	pc     int
	height int
	arity  int
}

func analyze(symbol string, instrs []wasm.Instruction) (map[int]blockInfo, error) {
	blocks := make(map[int]blockInfo)
	var open []int
	for pc, ins := range instrs {
		switch ins.Opcode {
		case wasm.OpBlock, wasm.OpIf:
			open = append(open, pc)
			blocks[pc] = blockInfo{end: -1, els: -1}
		case wasm.OpElse:
			if len(open) == 0 {
				return nil, errors.PatternMismatch(symbol, "else outside a block")
			}
			bi := blocks[open[len(open)-1]]
			bi.els = pc
			blocks[open[len(open)-1]] = bi
		case wasm.OpEnd:
			if len(open) == 0 {
				// Function-level end.
				continue
			}
			bi := blocks[open[len(open)-1]]
			bi.end = pc
			blocks[open[len(open)-1]] = bi
			open = open[:len(open)-1]
		}
	}
	if len(open) != 0 {
		return nil, errors.PatternMismatch(symbol, "unbalanced control flow")
	}
	return blocks, nil
}

// blockArity resolves a block type immediate to its result count.
func (e *exec) blockArity(bt int32) (int, error) {
	switch {
	case bt == wasm.BlockTypeVoid:
		return 0, nil
	case bt < 0:
		return 1, nil
	case int(bt) < len(e.in.m.Types):
		return len(e.in.m.Types[bt].Results), nil
	default:
		return 0, errors.OutOfBounds(errors.PhaseInterpret, []string{"block type"}, int(bt), len(e.in.m.Types))
	}
}

// unwind resets the operand stack to height, carrying the top arity
// values across as the label's results.
func (e *exec) unwind(height, arity int) error {
	if len(e.stack) < height+arity {
		return errors.StackUnderflow(e.symbol, height+arity, len(e.stack))
	}
	copy(e.stack[height:height+arity], e.stack[len(e.stack)-arity:])
	e.stack = e.stack[:height+arity]
	return nil
}

// call interprets one function and leaves its results on the stack.
func (e *exec) call(funcIdx uint32, args []uint32) error {
	m := e.in.m
	ni := uint32(m.NumImportedFuncs())
	if funcIdx < ni {
		return e.callImport(funcIdx, args)
	}

	ft := m.GetFuncType(funcIdx)
	if ft == nil {
		return errors.OutOfBounds(errors.PhaseInterpret, []string{"call"}, int(funcIdx), m.NumFuncs())
	}
	body := m.BodyByIdx(funcIdx)
	instrs, err := e.in.decodedBody(funcIdx, body)
	if err != nil {
		return err
	}
	blocks, err := analyze(e.symbol, instrs)
	if err != nil {
		return err
	}

	locals := make([]uint32, 0, len(args)+8)
	locals = append(locals, args...)
	for _, le := range body.Locals {
		for i := uint32(0); i < le.Count; i++ {
			locals = append(locals, 0)
		}
	}

	// ctrl holds the enclosing block frames, innermost last. entry is the
	// caller-visible stack floor: everything above it at return is this
	// frame's doing.
	var ctrl []ctrlFrame
	entry := len(e.stack)
	pc := 0
	for pc < len(instrs) {
		e.steps++
		if e.steps > stepBudget {
			return errors.StepBudget(e.symbol, stepBudget)
		}
		ins := instrs[pc]
		switch ins.Opcode {
		case wasm.OpI32Const:
			e.push(uint32(ins.Imm.(wasm.I32Imm).Value))

		case wasm.OpLocalGet:
			idx := ins.Imm.(wasm.LocalImm).LocalIdx
			if int(idx) >= len(locals) {
				return errors.OutOfBounds(errors.PhaseInterpret, []string{"local.get"}, int(idx), len(locals))
			}
			e.push(locals[idx])
		case wasm.OpLocalSet, wasm.OpLocalTee:
			idx := ins.Imm.(wasm.LocalImm).LocalIdx
			if int(idx) >= len(locals) {
				return errors.OutOfBounds(errors.PhaseInterpret, []string{"local.set"}, int(idx), len(locals))
			}
			v, err := e.pop()
			if err != nil {
				return err
			}
			locals[idx] = v
			if ins.Opcode == wasm.OpLocalTee {
				e.push(v)
			}

		case wasm.OpGlobalGet:
			idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
			if int(idx) >= len(e.globals) {
				return errors.OutOfBounds(errors.PhaseInterpret, []string{"global.get"}, int(idx), len(e.globals))
			}
			e.push(e.globals[idx])
		case wasm.OpGlobalSet:
			idx := ins.Imm.(wasm.GlobalImm).GlobalIdx
			if int(idx) >= len(e.globals) {
				return errors.OutOfBounds(errors.PhaseInterpret, []string{"global.set"}, int(idx), len(e.globals))
			}
			v, err := e.pop()
			if err != nil {
				return err
			}
			e.globals[idx] = v

		case wasm.OpI32Add:
			vals, err := e.popN(2)
			if err != nil {
				return err
			}
			e.push(vals[0] + vals[1])
		case wasm.OpI32Sub:
			vals, err := e.popN(2)
			if err != nil {
				return err
			}
			e.push(vals[0] - vals[1])

		case wasm.OpI32Load:
			base, err := e.pop()
			if err != nil {
				return err
			}
			addr := base + uint32(ins.Imm.(wasm.MemoryImm).Offset)
			e.push(e.mem[addr])
		case wasm.OpI32Store:
			vals, err := e.popN(2)
			if err != nil {
				return err
			}
			addr := vals[0] + uint32(ins.Imm.(wasm.MemoryImm).Offset)
			e.mem[addr] = vals[1]

		case wasm.OpCall:
			target := ins.Imm.(wasm.CallImm).FuncIdx
			tft := m.GetFuncType(target)
			if tft == nil {
				return errors.OutOfBounds(errors.PhaseInterpret, []string{"call"}, int(target), m.NumFuncs())
			}
			callArgs, err := e.popN(len(tft.Params))
			if err != nil {
				return err
			}
			if err := e.call(target, callArgs); err != nil {
				return err
			}

		case wasm.OpDrop:
			if _, err := e.pop(); err != nil {
				return err
			}
		case wasm.OpSelect:
			vals, err := e.popN(3)
			if err != nil {
				return err
			}
			if vals[2] != 0 {
				e.push(vals[0])
			} else {
				e.push(vals[1])
			}

		case wasm.OpReturn:
			if err := e.unwind(entry, len(ft.Results)); err != nil {
				return err
			}
			pc = len(instrs)
			continue

		case wasm.OpBlock:
			arity, err := e.blockArity(ins.Imm.(wasm.BlockImm).Type)
			if err != nil {
				return err
			}
			ctrl = append(ctrl, ctrlFrame{pc: pc, height: len(e.stack), arity: arity})
		case wasm.OpIf:
			cond, err := e.pop()
			if err != nil {
				return err
			}
			arity, err := e.blockArity(ins.Imm.(wasm.BlockImm).Type)
			if err != nil {
				return err
			}
			bi := blocks[pc]
			if cond != 0 {
				ctrl = append(ctrl, ctrlFrame{pc: pc, height: len(e.stack), arity: arity})
			} else if bi.els >= 0 {
				ctrl = append(ctrl, ctrlFrame{pc: pc, height: len(e.stack), arity: arity})
				pc = bi.els + 1
				continue
			} else {
				pc = bi.end + 1
				continue
			}
		case wasm.OpElse:
			// Reached from the then-branch; skip to the matching end.
			cf := ctrl[len(ctrl)-1]
			if err := e.unwind(cf.height, cf.arity); err != nil {
				return err
			}
			ctrl = ctrl[:len(ctrl)-1]
			pc = blocks[cf.pc].end + 1
			continue
		case wasm.OpEnd:
			if len(ctrl) > 0 && blocks[ctrl[len(ctrl)-1].pc].end == pc {
				cf := ctrl[len(ctrl)-1]
				if err := e.unwind(cf.height, cf.arity); err != nil {
					return err
				}
				ctrl = ctrl[:len(ctrl)-1]
			}
		case wasm.OpBr, wasm.OpBrIf:
			if ins.Opcode == wasm.OpBrIf {
				cond, err := e.pop()
				if err != nil {
					return err
				}
				if cond == 0 {
					pc++
					continue
				}
			}
			depth := int(ins.Imm.(wasm.BranchImm).LabelIdx)
			if depth >= len(ctrl) {
				// Branch to the function-level label.
				if err := e.unwind(entry, len(ft.Results)); err != nil {
					return err
				}
				pc = len(instrs)
				continue
			}
			cf := ctrl[len(ctrl)-1-depth]
			if err := e.unwind(cf.height, cf.arity); err != nil {
				return err
			}
			ctrl = ctrl[:len(ctrl)-1-depth]
			pc = blocks[cf.pc].end + 1
			continue

		default:
			return errors.UnknownOpcode(e.symbol, ins.Opcode)
		}
		pc++
	}

	// Leave exactly the declared results behind, nothing more: a stranded
	// operand would shift the caller's later pops.
	return e.unwind(entry, len(ft.Results))
}

func (e *exec) callImport(funcIdx uint32, args []uint32) error {
	var imp *wasm.Import
	n := uint32(0)
	for i := range e.in.m.Imports {
		if e.in.m.Imports[i].Desc.Kind != wasm.KindFunc {
			continue
		}
		if n == funcIdx {
			imp = &e.in.m.Imports[i]
			break
		}
		n++
	}
	if imp == nil {
		return errors.OutOfBounds(errors.PhaseInterpret, []string{"call"}, int(funcIdx), e.in.m.NumImportedFuncs())
	}

	switch {
	case imp.Name == nameDescribe:
		if len(args) != 1 {
			return errors.InvalidData(errors.PhaseInterpret, []string{imp.Name}, "expected one operand")
		}
		e.stream = append(e.stream, args[0])
		return nil

	case imp.Name == nameDescribeClosure:
		if len(args) != 3 {
			return errors.InvalidData(errors.PhaseInterpret, []string{imp.Name}, "expected three operands")
		}
		if e.closureCalls > 0 {
			return errors.InvalidData(errors.PhaseInterpret, []string{imp.Name, e.symbol}, "called more than once")
		}
		e.closureCalls++
		copy(e.closure[:], args)
		e.push(0)
		return nil

	case isGlueIntrinsic(imp.Name):
		ft := &e.in.m.Types[imp.Desc.TypeIdx]
		for range ft.Results {
			e.push(0)
		}
		return nil

	default:
		return errors.UnknownIntrinsic(imp.Module, imp.Name)
	}
}
