package wasm

import "fmt"

// RemapFuncs rewrites every function index reference in the module
// through the given mapping. Call sites, ref.func immediates, element
// segments, exports, and the start function are all updated. The
// mapping must cover the full post-remap index space; bodies and init
// expressions are re-encoded in place.
func RemapFuncs(m *Module, remap func(uint32) uint32) error {
	for i := range m.Code {
		if _, err := remapBody(&m.Code[i], remap); err != nil {
			return fmt.Errorf("remap function body %d: %w", i, err)
		}
	}

	for i := range m.Globals {
		init, err := remapInitExpr(m.Globals[i].Init, remap)
		if err != nil {
			return fmt.Errorf("remap global %d init: %w", i, err)
		}
		m.Globals[i].Init = init
	}

	for i := range m.Elements {
		elem := &m.Elements[i]
		for j := range elem.FuncIdxs {
			elem.FuncIdxs[j] = remap(elem.FuncIdxs[j])
		}
		for j := range elem.Exprs {
			expr, err := remapInitExpr(elem.Exprs[j], remap)
			if err != nil {
				return fmt.Errorf("remap element %d expr %d: %w", i, j, err)
			}
			elem.Exprs[j] = expr
		}
	}

	for i := range m.Exports {
		if m.Exports[i].Kind == KindFunc {
			m.Exports[i].Idx = remap(m.Exports[i].Idx)
		}
	}

	if m.Start != nil {
		idx := remap(*m.Start)
		m.Start = &idx
	}

	return nil
}

func remapBody(body *FuncBody, remap func(uint32) uint32) (bool, error) {
	instrs, err := DecodeInstructions(body.Code)
	if err != nil {
		return false, err
	}

	changed := false
	for i := range instrs {
		switch instrs[i].Opcode {
		case OpCall, OpReturnCall:
			imm := instrs[i].Imm.(CallImm)
			mapped := remap(imm.FuncIdx)
			if mapped != imm.FuncIdx {
				instrs[i].Imm = CallImm{FuncIdx: mapped}
				changed = true
			}
		case OpRefFunc:
			imm := instrs[i].Imm.(RefFuncImm)
			mapped := remap(imm.FuncIdx)
			if mapped != imm.FuncIdx {
				instrs[i].Imm = RefFuncImm{FuncIdx: mapped}
				changed = true
			}
		}
	}

	if changed {
		body.Code = EncodeInstructions(instrs)
	}
	return changed, nil
}

func remapInitExpr(expr []byte, remap func(uint32) uint32) ([]byte, error) {
	if len(expr) == 0 {
		return expr, nil
	}
	instrs, err := DecodeInstructions(expr)
	if err != nil {
		return nil, err
	}

	changed := false
	for i := range instrs {
		if instrs[i].Opcode == OpRefFunc {
			imm := instrs[i].Imm.(RefFuncImm)
			mapped := remap(imm.FuncIdx)
			if mapped != imm.FuncIdx {
				instrs[i].Imm = RefFuncImm{FuncIdx: mapped}
				changed = true
			}
		}
	}

	if !changed {
		return expr, nil
	}
	return EncodeInstructions(instrs), nil
}
