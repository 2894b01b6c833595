package multivalue

import (
	"sort"

	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

// retSlot is one value the implementation writes through the return
// pointer: a store of type Type at constant offset Offset from param 0.
type retSlot struct {
	Offset uint64
	Type   wasm.ValType
}

// candidate is one export eligible for the transform.
type candidate struct {
	exportIdx int      // position in m.Exports
	shimIdx   uint32   // the exported arg-forwarding shim
	implIdx   uint32   // the locally defined implementation it calls
	slots     []retSlot
}

// Transform rewrites return-pointer exports into native multi-value
// signatures.
//
// An export qualifies when its type is (i32 retptr, p...) -> (), its body
// is exactly arg-forwarding around a single call of a locally defined
// implementation, and that implementation stores values at constant
// offsets from the return pointer. For each such export a replacement is
// synthesized that reserves the frame on the shadow stack, calls the
// implementation, re-reads the stored offsets as native results, and
// restores the stack pointer. Exports whose implementation is imported
// are left alone.
//
// A module with no linear memory or no qualifying export is untouched.
func Transform(m *wasm.Module) error {
	if len(m.Memories) == 0 && m.NumImportedMemories() == 0 {
		return nil
	}

	var candidates []candidate
	for i := range m.Exports {
		c, err := inspect(m, i)
		if err != nil {
			return err
		}
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sp, ok := stackPointer(m)
	if !ok {
		return errors.MissingStackPointer(m.Exports[candidates[0].exportIdx].Name)
	}

	for _, c := range candidates {
		if err := rewrite(m, c, sp); err != nil {
			return err
		}
	}
	return nil
}

// stackPointer returns the index of the first mutable i32 global. The
// compiler emits the shadow stack pointer before any other mutable
// global, so first-match is the ABI's own convention.
func stackPointer(m *wasm.Module) (uint32, bool) {
	idx := uint32(0)
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindGlobal {
			continue
		}
		if imp.Desc.Global.Mutable && imp.Desc.Global.ValType == wasm.ValI32 {
			return idx, true
		}
		idx++
	}
	for _, g := range m.Globals {
		if g.Type.Mutable && g.Type.ValType == wasm.ValI32 {
			return idx, true
		}
		idx++
	}
	return 0, false
}

// inspect decides whether export i qualifies and, if so, collects its
// return slots. A nil candidate with nil error means "not eligible".
func inspect(m *wasm.Module, i int) (*candidate, error) {
	exp := m.Exports[i]
	if exp.Kind != wasm.KindFunc {
		return nil, nil
	}
	ft := m.GetFuncType(exp.Idx)
	if ft == nil || len(ft.Results) != 0 || len(ft.Params) == 0 || ft.Params[0] != wasm.ValI32 {
		return nil, nil
	}
	body := m.BodyByIdx(exp.Idx)
	if body == nil {
		return nil, nil
	}

	implIdx, ok, err := forwardedCall(body, len(ft.Params))
	if err != nil || !ok {
		return nil, err
	}
	if m.BodyByIdx(implIdx) == nil {
		// Imported implementation: the store pattern is invisible, so
		// the export keeps its return-pointer shape.
		return nil, nil
	}

	slots, err := returnSlots(m, implIdx)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, nil
	}
	if len(slots) > 4 {
		return nil, errors.SlotOverflow([]string{exp.Name}, len(slots), 4)
	}
	return &candidate{exportIdx: i, shimIdx: exp.Idx, implIdx: implIdx, slots: slots}, nil
}

// forwardedCall matches a body of exactly local.get 0..n-1, call F, end
// and returns F.
func forwardedCall(body *wasm.FuncBody, nparams int) (uint32, bool, error) {
	if len(body.Locals) != 0 {
		return 0, false, nil
	}
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return 0, false, errors.Wrap(errors.PhaseTransform, errors.KindInvalidData, err, "export shim body")
	}
	if len(instrs) != nparams+2 {
		return 0, false, nil
	}
	for i := 0; i < nparams; i++ {
		if instrs[i].Opcode != wasm.OpLocalGet || instrs[i].Imm.(wasm.LocalImm).LocalIdx != uint32(i) {
			return 0, false, nil
		}
	}
	if instrs[nparams].Opcode != wasm.OpCall || instrs[nparams+1].Opcode != wasm.OpEnd {
		return 0, false, nil
	}
	return instrs[nparams].Imm.(wasm.CallImm).FuncIdx, true, nil
}

// returnSlots runs the store peephole over the implementation body:
// local.get 0 / <const|local.get|global.get> / T.store offset=k marks one
// native result of type T at offset k.
func returnSlots(m *wasm.Module, implIdx uint32) ([]retSlot, error) {
	body := m.BodyByIdx(implIdx)
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransform, errors.KindInvalidData, err, "implementation body")
	}

	byOffset := make(map[uint64]wasm.ValType)
	for i := 0; i+2 < len(instrs); i++ {
		if instrs[i].Opcode != wasm.OpLocalGet || instrs[i].Imm.(wasm.LocalImm).LocalIdx != 0 {
			continue
		}
		switch instrs[i+1].Opcode {
		case wasm.OpI32Const, wasm.OpI64Const, wasm.OpF32Const, wasm.OpF64Const,
			wasm.OpLocalGet, wasm.OpGlobalGet:
		default:
			continue
		}
		var vt wasm.ValType
		switch instrs[i+2].Opcode {
		case wasm.OpI32Store:
			vt = wasm.ValI32
		case wasm.OpI64Store:
			vt = wasm.ValI64
		case wasm.OpF32Store:
			vt = wasm.ValF32
		case wasm.OpF64Store:
			vt = wasm.ValF64
		default:
			continue
		}
		byOffset[instrs[i+2].Imm.(wasm.MemoryImm).Offset] = vt
	}

	slots := make([]retSlot, 0, len(byOffset))
	for off, vt := range byOffset {
		slots = append(slots, retSlot{Offset: off, Type: vt})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Offset < slots[j].Offset })
	return slots, nil
}

// rewrite synthesizes the native-signature replacement and repoints the
// export at it.
func rewrite(m *wasm.Module, c candidate, sp uint32) error {
	oldType := m.GetFuncType(c.shimIdx)
	params := oldType.Params[1:] // retptr dropped

	results := make([]wasm.ValType, len(c.slots))
	for i, s := range c.slots {
		results[i] = s.Type
	}
	newTypeIdx := m.AddType(wasm.FuncType{
		Params:  append([]wasm.ValType(nil), params...),
		Results: results,
	})

	frame := frameSize(c.slots)
	retLocal := uint32(len(params))

	instrs := []wasm.Instruction{
		{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: sp}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(frame)}},
		{Opcode: wasm.OpI32Sub},
		{Opcode: wasm.OpLocalTee, Imm: wasm.LocalImm{LocalIdx: retLocal}},
		{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: sp}},
		{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: retLocal}},
	}
	for i := range params {
		instrs = append(instrs, wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: uint32(i)}})
	}
	instrs = append(instrs, wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: c.implIdx}})
	for _, s := range c.slots {
		instrs = append(instrs,
			wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: retLocal}},
			wasm.Instruction{Opcode: loadOp(s.Type), Imm: wasm.MemoryImm{Offset: s.Offset, Align: alignOf(s.Type)}},
		)
	}
	instrs = append(instrs,
		wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: retLocal}},
		wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(frame)}},
		wasm.Instruction{Opcode: wasm.OpI32Add},
		wasm.Instruction{Opcode: wasm.OpGlobalSet, Imm: wasm.GlobalImm{GlobalIdx: sp}},
		wasm.Instruction{Opcode: wasm.OpEnd},
	)

	newIdx := m.AddFunc(newTypeIdx, wasm.FuncBody{
		Locals: []wasm.LocalEntry{{Count: 1, ValType: wasm.ValI32}},
		Code:   wasm.EncodeInstructions(instrs),
	})
	m.Exports[c.exportIdx].Idx = newIdx
	return nil
}

// frameSize pads the highest written slot to 16 bytes, the shadow stack's
// alignment unit.
func frameSize(slots []retSlot) uint64 {
	var end uint64
	for _, s := range slots {
		if e := s.Offset + uint64(sizeOf(s.Type)); e > end {
			end = e
		}
	}
	return (end + 15) &^ 15
}

func sizeOf(vt wasm.ValType) uint32 {
	switch vt {
	case wasm.ValI64, wasm.ValF64:
		return 8
	default:
		return 4
	}
}

func alignOf(vt wasm.ValType) uint32 {
	switch vt {
	case wasm.ValI64, wasm.ValF64:
		return 3
	default:
		return 2
	}
}

func loadOp(vt wasm.ValType) byte {
	switch vt {
	case wasm.ValI64:
		return wasm.OpI64Load
	case wasm.ValF32:
		return wasm.OpF32Load
	case wasm.ValF64:
		return wasm.OpF64Load
	default:
		return wasm.OpI32Load
	}
}
