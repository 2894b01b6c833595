// Package closures finalizes the heap-closure ABI: every closure record
// the interpreter harvested gets a packed code handle the host can
// invoke through the exported function table.
package closures

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

const (
	// FuncTableExport is the conventional export name of the funcref
	// table the code handles index into.
	FuncTableExport = "__indirect_function_table"

	// ExternrefTableExport is the conventional export name of the table
	// holding opaque host values.
	ExternrefTableExport = "__wbindgen_externref_table"
)

// sharedBit is folded into bit 0 of a shared-mode code handle so the
// runtime knows to arm the unwind guard before invoking.
const sharedBit = 1

// Transform completes the closure records the interpreter harvested.
//
// For every record it resolves the invoke and destructor table slots to
// functions, validates the signature against the primitive-slot
// contract, synthesizes a call-once wrapper or a no-op destructor where
// needed, and packs the final code handle (tableIdx<<1, bit 0 set for
// shared mode). The funcref table is exported under its conventional
// name, an externref table is ensured when any signature carries an
// opaque handle, and the updated records are written back to the
// descriptor custom section.
func Transform(m *wasm.Module, res *descriptor.Result) error {
	if len(res.Closures) == 0 {
		return nil
	}

	tbl, err := newTableSpace(m)
	if err != nil {
		return err
	}

	keys := make([]uint32, 0, len(res.Closures))
	for k := range res.Closures {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	needExternref := false
	for _, key := range keys {
		rec := res.Closures[key]

		fn := rec.Descriptor.Func
		if fn == nil {
			panic(fmt.Sprintf("closures: record %d carries no function payload", key))
		}
		if err := validateSlots(key, fn); err != nil {
			return err
		}
		if carriesExternref(rec.Descriptor) {
			needExternref = true
		}

		invokeFunc, ok := tbl.resolve(rec.InvokeIdx)
		if !ok {
			panic(fmt.Sprintf("closures: invoke slot %d of record %d is not in the function table", rec.InvokeIdx, key))
		}

		if rec.DtorIdx == 0 {
			dtorFunc := synthesizeNoopDtor(m)
			rec.DtorIdx = tbl.append(dtorFunc)
		}

		handleSlot := rec.InvokeIdx
		if rec.Mode == descriptor.ModeCallOnce {
			dtorFunc, ok := tbl.resolve(rec.DtorIdx)
			if !ok {
				panic(fmt.Sprintf("closures: destructor slot %d of record %d is not in the function table", rec.DtorIdx, key))
			}
			wrapper := synthesizeCallOnce(m, invokeFunc, dtorFunc, key)
			handleSlot = tbl.append(wrapper)
		}

		rec.CodeHandle = handleSlot << 1
		if rec.Mode == descriptor.ModeShared {
			rec.CodeHandle |= sharedBit
		}
		res.Closures[key] = rec
	}

	tbl.flush(m)
	ensureTableExport(m, FuncTableExport, tbl.tableIdx)
	if needExternref {
		idx, err := ensureExternrefTable(m)
		if err != nil {
			return err
		}
		ensureTableExport(m, ExternrefTableExport, idx)
	}

	descriptor.Attach(m, res)
	return nil
}

// validateSlots checks every argument and the return value against the
// primitive-slot contract.
func validateSlots(key uint32, fn *descriptor.Function) error {
	for i, arg := range fn.Args {
		if _, err := descriptor.Slots(arg); err != nil {
			return errors.Wrap(errors.PhaseTransform, errors.KindSlotOverflow, err,
				fmt.Sprintf("closure %d argument %d", key, i))
		}
	}
	if fn.Ret != nil {
		if _, err := descriptor.Slots(fn.Ret); err != nil {
			return errors.Wrap(errors.PhaseTransform, errors.KindSlotOverflow, err,
				fmt.Sprintf("closure %d return", key))
		}
	}
	return nil
}

func carriesExternref(d *descriptor.Descriptor) bool {
	if d == nil {
		return false
	}
	if d.Tag == descriptor.TagExternref || d.Tag == descriptor.TagNamedExternref {
		return true
	}
	if carriesExternref(d.Inner) {
		return true
	}
	if d.Func != nil {
		for _, arg := range d.Func.Args {
			if carriesExternref(arg) {
				return true
			}
		}
		if carriesExternref(d.Func.Ret) {
			return true
		}
	}
	return false
}

// synthesizeNoopDtor adds a (i32, i32) -> () function with an empty body
// for records whose closure has nothing to free.
func synthesizeNoopDtor(m *wasm.Module) uint32 {
	typeIdx := m.AddType(wasm.FuncType{
		Params: []wasm.ValType{wasm.ValI32, wasm.ValI32},
	})
	return m.AddFunc(typeIdx, wasm.FuncBody{Code: []byte{wasm.OpEnd}})
}

// synthesizeCallOnce wraps invoke so the destructor runs immediately
// after the first call. The wrapper shares invoke's signature; the first
// two parameters are the closure's data and vtable pointers, which the
// destructor receives as well.
func synthesizeCallOnce(m *wasm.Module, invokeFunc, dtorFunc, key uint32) uint32 {
	ft := m.GetFuncType(invokeFunc)
	if ft == nil || len(ft.Params) < 2 {
		panic(fmt.Sprintf("closures: invoke of record %d lacks closure data parameters", key))
	}

	instrs := make([]wasm.Instruction, 0, len(ft.Params)+6)
	for i := range ft.Params {
		instrs = append(instrs, wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: uint32(i)}})
	}
	instrs = append(instrs,
		wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: invokeFunc}},
		wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 0}},
		wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: 1}},
		wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: dtorFunc}},
		wasm.Instruction{Opcode: wasm.OpEnd},
	)

	typeIdx := m.AddType(wasm.FuncType{
		Params:  append([]wasm.ValType(nil), ft.Params...),
		Results: append([]wasm.ValType(nil), ft.Results...),
	})
	return m.AddFunc(typeIdx, wasm.FuncBody{Code: wasm.EncodeInstructions(instrs)})
}

// tableSpace tracks the funcref table's statically known slots and the
// entries appended during the transform.
type tableSpace struct {
	slots    map[uint32]uint32 // table slot -> function index
	tableIdx uint32
	size     uint32
	appended []uint32
}

func newTableSpace(m *wasm.Module) (*tableSpace, error) {
	idx, size, found := findFuncrefTable(m)
	if !found {
		return nil, errors.NotFound(errors.PhaseTransform, "table", "funcref")
	}
	ts := &tableSpace{slots: make(map[uint32]uint32), tableIdx: idx, size: size}

	for _, el := range m.Elements {
		if el.Flags&0x01 != 0 || el.TableIdx != idx {
			continue // passive or declarative, or another table
		}
		base, ok := constOffset(el.Offset)
		if !ok {
			continue
		}
		for i, f := range el.FuncIdxs {
			ts.slots[base+uint32(i)] = f
		}
		for i, expr := range el.Exprs {
			if f, ok := refFuncTarget(expr); ok {
				ts.slots[base+uint32(i)] = f
			}
		}
	}
	return ts, nil
}

func (ts *tableSpace) resolve(slot uint32) (uint32, bool) {
	f, ok := ts.slots[slot]
	return f, ok
}

// append reserves the next table slot for funcIdx.
func (ts *tableSpace) append(funcIdx uint32) uint32 {
	slot := ts.size + uint32(len(ts.appended))
	ts.appended = append(ts.appended, funcIdx)
	ts.slots[slot] = funcIdx
	return slot
}

// flush grows the table and emits one element segment for the appended
// slots.
func (ts *tableSpace) flush(m *wasm.Module) {
	if len(ts.appended) == 0 {
		return
	}
	newSize := ts.size + uint32(len(ts.appended))

	nit := uint32(m.NumImportedTables())
	if ts.tableIdx >= nit {
		t := &m.Tables[ts.tableIdx-nit]
		if t.Limits.Min < uint64(newSize) {
			t.Limits.Min = uint64(newSize)
		}
		if t.Limits.Max != nil && *t.Limits.Max < uint64(newSize) {
			*t.Limits.Max = uint64(newSize)
		}
	}

	var offset bytes.Buffer
	offset.WriteByte(wasm.OpI32Const)
	wasm.WriteLEB128s(&offset, int32(ts.size))
	offset.WriteByte(wasm.OpEnd)

	el := wasm.Element{
		Flags:    0,
		Offset:   offset.Bytes(),
		FuncIdxs: append([]uint32(nil), ts.appended...),
	}
	if ts.tableIdx != 0 {
		el.Flags = 2
		el.TableIdx = ts.tableIdx
	}
	m.Elements = append(m.Elements, el)
}

func findFuncrefTable(m *wasm.Module) (idx, size uint32, found bool) {
	i := uint32(0)
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindTable {
			continue
		}
		if imp.Desc.Table.ElemType == byte(wasm.ValFuncRef) {
			return i, uint32(imp.Desc.Table.Limits.Min), true
		}
		i++
	}
	for _, t := range m.Tables {
		if t.ElemType == byte(wasm.ValFuncRef) {
			return i, uint32(t.Limits.Min), true
		}
		i++
	}
	return 0, 0, false
}

// ensureExternrefTable returns the index of an externref table, defining
// one when the module has none.
func ensureExternrefTable(m *wasm.Module) (uint32, error) {
	i := uint32(0)
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindTable {
			continue
		}
		if imp.Desc.Table.ElemType == byte(wasm.ValExtern) {
			return i, nil
		}
		i++
	}
	for _, t := range m.Tables {
		if t.ElemType == byte(wasm.ValExtern) {
			return i, nil
		}
		i++
	}
	m.Tables = append(m.Tables, wasm.TableType{
		ElemType: byte(wasm.ValExtern),
		Limits:   wasm.Limits{Min: 128},
	})
	return uint32(m.NumImportedTables()) + uint32(len(m.Tables)) - 1, nil
}

func ensureTableExport(m *wasm.Module, name string, tableIdx uint32) {
	for i := range m.Exports {
		if m.Exports[i].Name == name {
			m.Exports[i].Kind = wasm.KindTable
			m.Exports[i].Idx = tableIdx
			return
		}
	}
	m.Exports = append(m.Exports, wasm.Export{Name: name, Kind: wasm.KindTable, Idx: tableIdx})
}

// constOffset extracts the base from an "i32.const n; end" offset expr.
func constOffset(expr []byte) (uint32, bool) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil || len(instrs) != 2 || instrs[0].Opcode != wasm.OpI32Const {
		return 0, false
	}
	return uint32(instrs[0].Imm.(wasm.I32Imm).Value), true
}

// refFuncTarget extracts the function from a "ref.func n; end" element
// expr; ref.null entries resolve to nothing.
func refFuncTarget(expr []byte) (uint32, bool) {
	instrs, err := wasm.DecodeInstructions(expr)
	if err != nil || len(instrs) != 2 || instrs[0].Opcode != wasm.OpRefFunc {
		return 0, false
	}
	return instrs[0].Imm.(wasm.RefFuncImm).FuncIdx, true
}
