package interp_test

import (
	stderrors "errors"
	"testing"

	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/interp"
	"github.com/wasmglue/wasmglue/wasm"
)

// describeBody emits one __wbindgen_describe call per stream word.
func describeBody(describeIdx uint32, words []uint32) []byte {
	var instrs []wasm.Instruction
	for _, w := range words {
		instrs = append(instrs,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(w)}},
			wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: describeIdx}},
		)
	}
	instrs = append(instrs, wasm.Instruction{Opcode: wasm.OpEnd})
	return wasm.EncodeInstructions(instrs)
}

func describeModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{
				Module: "__wbindgen_placeholder__",
				Name:   "__wbindgen_describe",
				Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
			},
		},
	}
}

func TestRunDescribeExport(t *testing.T) {
	m := describeModule()
	// fn(u32, u32) -> u32
	stream := []uint32{
		uint32(descriptor.TagFunction), 0, 2,
		uint32(descriptor.TagU32), uint32(descriptor.TagU32),
		uint32(descriptor.TagU32),
	}
	m.Funcs = []uint32{1}
	m.Code = []wasm.FuncBody{{Code: describeBody(0, stream)}}
	m.Exports = []wasm.Export{
		{Name: "__wbindgen_describe_add", Kind: wasm.KindFunc, Idx: 1},
	}

	in, err := interp.New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := in.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	desc := res.Descriptors["add"]
	if desc == nil {
		t.Fatal("descriptor for add not recovered")
	}
	if desc.Tag != descriptor.TagFunction {
		t.Fatalf("tag = %s, want function", desc.Tag)
	}
	if got := desc.String(); got != "fn(u32, u32) -> u32" {
		t.Errorf("String() = %q", got)
	}

	for _, exp := range m.Exports {
		if exp.Name == "__wbindgen_describe_add" {
			t.Error("describe export was not deleted")
		}
	}
	if m.CustomSectionData(descriptor.SectionName) == nil {
		t.Error("descriptor section was not attached")
	}
}

func TestRunControlFlow(t *testing.T) {
	m := describeModule()
	body := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
		{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: -64}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(descriptor.TagI32)}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
		{Opcode: wasm.OpElse},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(descriptor.TagF64)}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
		{Opcode: wasm.OpEnd},
		{Opcode: wasm.OpEnd},
	})
	m.Funcs = []uint32{1}
	m.Code = []wasm.FuncBody{{Code: body}}
	m.Exports = []wasm.Export{
		{Name: "__wbindgen_describe_pick", Kind: wasm.KindFunc, Idx: 1},
	}

	in, err := interp.New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := in.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Descriptors["pick"].Tag; got != descriptor.TagI32 {
		t.Errorf("tag = %s, want i32", got)
	}
}

func TestRunScratchMemory(t *testing.T) {
	m := describeModule()
	// Store a tag word on the shadow stack, read it back, describe it.
	body := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 16}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(descriptor.TagExternref)}},
		{Opcode: wasm.OpI32Store, Imm: wasm.MemoryImm{Align: 2}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 16}},
		{Opcode: wasm.OpI32Load, Imm: wasm.MemoryImm{Align: 2}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
		{Opcode: wasm.OpEnd},
	})
	m.Funcs = []uint32{1}
	m.Code = []wasm.FuncBody{{Code: body}}
	m.Exports = []wasm.Export{
		{Name: "__wbindgen_describe_handle", Kind: wasm.KindFunc, Idx: 1},
	}

	in, err := interp.New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := in.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Descriptors["handle"].Tag; got != descriptor.TagExternref {
		t.Errorf("tag = %s, want externref", got)
	}
}

func TestRunClosureScan(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{
				Module: "__wbindgen_placeholder__",
				Name:   "__wbindgen_describe",
				Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
			},
			{
				Module: "__wbindgen_placeholder__",
				Name:   "__wbindgen_describe_closure",
				Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1},
			},
		},
	}

	// closure[shared]() -> unit
	stream := []uint32{
		uint32(descriptor.TagClosure), uint32(descriptor.ModeShared),
		0, 0, uint32(descriptor.TagUnit),
	}
	var wrapper []wasm.Instruction
	for _, w := range stream {
		wrapper = append(wrapper,
			wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(w)}},
			wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
		)
	}
	wrapper = append(wrapper,
		wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 5}},
		wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 6}},
		wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(descriptor.ModeShared)}},
		wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 1}},
		wasm.Instruction{Opcode: wasm.OpDrop},
		wasm.Instruction{Opcode: wasm.OpEnd},
	)

	// A second defined function keeps calling the wrapper so the remap
	// after conversion is observable.
	caller := []wasm.Instruction{
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 2}},
		{Opcode: wasm.OpEnd},
	}

	m.Funcs = []uint32{2, 2}
	m.Code = []wasm.FuncBody{
		{Code: wasm.EncodeInstructions(wrapper)},
		{Code: wasm.EncodeInstructions(caller)},
	}

	in, err := interp.New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := in.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := m.NumImportedFuncs(); got != 3 {
		t.Fatalf("imported funcs = %d, want 3", got)
	}
	imp := m.Imports[2]
	if imp.Module != "__wbindgen_placeholder__" || imp.Name != "__wbindgen_closure_wrapper2" {
		t.Errorf("converted import = %s/%s", imp.Module, imp.Name)
	}

	rec, ok := res.Closures[2]
	if !ok {
		t.Fatalf("no closure record at import index 2: %v", res.Closures)
	}
	if rec.InvokeIdx != 5 || rec.DtorIdx != 6 || rec.Mode != descriptor.ModeShared {
		t.Errorf("record = invoke %d dtor %d mode %s", rec.InvokeIdx, rec.DtorIdx, rec.Mode)
	}
	if rec.Descriptor.Tag != descriptor.TagClosure {
		t.Errorf("descriptor tag = %s, want closure", rec.Descriptor.Tag)
	}

	// The caller is now the only defined function and its call target
	// must point at the new import.
	if len(m.Code) != 1 {
		t.Fatalf("defined funcs = %d, want 1", len(m.Code))
	}
	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if got := instrs[0].Imm.(wasm.CallImm).FuncIdx; got != 2 {
		t.Errorf("remapped call target = %d, want 2", got)
	}
}

func TestRunUnknownOpcode(t *testing.T) {
	m := describeModule()
	body := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 2}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 3}},
		{Opcode: wasm.OpI32Mul},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
		{Opcode: wasm.OpEnd},
	})
	m.Funcs = []uint32{1}
	m.Code = []wasm.FuncBody{{Code: body}}
	m.Exports = []wasm.Export{
		{Name: "__wbindgen_describe_bad", Kind: wasm.KindFunc, Idx: 1},
	}

	in, err := interp.New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = in.Run()
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindUnknownOpcode {
		t.Fatalf("err = %v, want unknown_opcode", err)
	}
	if e.Symbol != "__wbindgen_describe_bad" {
		t.Errorf("symbol = %q", e.Symbol)
	}
}

func TestRunUnknownIntrinsic(t *testing.T) {
	m := describeModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env",
		Name:   "get_entropy",
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1},
	})
	body := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 1}},
		{Opcode: wasm.OpEnd},
	})
	m.Funcs = []uint32{1}
	m.Code = []wasm.FuncBody{{Code: body}}
	m.Exports = []wasm.Export{
		{Name: "__wbindgen_describe_x", Kind: wasm.KindFunc, Idx: 2},
	}

	in, err := interp.New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = in.Run()
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindUnknownIntrinsic {
		t.Fatalf("err = %v, want unknown_intrinsic", err)
	}
}

func TestRunGlueIntrinsicIsInert(t *testing.T) {
	m := describeModule()
	// (i32) -> (i32) predicate import; its zero result feeds a select
	// between two tag words.
	m.Types = append(m.Types, wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
	m.Imports = append(m.Imports, wasm.Import{
		Module: "__wbindgen_placeholder__",
		Name:   "__wbindgen_is_undefined",
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 2},
	})
	body := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(descriptor.TagI64)}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: int32(descriptor.TagF32)}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 7}},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 1}},
		{Opcode: wasm.OpSelect},
		{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
		{Opcode: wasm.OpEnd},
	})
	m.Funcs = []uint32{1}
	m.Code = []wasm.FuncBody{{Code: body}}
	m.Exports = []wasm.Export{
		{Name: "__wbindgen_describe_sel", Kind: wasm.KindFunc, Idx: 2},
	}

	in, err := interp.New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := in.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The intrinsic returned zero, so select takes the second operand.
	if got := res.Descriptors["sel"].Tag; got != descriptor.TagF32 {
		t.Errorf("tag = %s, want f32", got)
	}
}

func TestRunNoDescriptors(t *testing.T) {
	m := &wasm.Module{
		Types:   []wasm.FuncType{{}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
		Exports: []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 0}},
	}
	in, err := interp.New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := in.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Descriptors) != 0 || len(res.Closures) != 0 {
		t.Errorf("unexpected harvest: %v", res)
	}
	if m.CustomSectionData(descriptor.SectionName) != nil {
		t.Error("section attached to a module without descriptors")
	}
	if len(m.Exports) != 1 {
		t.Error("unrelated export was deleted")
	}
}
