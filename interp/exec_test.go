package interp

import (
	stderrors "errors"
	"testing"

	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

func TestStepBudget(t *testing.T) {
	old := stepBudget
	stepBudget = 64
	defer func() { stepBudget = old }()

	// A self-recursive function can never be a describe function; the
	// budget must cut it off instead of exhausting the stack.
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				{Opcode: wasm.OpEnd},
			})},
		},
		Exports: []wasm.Export{
			{Name: "__wbindgen_describe_loop", Kind: wasm.KindFunc, Idx: 0},
		},
	}

	in, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = in.Run()
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindStepBudget {
		t.Fatalf("err = %v, want step_budget", err)
	}
}

func TestAnalyzeUnbalanced(t *testing.T) {
	instrs := []wasm.Instruction{
		{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: -64}},
		{Opcode: wasm.OpEnd},
	}
	if _, err := analyze("f", instrs[:1]); err == nil {
		t.Error("unterminated block was accepted")
	}
	if _, err := analyze("f", instrs); err != nil {
		t.Errorf("balanced block rejected: %v", err)
	}
}

func TestBranchDiscardsBlockOperands(t *testing.T) {
	// A br out of a void block must reset the operand stack to the block's
	// entry height; the 99 pushed inside the block is dead, and the
	// describe call after the end must see the 1 pushed before it.
	m := &wasm.Module{
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
		Funcs: []uint32{1},
		Code: []wasm.FuncBody{
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
				{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeVoid}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 99}},
				{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				{Opcode: wasm.OpEnd},
			})},
		},
	}

	in, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, err := in.newExec("f")
	if err != nil {
		t.Fatalf("newExec: %v", err)
	}
	if err := e.call(1, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(e.stream) != 1 || e.stream[0] != 1 {
		t.Errorf("stream = %v, want [1]", e.stream)
	}
	if len(e.stack) != 0 {
		t.Errorf("stack = %v, want empty", e.stack)
	}
}

func TestBranchKeepsBlockResult(t *testing.T) {
	// A block with an i32 result: the br carries the top value out as the
	// label's result while anything beneath it inside the block is dropped.
	m := &wasm.Module{
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
		Funcs: []uint32{1},
		Code: []wasm.FuncBody{
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 42}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 7}},
				{Opcode: wasm.OpBr, Imm: wasm.BranchImm{LabelIdx: 0}},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				{Opcode: wasm.OpEnd},
			})},
		},
	}

	in, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, err := in.newExec("f")
	if err != nil {
		t.Fatalf("newExec: %v", err)
	}
	if err := e.call(1, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(e.stream) != 1 || e.stream[0] != 7 {
		t.Errorf("stream = %v, want [7]", e.stream)
	}
}

func TestBranchSkipsDescribe(t *testing.T) {
	m := &wasm.Module{
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
		Funcs: []uint32{1},
		Code: []wasm.FuncBody{
			{Code: wasm.EncodeInstructions([]wasm.Instruction{
				{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: -64}},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 1}},
				{Opcode: wasm.OpBrIf, Imm: wasm.BranchImm{LabelIdx: 0}},
				// Skipped by the taken branch.
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 9}},
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 8}},
				{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: 0}},
				{Opcode: wasm.OpEnd},
			})},
		},
	}

	in, err := New(m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e, err := in.newExec("f")
	if err != nil {
		t.Fatalf("newExec: %v", err)
	}
	if err := e.call(1, nil); err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(e.stream) != 1 || e.stream[0] != 8 {
		t.Errorf("stream = %v, want [8]", e.stream)
	}
}
