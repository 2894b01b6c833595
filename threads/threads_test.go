package threads_test

import (
	"bytes"
	"testing"

	"github.com/wasmglue/wasmglue/threads"
	"github.com/wasmglue/wasmglue/wasm"
)

func TestMoveStartToExport(t *testing.T) {
	start := uint32(0)
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
		Start: &start,
	}

	if !threads.MoveStartToExport(m) {
		t.Fatal("MoveStartToExport = false with a start section present")
	}
	if m.Start != nil {
		t.Error("start section survived")
	}
	found := false
	for _, exp := range m.Exports {
		if exp.Name == threads.StartExport {
			found = true
			if exp.Kind != wasm.KindFunc || exp.Idx != 0 {
				t.Errorf("export = kind %d idx %d", exp.Kind, exp.Idx)
			}
		}
	}
	if !found {
		t.Fatalf("%s export missing", threads.StartExport)
	}
}

func TestMoveStartToExportNoStart(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
	}
	before := m.Encode()
	if threads.MoveStartToExport(m) {
		t.Fatal("MoveStartToExport = true without a start section")
	}
	if !bytes.Equal(before, m.Encode()) {
		t.Error("module without a start section was modified")
	}
}
