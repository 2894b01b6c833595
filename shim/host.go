package shim

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/wasm"
)

const placeholderModule = "__wbindgen_placeholder__"
const wrapperPrefix = "__wbindgen_closure_wrapper"

// HostModule instantiates the __wbindgen_placeholder__ module a
// transformed binary imports from.
//
// Every __wbindgen_closure_wrapper<N> import registers its closure in
// heap using the code handle recorded for import index N and returns the
// handle. __wbindgen_throw reads the guest's panic message out of linear
// memory and raises it. Remaining glue imports are satisfied with inert
// stubs so instantiation never fails on an intrinsic the embedder does
// not care about.
func HostModule(ctx context.Context, r wazero.Runtime, heap *Heap, m *wasm.Module, res *descriptor.Result) (api.Module, error) {
	builder := r.NewHostModuleBuilder(placeholderModule)

	funcIdx := uint32(0)
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		idx := funcIdx
		funcIdx++
		if imp.Module != placeholderModule {
			continue
		}

		ft := &m.Types[imp.Desc.TypeIdx]
		params := valueTypes(ft.Params)
		results := valueTypes(ft.Results)

		switch {
		case strings.HasPrefix(imp.Name, wrapperPrefix):
			rec, ok := res.Closures[idx]
			if !ok {
				return nil, fmt.Errorf("shim: no closure record for import %q (index %d)", imp.Name, idx)
			}
			builder.NewFunctionBuilder().
				WithGoModuleFunction(wrapperFunc(heap, rec), params, results).
				Export(imp.Name)

		case imp.Name == "__wbindgen_throw":
			builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(throwFunc), params, results).
				Export(imp.Name)

		default:
			builder.NewFunctionBuilder().
				WithGoModuleFunction(stubFunc(len(ft.Results)), params, results).
				Export(imp.Name)
		}
	}

	// An empty instance when nothing imports the placeholder module
	// keeps the caller's wiring uniform.
	return builder.Instantiate(ctx)
}

// wrapperFunc registers a closure on first call and yields its handle.
// The guest passes the closure's data and vtable words; the vtable is
// already encoded in the record's code handle.
func wrapperFunc(heap *Heap, rec descriptor.Closure) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		var env uint32
		if len(stack) > 0 {
			env = uint32(stack[0])
		}
		h := heap.Register(rec.CodeHandle, env, rec.Mode)
		if len(stack) > 0 {
			stack[0] = uint64(h)
		}
	}
}

// throwFunc propagates a guest panic: (ptr, len) into linear memory.
func throwFunc(ctx context.Context, mod api.Module, stack []uint64) {
	msg := "guest panic"
	if len(stack) >= 2 && mod.Memory() != nil {
		if b, ok := mod.Memory().Read(uint32(stack[0]), uint32(stack[1])); ok {
			msg = string(b)
		}
	}
	panic(msg)
}

// stubFunc zeroes the results and otherwise ignores the call.
func stubFunc(results int) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		for i := 0; i < results; i++ {
			stack[i] = 0
		}
	}
}

func valueTypes(vts []wasm.ValType) []api.ValueType {
	out := make([]api.ValueType, len(vts))
	for i, vt := range vts {
		switch vt {
		case wasm.ValI64:
			out[i] = api.ValueTypeI64
		case wasm.ValF32:
			out[i] = api.ValueTypeF32
		case wasm.ValF64:
			out[i] = api.ValueTypeF64
		case wasm.ValExtern:
			out[i] = api.ValueTypeExternref
		default:
			out[i] = api.ValueTypeI32
		}
	}
	return out
}
