// Package wasm provides WebAssembly binary format parsing and encoding.
//
// This package implements a parser and encoder for WebAssembly binary
// modules according to the WebAssembly 2.0 specification, covering the
// feature surface emitted by ahead-of-time compilers targeting wasm32:
//
//	  - Core value types (i32, i64, f32, f64)
//	  - Functions, tables, memories, globals
//	  - Control flow, calls, local/global access
//	  - Tail calls (return_call, return_call_indirect)
//	  - SIMD (128-bit vector operations, v128 type)
//	  - Threads (atomic operations, shared memory)
//	  - Bulk memory (memory.copy, memory.fill, data.drop)
//	  - Reference types (funcref, externref, ref.null, ref.func)
//	  - Multi-memory memargs
//	  - Custom sections
//
// GC heap types and exception handling are rejected with explicit
// errors; bindings-bearing binaries never contain them.
//
// # Parsing
//
// Parse a WebAssembly module from binary:
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Parse with validation enabled:
//
//	module, err := wasm.ParseModuleValidate(data)
//
// # Encoding
//
// Encode a module back to binary:
//
//	encoded := module.Encode()
//
// Round-trip parsing and encoding preserves module semantics, and a
// module that is parsed and re-encoded unchanged produces byte-identical
// output for canonical inputs.
//
// # Instructions
//
// Function bodies are kept as raw bytecode and decoded on demand:
//
//	instructions, err := wasm.DecodeInstructions(body.Code)
//	encoded := wasm.EncodeInstructions(instructions)
//
// # Index rewriting
//
// RemapFuncs rewrites the function index space across call sites,
// ref.func immediates, element segments, exports, and the start
// function. Transforms that insert or remove functions use it to keep
// the module consistent:
//
//	err := wasm.RemapFuncs(module, func(idx uint32) uint32 {
//	    if idx >= insertedAt {
//	        return idx + 1
//	    }
//	    return idx
//	})
package wasm
