// Package wasmglue post-processes WebAssembly binaries produced by
// bindgen-style code generators, recovering the high-level type
// signatures the compiler erased and rewriting the module to a clean
// host-facing ABI.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	wasmglue/            Root package documentation
//	├── pipeline/        High-level API running every pass in order
//	├── interp/          Bounded interpreter that harvests descriptors
//	├── descriptor/      Descriptor type trees, codec, custom section
//	├── multivalue/      Return-pointer shims to native multi-value
//	├── closures/        Closure table wiring and code handles
//	├── threads/         Start-section relocation
//	├── normalize/       Deterministic export renaming
//	├── shim/            wazero host module and closure heap
//	├── wasm/            Core WASM binary manipulation primitives
//	└── errors/          Structured error types shared by all passes
//
// # Quick Start
//
// Transform a binary and inspect what was recovered:
//
//	data, _ := os.ReadFile("app.wasm")
//	out, res, err := pipeline.Process(data, pipeline.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for name, desc := range res.Descriptors {
//	    fmt.Printf("%s: %s\n", name, desc)
//	}
//
// out is the rewritten binary. The recovered metadata is also embedded
// in it as the __wasmglue_descriptors custom section, so later tooling
// can read it back with descriptor.Detach without re-running the
// interpreter.
//
// # Running the Output
//
// The shim package hosts the glue imports under wazero. Closure
// wrappers registered by the guest become handles in a refcounted heap:
//
//	heap := shim.NewHeap(invoker)
//	host, err := shim.HostModule(ctx, rt, heap, mod, res)
//
// # Determinism
//
// Every pass is deterministic: the same input binary and options
// produce byte-identical output. Export normalization is idempotent,
// so re-running the pipeline over its own output is safe.
package wasmglue
