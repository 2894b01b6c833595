// Package interp recovers type descriptors from a compiled WebAssembly
// binary by executing its describe functions.
//
// # Overview
//
// The bindings generator plants a temporary export named
// __wbindgen_describe_<key> for every described item. Each one is a small
// function that calls the __wbindgen_describe intrinsic once per word of
// a flat descriptor stream. The interpreter executes those exports under
// a restricted instruction subset, collects the streams, and decodes them
// with the descriptor package.
//
// Closure wrappers are discovered by scanning for calls to
// __wbindgen_describe_closure. Each such function is executed the same
// way, its invoke/destructor table indices and call mode recorded, and
// the function itself rewritten into a __wbindgen_placeholder__ import so
// the host can supply the real wrapper at instantiation time.
//
// # Restricted subset
//
// Describe functions are straight-line scaffolding emitted by a compiler,
// never user code. Only the opcodes that scaffolding can contain are
// executed: i32.const, local and global access, i32.add/sub, i32 loads
// and stores against a scratch shadow stack, direct calls, drop, select,
// return, and forward-only structured control flow. Any other opcode
// aborts the run, as does any call to an imported function outside the
// known intrinsic table.
//
// # Usage
//
//	in, err := interp.New(mod)
//	if err != nil { ... }
//	res, err := in.Run()
//	if err != nil { ... }
//	fn := res.Descriptors["add"]
//
// Run mutates the module: describe exports are deleted, closure wrappers
// become imports, and the harvested result is attached as the
// __wasmglue_descriptors custom section.
package interp
