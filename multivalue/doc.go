// Package multivalue rewrites return-pointer exports into native
// multi-value WebAssembly signatures.
//
// Compilers targeting the single-return MVP lower multiple return values
// through an out-parameter: the caller passes a pointer into the shadow
// stack and the callee stores each value at a fixed offset. When the
// engine supports the multi-value proposal those exports can return their
// values natively instead.
//
// The transform finds exports of shape (i32 retptr, p...) -> () whose
// body merely forwards its arguments to one locally defined
// implementation, recovers the stored (offset, type) pairs from that
// implementation with a store peephole, and synthesizes a replacement
//
//	(p...) -> (T0, T1, ...)
//
// that reserves the frame itself, calls the implementation, loads the
// offsets back, restores the stack pointer, and returns the values.
// The export is repointed at the replacement; the old shim stays behind
// unexported.
package multivalue
