// Package errors provides structured error types for the toolchain.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type includes rich context: a path into
// the structure being processed, the symbol involved, and a cause
// chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInterpret, errors.KindUnknownOpcode).
//		Symbol("__wbindgen_describe_add").
//		Detail("opcode 0x03 outside the descriptor subset").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownOpcode("__wbindgen_describe_add", 0x03)
//	err := errors.SlotOverflow(path, 6, 4)
//
// All errors implement the standard error interface and support
// errors.Is/As.
package errors
