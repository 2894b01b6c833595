// Package shim is the host half of the closure ABI for Go embedders
// running pipeline output under wazero: a reference-counted closure heap
// and the __wbindgen_placeholder__ host module that feeds it.
package shim

import (
	"context"
	"strconv"

	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/errors"
)

// Handle identifies one registered closure. Zero is never issued.
type Handle uint32

// Invoker dispatches a call to a slot of the guest's exported function
// table. Embedders typically back this with a guest-exported trampoline
// around call_indirect.
type Invoker interface {
	CallTable(ctx context.Context, slot uint32, args []uint64) ([]uint64, error)
}

// entry is one live closure. code packs the invoke table slot in its
// upper bits; bit 0 set means shared mode and the runtime arms the
// unwind guard before dispatch.
type entry struct {
	code      uint32
	env       uint32
	mode      descriptor.CallMode
	invoking  int
	destroyed bool
	dropLater bool
}

// Heap is a reference-counted registry of guest closures. It is
// single-threaded like the rest of the pipeline; callers serialize
// access themselves.
type Heap struct {
	inv     Invoker
	entries map[Handle]*entry
	next    Handle
}

// NewHeap returns an empty heap dispatching through inv.
func NewHeap(inv Invoker) *Heap {
	return &Heap{inv: inv, entries: make(map[Handle]*entry), next: 1}
}

// Register stores a closure and returns its handle. code is the packed
// code handle from the closure transform, env the closure's data word.
func (h *Heap) Register(code, env uint32, mode descriptor.CallMode) Handle {
	hd := h.next
	h.next++
	h.entries[hd] = &entry{code: code, env: env, mode: mode}
	return hd
}

// Invoke calls the closure behind handle with env prepended to args.
//
// The active-invocation count makes recursion safe: a closure may invoke
// itself, and a Drop that arrives while any invocation is on the stack
// is deferred until the outermost one returns. Call-once closures are
// destroyed after their first completed invocation. Invoking a destroyed
// closure or one with a null code pointer is a reported error, never a
// silent no-op.
func (h *Heap) Invoke(ctx context.Context, handle Handle, args ...uint64) ([]uint64, error) {
	e, ok := h.entries[handle]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "closure", handleName(handle))
	}
	if e.destroyed {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Symbol(handleName(handle)).
			Detail("closure invoked after drop").
			Build()
	}
	if e.code == 0 {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Symbol(handleName(handle)).
			Detail("closure has a null code pointer").
			Build()
	}

	e.invoking++
	callArgs := make([]uint64, 0, len(args)+1)
	callArgs = append(callArgs, uint64(e.env))
	callArgs = append(callArgs, args...)
	results, err := h.inv.CallTable(ctx, e.code>>1, callArgs)
	e.invoking--

	if e.invoking == 0 {
		if e.mode == descriptor.ModeCallOnce && err == nil {
			e.destroyed = true
		}
		if e.dropLater {
			e.destroyed = true
		}
	}
	return results, err
}

// Drop releases a closure. While an invocation of it is still on the
// stack the free is deferred; dropping twice is a reported error.
func (h *Heap) Drop(handle Handle) error {
	e, ok := h.entries[handle]
	if !ok {
		return errors.NotFound(errors.PhaseRuntime, "closure", handleName(handle))
	}
	if e.destroyed || e.dropLater {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Symbol(handleName(handle)).
			Detail("closure dropped twice").
			Build()
	}
	if e.invoking > 0 {
		e.dropLater = true
		return nil
	}
	e.destroyed = true
	return nil
}

// Live reports whether handle refers to a closure that can still be
// invoked.
func (h *Heap) Live(handle Handle) bool {
	e, ok := h.entries[handle]
	return ok && !e.destroyed
}

func handleName(h Handle) string {
	return "closure#" + strconv.FormatUint(uint64(h), 10)
}
