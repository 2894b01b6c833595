// Package threads relocates the start section so instantiation no longer
// runs module initialization implicitly.
//
// Hosts that place a module's memory themselves (shared-memory setups in
// particular) must instantiate first and run initialization afterwards.
// Moving the start function to a conventional export gives them that
// control: the host calls __wbindgen_start once the instance is wired up.
package threads

import "github.com/wasmglue/wasmglue/wasm"

// StartExport is the name the relocated start function is exported under.
const StartExport = "__wbindgen_start"

// MoveStartToExport clears the module's start section and exports the
// function as __wbindgen_start instead. It reports whether the module had
// a start section; a module without one is left untouched.
func MoveStartToExport(m *wasm.Module) bool {
	if m.Start == nil {
		return false
	}
	m.Exports = append(m.Exports, wasm.Export{
		Name: StartExport,
		Kind: wasm.KindFunc,
		Idx:  *m.Start,
	})
	m.Start = nil
	return true
}
