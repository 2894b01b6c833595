// Package pipeline runs the full post-compilation pass sequence over one
// WebAssembly binary: descriptor harvest, multi-value rewrite, closure
// ABI completion, optional start relocation, and export normalization.
package pipeline

import (
	"go.uber.org/zap"

	"github.com/wasmglue/wasmglue/closures"
	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/interp"
	"github.com/wasmglue/wasmglue/multivalue"
	"github.com/wasmglue/wasmglue/normalize"
	"github.com/wasmglue/wasmglue/threads"
	"github.com/wasmglue/wasmglue/wasm"
)

// Options tunes the pass sequence.
type Options struct {
	// ExtraPrefixes adds helper-name families for the export
	// normalizer beyond the built-in ones.
	ExtraPrefixes []string

	// DemangleStart moves the start section to a __wbindgen_start
	// export so the host controls when initialization runs.
	DemangleStart bool

	// EmitNames keeps the "name" custom section in the output. It is
	// stripped by default; transformed indices make most of it stale.
	EmitNames bool
}

// Process parses data, applies every pass in order, and re-encodes. The
// returned result carries the recovered descriptors and closure records,
// which are also embedded in the output binary as the
// __wasmglue_descriptors custom section.
func Process(data []byte, opts Options) ([]byte, *descriptor.Result, error) {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, nil, errors.Load("parse module", err)
	}

	in, err := interp.New(m)
	if err != nil {
		return nil, nil, err
	}
	res, err := in.Run()
	if err != nil {
		return nil, nil, err
	}
	Logger().Info("descriptor pass done",
		zap.Int("descriptors", len(res.Descriptors)),
		zap.Int("closures", len(res.Closures)))

	if err := multivalue.Transform(m); err != nil {
		return nil, nil, err
	}
	Logger().Debug("multi-value pass done")

	if err := closures.Transform(m, res); err != nil {
		return nil, nil, err
	}
	Logger().Debug("closure pass done")

	if opts.DemangleStart {
		moved := threads.MoveStartToExport(m)
		Logger().Debug("start relocation done", zap.Bool("moved", moved))
	}

	if err := normalize.Exports(m, opts.ExtraPrefixes...); err != nil {
		return nil, nil, err
	}
	Logger().Debug("export normalization done")

	if !opts.EmitNames {
		stripCustom(m, "name")
	}
	return m.Encode(), res, nil
}

func stripCustom(m *wasm.Module, name string) {
	kept := m.CustomSections[:0]
	for _, cs := range m.CustomSections {
		if cs.Name == name {
			continue
		}
		kept = append(kept, cs)
	}
	m.CustomSections = kept
}
