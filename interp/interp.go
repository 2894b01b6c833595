package interp

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

const (
	// describePrefix marks the temporary exports the bindings generator
	// plants for every described item.
	describePrefix = "__wbindgen_describe_"

	// placeholderModule is the import module that closure wrappers are
	// rewritten into once their descriptor has been harvested.
	placeholderModule = "__wbindgen_placeholder__"
)

// Interpreter executes describe functions inside one module and collects
// the descriptor streams they emit. It is created fresh per build and
// mutates the module it was given: wrapper functions become imports and
// describe exports are removed once harvested.
type Interpreter struct {
	m      *wasm.Module
	bodies map[uint32][]wasm.Instruction

	describeIdx        int
	describeClosureIdx int
}

// New prepares an interpreter for one module. It locates the describe
// intrinsics among the function imports and validates their signatures.
func New(m *wasm.Module) (*Interpreter, error) {
	in := &Interpreter{
		m:                  m,
		bodies:             make(map[uint32][]wasm.Instruction),
		describeIdx:        -1,
		describeClosureIdx: -1,
	}

	funcIdx := 0
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		switch imp.Name {
		case nameDescribe:
			if err := checkIntrinsicType(m, imp, 1, 0); err != nil {
				return nil, err
			}
			in.describeIdx = funcIdx
		case nameDescribeClosure:
			if err := checkIntrinsicType(m, imp, 3, 1); err != nil {
				return nil, err
			}
			in.describeClosureIdx = funcIdx
		}
		funcIdx++
	}
	return in, nil
}

func checkIntrinsicType(m *wasm.Module, imp *wasm.Import, params, results int) error {
	if int(imp.Desc.TypeIdx) >= len(m.Types) {
		return errors.OutOfBounds(errors.PhaseInterpret, []string{"import", imp.Name}, int(imp.Desc.TypeIdx), len(m.Types))
	}
	ft := &m.Types[imp.Desc.TypeIdx]
	if len(ft.Params) != params || len(ft.Results) != results {
		return errors.InvalidData(errors.PhaseInterpret, []string{"import", imp.Name},
			fmt.Sprintf("signature %s does not match the intrinsic", ft.String()))
	}
	for _, p := range ft.Params {
		if p != wasm.ValI32 {
			return errors.InvalidData(errors.PhaseInterpret, []string{"import", imp.Name}, "non-i32 parameter")
		}
	}
	return nil
}

func (in *Interpreter) decodedBody(funcIdx uint32, body *wasm.FuncBody) ([]wasm.Instruction, error) {
	if instrs, ok := in.bodies[funcIdx]; ok {
		return instrs, nil
	}
	instrs, err := wasm.DecodeInstructions(body.Code)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInterpret, errors.KindInvalidData, err,
			fmt.Sprintf("function %d", funcIdx))
	}
	in.bodies[funcIdx] = instrs
	return instrs, nil
}

// Run harvests every descriptor the module carries.
//
// Describe exports are executed and their streams decoded; functions that
// call __wbindgen_describe_closure are executed the same way, recorded,
// and converted into placeholder imports so downstream codegen can supply
// the real closure wrapper. All describe exports are deleted afterwards
// and the result is attached to the module as a custom section.
func (in *Interpreter) Run() (*descriptor.Result, error) {
	res := descriptor.NewResult()

	for _, exp := range in.m.Exports {
		if exp.Kind != wasm.KindFunc || !strings.HasPrefix(exp.Name, describePrefix) {
			continue
		}
		key := strings.TrimPrefix(exp.Name, describePrefix)
		desc, err := in.runDescribe(exp.Name, exp.Idx)
		if err != nil {
			return nil, err
		}
		res.Descriptors[key] = desc
		Logger().Debug("recovered descriptor",
			zap.String("export", exp.Name),
			zap.Stringer("type", desc))
	}

	if err := in.scanClosures(res); err != nil {
		return nil, err
	}

	in.deleteDescribeExports()

	if len(res.Descriptors) > 0 || len(res.Closures) > 0 {
		descriptor.Attach(in.m, res)
	}
	Logger().Info("descriptor harvest complete",
		zap.Int("descriptors", len(res.Descriptors)),
		zap.Int("closures", len(res.Closures)))
	return res, nil
}

func (in *Interpreter) runDescribe(symbol string, funcIdx uint32) (*descriptor.Descriptor, error) {
	e, err := in.newExec(symbol)
	if err != nil {
		return nil, err
	}
	ft := in.m.GetFuncType(funcIdx)
	if ft == nil {
		return nil, errors.NotFound(errors.PhaseInterpret, "function for export", symbol)
	}
	if in.m.BodyByIdx(funcIdx) == nil {
		return nil, errors.InvalidData(errors.PhaseInterpret, []string{symbol}, "describe export targets an import")
	}
	if err := e.call(funcIdx, make([]uint32, len(ft.Params))); err != nil {
		return nil, err
	}
	desc, err := descriptor.Decode(e.stream)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInterpret, errors.KindMalformedStream, err, symbol)
	}
	return desc, nil
}

// scanClosures finds every defined function that calls the closure
// describe intrinsic, harvests its record, and rewrites the function into
// a placeholder import.
func (in *Interpreter) scanClosures(res *descriptor.Result) error {
	if in.describeClosureIdx < 0 {
		return nil
	}
	target := uint32(in.describeClosureIdx)
	ni := uint32(in.m.NumImportedFuncs())

	type record struct {
		desc   *descriptor.Descriptor
		invoke uint32
		dtor   uint32
		mode   descriptor.CallMode
	}
	records := make(map[uint32]record)
	var wrappers []uint32

	for i := range in.m.Funcs {
		funcIdx := ni + uint32(i)
		instrs, err := in.decodedBody(funcIdx, &in.m.Code[i])
		if err != nil {
			return err
		}
		if !callsFunc(instrs, target) {
			continue
		}

		symbol := fmt.Sprintf("closure wrapper %d", funcIdx)
		e, err := in.newExec(symbol)
		if err != nil {
			return err
		}
		ft := in.m.GetFuncType(funcIdx)
		if err := e.call(funcIdx, make([]uint32, len(ft.Params))); err != nil {
			return err
		}
		if e.closureCalls != 1 {
			return errors.InvalidData(errors.PhaseInterpret, []string{symbol}, "describe_closure was never reached")
		}
		desc, err := descriptor.Decode(e.stream)
		if err != nil {
			return errors.Wrap(errors.PhaseInterpret, errors.KindMalformedStream, err, symbol)
		}
		if desc.Tag != descriptor.TagClosure {
			panic(fmt.Sprintf("interp: function %d described itself as %s, want a closure; the bindings generator and this tool disagree", funcIdx, desc.Tag))
		}

		records[funcIdx] = record{
			desc:   desc,
			invoke: e.closure[0],
			dtor:   e.closure[1],
			mode:   descriptor.CallMode(e.closure[2]),
		}
		wrappers = append(wrappers, funcIdx)
	}
	if len(wrappers) == 0 {
		return nil
	}

	mapping, err := in.convertWrappers(wrappers)
	if err != nil {
		return err
	}
	for old, rec := range records {
		importIdx := mapping[old]
		res.Closures[importIdx] = descriptor.Closure{
			Descriptor: rec.desc,
			InvokeIdx:  rec.invoke,
			DtorIdx:    rec.dtor,
			Mode:       rec.mode,
		}
		Logger().Debug("converted closure wrapper",
			zap.Uint32("func", old),
			zap.Uint32("import", importIdx),
			zap.Stringer("mode", rec.mode))
	}
	return nil
}

// convertWrappers turns the given defined functions into placeholder
// imports and remaps the whole function index space. It returns the new
// import index of each converted wrapper keyed by its old index.
func (in *Interpreter) convertWrappers(wrappers []uint32) (map[uint32]uint32, error) {
	m := in.m
	ni := uint32(m.NumImportedFuncs())
	sort.Slice(wrappers, func(i, j int) bool { return wrappers[i] < wrappers[j] })

	rank := make(map[uint32]uint32, len(wrappers))
	for r, w := range wrappers {
		rank[w] = uint32(r)
	}

	for _, w := range wrappers {
		m.Imports = append(m.Imports, wasm.Import{
			Module: placeholderModule,
			Name:   fmt.Sprintf("__wbindgen_closure_wrapper%d", w),
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: m.Funcs[w-ni]},
		})
	}

	newFuncs := make([]uint32, 0, len(m.Funcs)-len(wrappers))
	newCode := make([]wasm.FuncBody, 0, len(m.Code)-len(wrappers))
	for i := range m.Funcs {
		if _, ok := rank[ni+uint32(i)]; ok {
			continue
		}
		newFuncs = append(newFuncs, m.Funcs[i])
		newCode = append(newCode, m.Code[i])
	}
	m.Funcs = newFuncs
	m.Code = newCode

	k := uint32(len(wrappers))
	remap := func(old uint32) uint32 {
		if old < ni {
			return old
		}
		if r, ok := rank[old]; ok {
			return ni + r
		}
		// Defined functions shift past the new imports, minus every
		// converted wrapper that preceded them.
		before := uint32(sort.Search(len(wrappers), func(i int) bool { return wrappers[i] > old }))
		return ni + k + (old - ni - before)
	}
	if err := wasm.RemapFuncs(m, remap); err != nil {
		return nil, errors.Wrap(errors.PhaseInterpret, errors.KindInternal, err, "remap after wrapper conversion")
	}

	mapping := make(map[uint32]uint32, len(wrappers))
	for w, r := range rank {
		mapping[w] = ni + r
	}
	in.bodies = make(map[uint32][]wasm.Instruction)
	return mapping, nil
}

func (in *Interpreter) deleteDescribeExports() {
	kept := in.m.Exports[:0]
	for _, exp := range in.m.Exports {
		if exp.Kind == wasm.KindFunc && strings.HasPrefix(exp.Name, describePrefix) {
			continue
		}
		kept = append(kept, exp)
	}
	in.m.Exports = kept
}

func callsFunc(instrs []wasm.Instruction, target uint32) bool {
	for i := range instrs {
		if t, ok := instrs[i].GetCallTarget(); ok && t == target {
			return true
		}
	}
	return false
}
