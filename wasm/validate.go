package wasm

import "fmt"

// indexSpaces holds the size of each module index space, imports
// included. Validation checks every stored index against these.
type indexSpaces struct {
	funcs    uint32
	tables   uint32
	memories uint32
	globals  uint32
}

func (m *Module) spaces() indexSpaces {
	return indexSpaces{
		funcs:    uint32(m.NumImportedFuncs() + len(m.Funcs)),
		tables:   uint32(m.NumImportedTables() + len(m.Tables)),
		memories: uint32(m.NumImportedMemories() + len(m.Memories)),
		globals:  uint32(m.NumImportedGlobals() + len(m.Globals)),
	}
}

// Validate checks the module for structural validity: every index in
// range, export names unique, section counts consistent, memory limits
// sane. Function bodies are not type-checked.
func (m *Module) Validate() error {
	s := m.spaces()

	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateSegments(s); err != nil {
		return err
	}
	if err := m.validateExports(s); err != nil {
		return err
	}
	if err := m.validateStart(s); err != nil {
		return err
	}
	if len(m.Code) > 0 && len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("code section has %d entries but function section has %d",
			len(m.Code), len(m.Funcs))
	}
	if m.DataCount != nil && *m.DataCount != uint32(len(m.Data)) {
		return fmt.Errorf("data count section declares %d segments, but data section has %d",
			*m.DataCount, len(m.Data))
	}
	return m.validateMemoryLimits()
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))

	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d",
				i, imp.Module, imp.Name, imp.Desc.TypeIdx)
		}
	}
	return nil
}

func (m *Module) validateSegments(s indexSpaces) error {
	for i, elem := range m.Elements {
		// Passive and declarative segments carry no table index.
		if elem.Flags&0x01 == 0 && elem.TableIdx >= s.tables {
			return fmt.Errorf("element %d references invalid table index %d", i, elem.TableIdx)
		}
		for j, funcIdx := range elem.FuncIdxs {
			if funcIdx >= s.funcs {
				return fmt.Errorf("element %d, entry %d references invalid function index %d", i, j, funcIdx)
			}
		}
	}
	for i, data := range m.Data {
		if data.Flags != 1 && data.MemIdx >= s.memories {
			return fmt.Errorf("data segment %d references invalid memory index %d", i, data.MemIdx)
		}
	}
	return nil
}

func (m *Module) validateExports(s indexSpaces) error {
	seen := make(map[string]bool, len(m.Exports))
	for i, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q at index %d", exp.Name, i)
		}
		seen[exp.Name] = true

		var limit uint32
		switch exp.Kind {
		case KindFunc:
			limit = s.funcs
		case KindTable:
			limit = s.tables
		case KindMemory:
			limit = s.memories
		case KindGlobal:
			limit = s.globals
		default:
			return fmt.Errorf("export %d (%s) has invalid kind %d", i, exp.Name, exp.Kind)
		}
		if exp.Idx >= limit {
			return fmt.Errorf("export %d (%s) references invalid index %d for kind %d",
				i, exp.Name, exp.Idx, exp.Kind)
		}
	}
	return nil
}

func (m *Module) validateStart(s indexSpaces) error {
	if m.Start == nil {
		return nil
	}
	if *m.Start >= s.funcs {
		return fmt.Errorf("start function index %d exceeds function count %d", *m.Start, s.funcs)
	}

	ft := m.GetFuncType(*m.Start)
	if ft == nil {
		return fmt.Errorf("start function %d has no type", *m.Start)
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return fmt.Errorf("start function must have signature () -> (), got %s", ft)
	}
	return nil
}

func (m *Module) validateMemoryLimits() error {
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory && imp.Desc.Memory != nil {
			if err := validateMemoryType(imp.Desc.Memory, i, "imported memory"); err != nil {
				return err
			}
		}
	}
	for i := range m.Memories {
		if err := validateMemoryType(&m.Memories[i], i, "memory"); err != nil {
			return err
		}
	}
	return nil
}

func validateMemoryType(mem *MemoryType, idx int, what string) error {
	// Shared memories (threaded builds) must declare a maximum.
	if mem.Limits.Shared && mem.Limits.Max == nil {
		return fmt.Errorf("%s %d: shared memory must have maximum limit", what, idx)
	}
	if mem.Limits.Min > MemoryMaxPages {
		return fmt.Errorf("%s %d: min pages %d exceeds maximum %d",
			what, idx, mem.Limits.Min, MemoryMaxPages)
	}
	if mem.Limits.Max != nil && *mem.Limits.Max > MemoryMaxPages {
		return fmt.Errorf("%s %d: max pages %d exceeds maximum %d",
			what, idx, *mem.Limits.Max, MemoryMaxPages)
	}
	return nil
}
