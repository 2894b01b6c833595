package wasm

import (
	"github.com/wasmglue/wasmglue/wasm/internal/binary"
)

// Encode serializes the module to WebAssembly binary format. Sections
// are emitted in canonical order with custom sections at the end, so a
// parse/encode round trip of a canonical input is byte-identical.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	vecSection(w, SectionType, len(m.Types), func(sec *binary.Writer) {
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
	})

	vecSection(w, SectionImport, len(m.Imports), func(sec *binary.Writer) {
		for _, imp := range m.Imports {
			writeImport(sec, imp)
		}
	})

	vecSection(w, SectionFunction, len(m.Funcs), func(sec *binary.Writer) {
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
	})

	vecSection(w, SectionTable, len(m.Tables), func(sec *binary.Writer) {
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
	})

	vecSection(w, SectionMemory, len(m.Memories), func(sec *binary.Writer) {
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
	})

	vecSection(w, SectionGlobal, len(m.Globals), func(sec *binary.Writer) {
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.WriteBytes(g.Init)
		}
	})

	vecSection(w, SectionExport, len(m.Exports), func(sec *binary.Writer) {
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
	})

	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		writeSection(w, SectionStart, sec.Bytes())
	}

	vecSection(w, SectionElement, len(m.Elements), func(sec *binary.Writer) {
		for _, elem := range m.Elements {
			writeElement(sec, elem)
		}
	})

	// Data count precedes code when present.
	if m.DataCount != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.DataCount)
		writeSection(w, SectionDataCount, sec.Bytes())
	}

	vecSection(w, SectionCode, len(m.Code), func(sec *binary.Writer) {
		for _, body := range m.Code {
			writeFuncBody(sec, body)
		}
	})

	vecSection(w, SectionData, len(m.Data), func(sec *binary.Writer) {
		for _, d := range m.Data {
			writeDataSegment(sec, d)
		}
	})

	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

// vecSection writes one vector-shaped section: count followed by the
// entries fill produces. Empty sections are omitted entirely.
func vecSection(w *binary.Writer, id byte, count int, fill func(*binary.Writer)) {
	if count == 0 {
		return
	}
	sec := binary.NewWriter()
	sec.WriteU32(uint32(count))
	fill(sec)
	writeSection(w, id, sec.Bytes())
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeImport(w *binary.Writer, imp Import) {
	w.WriteName(imp.Module)
	w.WriteName(imp.Name)
	w.Byte(imp.Desc.Kind)
	switch imp.Desc.Kind {
	case KindFunc:
		w.WriteU32(imp.Desc.TypeIdx)
	case KindTable:
		if imp.Desc.Table != nil {
			writeTableType(w, *imp.Desc.Table)
		}
	case KindMemory:
		if imp.Desc.Memory != nil {
			writeLimits(w, imp.Desc.Memory.Limits)
		}
	case KindGlobal:
		if imp.Desc.Global != nil {
			writeGlobalType(w, *imp.Desc.Global)
		}
	}
}

func writeElement(w *binary.Writer, elem Element) {
	w.WriteU32(elem.Flags)

	active := elem.Flags&0x01 == 0
	usesExprs := elem.Flags&0x04 != 0

	if active && elem.Flags&0x02 != 0 {
		w.WriteU32(elem.TableIdx)
	}
	if active {
		w.WriteBytes(elem.Offset)
	}

	// Flags 1-3 carry an elemkind byte, flags 5-7 a reftype byte.
	if elem.Flags&0x03 != 0 {
		if usesExprs {
			w.Byte(byte(elem.Type))
		} else {
			w.Byte(elem.ElemKind)
		}
	}

	if usesExprs {
		w.WriteU32(uint32(len(elem.Exprs)))
		for _, expr := range elem.Exprs {
			w.WriteBytes(expr)
		}
	} else {
		w.WriteU32(uint32(len(elem.FuncIdxs)))
		for _, idx := range elem.FuncIdxs {
			w.WriteU32(idx)
		}
	}
}

func writeFuncBody(w *binary.Writer, body FuncBody) {
	buf := binary.NewWriter()
	buf.WriteU32(uint32(len(body.Locals)))
	for _, local := range body.Locals {
		buf.WriteU32(local.Count)
		buf.Byte(byte(local.ValType))
	}
	buf.WriteBytes(body.Code)

	w.WriteU32(uint32(buf.Len()))
	w.WriteBytes(buf.Bytes())
}

func writeDataSegment(w *binary.Writer, d DataSegment) {
	w.WriteU32(d.Flags)
	if d.Flags == 2 {
		w.WriteU32(d.MemIdx)
	}
	if d.Flags != 1 {
		w.WriteBytes(d.Offset)
	}
	w.WriteU32(uint32(len(d.Init)))
	w.WriteBytes(d.Init)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	w.Byte(flags)

	w.WriteU32(uint32(l.Min))
	if l.Max != nil {
		w.WriteU32(uint32(*l.Max))
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(t.ElemType)
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
