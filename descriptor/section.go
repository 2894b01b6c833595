package descriptor

import (
	"bytes"
	"sort"

	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

// SectionName is the custom section carrying recovered signatures
// between passes of one build. The layout is private to this toolchain
// version and never persisted beyond the build.
const SectionName = "__wasmglue_descriptors"

// EncodeSection serializes a result for the custom section. Entries are
// sorted so the section bytes are deterministic for a given result.
func EncodeSection(res *Result) []byte {
	var buf bytes.Buffer

	names := make([]string, 0, len(res.Descriptors))
	for name := range res.Descriptors {
		names = append(names, name)
	}
	sort.Strings(names)

	wasm.WriteLEB128u(&buf, uint32(len(names)))
	for _, name := range names {
		writeName(&buf, name)
		writeStream(&buf, res.Descriptors[name].Encode())
	}

	indices := make([]uint32, 0, len(res.Closures))
	for idx := range res.Closures {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	wasm.WriteLEB128u(&buf, uint32(len(indices)))
	for _, idx := range indices {
		c := res.Closures[idx]
		wasm.WriteLEB128u(&buf, idx)
		wasm.WriteLEB128u(&buf, c.InvokeIdx)
		wasm.WriteLEB128u(&buf, c.DtorIdx)
		wasm.WriteLEB128u(&buf, uint32(c.Mode))
		wasm.WriteLEB128u(&buf, c.CodeHandle)
		writeStream(&buf, c.Descriptor.Encode())
	}

	return buf.Bytes()
}

// DecodeSection is the inverse of EncodeSection.
func DecodeSection(data []byte) (*Result, error) {
	r := bytes.NewReader(data)
	res := NewResult()

	count, err := wasm.ReadLEB128u(r)
	if err != nil {
		return nil, sectionErr(err)
	}
	for i := uint32(0); i < count; i++ {
		name, err := readName(r)
		if err != nil {
			return nil, sectionErr(err)
		}
		words, err := readStream(r)
		if err != nil {
			return nil, sectionErr(err)
		}
		desc, err := Decode(words)
		if err != nil {
			return nil, err
		}
		res.Descriptors[name] = desc
	}

	count, err = wasm.ReadLEB128u(r)
	if err != nil {
		return nil, sectionErr(err)
	}
	for i := uint32(0); i < count; i++ {
		var c Closure
		idx, err := wasm.ReadLEB128u(r)
		if err != nil {
			return nil, sectionErr(err)
		}
		if c.InvokeIdx, err = wasm.ReadLEB128u(r); err != nil {
			return nil, sectionErr(err)
		}
		if c.DtorIdx, err = wasm.ReadLEB128u(r); err != nil {
			return nil, sectionErr(err)
		}
		mode, err := wasm.ReadLEB128u(r)
		if err != nil {
			return nil, sectionErr(err)
		}
		c.Mode = CallMode(mode)
		if c.CodeHandle, err = wasm.ReadLEB128u(r); err != nil {
			return nil, sectionErr(err)
		}
		words, err := readStream(r)
		if err != nil {
			return nil, sectionErr(err)
		}
		if c.Descriptor, err = Decode(words); err != nil {
			return nil, err
		}
		res.Closures[idx] = c
	}

	if r.Len() != 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, nil,
			"trailing bytes after descriptor section")
	}
	return res, nil
}

// Attach writes the result into the module's custom section, replacing
// any earlier copy.
func Attach(m *wasm.Module, res *Result) {
	m.SetCustomSection(SectionName, EncodeSection(res))
}

// Detach reads the result back from the module, or nil when no section
// is present.
func Detach(m *wasm.Module) (*Result, error) {
	data := m.CustomSectionData(SectionName)
	if data == nil {
		return nil, nil
	}
	return DecodeSection(data)
}

func writeName(buf *bytes.Buffer, name string) {
	wasm.WriteLEB128u(buf, uint32(len(name)))
	buf.WriteString(name)
}

func readName(r *bytes.Reader) (string, error) {
	length, err := wasm.ReadLEB128u(r)
	if err != nil {
		return "", err
	}
	raw := make([]byte, length)
	for i := range raw {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		raw[i] = b
	}
	return string(raw), nil
}

func writeStream(buf *bytes.Buffer, words []uint32) {
	wasm.WriteLEB128u(buf, uint32(len(words)))
	for _, w := range words {
		wasm.WriteLEB128u(buf, w)
	}
}

func readStream(r *bytes.Reader) ([]uint32, error) {
	count, err := wasm.ReadLEB128u(r)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, count)
	for i := range words {
		if words[i], err = wasm.ReadLEB128u(r); err != nil {
			return nil, err
		}
	}
	return words, nil
}

func sectionErr(err error) error {
	return errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err,
		"truncated descriptor section")
}
