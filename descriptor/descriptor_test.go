package descriptor_test

import (
	stderrors "errors"
	"reflect"
	"strings"
	"testing"

	"github.com/wasmglue/wasmglue/descriptor"
	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

func TestDecodePrimitive(t *testing.T) {
	desc, err := descriptor.Decode([]uint32{uint32(descriptor.TagU32)})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if desc.Tag != descriptor.TagU32 {
		t.Errorf("tag = %s, want u32", desc.Tag)
	}
	if desc.String() != "u32" {
		t.Errorf("String() = %q", desc.String())
	}
}

func TestDecodeEveryTag(t *testing.T) {
	leaf := uint32(descriptor.TagI32)
	// one minimal stream per tag in the vocabulary
	streams := map[descriptor.Tag][]uint32{
		descriptor.TagI8:           {uint32(descriptor.TagI8)},
		descriptor.TagU8:           {uint32(descriptor.TagU8)},
		descriptor.TagI16:          {uint32(descriptor.TagI16)},
		descriptor.TagU16:          {uint32(descriptor.TagU16)},
		descriptor.TagI32:          {uint32(descriptor.TagI32)},
		descriptor.TagU32:          {uint32(descriptor.TagU32)},
		descriptor.TagI64:          {uint32(descriptor.TagI64)},
		descriptor.TagU64:          {uint32(descriptor.TagU64)},
		descriptor.TagF32:          {uint32(descriptor.TagF32)},
		descriptor.TagF64:          {uint32(descriptor.TagF64)},
		descriptor.TagBoolean:      {uint32(descriptor.TagBoolean)},
		descriptor.TagCachedString: {uint32(descriptor.TagCachedString)},
		descriptor.TagString:       {uint32(descriptor.TagString)},
		descriptor.TagExternref:    {uint32(descriptor.TagExternref)},
		descriptor.TagChar:         {uint32(descriptor.TagChar)},
		descriptor.TagUnit:         {uint32(descriptor.TagUnit)},

		descriptor.TagRef:      {uint32(descriptor.TagRef), leaf},
		descriptor.TagRefMut:   {uint32(descriptor.TagRefMut), leaf},
		descriptor.TagLongRef:  {uint32(descriptor.TagLongRef), leaf},
		descriptor.TagSlice:    {uint32(descriptor.TagSlice), leaf},
		descriptor.TagVector:   {uint32(descriptor.TagVector), leaf},
		descriptor.TagOptional: {uint32(descriptor.TagOptional), leaf},
		descriptor.TagResult:   {uint32(descriptor.TagResult), leaf},
		descriptor.TagClamped:  {uint32(descriptor.TagClamped), leaf},
		descriptor.TagNonNull:  {uint32(descriptor.TagNonNull), leaf},

		descriptor.TagNamedExternref: {uint32(descriptor.TagNamedExternref), 1, 'N'},
		descriptor.TagRustStruct:     {uint32(descriptor.TagRustStruct), 1, 'S'},
		descriptor.TagEnum:           {uint32(descriptor.TagEnum), 1, 'E', 3},
		descriptor.TagStringEnum:     {uint32(descriptor.TagStringEnum), 1, 'V', 1, 1, 'a'},

		descriptor.TagFunction: {uint32(descriptor.TagFunction), 0, 0, uint32(descriptor.TagUnit)},
		descriptor.TagClosure: {uint32(descriptor.TagClosure),
			uint32(descriptor.ModeExclusive), 0, 0, uint32(descriptor.TagUnit)},
	}

	for tag, words := range streams {
		desc, err := descriptor.Decode(words)
		if err != nil {
			t.Errorf("Decode(%s): %v", tag, err)
			continue
		}
		if desc.Tag != tag {
			t.Errorf("Decode(%s): tag = %s", tag, desc.Tag)
		}
		if got := desc.Encode(); !reflect.DeepEqual(got, words) {
			t.Errorf("Encode(%s) = %v, want %v", tag, got, words)
		}
	}

	// Every tag the vocabulary defines must be in the table. Named tags
	// stringify to their name; anything past the vocabulary does not.
	for w := uint32(0); ; w++ {
		tag := descriptor.Tag(w)
		if strings.HasPrefix(tag.String(), "tag(") {
			break
		}
		if _, ok := streams[tag]; !ok {
			t.Errorf("tag %s missing from the table", tag)
		}
	}
}

func TestDecodeNested(t *testing.T) {
	// option<vector<string>>
	words := []uint32{
		uint32(descriptor.TagOptional),
		uint32(descriptor.TagVector),
		uint32(descriptor.TagString),
	}
	desc, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if desc.Tag != descriptor.TagOptional ||
		desc.Inner.Tag != descriptor.TagVector ||
		desc.Inner.Inner.Tag != descriptor.TagString {
		t.Errorf("unexpected tree: %s", desc)
	}
	if desc.String() != "option<vector<string>>" {
		t.Errorf("String() = %q", desc.String())
	}
}

func TestDecodeFunction(t *testing.T) {
	// fn(u32, f64) -> string, invoke ptr 7
	words := []uint32{
		uint32(descriptor.TagFunction),
		7, // invoke ptr
		2, // argc
		uint32(descriptor.TagU32),
		uint32(descriptor.TagF64),
		uint32(descriptor.TagString),
	}
	desc, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fn := desc.Func
	if fn == nil || fn.InvokePtr != 7 || len(fn.Args) != 2 {
		t.Fatalf("unexpected function payload: %+v", fn)
	}
	if fn.Ret.Tag != descriptor.TagString {
		t.Errorf("ret tag = %s", fn.Ret.Tag)
	}
	if got := desc.String(); got != "fn(u32, f64) -> string" {
		t.Errorf("String() = %q", got)
	}
}

func TestDecodeClosure(t *testing.T) {
	words := []uint32{
		uint32(descriptor.TagClosure),
		uint32(descriptor.ModeShared),
		9, // invoke ptr
		1, // argc
		uint32(descriptor.TagI32),
		uint32(descriptor.TagUnit),
	}
	desc, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if desc.Mode != descriptor.ModeShared {
		t.Errorf("mode = %s, want shared", desc.Mode)
	}
	if got := desc.String(); got != "closure[shared](i32)" {
		t.Errorf("String() = %q", got)
	}
}

func TestDecodeNamed(t *testing.T) {
	words := []uint32{
		uint32(descriptor.TagNamedExternref),
		4, 'N', 'o', 'd', 'e',
	}
	desc, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if desc.Name != "Node" {
		t.Errorf("name = %q", desc.Name)
	}
}

func TestDecodeStringEnum(t *testing.T) {
	words := []uint32{
		uint32(descriptor.TagStringEnum),
		5, 'C', 'o', 'l', 'o', 'r',
		2,
		3, 'r', 'e', 'd',
		4, 'b', 'l', 'u', 'e',
	}
	desc, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []string{"red", "blue"}
	if !reflect.DeepEqual(desc.Variants, want) {
		t.Errorf("variants = %v, want %v", desc.Variants, want)
	}
}

func TestDecodeDeterministic(t *testing.T) {
	words := []uint32{
		uint32(descriptor.TagResult),
		uint32(descriptor.TagOptional),
		uint32(descriptor.TagEnum),
		3, 'F', 'o', 'o',
		4,
	}
	a, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical streams decoded to different trees")
	}
}

func TestDecodeTruncated(t *testing.T) {
	words := []uint32{uint32(descriptor.TagOptional)}
	_, err := descriptor.Decode(words)
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindMalformedStream {
		t.Errorf("kind = %v, want malformed_stream", err)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := descriptor.Decode([]uint32{9999})
	if err == nil {
		t.Error("expected error for unknown tag")
	}
}

func TestDecodeTrailingWords(t *testing.T) {
	words := []uint32{uint32(descriptor.TagU32), uint32(descriptor.TagU32)}
	if _, err := descriptor.Decode(words); err == nil {
		t.Error("expected error for trailing words")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	words := []uint32{
		uint32(descriptor.TagFunction),
		3,
		2,
		uint32(descriptor.TagOptional),
		uint32(descriptor.TagNamedExternref), 1, 'T',
		uint32(descriptor.TagClamped),
		uint32(descriptor.TagSlice),
		uint32(descriptor.TagU8),
		uint32(descriptor.TagUnit),
	}
	desc, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := desc.Encode(); !reflect.DeepEqual(got, words) {
		t.Errorf("Encode = %v, want %v", got, words)
	}
}

func TestSlots(t *testing.T) {
	tests := []struct {
		name  string
		words []uint32
		want  []wasm.ValType
	}{
		{"u32", []uint32{uint32(descriptor.TagU32)}, []wasm.ValType{wasm.ValI32}},
		{"i64", []uint32{uint32(descriptor.TagI64)}, []wasm.ValType{wasm.ValI64}},
		{"f64", []uint32{uint32(descriptor.TagF64)}, []wasm.ValType{wasm.ValF64}},
		{"unit", []uint32{uint32(descriptor.TagUnit)}, nil},
		{"string", []uint32{uint32(descriptor.TagString)},
			[]wasm.ValType{wasm.ValI32, wasm.ValI32}},
		{"option<f64>", []uint32{uint32(descriptor.TagOptional), uint32(descriptor.TagF64)},
			[]wasm.ValType{wasm.ValI32, wasm.ValF64}},
		{"&[u8]", []uint32{uint32(descriptor.TagRef), uint32(descriptor.TagSlice), uint32(descriptor.TagU8)},
			[]wasm.ValType{wasm.ValI32, wasm.ValI32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := descriptor.Decode(tt.words)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			got, err := descriptor.Slots(desc)
			if err != nil {
				t.Fatalf("Slots: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("slots = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("slot %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSlotsOverflow(t *testing.T) {
	// option<option<option<string>>> needs 5 slots.
	words := []uint32{
		uint32(descriptor.TagOptional),
		uint32(descriptor.TagOptional),
		uint32(descriptor.TagOptional),
		uint32(descriptor.TagString),
	}
	desc, err := descriptor.Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	_, err = descriptor.Slots(desc)
	if err == nil {
		t.Fatal("expected slot_overflow")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindSlotOverflow {
		t.Errorf("kind = %v, want slot_overflow", err)
	}
}

func TestSectionRoundTrip(t *testing.T) {
	res := descriptor.NewResult()

	add, err := descriptor.Decode([]uint32{
		uint32(descriptor.TagFunction),
		0, 2,
		uint32(descriptor.TagU32),
		uint32(descriptor.TagU32),
		uint32(descriptor.TagU32),
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	res.Descriptors["add"] = add

	cb, err := descriptor.Decode([]uint32{
		uint32(descriptor.TagClosure),
		uint32(descriptor.ModeCallOnce),
		3, 0,
		uint32(descriptor.TagUnit),
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	res.Closures[2] = descriptor.Closure{
		Descriptor: cb,
		InvokeIdx:  3,
		DtorIdx:    4,
		Mode:       descriptor.ModeCallOnce,
		CodeHandle: 10,
	}

	m := &wasm.Module{}
	descriptor.Attach(m, res)

	got, err := descriptor.Detach(m)
	if err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if got == nil {
		t.Fatal("Detach returned nil for attached section")
	}
	if !reflect.DeepEqual(got, res) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, res)
	}

	// Empty module has no section.
	none, err := descriptor.Detach(&wasm.Module{})
	if err != nil || none != nil {
		t.Errorf("Detach on empty module = %v, %v", none, err)
	}
}
