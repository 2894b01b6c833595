package descriptor

import (
	"fmt"

	"github.com/wasmglue/wasmglue/errors"
)

// Tag identifies a descriptor node kind in the harvested stream.
// Values are stable within a toolchain version only; streams are never
// persisted across builds.
type Tag uint32

const (
	TagI8 Tag = iota
	TagU8
	TagI16
	TagU16
	TagI32
	TagU32
	TagI64
	TagU64
	TagF32
	TagF64
	TagBoolean
	TagFunction
	TagClosure
	TagCachedString
	TagString
	TagRef
	TagRefMut
	TagLongRef
	TagSlice
	TagVector
	TagExternref
	TagNamedExternref
	TagEnum
	TagStringEnum
	TagRustStruct
	TagChar
	TagOptional
	TagResult
	TagUnit
	TagClamped
	TagNonNull

	tagLimit // one past the last valid tag
)

var tagNames = [...]string{
	TagI8:             "i8",
	TagU8:             "u8",
	TagI16:            "i16",
	TagU16:            "u16",
	TagI32:            "i32",
	TagU32:            "u32",
	TagI64:            "i64",
	TagU64:            "u64",
	TagF32:            "f32",
	TagF64:            "f64",
	TagBoolean:        "boolean",
	TagFunction:       "function",
	TagClosure:        "closure",
	TagCachedString:   "cached_string",
	TagString:         "string",
	TagRef:            "ref",
	TagRefMut:         "refmut",
	TagLongRef:        "longref",
	TagSlice:          "slice",
	TagVector:         "vector",
	TagExternref:      "externref",
	TagNamedExternref: "named_externref",
	TagEnum:           "enum",
	TagStringEnum:     "string_enum",
	TagRustStruct:     "struct",
	TagChar:           "char",
	TagOptional:       "option",
	TagResult:         "result",
	TagUnit:           "unit",
	TagClamped:        "clamped",
	TagNonNull:        "nonnull",
}

// String returns the lowercase tag name.
func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint32(t))
}

// CallMode distinguishes how a closure's invoke shim may be entered.
type CallMode uint32

const (
	// ModeExclusive closures take the environment mutably; reentrant
	// invocation is a caller error.
	ModeExclusive CallMode = 0
	// ModeShared closures may be entered recursively; the unwind guard
	// flag is folded into the code handle.
	ModeShared CallMode = 1
	// ModeCallOnce closures destroy themselves after the first call.
	ModeCallOnce CallMode = 2
)

func (m CallMode) String() string {
	switch m {
	case ModeExclusive:
		return "exclusive"
	case ModeShared:
		return "shared"
	case ModeCallOnce:
		return "call-once"
	default:
		return fmt.Sprintf("mode(%d)", uint32(m))
	}
}

// Descriptor is one node of the recovered type tree. The tree is the
// canonical form; the flat uint32 stream it was decoded from is
// discarded after decoding.
type Descriptor struct {
	Inner    *Descriptor // wrapping tags
	Func     *Function   // FUNCTION and CLOSURE
	Name     string      // NAMED_EXTERNREF, ENUM, STRING_ENUM, RUST_STRUCT
	Variants []string    // STRING_ENUM
	Hole     uint32      // ENUM: discriminant reserved for the absent case
	Mode     CallMode    // CLOSURE
	Tag      Tag
}

// Function is the payload of FUNCTION and CLOSURE descriptors.
type Function struct {
	Args      []*Descriptor
	Ret       *Descriptor
	InvokePtr uint32 // table index of the invoke shim
}

// Closure is one closure record harvested by the interpreter and
// completed by the closure transform.
type Closure struct {
	Descriptor *Descriptor // always a CLOSURE descriptor
	InvokeIdx  uint32      // function table index of the invoke shim
	DtorIdx    uint32      // function table index of the destructor, 0 if none
	Mode       CallMode
	CodeHandle uint32 // tableIdx<<1, bit 0 set for shared mode
}

// Result collects everything the interpreter recovered from one binary.
type Result struct {
	// Descriptors maps describe-export keys to their recovered trees.
	Descriptors map[string]*Descriptor
	// Closures maps synthesized import indices to closure records.
	Closures map[uint32]Closure
}

// NewResult returns an empty result with initialized maps.
func NewResult() *Result {
	return &Result{
		Descriptors: make(map[string]*Descriptor),
		Closures:    make(map[uint32]Closure),
	}
}

// decoder walks a uint32 stream left to right exactly once.
type decoder struct {
	words []uint32
	pos   int
}

func (d *decoder) next() (uint32, error) {
	if d.pos >= len(d.words) {
		return 0, errors.MalformedStream(nil, fmt.Sprintf("stream truncated at word %d", d.pos))
	}
	w := d.words[d.pos]
	d.pos++
	return w, nil
}

// Decode decodes a descriptor stream into its tree. The stream must
// contain exactly one complete descriptor; leftover words are a
// malformed_stream error.
func Decode(words []uint32) (*Descriptor, error) {
	d := &decoder{words: words}
	desc, err := d.decode()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.words) {
		return nil, errors.MalformedStream(nil,
			fmt.Sprintf("%d trailing words after descriptor", len(d.words)-d.pos))
	}
	return desc, nil
}

func (d *decoder) decode() (*Descriptor, error) {
	w, err := d.next()
	if err != nil {
		return nil, err
	}
	tag := Tag(w)

	switch tag {
	case TagI8, TagU8, TagI16, TagU16, TagI32, TagU32, TagI64, TagU64,
		TagF32, TagF64, TagBoolean, TagString, TagCachedString,
		TagExternref, TagChar, TagUnit:
		return &Descriptor{Tag: tag}, nil

	case TagRef, TagRefMut, TagLongRef, TagSlice, TagVector,
		TagOptional, TagResult, TagClamped, TagNonNull:
		inner, err := d.decode()
		if err != nil {
			return nil, err
		}
		return &Descriptor{Tag: tag, Inner: inner}, nil

	case TagNamedExternref, TagRustStruct:
		name, err := d.name()
		if err != nil {
			return nil, err
		}
		return &Descriptor{Tag: tag, Name: name}, nil

	case TagEnum:
		name, err := d.name()
		if err != nil {
			return nil, err
		}
		hole, err := d.next()
		if err != nil {
			return nil, err
		}
		return &Descriptor{Tag: tag, Name: name, Hole: hole}, nil

	case TagStringEnum:
		name, err := d.name()
		if err != nil {
			return nil, err
		}
		count, err := d.next()
		if err != nil {
			return nil, err
		}
		variants := make([]string, count)
		for i := range variants {
			variants[i], err = d.name()
			if err != nil {
				return nil, err
			}
		}
		return &Descriptor{Tag: tag, Name: name, Variants: variants}, nil

	case TagFunction:
		fn, err := d.function()
		if err != nil {
			return nil, err
		}
		return &Descriptor{Tag: tag, Func: fn}, nil

	case TagClosure:
		mode, err := d.next()
		if err != nil {
			return nil, err
		}
		fn, err := d.function()
		if err != nil {
			return nil, err
		}
		return &Descriptor{Tag: tag, Mode: CallMode(mode), Func: fn}, nil

	default:
		return nil, errors.MalformedStream(nil,
			fmt.Sprintf("unknown descriptor tag %d at word %d", w, d.pos-1))
	}
}

func (d *decoder) function() (*Function, error) {
	ptr, err := d.next()
	if err != nil {
		return nil, err
	}
	argc, err := d.next()
	if err != nil {
		return nil, err
	}
	if int(argc) > len(d.words)-d.pos {
		return nil, errors.MalformedStream(nil,
			fmt.Sprintf("argument count %d exceeds remaining stream", argc))
	}
	args := make([]*Descriptor, argc)
	for i := range args {
		args[i], err = d.decode()
		if err != nil {
			return nil, err
		}
	}
	ret, err := d.decode()
	if err != nil {
		return nil, err
	}
	return &Function{InvokePtr: ptr, Args: args, Ret: ret}, nil
}

// name reads a length-prefixed name encoded as unicode code points,
// one per word.
func (d *decoder) name() (string, error) {
	length, err := d.next()
	if err != nil {
		return "", err
	}
	if int(length) > len(d.words)-d.pos {
		return "", errors.MalformedStream(nil,
			fmt.Sprintf("name length %d exceeds remaining stream", length))
	}
	runes := make([]rune, length)
	for i := range runes {
		w, err := d.next()
		if err != nil {
			return "", err
		}
		runes[i] = rune(w)
	}
	return string(runes), nil
}

// Encode is the inverse of Decode: it re-emits the canonical word
// stream for a tree. Used only by the in-build section codec.
func (desc *Descriptor) Encode() []uint32 {
	var out []uint32
	return desc.encodeTo(out)
}

func (desc *Descriptor) encodeTo(out []uint32) []uint32 {
	out = append(out, uint32(desc.Tag))

	switch desc.Tag {
	case TagRef, TagRefMut, TagLongRef, TagSlice, TagVector,
		TagOptional, TagResult, TagClamped, TagNonNull:
		out = desc.Inner.encodeTo(out)

	case TagNamedExternref, TagRustStruct:
		out = encodeName(out, desc.Name)

	case TagEnum:
		out = encodeName(out, desc.Name)
		out = append(out, desc.Hole)

	case TagStringEnum:
		out = encodeName(out, desc.Name)
		out = append(out, uint32(len(desc.Variants)))
		for _, v := range desc.Variants {
			out = encodeName(out, v)
		}

	case TagFunction:
		out = desc.Func.encodeTo(out)

	case TagClosure:
		out = append(out, uint32(desc.Mode))
		out = desc.Func.encodeTo(out)
	}

	return out
}

func (fn *Function) encodeTo(out []uint32) []uint32 {
	out = append(out, fn.InvokePtr, uint32(len(fn.Args)))
	for _, a := range fn.Args {
		out = a.encodeTo(out)
	}
	return fn.Ret.encodeTo(out)
}

func encodeName(out []uint32, name string) []uint32 {
	runes := []rune(name)
	out = append(out, uint32(len(runes)))
	for _, r := range runes {
		out = append(out, uint32(r))
	}
	return out
}
