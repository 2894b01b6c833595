package descriptor

import (
	"fmt"

	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

// MaxSlots is the primitive-slot budget for one value crossing the
// boundary. Four machine words cover every ABI shape the upstream
// codegen emits; anything wider is a contract breach.
const MaxSlots = 4

// Slots flattens a descriptor into the machine-word slots its value
// occupies when crossing the boundary. The result has at most MaxSlots
// entries; wider values are a slot_overflow error.
func Slots(desc *Descriptor) ([]wasm.ValType, error) {
	slots, err := flatten(desc, nil)
	if err != nil {
		return nil, err
	}
	if len(slots) > MaxSlots {
		return nil, errors.SlotOverflow([]string{desc.Tag.String()}, len(slots), MaxSlots)
	}
	return slots, nil
}

func flatten(desc *Descriptor, slots []wasm.ValType) ([]wasm.ValType, error) {
	switch desc.Tag {
	case TagUnit:
		return slots, nil

	case TagI8, TagU8, TagI16, TagU16, TagI32, TagU32,
		TagBoolean, TagChar, TagEnum, TagStringEnum:
		return append(slots, wasm.ValI32), nil

	case TagI64, TagU64:
		return append(slots, wasm.ValI64), nil

	case TagF32:
		return append(slots, wasm.ValF32), nil

	case TagF64:
		return append(slots, wasm.ValF64), nil

	// Opaque handles cross as one table index.
	case TagExternref, TagNamedExternref, TagRustStruct:
		return append(slots, wasm.ValI32), nil

	// Fat pointers: address and length.
	case TagString, TagCachedString, TagSlice, TagVector:
		return append(slots, wasm.ValI32, wasm.ValI32), nil

	// Closures cross as (code, env) word pairs.
	case TagFunction, TagClosure:
		return append(slots, wasm.ValI32, wasm.ValI32), nil

	// Presence flag followed by the payload slots.
	case TagOptional:
		return flatten(desc.Inner, append(slots, wasm.ValI32))

	// The error arm travels out of band; only the success payload
	// occupies slots.
	case TagResult:
		return flatten(desc.Inner, slots)

	case TagRef, TagRefMut, TagLongRef, TagClamped, TagNonNull:
		return flatten(desc.Inner, slots)

	default:
		return nil, errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("cannot flatten descriptor tag %s", desc.Tag))
	}
}
