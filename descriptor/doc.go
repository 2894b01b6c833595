// Package descriptor defines the recovered type vocabulary.
//
// Compilers targeting the numeric-primitives ABI erase rich signatures
// at the boundary, but embed per-export describe functions that replay
// the erased type as a flat stream of uint32 words. This package holds
// the tag vocabulary for those streams, decodes a stream into a typed
// Descriptor tree (the canonical form; streams are discarded after
// decoding), flattens descriptors into the primitive-slot contract, and
// moves recovered results between passes through a build-private custom
// section.
//
// Decoding is a single left-to-right pass:
//
//	desc, err := descriptor.Decode(words)
//	fmt.Println(desc) // e.g. option<vector<string>>
//
// Slots enforces the boundary contract that no value occupies more than
// four machine words:
//
//	types, err := descriptor.Slots(desc)
package descriptor
