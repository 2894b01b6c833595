// Package normalize makes helper export names reproducible by replacing
// compiler symbol hashes with sequential indices.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wasmglue/wasmglue/errors"
	"github.com/wasmglue/wasmglue/wasm"
)

// defaultPrefixes are the closure-helper families the compiler emits with
// a trailing symbol hash. Only these families are ever rewritten.
var defaultPrefixes = []string{
	"_dyn_core__ops__function__FnMut_",
	"_dyn_core__ops__function__Fn_",
}

// hashLen is the number of hex characters in a symbol hash suffix.
const hashLen = 16

// Exports rewrites hash-suffixed helper export names into sequential
// indices so that byte-identical source builds to byte-identical exports
// regardless of symbol-hash churn.
//
// A name qualifies only when it carries one of the known helper prefixes
// (plus any extra prefixes given) and ends in "h" followed by sixteen
// lowercase hex characters. Qualifying names are ordered by prefix, then
// by the export's function signature, then by the name with its hash
// stripped; each hash becomes a zero-padded sequential index per prefix.
// Running the pass again reproduces the same assignment, so transformed
// modules pass through unchanged.
func Exports(m *wasm.Module, extraPrefixes ...string) error {
	prefixes := make([]string, 0, len(defaultPrefixes)+len(extraPrefixes))
	prefixes = append(prefixes, defaultPrefixes...)
	prefixes = append(prefixes, extraPrefixes...)
	// Longest prefix wins when one extends another.
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	type match struct {
		exportIdx int
		prefix    string
		stem      string // name with the hash characters stripped
		sig       string
	}
	var matches []match
	taken := make(map[string]string) // name -> "" for untouched exports

	for i, exp := range m.Exports {
		if exp.Kind != wasm.KindFunc || !hashSuffixed(exp.Name) {
			taken[exp.Name] = exp.Name
			continue
		}
		prefix := matchPrefix(exp.Name, prefixes)
		if prefix == "" {
			taken[exp.Name] = exp.Name
			continue
		}
		ft := m.GetFuncType(exp.Idx)
		if ft == nil {
			return errors.NotFound(errors.PhaseNormalize, "function for export", exp.Name)
		}
		matches = append(matches, match{
			exportIdx: i,
			prefix:    prefix,
			stem:      exp.Name[:len(exp.Name)-hashLen],
			sig:       ft.String(),
		})
	}
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.prefix != b.prefix {
			return a.prefix < b.prefix
		}
		if a.sig != b.sig {
			return a.sig < b.sig
		}
		return a.stem < b.stem
	})

	seq := make(map[string]int)
	for _, mt := range matches {
		name := fmt.Sprintf("%s%0*d", mt.stem, hashLen, seq[mt.prefix])
		seq[mt.prefix]++
		if prev, ok := taken[name]; ok && prev != m.Exports[mt.exportIdx].Name {
			return errors.Collision(name, prev)
		}
		taken[name] = name
		m.Exports[mt.exportIdx].Name = name
	}
	return nil
}

// hashSuffixed reports whether name ends in "h" plus sixteen lowercase
// hex characters.
func hashSuffixed(name string) bool {
	if len(name) < hashLen+1 {
		return false
	}
	if name[len(name)-hashLen-1] != 'h' {
		return false
	}
	for i := len(name) - hashLen; i < len(name); i++ {
		c := name[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func matchPrefix(name string, prefixes []string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return p
		}
	}
	return ""
}
