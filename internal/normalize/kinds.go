package normalize

import (
	_ "embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"cee/internal/graph"
)

//go:embed kinds.yaml
var kindsYAML []byte

var (
	kindTableOnce sync.Once
	kindTable     map[string]graph.Kind
)

// kindLookup is the write-once, lock-free-read synonym table (per the
// "global mutable state" design note: initialized once at first use,
// never mutated again outside of tests).
func kindLookup() map[string]graph.Kind {
	kindTableOnce.Do(func() {
		var raw map[string][]string
		if err := yaml.Unmarshal(kindsYAML, &raw); err != nil {
			panic("normalize: invalid embedded kinds.yaml: " + err.Error())
		}
		kindTable = make(map[string]graph.Kind)
		for canonical, synonyms := range raw {
			k := graph.Kind(canonical)
			for _, syn := range synonyms {
				kindTable[strings.ToLower(strings.TrimSpace(syn))] = k
			}
		}
	})
	return kindTable
}

// ResetKindTableForTest forces the synonym table to reload from the
// embedded asset on next use. Test-only.
func ResetKindTableForTest() {
	kindTableOnce = sync.Once{}
	kindTable = nil
}

// NormaliseNodeKind canonicalises a raw kind string. Unknown strings
// default to option. This function is idempotent: f(f(x)) == f(x), since
// every canonical kind string is itself present as a synonym of itself.
func NormaliseNodeKind(raw string) (kind graph.Kind, wasUnknown bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if k, ok := kindLookup()[key]; ok {
		return k, false
	}
	return graph.KindOption, true
}
