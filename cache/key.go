package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Key derives the cache key for one query execution. Everything that can
// change the result participates: backend, search path, library version
// (so upgrades never serve stale shapes), the bound SQL, and the
// canonicalized parameters.
func Key(backend, searchPath, version, sql string, params any) string {
	h := sha256.New()
	for _, part := range []string{backend, searchPath, version, sql, canonical(params)} {
		h.Write([]byte(part))
		h.Write([]byte{0x01})
	}
	return "result:" + backend + ":" + hex.EncodeToString(h.Sum(nil))
}

// canonical renders params deterministically. Maps sort by key; lists keep
// order. A map and a list holding the same values render differently on
// purpose: positional and named invocations are distinct calls.
func canonical(params any) string {
	switch p := params.(type) {
	case nil:
		return "nil"
	case []any:
		parts := make([]string, len(p))
		for i, v := range p {
			parts[i] = canonical(v)
		}
		return "L[" + strings.Join(parts, ",") + "]"
	case map[string]any:
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + canonical(p[k])
		}
		return "M{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%T:%v", p, p)
	}
}
