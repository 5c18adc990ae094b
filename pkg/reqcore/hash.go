package reqcore

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// HashAlgorithm selects how IdempotencyFeature and CacheFeature derive
// keys from a RequestConfig when no explicit key is given.
type HashAlgorithm string

const (
	HashFNV1a  HashAlgorithm = "fnv1a"
	HashXXHash HashAlgorithm = "xxhash"
	HashSimple HashAlgorithm = "simple"
)

// canonicalKeyParts builds a stable, order-independent string
// representation of the parts of a request that determine its identity:
// method, resolved URL, and a JSON-marshaled, key-sorted view of Data and
// Params. This is the input every hash algorithm below consumes.
func canonicalKeyParts(cfg *RequestConfig) string {
	var b strings.Builder
	b.WriteString(string(cfg.Method))
	b.WriteByte('|')
	b.WriteString(cfg.URL)
	b.WriteByte('|')
	b.WriteString(canonicalJSON(cfg.Params))
	b.WriteByte('|')
	b.WriteString(canonicalJSON(cfg.Data))
	return b.String()
}

// canonicalJSON renders v as JSON with map keys sorted, so two
// semantically identical maps always hash identically. encoding/json
// already sorts map[string]X keys; for map[string]any trees we re-marshal
// through a sorted-key walk to be safe against nested maps.
func canonicalJSON(v any) string {
	if v == nil {
		return "null"
	}
	normalized := normalize(v, 0)
	b, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// maxNormalizeDepth bounds recursion in normalize: anything nested deeper
// (including cyclic structures reached via any) collapses to the
// "[Object]" sentinel instead of recursing forever.
const maxNormalizeDepth = 10

func normalize(v any, depth int) any {
	if depth >= maxNormalizeDepth {
		return "[Object]"
	}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = normalize(t[k], depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e, depth+1)
		}
		return out
	default:
		return t
	}
}

// HashKey derives a cache/idempotency key for cfg using algo.
func HashKey(cfg *RequestConfig, algo HashAlgorithm) string {
	return hashString(algo, canonicalKeyParts(cfg))
}

// hashString applies algo to an already-built canonical string, shared
// by HashKey and IdempotencyFeature's header-inclusive key derivation.
func hashString(algo HashAlgorithm, s string) string {
	switch algo {
	case HashXXHash:
		return strconv.FormatUint(xxhash.Sum64String(s), 16)
	case HashSimple:
		return simpleHash(s)
	default:
		return fnv1a(s)
	}
}

// canonicalHeaderName normalizes a header name for case-insensitive
// comparison and stable key generation (HTTP header names are ASCII, so a
// simple lowercase fold is enough here).
func canonicalHeaderName(name string) string {
	return strings.ToLower(name)
}

// fnv1a hashes s with the standard library's FNV-1a implementation.
func fnv1a(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}

// simpleHash is the lexicographic fallback: the parts string itself,
// truncated to a bounded length so keys stay a manageable size while
// remaining fully deterministic and collision-free for distinct inputs
// below that length.
func simpleHash(s string) string {
	const maxLen = 256
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
