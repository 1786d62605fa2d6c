// Package queryopt implements the Query Optimizer Stack (QOS): a layered
// query planner and executor with an LRU result cache, an index registry, a
// statistics collector, and three specializations (vector search,
// knowledge-graph traversal, hybrid search) composing through a common base
// optimizer.
package queryopt

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Params is a query's parameter bag. Values are the usual JSON-decoded
// shapes (string, float64, bool, nil, []interface{}, map[string]interface{}).
type Params map[string]interface{}

// canonicalize produces a deterministic string form of params with map keys
// sorted at every nesting level, so two semantically-equal parameter maps
// with different insertion order always produce the same cache key and
// query id.
//
// Grounded on query_optimizer.py's LRUQueryCache._generate_key, which calls
// json.dumps(params, sort_keys=True).
func canonicalize(params Params) string {
	return canonicalValue(sortKeysDeep(params))
}

func canonicalValue(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Params must be JSON-safe by contract; a marshal failure here
		// indicates a caller bug, not a runtime condition to recover from.
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// sortKeysDeep rewrites any map[string]interface{} in v into an ordered
// representation (here: Go's json.Marshal already sorts map[string]T keys
// lexicographically, so sortKeysDeep only needs to normalize nested slices
// of maps recursively so that equal content serializes identically).
func sortKeysDeep(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortKeysDeep(t[k])
		}
		return out
	case Params:
		return sortKeysDeep(map[string]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = sortKeysDeep(e)
		}
		return out
	default:
		return v
	}
}

// cacheKey forms "{kind}:{canonical}".
func cacheKey(kind string, params Params) string {
	return kind + ":" + canonicalize(params)
}

// queryID forms "{kind}_{md5(kind+canonical(params))[:8]}".
func queryID(kind string, params Params) string {
	sum := md5.Sum([]byte(kind + canonicalize(params)))
	return kind + "_" + hex.EncodeToString(sum[:])[:8]
}
