package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Hash digests a configuration into its canonical content address.
// Canonicalization sorts object keys, drops metadata and timestamp fields,
// and order-normalizes arrays, so semantically identical configurations
// collide to the same key regardless of textual formatting.
func Hash(v any) string {
	canonical := canonicalize(normalizeValue(v))
	sum := blake3.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// normalizeValue converts arbitrary values (including struct types) into the
// generic map/slice form canonicalize operates on.
func normalizeValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		// Unserializable input still needs a stable address.
		return fmt.Sprintf("%#v", v)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}
	return generic
}

// ignoredKeys are dropped during canonicalization: they describe the
// configuration without changing its meaning.
var ignoredKeys = map[string]bool{
	"metadata":  true,
	"timestamp": true,
}

func canonicalize(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			if ignoredKeys[strings.ToLower(k)] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = jsonString(k) + ":" + canonicalize(t[k])
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = canonicalize(e)
		}
		sort.Strings(parts)
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return jsonValue(t)
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func jsonValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
