package index

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"github.com/asaidimu/go-jsondb/core"
)

// CanonicalKey encodes a field value as the string stored in index records.
// Missing and null values have no key.
func CanonicalKey(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// decodeKey reverses CanonicalKey.
func decodeKey(key string) any {
	var v any
	if err := json.Unmarshal([]byte(key), &v); err != nil {
		return key
	}
	return v
}

// Tokenize lower-cases s and splits it on every rune that is neither a
// letter nor a digit. Duplicates are removed; order is sorted.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// keysFor returns the keys doc contributes to an index with definition d.
func keysFor(d Definition, doc map[string]any) []string {
	if doc == nil {
		return nil
	}
	value, ok := core.GetPath(doc, d.Field)
	if !ok || value == nil {
		return nil
	}
	if d.Kind == KindText {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		return Tokenize(s)
	}
	key, ok := CanonicalKey(value)
	if !ok {
		return nil
	}
	return []string{key}
}

// compareKeys orders canonical keys by their decoded values, falling back to
// the encoded form when the values are not comparable.
func compareKeys(a, b string) int {
	if c, ok := core.Compare(decodeKey(a), decodeKey(b)); ok {
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}
