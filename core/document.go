package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Document is a single JSON object record. It is the unit of storage and
// always carries a string "id" once it has been persisted.
type Document map[string]any

// ID returns the document identifier, or "" when absent or not a string.
func (d Document) ID() string {
	if id, ok := d["id"].(string); ok {
		return id
	}
	return ""
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return CloneValue(map[string]any(d)).(map[string]any)
}

// CloneValue deep-copies a decoded JSON value. Maps and slices are copied,
// scalars are returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// SplitPath splits a field path into segments. Both dot paths ("a.b.c")
// and JSON pointers ("/a/b/c") are accepted.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	if strings.HasPrefix(path, "/") {
		parts := strings.Split(path[1:], "/")
		for i, p := range parts {
			parts[i] = unescapePointer(p)
		}
		return parts
	}
	return strings.Split(path, ".")
}

// ToPointer converts a dot path into a JSON pointer. Paths that are already
// pointers are returned unchanged.
func ToPointer(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = escapePointer(p)
	}
	return "/" + strings.Join(parts, "/")
}

// ToDotPath converts a JSON pointer into a dot path.
func ToDotPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return path
	}
	return strings.Join(SplitPath(path), ".")
}

func escapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

func unescapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~1", "/"), "~0", "~")
}

// GetPath walks a decoded JSON value along a dot path or pointer. Array
// elements are addressed by decimal index.
func GetPath(v any, path string) (any, bool) {
	current := v
	for _, part := range SplitPath(path) {
		switch node := current.(type) {
		case Document:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// SetPath assigns value at path inside doc, creating intermediate objects
// as needed. Non-object intermediates are replaced.
func SetPath(doc map[string]any, path string, value any) error {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return fmt.Errorf("empty field path")
	}
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			if d, isDoc := current[part].(Document); isDoc {
				next = d
			} else {
				next = make(map[string]any)
				current[part] = next
			}
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// DiffPaths returns the sorted dot paths of leaves that differ between
// next and prev. Nested objects are compared key by key; any other value
// that changes is reported at its own path.
func DiffPaths(next, prev any) []string {
	set := make(map[string]struct{})
	diffInto(set, "", next, prev)
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func diffInto(set map[string]struct{}, prefix string, next, prev any) {
	nm, nIsMap := asMap(next)
	pm, pIsMap := asMap(prev)
	if nIsMap && pIsMap {
		for k, nv := range nm {
			diffInto(set, joinPath(prefix, k), nv, pm[k])
		}
		for k, pv := range pm {
			if _, ok := nm[k]; !ok {
				diffInto(set, joinPath(prefix, k), nil, pv)
			}
		}
		return
	}
	if nIsMap && prev == nil {
		if len(nm) == 0 && prefix != "" {
			set[prefix] = struct{}{}
		}
		for k, nv := range nm {
			diffInto(set, joinPath(prefix, k), nv, nil)
		}
		return
	}
	if !ValuesEqual(next, prev) && prefix != "" {
		set[prefix] = struct{}{}
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
