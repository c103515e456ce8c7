package query

import (
	"encoding/json"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
	"golang.org/x/text/collate"
)

// IntPtr returns a pointer to i, for Query.Limit literals.
func IntPtr(i int) *int {
	return &i
}

func memberOf(value, set any) bool {
	items, ok := set.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if core.ValuesEqual(value, item) {
			return true
		}
	}
	return false
}

// contains is array membership for arrays and substring search for strings.
func contains(fieldValue, needle any) bool {
	switch v := fieldValue.(type) {
	case []any:
		return memberOf(needle, v)
	case string:
		sub, ok := needle.(string)
		return ok && strings.Contains(v, sub)
	}
	return false
}

func stringPair(a, b any) (string, string, bool) {
	sa, aok := a.(string)
	sb, bok := b.(string)
	return sa, sb, aok && bok
}

const (
	rankMissing = iota
	rankNull
	rankBool
	rankNumber
	rankString
	rankOther
)

func sortRank(v any, present bool) int {
	if !present {
		return rankMissing
	}
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case string:
		return rankString
	}
	if core.IsNumber(v) {
		return rankNumber
	}
	return rankOther
}

// compareForSort is a total order over decoded JSON values. Strings use the
// collator first and fall back to byte order so the result is deterministic.
func compareForSort(collator *collate.Collator, a any, aok bool, b any, bok bool) int {
	ra, rb := sortRank(a, aok), sortRank(b, bok)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankBool, rankNumber:
		c, _ := core.Compare(a, b)
		return c
	case rankString:
		sa, sb := a.(string), b.(string)
		if c := collator.CompareString(sa, sb); c != 0 {
			return c
		}
		return strings.Compare(sa, sb)
	case rankOther:
		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		return strings.Compare(string(ja), string(jb))
	}
	return 0
}

// removePath deletes the value at a dot path. Missing paths are ignored.
func removePath(doc map[string]any, path string) {
	parts := core.SplitPath(path)
	if len(parts) == 0 {
		return
	}
	current := doc
	for _, part := range parts[:len(parts)-1] {
		switch next := current[part].(type) {
		case map[string]any:
			current = next
		case core.Document:
			current = next
		default:
			return
		}
	}
	delete(current, parts[len(parts)-1])
}

// mergeTopLevel applies patch over doc one top-level key at a time. A nil
// patch value removes the key. The id is never changed.
func mergeTopLevel(doc core.Document, patch map[string]any) core.Document {
	out := doc.Clone()
	for k, v := range patch {
		if k == "id" {
			continue
		}
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = core.CloneValue(v)
	}
	return out
}
