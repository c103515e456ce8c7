package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected float64
		success  bool
	}{
		{"int", 10, 10.0, true},
		{"int64", int64(50), 50.0, true},
		{"uint8", uint8(7), 7.0, true},
		{"float64", 3.5, 3.5, true},
		{"json number", json.Number("2.25"), 2.25, true},
		{"numeric string", "42", 42.0, true},
		{"non-numeric string", "abc", 0, false},
		{"empty string", "", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := ToFloat64(tt.input)
			assert.Equal(t, tt.success, ok)
			assert.Equal(t, tt.expected, f)
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
		ok   bool
	}{
		{"numbers", 1, 2.5, -1, true},
		{"numeric strings compare as numbers", "10", 9, 1, true},
		{"strings", "apple", "banana", -1, true},
		{"booleans", true, false, 1, true},
		{"equal booleans", false, false, 0, true},
		{"mixed string and bool", "x", true, 0, false},
		{"nil", nil, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compare(tt.a, tt.b)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(1, 1.0))
	assert.True(t, ValuesEqual(nil, nil))
	assert.False(t, ValuesEqual(nil, 0))
	assert.True(t, ValuesEqual(
		map[string]any{"a": []any{1, "x"}},
		map[string]any{"a": []any{1.0, "x"}},
	))
	assert.False(t, ValuesEqual([]any{1, 2}, []any{2, 1}))
}

func TestPathHelpers(t *testing.T) {
	doc := Document{
		"id": "d1",
		"user": map[string]any{
			"profile": map[string]any{"name": "Alice"},
			"tags":    []any{"a", "b"},
		},
	}

	v, ok := GetPath(doc, "user.profile.name")
	require.True(t, ok)
	assert.Equal(t, "Alice", v)

	v, ok = GetPath(doc, "/user/tags/1")
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = GetPath(doc, "user.missing")
	assert.False(t, ok)

	require.NoError(t, SetPath(doc, "totals.gross", 12.5))
	v, ok = GetPath(doc, "totals.gross")
	require.True(t, ok)
	assert.Equal(t, 12.5, v)

	assert.Equal(t, "/a~1b/c", ToPointer("a/b.c"))
	assert.Equal(t, "a.b", ToDotPath("/a/b"))
	assert.Equal(t, "d1", doc.ID())
}

func TestCloneIsDeep(t *testing.T) {
	doc := Document{"nested": map[string]any{"n": 1}, "list": []any{1}}
	clone := doc.Clone()
	clone["nested"].(map[string]any)["n"] = 2
	clone["list"].([]any)[0] = 9
	assert.Equal(t, 1, doc["nested"].(map[string]any)["n"])
	assert.Equal(t, 1, doc["list"].([]any)[0])
}

func TestDiffPaths(t *testing.T) {
	prev := map[string]any{"qty": 1.0, "price": 2.0, "meta": map[string]any{"note": "a"}}
	next := map[string]any{"qty": 3.0, "price": 2.0, "meta": map[string]any{"note": "b"}, "extra": true}
	assert.Equal(t, []string{"extra", "meta.note", "qty"}, DiffPaths(next, prev))
	assert.Empty(t, DiffPaths(prev, prev))
	assert.Equal(t, []string{"a", "b.c"}, DiffPaths(map[string]any{"a": 1, "b": map[string]any{"c": 2}}, nil))
}

func TestJSONEqual(t *testing.T) {
	assert.True(t, JSONEqual(int64(3), 3.0))
	assert.False(t, JSONEqual("3", 3))
	assert.True(t, JSONEqual(Document{"a": 1}, map[string]any{"a": 1.0}))
}
