package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/asaidimu/go-jsondb/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeSchema(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func decode(t *testing.T, src string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(src), &v))
	return v
}

func newRegistry(t *testing.T, files map[string]string) *Registry {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.DomainRoot = t.TempDir()
	st, err := storage.New(cfg, zap.NewNop())
	require.NoError(t, err)
	root := st.SchemasRoot("space", "db")
	for rel, content := range files {
		writeSchema(t, root, rel, content)
	}
	reg, err := FromDB(st, "space", "db")
	require.NoError(t, err)
	return reg
}

func TestResolvePathURI(t *testing.T) {
	base := "db://space/db/schemas/v1/actors/actor.json"
	tests := []struct {
		target string
		want   string
	}{
		{"", base},
		{"db://other/x/schemas/v1/a.json", "db://other/x/schemas/v1/a.json"},
		{"common.json", "db://space/db/schemas/v1/actors/common.json"},
		{"./common.json", "db://space/db/schemas/v1/actors/common.json"},
		{"../base/base.json", "db://space/db/schemas/v1/base/base.json"},
		{"../A.json#/definitions/X", "db://space/db/schemas/v1/A.json#/definitions/X"},
		{"#/definitions/Y", base + "#/definitions/Y"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePathURI(base, tt.target))
		})
	}
}

func TestResolvePointer(t *testing.T) {
	doc := decode(t, `{"definitions": {"a/b": {"type": "string"}, "list": [1, {"x": true}]}}`)

	v, err := ResolvePointer(doc, "/definitions/a~1b/type")
	require.NoError(t, err)
	assert.Equal(t, "string", v)

	v, err = ResolvePointer(doc, "/definitions/list/1/x")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = ResolvePointer(doc, "/definitions/missing")
	assert.ErrorIs(t, err, ErrInvalidRef)

	v, err = ResolvePointer(doc, "")
	require.NoError(t, err)
	assert.Equal(t, doc, v)
}

func TestRegistryFromDB(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"actors/actor.json": `{"type": "object"}`,
		"base.json":         `{"definitions": {"id": {"type": "string"}}}`,
		"notes.txt":         `ignored`,
	})

	assert.Equal(t, []string{
		"db://space/db/schemas/v1/actors/actor.json",
		"db://space/db/schemas/v1/base.json",
	}, reg.URIs())
	assert.Equal(t, "db://space/db/schemas/v1/actors/actor.json", reg.URIFor("actors/actor.json"))

	node, ok := reg.Get("db://space/db/schemas/v1/base.json#/definitions/id")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "string"}, node)

	_, err := reg.Resolve("db://space/db/schemas/v1/actors/actor.json", "missing.json")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	_, err = reg.Resolve("db://space/db/schemas/v1/actors/actor.json", "../base.json#/definitions/nope")
	assert.ErrorIs(t, err, ErrInvalidRef)

	resolved, err := reg.Resolve("db://space/db/schemas/v1/actors/actor.json", "../base.json#/definitions/id")
	require.NoError(t, err)
	assert.Equal(t, "db://space/db/schemas/v1/base.json", resolved.URI)
}

func TestValidatorStructural(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"users/user.json": `{
			"type": "object",
			"required": ["name", "email"],
			"additionalProperties": false,
			"properties": {
				"id": {"type": "string"},
				"name": {"type": "string", "pattern": "^[A-Z]"},
				"email": {"type": "string"},
				"age": {"type": "integer"},
				"score": {"type": ["number", "null"]},
				"role": {"enum": ["admin", "member"]},
				"tags": {"type": "array", "items": {"type": "string"}},
				"address": {
					"type": "object",
					"required": ["city"],
					"properties": {"city": {"type": "string"}}
				}
			},
			"patternProperties": {"^x_": {"type": "boolean"}}
		}`,
	})
	v := NewValidator(reg)
	uri := reg.URIFor("users/user.json")

	valid := decode(t, `{"$schema": "ignored", "name": "Alice", "email": "a@x.io", "age": 30, "score": null,
		"role": "admin", "tags": ["a"], "address": {"city": "Paris"}, "x_beta": true}`)
	assert.NoError(t, v.Validate(uri, valid))

	tests := []struct {
		name string
		doc  string
		code string
		path string
	}{
		{"missing required", `{"name": "Alice"}`, CodeRequiredMissing, "email"},
		{"type mismatch", `{"name": "Alice", "email": 5}`, CodeTypeMismatch, "email"},
		{"integer rejects fraction", `{"name": "Alice", "email": "e", "age": 1.5}`, CodeTypeMismatch, "age"},
		{"additional property", `{"name": "Alice", "email": "e", "nickname": "al"}`, CodeAdditionalProperty, "nickname"},
		{"pattern property type", `{"name": "Alice", "email": "e", "x_beta": "yes"}`, CodeTypeMismatch, "x_beta"},
		{"enum", `{"name": "Alice", "email": "e", "role": "owner"}`, CodeEnumMismatch, "role"},
		{"array items", `{"name": "Alice", "email": "e", "tags": ["a", 2]}`, CodeTypeMismatch, "tags[1]"},
		{"nested required", `{"name": "Alice", "email": "e", "address": {}}`, CodeRequiredMissing, "address.city"},
		{"string pattern", `{"name": "alice", "email": "e"}`, CodePatternMismatch, "name"},
		{"root type", `[]`, CodeTypeMismatch, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(uri, decode(t, tt.doc))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Issues)
			found := false
			for _, issue := range verr.Issues {
				if issue.Code == tt.code && issue.Path == tt.path {
					found = true
				}
			}
			assert.True(t, found, "issues: %v", verr.Issues)
		})
	}

	assert.ErrorIs(t, v.Validate(reg.URIFor("nope.json"), valid), ErrSchemaNotFound)
}

func TestValidatorRefMatchesInlinedDefinition(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"A.json": `{"definitions": {"X": {
			"type": "object",
			"required": ["code"],
			"additionalProperties": false,
			"properties": {"code": {"type": "string"}, "qty": {"type": "integer"}}
		}}}`,
		"b/B.json": `{"$ref": "../A.json#/definitions/X"}`,
		"b/Inline.json": `{
			"type": "object",
			"required": ["code"],
			"additionalProperties": false,
			"properties": {"code": {"type": "string"}, "qty": {"type": "integer"}}
		}`,
	})
	v := NewValidator(reg)

	instances := []string{
		`{"code": "A1", "qty": 2}`,
		`{"code": "A1"}`,
		`{"qty": 2}`,
		`{"code": 1}`,
		`{"code": "A1", "extra": true}`,
		`"string"`,
	}
	for _, src := range instances {
		t.Run(src, func(t *testing.T) {
			viaRef := v.Validate(reg.URIFor("b/B.json"), decode(t, src))
			inline := v.Validate(reg.URIFor("b/Inline.json"), decode(t, src))
			if inline == nil {
				assert.NoError(t, viaRef)
				return
			}
			var refErr, inlineErr *ValidationError
			require.ErrorAs(t, viaRef, &refErr)
			require.ErrorAs(t, inline, &inlineErr)
			assert.Equal(t, inlineErr.Issues, refErr.Issues)
		})
	}
}

func TestValidatorRefs(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"tree.json": `{
			"type": "object",
			"properties": {
				"name": {"$ref": "#/definitions/name"},
				"children": {"type": "array", "items": {"$ref": "#"}}
			},
			"definitions": {"name": {"type": "string"}}
		}`,
		"loop.json":     `{"$ref": "#/definitions/a", "definitions": {"a": {"$ref": "#/definitions/b"}, "b": {"$ref": "#/definitions/a"}}}`,
		"dangling.json": `{"$ref": "other.json"}`,
		"composed.json": `{"allOf": [{"$ref": "tree.json"}, {"required": ["name"]}]}`,
	})
	v := NewValidator(reg)

	t.Run("recursive schema over nested data", func(t *testing.T) {
		doc := decode(t, `{"name": "root", "children": [{"name": "leaf", "children": []}]}`)
		assert.NoError(t, v.Validate(reg.URIFor("tree.json"), doc))

		bad := decode(t, `{"name": "root", "children": [{"name": 3}]}`)
		var verr *ValidationError
		require.ErrorAs(t, v.Validate(reg.URIFor("tree.json"), bad), &verr)
		assert.Equal(t, "children[0].name", verr.Issues[0].Path)
	})

	t.Run("reference cycle is detected", func(t *testing.T) {
		err := v.Validate(reg.URIFor("loop.json"), decode(t, `{}`))
		assert.ErrorIs(t, err, ErrRefCycle)
	})

	t.Run("dangling reference", func(t *testing.T) {
		err := v.Validate(reg.URIFor("dangling.json"), decode(t, `{}`))
		assert.ErrorIs(t, err, ErrSchemaNotFound)
	})

	t.Run("allOf", func(t *testing.T) {
		err := v.Validate(reg.URIFor("composed.json"), decode(t, `{"children": []}`))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.True(t, verr.HasCode(CodeRequiredMissing))
	})
}

func TestApplyDefaults(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"common.json": `{"definitions": {"status": {"type": "string", "default": "draft"}}}`,
		"doc.json": `{
			"type": "object",
			"properties": {
				"status": {"$ref": "common.json#/definitions/status"},
				"count": {"type": "integer", "default": 0},
				"meta": {"type": "object", "properties": {"tags": {"type": "array", "default": []}}},
				"title": {"type": "string"}
			}
		}`,
	})
	v := NewValidator(reg)

	doc := map[string]any{"meta": map[string]any{}, "count": 5.0}
	require.NoError(t, v.ApplyDefaults(reg.URIFor("doc.json"), doc))
	assert.Equal(t, "draft", doc["status"])
	assert.Equal(t, 5.0, doc["count"])
	assert.Equal(t, []any{}, doc["meta"].(map[string]any)["tags"])
	assert.NotContains(t, doc, "title")
}

func TestRegistryRules(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"orders/order.json": `{
			"type": "object",
			"x_rules": [{"id": "total", "target": "total", "expr": {"mul": [{"var": "qty"}, {"var": "price"}]}}]
		}`,
		"plain.json": `{"type": "object"}`,
		"broken.json": `{"x_rules": [{"id": "r", "target": "t", "expr": {"nope": 1}}]}`,
	})

	list, err := reg.Rules(reg.URIFor("orders/order.json"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "total", list[0].Target)

	list, err = reg.Rules(reg.URIFor("plain.json"))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = reg.Rules(reg.URIFor("broken.json"))
	assert.Error(t, err)
}
