package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	return m, dir
}

func TestDefinitionNormalize(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		want    Definition
		wantErr bool
	}{
		{"dot path", Definition{Name: "by_city", Field: "address.city", Kind: "hash"},
			Definition{Name: "by_city", Field: "/address/city", Kind: KindHash}, false},
		{"btree alias", Definition{Name: "by_age", Field: "/age", Kind: "btree", Unique: true},
			Definition{Name: "by_age", Field: "/age", Kind: KindOrdered, Unique: true}, false},
		{"unknown kind", Definition{Name: "x", Field: "a", Kind: "trie"}, Definition{}, true},
		{"missing field", Definition{Name: "x", Kind: "hash"}, Definition{}, true},
		{"bad name", Definition{Name: "a/b", Field: "a", Kind: "hash"}, Definition{}, true},
		{"unique text", Definition{Name: "t", Field: "a", Kind: "text", Unique: true}, Definition{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tt.def
			err := def.Normalize()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDefinition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, def)
		})
	}

	assert.Equal(t, "by_age.btree.idx", Definition{Name: "by_age", Kind: KindOrdered}.FileName())
	assert.Equal(t, "body.text.idx", Definition{Name: "body", Kind: KindText}.FileName())
}

func TestCanonicalKeyAndTokenize(t *testing.T) {
	key, ok := CanonicalKey("alice")
	require.True(t, ok)
	assert.Equal(t, `"alice"`, key)

	key, _ = CanonicalKey(3.0)
	assert.Equal(t, "3", key)
	intKey, _ := CanonicalKey(3)
	assert.Equal(t, key, intKey)

	_, ok = CanonicalKey(nil)
	assert.False(t, ok)

	assert.Equal(t, []string{"brown", "fox", "quick", "the"}, Tokenize("The quick, brown FOX! the"))
	assert.Empty(t, Tokenize(" -- "))
}

func TestUniqueHashIndexConsistency(t *testing.T) {
	m, dir := openManager(t)
	require.NoError(t, m.Create(Definition{Name: "by_email", Field: "email", Kind: "hash", Unique: true}, nil))

	alice := core.Document{"id": "1", "email": "alice@x.io"}
	bob := core.Document{"id": "2", "email": "bob@x.io"}
	require.NoError(t, m.OnInsert(alice))
	require.NoError(t, m.OnInsert(bob))

	err := m.OnInsert(core.Document{"id": "3", "email": "alice@x.io"})
	var uerr *UniqueViolationError
	require.ErrorAs(t, err, &uerr)
	assert.ErrorIs(t, err, ErrUniqueViolation)
	assert.Equal(t, "by_email", uerr.Index)
	assert.Equal(t, `"alice@x.io"`, uerr.Key)

	// re-indexing the same document under its own key is not a conflict
	require.NoError(t, m.OnUpdate(alice, alice))

	changed := core.Document{"id": "1", "email": "alice@new.io"}
	require.NoError(t, m.OnUpdate(alice, changed))

	ids, err := m.Lookup("by_email", "alice@x.io")
	require.NoError(t, err)
	assert.Empty(t, ids, "stale key must be retracted")

	ids, err = m.Lookup("by_email", "alice@new.io")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)

	require.NoError(t, m.OnDelete(bob))
	ids, err = m.Lookup("by_email", "bob@x.io")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// the freed key can be taken by another document
	require.NoError(t, m.OnInsert(core.Document{"id": "4", "email": "bob@x.io"}))

	live := []core.Document{changed, {"id": "4", "email": "bob@x.io"}}
	for _, doc := range live {
		ids, err := m.Lookup("by_email", doc["email"])
		require.NoError(t, err)
		assert.Equal(t, []string{doc.ID()}, ids)
	}

	_, err = os.Stat(filepath.Join(dir, "_indexes", "by_email.hash.idx"))
	assert.NoError(t, err)
}

func TestViolationLeavesAllIndexesUntouched(t *testing.T) {
	m, _ := openManager(t)
	require.NoError(t, m.Create(Definition{Name: "by_name", Field: "name", Kind: "hash"}, nil))
	require.NoError(t, m.Create(Definition{Name: "by_code", Field: "code", Kind: "hash", Unique: true}, nil))

	require.NoError(t, m.OnInsert(core.Document{"id": "1", "name": "a", "code": "X"}))
	err := m.OnInsert(core.Document{"id": "2", "name": "b", "code": "X"})
	require.ErrorIs(t, err, ErrUniqueViolation)

	ids, err := m.Lookup("by_name", "b")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNonUniqueAndMissingValues(t *testing.T) {
	m, _ := openManager(t)
	require.NoError(t, m.Create(Definition{Name: "by_kind", Field: "kind", Kind: "hash"}, nil))

	require.NoError(t, m.OnInsert(core.Document{"id": "b", "kind": "bot"}))
	require.NoError(t, m.OnInsert(core.Document{"id": "a", "kind": "bot"}))
	require.NoError(t, m.OnInsert(core.Document{"id": "c", "kind": nil}))
	require.NoError(t, m.OnInsert(core.Document{"id": "d"}))

	ids, err := m.Lookup("by_kind", "bot")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = m.Lookup("by_kind", nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOrderedRange(t *testing.T) {
	m, _ := openManager(t)
	docs := []core.Document{
		{"id": "a", "age": 30.0},
		{"id": "b", "age": 5.0},
		{"id": "c", "age": 18.0},
		{"id": "d", "age": 18.0},
		{"id": "e", "age": 70.0},
	}
	require.NoError(t, m.Create(Definition{Name: "by_age", Field: "age", Kind: "btree"}, docs))

	tests := []struct {
		name   string
		lo, hi any
		want   []string
	}{
		{"closed", 18, 30, []string{"c", "d", "a"}},
		{"open low", nil, 18, []string{"b", "c", "d"}},
		{"open high", 31, nil, []string{"e"}},
		{"everything", nil, nil, []string{"b", "c", "d", "a", "e"}},
		{"empty", 100, 200, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := m.Range("by_age", tt.lo, tt.hi)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}

	_, err := m.Search("by_age", "x")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestTextIndex(t *testing.T) {
	m, _ := openManager(t)
	require.NoError(t, m.Create(Definition{Name: "body", Field: "body", Kind: "text"}, nil))

	first := core.Document{"id": "1", "body": "The quick brown fox"}
	require.NoError(t, m.OnInsert(first))
	require.NoError(t, m.OnInsert(core.Document{"id": "2", "body": "A quick red fox"}))
	require.NoError(t, m.OnInsert(core.Document{"id": "3", "body": 42.0}))

	ids, err := m.Search("body", "QUICK fox")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	ids, err = m.Search("body", "brown")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)

	require.NoError(t, m.OnUpdate(first, core.Document{"id": "1", "body": "slow turtle"}))
	ids, err = m.Search("body", "brown")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = m.Lookup("body", "turtle")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)

	_, err = m.Range("body", nil, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestManagerPersistsDefinitions(t *testing.T) {
	m, dir := openManager(t)
	created, err := m.Init("db://s/d/schemas/v1/users/user.json")
	require.NoError(t, err)
	assert.True(t, created)

	docs := []core.Document{{"id": "1", "email": "a"}, {"id": "2", "email": "a"}}
	err = m.Create(Definition{Name: "by_email", Field: "email", Kind: "hash", Unique: true}, docs)
	require.ErrorIs(t, err, ErrUniqueViolation, "backfill must honour uniqueness")
	assert.Empty(t, m.Definitions())

	require.NoError(t, m.Create(Definition{Name: "by_email", Field: "email", Kind: "hash"}, docs))
	assert.ErrorIs(t, m.Create(Definition{Name: "by_email", Field: "x", Kind: "hash"}, nil), ErrIndexExists)

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "db://s/d/schemas/v1/users/user.json", reopened.Schema())
	assert.Equal(t, m.Definitions(), reopened.Definitions())

	created, err = reopened.Init("other")
	require.NoError(t, err)
	assert.False(t, created)

	ids, err := reopened.Lookup("by_email", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	require.NoError(t, reopened.Drop("by_email"))
	assert.ErrorIs(t, reopened.Drop("by_email"), ErrIndexNotFound)
	_, err = reopened.Lookup("by_email", "a")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	_, err = os.Stat(filepath.Join(dir, "_indexes", "by_email.hash.idx"))
	assert.True(t, os.IsNotExist(err))
}

func TestRebuild(t *testing.T) {
	m, _ := openManager(t)
	require.NoError(t, m.Create(Definition{Name: "by_kind", Field: "kind", Kind: "hash"}, []core.Document{{"id": "1", "kind": "old"}}))
	require.NoError(t, m.Rebuild([]core.Document{{"id": "2", "kind": "new"}}))

	ids, err := m.Lookup("by_kind", "old")
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = m.Lookup("by_kind", "new")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)
}
