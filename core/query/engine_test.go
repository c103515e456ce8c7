package query

import (
	"context"
	"errors"
	"testing"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/collections"
	"github.com/asaidimu/go-jsondb/core/index"
	"github.com/asaidimu/go-jsondb/core/storage"
	"github.com/asaidimu/go-jsondb/core/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) (*Engine, *collections.Manager) {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.DomainRoot = t.TempDir()
	st, err := storage.New(cfg, zap.NewNop())
	require.NoError(t, err)
	cm, err := collections.NewManager(st, "space", "db", collections.Options{})
	require.NoError(t, err)
	tm := transaction.NewManager(cm, zap.NewNop())
	return NewEngine(cm, tm, zap.NewNop(), "en"), cm
}

func seedActors(t *testing.T, e *Engine) {
	t.Helper()
	_, err := e.Insert(context.Background(), "actors", []core.Document{
		{"id": "a1", "name": "Ada", "kind": "human"},
		{"id": "a2", "name": "R2", "kind": "bot"},
		{"id": "a3", "name": "Grace", "kind": "human"},
	})
	require.NoError(t, err)
}

func TestSQLMatchesHandBuiltQuery(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	seedActors(t, e)

	fromSQL, err := e.ExecuteSQL(ctx, "SELECT * FROM actors WHERE kind = 'bot'")
	require.NoError(t, err)

	byHand, err := e.ExecuteQuery(ctx, Query{
		Collection: "actors",
		Filter:     And(Condition{Field: "kind", Operator: ComparisonOperatorEq, Value: "bot"}),
	})
	require.NoError(t, err)

	assert.Equal(t, byHand, fromSQL)
	require.Len(t, fromSQL.Documents, 1)
	assert.Equal(t, "a2", fromSQL.Documents[0].ID())
	assert.Equal(t, 1, fromSQL.TotalCount)
}

func TestExecuteSQLAppliesLimitAndOffset(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	seedActors(t, e)

	res, err := e.ExecuteSQL(ctx, "SELECT name FROM actors ORDER BY name LIMIT 1 OFFSET 1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 1, res.Offset)
	require.NotNil(t, res.Limit)
	assert.Equal(t, 1, *res.Limit)
	assert.Equal(t, []core.Document{{"name": "Grace"}}, res.Documents)
}

func TestCountAndListCollections(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	seedActors(t, e)

	n, err := e.Count(ctx, "actors", And(Condition{"kind", ComparisonOperatorEq, "human"}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.Count(ctx, "actors", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	names, err := e.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"actors"}, names)
}

func TestInsertGeneratesIDs(t *testing.T) {
	ctx := context.Background()
	e, cm := newTestEngine(t)

	res, err := e.Insert(ctx, "notes", []core.Document{{"text": "a"}, {"id": "n2", "text": "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.InsertedCount)
	require.Len(t, res.InsertedIDs, 2)
	assert.NotEmpty(t, res.InsertedIDs[0])
	assert.Equal(t, "n2", res.InsertedIDs[1])

	doc, err := cm.Get(ctx, "notes", res.InsertedIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "a", doc["text"])
}

func TestInsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	e, cm := newTestEngine(t)
	seedActors(t, e)

	_, err := e.Insert(ctx, "actors", []core.Document{
		{"id": "a4", "name": "Linus"},
		{"id": "a1", "name": "duplicate"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, transaction.ErrRolledBack))
	assert.True(t, errors.Is(err, collections.ErrDocumentExists))

	exists, err := cm.Exists(ctx, "actors", "a4")
	require.NoError(t, err)
	assert.False(t, exists, "the first insert was rolled back")
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	e, cm := newTestEngine(t)
	seedActors(t, e)

	res, err := e.Upsert(ctx, "actors", []core.Document{
		{"name": "Ada", "kind": "admiral"},
		{"name": "Linus", "kind": "human"},
		{"name": "Linus", "lang": "c"},
	}, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.InsertedCount)
	assert.Equal(t, 2, res.UpdatedCount)
	require.Len(t, res.AffectedIDs, 3)
	assert.Equal(t, "a1", res.AffectedIDs[0])
	assert.Equal(t, res.AffectedIDs[1], res.AffectedIDs[2], "a later document matches one inserted earlier in the batch")

	ada, err := cm.Get(ctx, "actors", "a1")
	require.NoError(t, err)
	assert.Equal(t, "admiral", ada["kind"])

	linus, err := cm.Get(ctx, "actors", res.AffectedIDs[1])
	require.NoError(t, err)
	assert.Equal(t, "human", linus["kind"])
	assert.Equal(t, "c", linus["lang"])

	_, err = e.Upsert(ctx, "actors", []core.Document{{"kind": "x"}}, []string{"name"})
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestUpdateMergesTopLevelFields(t *testing.T) {
	ctx := context.Background()
	e, cm := newTestEngine(t)
	seedActors(t, e)

	res, err := e.Update(ctx, "actors", And(Condition{"kind", ComparisonOperatorEq, "human"}),
		map[string]any{"verified": true, "kind": "person", "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MatchedCount)
	assert.Equal(t, 2, res.ModifiedCount)

	grace, err := cm.Get(ctx, "actors", "a3")
	require.NoError(t, err)
	assert.Equal(t, "person", grace["kind"])
	assert.Equal(t, true, grace["verified"])
	assert.Equal(t, "Grace", grace["name"])
	assert.Equal(t, "a3", grace.ID())

	res, err = e.Update(ctx, "actors", And(Condition{"kind", ComparisonOperatorEq, "person"}), map[string]any{"verified": true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MatchedCount)
	assert.Zero(t, res.ModifiedCount, "unchanged documents are not rewritten")

	_, err = e.Update(ctx, "actors", And(Condition{"id", ComparisonOperatorEq, "a1"}), map[string]any{"verified": nil, "kind": nil})
	require.NoError(t, err)
	ada, err := cm.Get(ctx, "actors", "a1")
	require.NoError(t, err)
	assert.NotContains(t, ada, "kind")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	seedActors(t, e)

	res, err := e.Delete(ctx, "actors", And(Condition{"kind", ComparisonOperatorEq, "human"}))
	require.NoError(t, err)
	assert.Equal(t, 2, res.DeletedCount)

	left, err := e.ExecuteQuery(ctx, Query{Collection: "actors"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, ids(left.Documents))

	res, err = e.Delete(ctx, "actors", And(Condition{"kind", ComparisonOperatorEq, "nobody"}))
	require.NoError(t, err)
	assert.Zero(t, res.DeletedCount)
}

func TestWritesKeepIndexesInStep(t *testing.T) {
	ctx := context.Background()
	e, cm := newTestEngine(t)
	seedActors(t, e)
	require.NoError(t, cm.CreateIndex(ctx, "actors", index.Definition{Name: "by_kind", Field: "kind", Kind: index.KindHash}))

	_, err := e.Update(ctx, "actors", And(Condition{"id", ComparisonOperatorEq, "a2"}), map[string]any{"kind": "droid"})
	require.NoError(t, err)

	bots, err := cm.FindByIndex(ctx, "actors", "by_kind", "bot")
	require.NoError(t, err)
	assert.Empty(t, bots)
	droids, err := cm.FindByIndex(ctx, "actors", "by_kind", "droid")
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, ids(droids))
}
