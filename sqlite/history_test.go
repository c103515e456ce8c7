package sqlite

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/collections"
	"github.com/asaidimu/go-jsondb/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	h, err := Open(context.Background(), "file::memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func event(eventType core.EventType, collection, docID, txID string, ts int64) core.Event {
	return core.Event{
		Type:          eventType,
		Timestamp:     ts,
		Operation:     "test",
		Database:      "space/db",
		Collection:    collection,
		DocumentID:    docID,
		TransactionID: txID,
	}
}

func TestInitIsIdempotent(t *testing.T) {
	h := newTestStore(t)
	require.NoError(t, h.Init(context.Background()))
	require.NoError(t, h.Init(context.Background()))
}

func TestRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t)

	d := int64(12)
	e := event(core.DocumentCreateSuccess, "users", "u1", "tx1", 1000)
	e.Input = core.Document{"id": "u1", "name": "Ada"}
	e.Output = core.Document{"id": "u1", "name": "Ada", "age": 36.0}
	e.Error = core.StringPtr("boom")
	e.Duration = &d
	e.Context = map[string]any{"attempt": 1.0}
	require.NoError(t, h.Record(ctx, e))

	recs, err := h.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	got := recs[0].Event
	assert.Equal(t, int64(1), recs[0].ID)
	assert.Equal(t, core.DocumentCreateSuccess, got.Type)
	assert.Equal(t, "space/db", got.Database)
	assert.Equal(t, map[string]any{"id": "u1", "name": "Ada"}, got.Input)
	assert.Equal(t, map[string]any{"id": "u1", "name": "Ada", "age": 36.0}, got.Output)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	require.NotNil(t, got.Duration)
	assert.Equal(t, d, *got.Duration)
	assert.Equal(t, map[string]any{"attempt": 1.0}, got.Context)

	require.NoError(t, h.Record(ctx, event(core.TransactionStart, "", "", "tx2", 2000)))
	recs, err = h.List(ctx, HistoryFilter{TransactionID: "tx2"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Event.Input)
	assert.Nil(t, recs[0].Event.Error)
	assert.Nil(t, recs[0].Event.Duration)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t)
	require.NoError(t, h.RecordAll(ctx, []core.Event{
		event(core.DocumentCreateSuccess, "users", "u1", "tx1", 100),
		event(core.DocumentCreateSuccess, "orders", "o1", "tx1", 200),
		event(core.DocumentDeleteSuccess, "users", "u1", "tx2", 300),
		event(core.TransactionSuccess, "", "", "tx1", 400),
	}))

	labels := func(recs []Record) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = fmt.Sprintf("%s@%d", r.Event.Type, r.Event.Timestamp)
		}
		return out
	}

	tests := []struct {
		name     string
		filter   HistoryFilter
		expected []string
	}{
		{"all", HistoryFilter{}, []string{"document:create:success@100", "document:create:success@200", "document:delete:success@300", "transaction:success@400"}},
		{"type", HistoryFilter{Type: core.DocumentCreateSuccess}, []string{"document:create:success@100", "document:create:success@200"}},
		{"collection", HistoryFilter{Collection: "users"}, []string{"document:create:success@100", "document:delete:success@300"}},
		{"document", HistoryFilter{DocumentID: "o1"}, []string{"document:create:success@200"}},
		{"transaction", HistoryFilter{TransactionID: "tx1"}, []string{"document:create:success@100", "document:create:success@200", "transaction:success@400"}},
		{"since", HistoryFilter{Since: 300}, []string{"document:delete:success@300", "transaction:success@400"}},
		{"combined", HistoryFilter{Collection: "users", TransactionID: "tx2"}, []string{"document:delete:success@300"}},
		{"limit", HistoryFilter{Limit: 2}, []string{"document:create:success@100", "document:create:success@200"}},
		{"newest first", HistoryFilter{Limit: 1, Descending: true}, []string{"transaction:success@400"}},
		{"no match", HistoryFilter{Collection: "nope"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := h.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, labels(recs))
		})
	}

	_, err := h.List(ctx, HistoryFilter{Limit: -1})
	assert.Error(t, err)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t)
	require.NoError(t, h.RecordAll(ctx, []core.Event{
		event(core.TransactionStart, "", "", "a", 100),
		event(core.TransactionStart, "", "", "b", 200),
		event(core.TransactionStart, "", "", "c", 300),
	}))

	n, err := h.Purge(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recs, err := h.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c", recs[0].Event.TransactionID)
}

func TestCreateTableSQL(t *testing.T) {
	stmts := CreateTableSQL("engine_events")
	require.Len(t, stmts, 1+len(indexedColumns))
	assert.True(t, strings.HasPrefix(stmts[0], `CREATE TABLE IF NOT EXISTS "engine_events"`))
	assert.Contains(t, stmts[0], `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_engine_events_type" ON "engine_events" ("type")`, stmts[1])
}

// fakeSubscriber delivers events synchronously.
type fakeSubscriber struct {
	mu   sync.Mutex
	next int
	subs map[string]struct {
		event core.EventType
		cb    core.EventCallback
	}
}

func (f *fakeSubscriber) Subscribe(event core.EventType, label string, cb core.EventCallback) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]struct {
			event core.EventType
			cb    core.EventCallback
		})
	}
	f.next++
	id := fmt.Sprint(f.next)
	f.subs[id] = struct {
		event core.EventType
		cb    core.EventCallback
	}{event, cb}
	return id
}

func (f *fakeSubscriber) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

func (f *fakeSubscriber) publish(e core.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.event == e.Type {
			s.cb(context.Background(), e)
		}
	}
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t)
	sub := &fakeSubscriber{}

	detach := h.Attach(sub, core.DocumentCreateSuccess)
	sub.publish(event(core.DocumentCreateSuccess, "users", "u1", "", 1))
	sub.publish(event(core.DocumentDeleteSuccess, "users", "u1", "", 2))

	recs, err := h.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1, "only subscribed types are recorded")

	detach()
	assert.Empty(t, sub.subs)
	sub.publish(event(core.DocumentCreateSuccess, "users", "u2", "", 3))
	recs, err = h.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	h.Attach(sub)
	assert.Len(t, sub.subs, len(core.EventTypes()))
}

func TestAttachToManager(t *testing.T) {
	ctx := context.Background()
	h := newTestStore(t)

	cfg := storage.DefaultConfig()
	cfg.DomainRoot = t.TempDir()
	st, err := storage.New(cfg, nil)
	require.NoError(t, err)
	cm, err := collections.NewManager(st, "space", "db", collections.Options{})
	require.NoError(t, err)

	detach := h.Attach(cm, core.DocumentCreateSuccess)
	defer detach()

	_, err = cm.Insert(ctx, "users", core.Document{"id": "u1", "name": "Ada"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		recs, err := h.List(ctx, HistoryFilter{Collection: "users"})
		return err == nil && len(recs) == 1 && recs[0].Event.DocumentID == "u1" && recs[0].Event.Database == "space/db"
	}, time.Second, 10*time.Millisecond)
}
