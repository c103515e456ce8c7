// Package sqlite records engine events in a SQLite database, giving every
// database an append-only audit trail that survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asaidimu/go-jsondb/core"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// dbRunner abstracts the methods shared by *sql.DB and *sql.Tx so writes
// can run inside or outside a transaction.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// HistoryStore appends engine events to a table and reads them back.
type HistoryStore struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
	owned  bool
}

// Open opens (or creates) the SQLite file at path and returns an
// initialised store that closes the connection on Close.
func Open(ctx context.Context, path string, logger *zap.Logger) (*HistoryStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps in-memory
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	h := NewHistoryStore(db, logger)
	h.owned = true
	if err := h.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// NewHistoryStore wraps an existing connection. Call Init before use.
func NewHistoryStore(db *sql.DB, logger *zap.Logger) *HistoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryStore{
		db:     db,
		table:  DefaultTable,
		logger: logger,
	}
}

// Init creates the events table and its indexes if they do not exist.
func (h *HistoryStore) Init(ctx context.Context) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, stmt := range CreateTableSQL(h.table) {
		h.logger.Debug("Executing DDL", zap.String("sql", stmt))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to create table %s: %w", h.table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit table creation: %w", err)
	}
	return nil
}

// Record appends one event.
func (h *HistoryStore) Record(ctx context.Context, event core.Event) error {
	return h.record(ctx, h.db, event)
}

// RecordAll appends events in one transaction; either all are stored or
// none are.
func (h *HistoryStore) RecordAll(ctx context.Context, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, e := range events {
		if err := h.record(ctx, tx, e); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

func (h *HistoryStore) record(ctx context.Context, r dbRunner, event core.Event) error {
	args, err := eventArgs(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.Type, err)
	}
	if _, err := r.ExecContext(ctx, insertSQL(h.table), args...); err != nil {
		return fmt.Errorf("failed to record event %s: %w", event.Type, err)
	}
	return nil
}

// List returns the stored events matching filter, oldest first unless the
// filter asks otherwise.
func (h *HistoryStore) List(ctx context.Context, filter HistoryFilter) ([]Record, error) {
	query, params, err := selectSQL(h.table, filter)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("Executing SQL SELECT", zap.String("sql", query), zap.Any("params", params))

	rows, err := h.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return readRows(h.logger, rows)
}

// Purge deletes events older than the given Unix millisecond timestamp and
// returns how many were removed.
func (h *HistoryStore) Purge(ctx context.Context, before int64) (int64, error) {
	res, err := h.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE "timestamp" < ?`, quoteIdentifier(h.table)), before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return res.RowsAffected()
}

// Attach subscribes the store to events published by subscriber. With no
// types every engine event is recorded. The returned function detaches the
// store again.
func (h *HistoryStore) Attach(subscriber core.Subscriber, types ...core.EventType) (detach func()) {
	if len(types) == 0 {
		types = core.EventTypes()
	}
	ids := make([]string, 0, len(types))
	for _, t := range types {
		ids = append(ids, subscriber.Subscribe(t, "history", func(ctx context.Context, event core.Event) error {
			if err := h.Record(ctx, event); err != nil {
				h.logger.Warn("Failed to record event", zap.String("type", string(event.Type)), zap.Error(err))
				return err
			}
			return nil
		}))
	}
	return func() {
		for _, id := range ids {
			subscriber.Unsubscribe(id)
		}
	}
}

// Close releases the connection when the store opened it.
func (h *HistoryStore) Close() error {
	if !h.owned {
		return nil
	}
	return h.db.Close()
}
