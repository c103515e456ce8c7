// Package engine opens one database and wires its storage, collections
// manager, transaction manager, query engine and optional event history.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/asaidimu/go-jsondb/core/collections"
	"github.com/asaidimu/go-jsondb/core/query"
	"github.com/asaidimu/go-jsondb/core/storage"
	"github.com/asaidimu/go-jsondb/core/transaction"
	"github.com/asaidimu/go-jsondb/sqlite"
	"go.uber.org/zap"
)

// Engine is an opened database.
type Engine struct {
	st      *storage.Storage
	cm      *collections.Manager
	tm      *transaction.Manager
	qe      *query.Engine
	history *sqlite.HistoryStore
	detach  func()
	logger  *zap.Logger
}

// Open opens space/db under cfg.DomainRoot, creating the database when it
// does not exist. Interrupted transactions left in the WAL are rolled back
// before Open returns. When cfg.HistoryDB is set every engine event is also
// recorded in that SQLite file.
func Open(ctx context.Context, cfg storage.Config, space, db string, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := storage.New(cfg, logger.Named("storage"))
	if err != nil {
		return nil, err
	}
	return OpenWithStorage(ctx, st, space, db, logger)
}

// OpenWithStorage is Open over an existing Storage, so several databases
// can share one manifest cache and lock table.
func OpenWithStorage(ctx context.Context, st *storage.Storage, space, db string, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := st.Config()

	cm, err := collections.NewManager(st, space, db, collections.Options{
		Logger:        logger.Named("collections"),
		MaxRulePasses: cfg.MaxRulePasses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s/%s: %w", space, db, err)
	}

	e := &Engine{
		st:     st,
		cm:     cm,
		logger: logger.With(zap.String("database", space+"/"+db)),
	}

	if cfg.HistoryDB != "" {
		h, err := sqlite.Open(ctx, cfg.HistoryDB, logger.Named("history"))
		if err != nil {
			return nil, err
		}
		e.history = h
		e.detach = h.Attach(cm)
	}

	e.tm = transaction.NewManager(cm, logger.Named("transaction"))
	recovered, err := e.tm.Recover(ctx)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to recover database %s/%s: %w", space, db, err)
	}
	if recovered > 0 {
		e.logger.Info("Rolled back interrupted transactions", zap.Int("count", recovered))
	}

	e.qe = query.NewEngine(cm, e.tm, logger.Named("query"), cfg.Collation)
	e.logger.Info("Database opened")
	return e, nil
}

// Storage returns the storage layer.
func (e *Engine) Storage() *storage.Storage { return e.st }

// Collections returns the collections manager.
func (e *Engine) Collections() *collections.Manager { return e.cm }

// Transactions returns the transaction manager.
func (e *Engine) Transactions() *transaction.Manager { return e.tm }

// Query returns the query engine.
func (e *Engine) Query() *query.Engine { return e.qe }

// History returns the event history, or nil when none is configured.
func (e *Engine) History() *sqlite.HistoryStore { return e.history }

// Run builds and executes a transaction. See transaction.Manager.Run.
func (e *Engine) Run(ctx context.Context, fn func(tx *transaction.Transaction) error) error {
	return e.tm.Run(ctx, fn)
}

// ExecuteSQL runs a SQL SELECT against the database.
func (e *Engine) ExecuteSQL(ctx context.Context, input string) (*query.Result, error) {
	return e.qe.ExecuteSQL(ctx, input)
}

// Close detaches and closes the event history. The engine must not be used
// afterwards.
func (e *Engine) Close() error {
	var errs []error
	if e.detach != nil {
		e.detach()
		e.detach = nil
	}
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close history: %w", err))
		}
		e.history = nil
	}
	return errors.Join(errs...)
}
