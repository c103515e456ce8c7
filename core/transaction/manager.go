package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/collections"
	"go.uber.org/zap"
)

// Manager runs transactions against one database.
type Manager struct {
	cm     *collections.Manager
	wal    *WAL
	logger *zap.Logger
}

// NewManager creates a transaction manager writing through cm.
func NewManager(cm *collections.Manager, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	st := cm.Storage()
	return &Manager{
		cm:     cm,
		wal:    NewWAL(st.WALDir(cm.Space(), cm.Database()), logger),
		logger: logger,
	}
}

// WAL returns the log the manager stages transactions in.
func (m *Manager) WAL() *WAL {
	return m.wal
}

// Run builds a transaction with fn and executes it. Nothing is written when
// fn returns an error.
func (m *Manager) Run(ctx context.Context, fn func(tx *Transaction) error) error {
	tx := New()
	if err := fn(tx); err != nil {
		return err
	}
	return m.Execute(ctx, tx)
}

// Execute applies every operation of tx under the database lock. When an
// operation fails the operations already applied are undone from their
// pre-images and a *Error wrapping ErrRolledBack is returned.
func (m *Manager) Execute(ctx context.Context, tx *Transaction) error {
	if tx == nil || tx.Len() == 0 {
		return nil
	}
	began := time.Now()
	ctx = collections.WithTransactionID(ctx, tx.ID)
	m.emit(core.TransactionStart, tx.ID, time.Time{}, nil)

	var txErr *Error
	err := m.cm.Batch(ctx, func(w *collections.Writer) error {
		rec := &Record{
			ID:         tx.ID,
			Status:     StatusPending,
			Operations: make([]Operation, len(tx.Operations)),
			Timestamp:  time.Now().Unix(),
		}
		for i, op := range tx.Operations {
			if op.ID == "" {
				return fmt.Errorf("transaction %s: operation %d has no document id", tx.ID, i)
			}
			prev, ok, err := w.Get(op.Collection, op.ID)
			if err != nil {
				return fmt.Errorf("transaction %s: %w", tx.ID, err)
			}
			op.Previous = nil
			if ok {
				op.Previous = prev
			}
			rec.Operations[i] = op
		}
		if err := m.wal.Write(rec); err != nil {
			return err
		}

		for i, op := range rec.Operations {
			if err := apply(w, op); err != nil {
				txErr = &Error{TxID: tx.ID, Op: i, Operation: op, Cause: err}
				txErr.RollbackErr = m.rollback(w, rec, rec.Operations[:i])
				return txErr
			}
		}

		rec.Status = StatusCommitted
		return m.wal.Remove(rec.ID)
	})

	switch {
	case txErr != nil:
		m.emit(core.TransactionFailed, tx.ID, began, txErr)
		if txErr.RollbackErr == nil {
			m.emit(core.TransactionRollback, tx.ID, began, nil)
		}
		return txErr
	case err != nil:
		m.emit(core.TransactionFailed, tx.ID, began, err)
		return err
	}
	m.logger.Debug("Transaction committed", zap.String("transaction", tx.ID), zap.Int("operations", tx.Len()))
	m.emit(core.TransactionSuccess, tx.ID, began, nil)
	return nil
}

func apply(w *collections.Writer, op Operation) error {
	switch op.Kind {
	case OpInsert:
		_, err := w.Insert(op.Collection, op.Document)
		return err
	case OpUpdate:
		_, err := w.Update(op.Collection, op.Document)
		return err
	case OpDelete:
		_, err := w.Delete(op.Collection, op.ID)
		return err
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

// rollback restores the pre-images of applied in reverse order. On success
// the record is marked rolled back and removed; otherwise it stays pending
// so Recover can retry.
func (m *Manager) rollback(w *collections.Writer, rec *Record, applied []Operation) error {
	if err := restore(w, applied); err != nil {
		m.logger.Error("Transaction rollback failed; WAL record kept for recovery",
			zap.String("transaction", rec.ID), zap.Error(err))
		return err
	}
	rec.Status = StatusRolledBack
	if err := m.wal.Write(rec); err != nil {
		return err
	}
	return m.wal.Remove(rec.ID)
}

// restore writes back the pre-image of every operation, last first.
// Restoring an operation that never ran is a no-op, so the same routine
// serves rollback and crash recovery.
func restore(w *collections.Writer, ops []Operation) error {
	var errs []error
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if err := w.Restore(op.Collection, op.ID, op.Previous); err != nil {
			errs = append(errs, fmt.Errorf("restore %s/%s: %w", op.Collection, op.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Recover rolls back every pending WAL record left by an interrupted
// process and clears finished ones. Corrupt records are quarantined. It
// returns the number of transactions rolled back.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	recovered := 0
	var errs []error
	err := m.cm.Batch(ctx, func(w *collections.Writer) error {
		ids, err := m.wal.List()
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := m.wal.Read(id)
			if errors.Is(err, ErrCorruptRecord) {
				if qerr := m.wal.Quarantine(id); qerr != nil {
					errs = append(errs, qerr)
				}
				continue
			}
			if err != nil {
				errs = append(errs, err)
				continue
			}

			if rec.Status == StatusPending {
				if err := restore(w, rec.Operations); err != nil {
					errs = append(errs, fmt.Errorf("transaction %s: %w", id, err))
					continue
				}
				recovered++
				m.emit(core.TransactionRollback, id, time.Time{}, nil)
			}
			if err := m.wal.Remove(id); err != nil {
				errs = append(errs, err)
			}
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	if recovered > 0 {
		m.logger.Info("Recovered interrupted transactions", zap.Int("count", recovered))
	}
	return recovered, errors.Join(errs...)
}

// Pending returns the readable WAL records that are still outstanding.
func (m *Manager) Pending(ctx context.Context) ([]*Record, error) {
	ids, err := m.wal.List()
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := m.wal.Read(id)
		if err != nil {
			m.logger.Warn("Skipping unreadable WAL record", zap.String("transaction", id), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (m *Manager) emit(eventType core.EventType, txID string, began time.Time, err error) {
	event := core.NewEvent(eventType, "transaction", "", began).WithError(err)
	event.TransactionID = txID
	m.cm.Emit(event)
}
