package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/asaidimu/go-jsondb/core/storage"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// ErrCorruptRecord is returned for WAL records whose checksum does not
// match their contents.
var ErrCorruptRecord = errors.New("corrupt WAL record")

// Status is the lifecycle state of a WAL record.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusCommitted  Status = "Committed"
	StatusRolledBack Status = "RolledBack"
)

const (
	recordExt  = ".json"
	corruptExt = ".corrupt"
)

// Record is the durable form of a transaction.
type Record struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Operations []Operation `json:"operations"`
	Timestamp  int64       `json:"timestamp"`
	Checksum   string      `json:"checksum"`
}

func (r Record) sum() (string, error) {
	r.Checksum = ""
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

// WAL stores one file per transaction under a database's wal directory.
type WAL struct {
	dir    string
	logger *zap.Logger
}

// NewWAL creates a WAL rooted at dir.
func NewWAL(dir string, logger *zap.Logger) *WAL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WAL{dir: dir, logger: logger}
}

func (w *WAL) path(id string) string {
	return filepath.Join(w.dir, id+recordExt)
}

// Write stamps the checksum and stores rec atomically.
func (w *WAL) Write(rec *Record) error {
	sum, err := rec.sum()
	if err != nil {
		return fmt.Errorf("failed to checksum WAL record %s: %w", rec.ID, err)
	}
	rec.Checksum = sum
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode WAL record %s: %w", rec.ID, err)
	}
	return storage.AtomicWrite(w.path(rec.ID), data)
}

// Read loads and verifies a record.
func (w *WAL) Read(id string) (*Record, error) {
	data, err := os.ReadFile(w.path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL record %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("WAL record %s: %v: %w", id, err, ErrCorruptRecord)
	}
	sum, err := rec.sum()
	if err != nil {
		return nil, fmt.Errorf("failed to checksum WAL record %s: %w", id, err)
	}
	if sum != rec.Checksum || rec.ID != id {
		return nil, fmt.Errorf("WAL record %s: checksum mismatch: %w", id, ErrCorruptRecord)
	}
	return &rec, nil
}

// Remove deletes a record. Removing a missing record is not an error.
func (w *WAL) Remove(id string) error {
	if err := os.Remove(w.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove WAL record %s: %w", id, err)
	}
	return nil
}

// Quarantine renames a record to {id}.corrupt so it is no longer replayed
// but stays available for inspection.
func (w *WAL) Quarantine(id string) error {
	target := filepath.Join(w.dir, id+corruptExt)
	if err := os.Rename(w.path(id), target); err != nil {
		return fmt.Errorf("failed to quarantine WAL record %s: %w", id, err)
	}
	w.logger.Warn("Corrupt WAL record quarantined", zap.String("transaction", id), zap.String("path", target))
	return nil
}

// List returns the ids of stored records in name order.
func (w *WAL) List() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list WAL: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(ids)
	return ids, nil
}
