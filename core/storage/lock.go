package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Lock serialises writers of one database. It takes an in-process lock and
// then an advisory file lock on {db}/.lock. The returned function releases
// both. Waiting for the in-process lock honours ctx.
func (s *Storage) Lock(ctx context.Context, space, db string) (func(), error) {
	key := dbKey(space, db)

	s.locksMu.Lock()
	sem, ok := s.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[key] = sem
	}
	s.locksMu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for lock on %s: %w", key, ctx.Err())
	}

	path := filepath.Join(s.DBRoot(space, db), lockFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		<-sem
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	release, err := lockFileExclusive(path)
	if err != nil {
		<-sem
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return func() {
		if err := release(); err != nil {
			s.logger.Warn("Failed to release database file lock", zap.String("path", path), zap.Error(err))
		}
		<-sem
	}, nil
}
