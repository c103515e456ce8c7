package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DropMode selects how DropDB disposes of a database.
type DropMode int

const (
	// DropHard removes the database tree.
	DropHard DropMode = iota
	// DropSoft renames the database to {db}.deleted-{unix seconds}.
	DropSoft
)

const deletedMarker = ".deleted-"

// DBExists reports whether a database has been created.
func (s *Storage) DBExists(space, db string) bool {
	_, err := os.Stat(s.SystemIndexPath(space, db))
	return err == nil
}

// CreateDB lays out a new database: collections, schemas and WAL
// directories, an empty manifest and the seed schemas from the configured
// template directory.
func (s *Storage) CreateDB(space, db string) error {
	if err := ValidateName("space", space); err != nil {
		return err
	}
	if err := ValidateName("database", db); err != nil {
		return err
	}
	if s.DBExists(space, db) {
		return fmt.Errorf("database %s: %w", dbKey(space, db), ErrAlreadyExists)
	}

	for _, dir := range []string{s.CollectionsRoot(space, db), s.SchemasRoot(space, db), s.WALDir(space, db)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	copied, err := s.seedSchemas(space, db)
	if err != nil {
		return err
	}

	if err := s.SaveIndex(space, db, NewManifest(space, db)); err != nil {
		return err
	}

	s.logger.Info("Database created",
		zap.String("database", dbKey(space, db)),
		zap.Int("seeded_schemas", copied))
	return nil
}

func (s *Storage) seedSchemas(space, db string) (int, error) {
	src := s.cfg.SchemaTemplates
	if src == "" {
		return 0, nil
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Schema template directory missing", zap.String("path", src))
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat schema templates %s: %w", src, err)
	}

	dst := s.SchemasRoot(space, db)
	copied := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if _, err := os.Stat(target); err == nil {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := AtomicWrite(target, data); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, fmt.Errorf("failed to seed schemas into %s: %w", dst, err)
	}
	return copied, nil
}

// DropDB removes or renames a database and forgets its cached manifest.
func (s *Storage) DropDB(space, db string, mode DropMode) error {
	root := s.DBRoot(space, db)
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("database %s: %w", dbKey(space, db), ErrNotFound)
		}
		return fmt.Errorf("failed to stat %s: %w", root, err)
	}
	defer s.InvalidateIndex(space, db)

	switch mode {
	case DropSoft:
		target := fmt.Sprintf("%s%s%d", root, deletedMarker, time.Now().Unix())
		if err := os.Rename(root, target); err != nil {
			return fmt.Errorf("failed to soft-drop %s: %w", root, err)
		}
		s.logger.Info("Database soft-dropped", zap.String("database", dbKey(space, db)), zap.String("moved_to", target))
	default:
		if err := os.RemoveAll(root); err != nil {
			return fmt.Errorf("failed to drop %s: %w", root, err)
		}
		s.logger.Info("Database dropped", zap.String("database", dbKey(space, db)))
	}
	return nil
}

// ListDBs returns the live databases of a space, sorted by name.
func (s *Storage) ListDBs(space string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.cfg.DomainRoot, space))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list databases of %s: %w", space, err)
	}
	dbs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.Contains(e.Name(), deletedMarker) {
			dbs = append(dbs, e.Name())
		}
	}
	sort.Strings(dbs)
	return dbs, nil
}
