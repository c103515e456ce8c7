package collections

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/index"
	"github.com/asaidimu/go-jsondb/core/storage"
	"go.uber.org/zap"
)

// CreateCollection ensures the directory and sidecar of a collection exist.
// schemaRef may be a path relative to the schema root or a db:// URI; an
// empty reference leaves the collection schema-less. Creating an existing
// collection is a no-op.
func (m *Manager) CreateCollection(ctx context.Context, name, schemaRef string) error {
	uri, err := m.resolveSchema(schemaRef)
	if err != nil {
		return err
	}
	return m.Batch(ctx, func(w *Writer) error {
		_, err := w.ensureCollection(name, uri)
		return err
	})
}

// ensureCollection creates a collection on first use. It must run under
// the database lock.
func (w *Writer) ensureCollection(name, schemaURI string) (*index.Manager, error) {
	m := w.m
	if err := storage.ValidateName("collection", name); err != nil {
		return nil, err
	}
	if strings.HasPrefix(name, "_") {
		return nil, fmt.Errorf("collection name %q is reserved", name)
	}
	if err := os.MkdirAll(m.st.CollectionPath(m.space, m.db, name), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	im, err := m.indexManager(name)
	if err != nil {
		return nil, err
	}
	created, err := im.Init(schemaURI)
	if err != nil {
		return nil, err
	}

	manifest, err := m.st.GetIndex(m.space, m.db)
	if err != nil {
		return nil, err
	}
	if _, listed := manifest.Collections[name]; !listed || created {
		manifest.EnsureCollection(name, im.Schema())
		if err := m.st.SaveIndex(m.space, m.db, manifest); err != nil {
			return nil, err
		}
	}

	if created {
		m.logger.Info("Collection created", zap.String("collection", name), zap.String("schema", schemaURI))
		event := core.NewEvent(core.CollectionCreateSuccess, "createCollection", name, time.Time{})
		event.Output = map[string]any{"schema": schemaURI}
		m.Emit(event)
	}
	return im, nil
}

// DropCollection deletes a collection directory and its manifest entry.
func (m *Manager) DropCollection(ctx context.Context, name string) error {
	if err := storage.ValidateName("collection", name); err != nil {
		return err
	}
	return m.Batch(ctx, func(w *Writer) error {
		path := m.st.CollectionPath(m.space, m.db, name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("collection %s: %w", name, storage.ErrNotFound)
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove collection %s: %w", name, err)
		}
		m.forgetIndexManager(name)
		m.rules.Clear(name)
		m.loadedMu.Lock()
		delete(m.loadedRules, name)
		m.loadedMu.Unlock()

		manifest, err := m.st.GetIndex(m.space, m.db)
		if err != nil {
			return err
		}
		manifest.RemoveCollection(name)
		if err := m.st.SaveIndex(m.space, m.db, manifest); err != nil {
			return err
		}

		m.logger.Info("Collection dropped", zap.String("collection", name))
		m.Emit(core.NewEvent(core.CollectionDropSuccess, "dropCollection", name, time.Time{}))
		return nil
	})
}

// ListCollections returns the collection directories of the database in
// name order. Entries starting with "_" are internal and skipped.
func (m *Manager) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(m.st.CollectionsRoot(m.space, m.db))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), "_") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// CollectionSchema returns the schema URI a collection is bound to, or ""
// for schema-less collections.
func (m *Manager) CollectionSchema(name string) (string, error) {
	if !m.collectionExists(name) {
		return "", fmt.Errorf("collection %s: %w", name, storage.ErrNotFound)
	}
	im, err := m.indexManager(name)
	if err != nil {
		return "", err
	}
	return im.Schema(), nil
}

func (m *Manager) collectionExists(name string) bool {
	if storage.ValidateName("collection", name) != nil {
		return false
	}
	info, err := os.Stat(m.st.CollectionPath(m.space, m.db, name))
	return err == nil && info.IsDir()
}

// CreateIndex adds an index to a collection and backfills it from the
// stored documents.
func (m *Manager) CreateIndex(ctx context.Context, collection string, def index.Definition) error {
	return m.Batch(ctx, func(w *Writer) error {
		im, err := w.ensureCollection(collection, "")
		if err != nil {
			return err
		}
		docs, err := m.ListAll(ctx, collection)
		if err != nil {
			return err
		}
		if err := im.Create(def, docs); err != nil {
			return err
		}
		event := core.NewEvent(core.IndexCreateSuccess, "createIndex", collection, time.Time{})
		event.Output = def
		m.Emit(event)
		return nil
	})
}

// DropIndex removes an index from a collection.
func (m *Manager) DropIndex(ctx context.Context, collection, name string) error {
	return m.Batch(ctx, func(w *Writer) error {
		im, err := m.existingIndexManager(collection)
		if err != nil {
			return err
		}
		if err := im.Drop(name); err != nil {
			return err
		}
		event := core.NewEvent(core.IndexDropSuccess, "dropIndex", collection, time.Time{})
		event.Output = map[string]any{"name": name}
		m.Emit(event)
		return nil
	})
}

// ListIndexes returns the index definitions of a collection.
func (m *Manager) ListIndexes(collection string) ([]index.Definition, error) {
	im, err := m.existingIndexManager(collection)
	if err != nil {
		return nil, err
	}
	return im.Definitions(), nil
}

// FindByIndex returns the documents whose indexed field equals value.
func (m *Manager) FindByIndex(ctx context.Context, collection, name string, value any) ([]core.Document, error) {
	im, err := m.existingIndexManager(collection)
	if err != nil {
		return nil, err
	}
	ids, err := im.Lookup(name, value)
	if err != nil {
		return nil, err
	}
	return m.getMany(ctx, collection, ids)
}

// RangeByIndex returns documents whose ordered-index key lies in [lo, hi]
// in key order. A nil bound is open.
func (m *Manager) RangeByIndex(ctx context.Context, collection, name string, lo, hi any) ([]core.Document, error) {
	im, err := m.existingIndexManager(collection)
	if err != nil {
		return nil, err
	}
	ids, err := im.Range(name, lo, hi)
	if err != nil {
		return nil, err
	}
	return m.getMany(ctx, collection, ids)
}

// SearchText returns documents containing every token of query in the
// named text index.
func (m *Manager) SearchText(ctx context.Context, collection, name, query string) ([]core.Document, error) {
	im, err := m.existingIndexManager(collection)
	if err != nil {
		return nil, err
	}
	ids, err := im.Search(name, query)
	if err != nil {
		return nil, err
	}
	return m.getMany(ctx, collection, ids)
}

func (m *Manager) existingIndexManager(collection string) (*index.Manager, error) {
	if !m.collectionExists(collection) {
		return nil, fmt.Errorf("collection %s: %w", collection, storage.ErrNotFound)
	}
	return m.indexManager(collection)
}
