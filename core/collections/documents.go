package collections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
	"golang.org/x/sync/errgroup"
)

const listConcurrency = 8

// read loads one document. A missing file reports ok == false.
func (m *Manager) read(collection, id string) (core.Document, bool, error) {
	if err := validateID(id); err != nil {
		return nil, false, err
	}
	path := m.st.DocumentPath(m.space, m.db, collection, id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("failed to parse document %s: %w", path, err)
	}
	return doc, true, nil
}

// Get returns a stored document or ErrDocumentNotFound.
func (m *Manager) Get(ctx context.Context, collection, id string) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, ok, err := m.read(collection, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	return doc, nil
}

// Exists reports whether a document is stored.
func (m *Manager) Exists(ctx context.Context, collection, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok, err := m.read(collection, id)
	return ok, err
}

// ListIDs returns the ids of a collection in manifest order.
func (m *Manager) ListIDs(ctx context.Context, collection string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	manifest, err := m.st.GetIndex(m.space, m.db)
	if err != nil {
		return nil, err
	}
	ids := manifest.ItemIDs(collection)
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ListAll loads every document of a collection in manifest order. Files
// are read in parallel.
func (m *Manager) ListAll(ctx context.Context, collection string) ([]core.Document, error) {
	ids, err := m.ListIDs(ctx, collection)
	if err != nil {
		return nil, err
	}
	return m.getMany(ctx, collection, ids)
}

// getMany reads ids concurrently, keeping their order. Ids whose file has
// disappeared are skipped.
func (m *Manager) getMany(ctx context.Context, collection string, ids []string) ([]core.Document, error) {
	loaded := make([]core.Document, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, ok, err := m.read(collection, id)
			if err != nil {
				return err
			}
			if ok {
				loaded[i] = doc
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]core.Document, 0, len(loaded))
	for _, doc := range loaded {
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// GetValue implements rules.DataProvider. Missing documents and fields
// yield nil.
func (m *Manager) GetValue(ctx context.Context, collection, id, field string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if validateID(id) != nil || !m.collectionExists(collection) {
		return nil, nil
	}
	doc, ok, err := m.read(collection, id)
	if err != nil || !ok {
		return nil, err
	}
	value, _ := core.GetPath(doc, field)
	return value, nil
}

// validateID rejects ids that cannot name a document file. The "_" prefix
// is reserved for collection sidecars such as _config.json.
func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, "_") {
		return fmt.Errorf("document id %q: %w", id, ErrInvalidDocument)
	}
	for _, r := range id {
		if r == '/' || r == '\\' || r == 0 {
			return fmt.Errorf("document id %q: %w", id, ErrInvalidDocument)
		}
	}
	return nil
}
