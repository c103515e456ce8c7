package collections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/rules"
	"github.com/asaidimu/go-jsondb/core/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type writeMode int

const (
	modeInsert writeMode = iota
	modeUpdate
	modeUpsert
)

func (w writeMode) String() string {
	switch w {
	case modeInsert:
		return "insert"
	case modeUpdate:
		return "update"
	}
	return "upsert"
}

// writeRequest describes one pass through the write pipeline.
type writeRequest struct {
	collection string
	// schemaURI is the schema the document is checked against; "" skips
	// defaults and validation.
	schemaURI string
	// bindSchema asks for the collection's bound schema to be used.
	bindSchema bool
	mode       writeMode
	doc        core.Document
}

// Writer performs writes while the database lock is held. It is handed out
// by Batch and must not be used after the callback returns.
type Writer struct {
	m   *Manager
	ctx context.Context
}

// Batch runs fn with the database write lock held. Every public write of
// the manager goes through Batch, so fn sees no interleaved writers.
func (m *Manager) Batch(ctx context.Context, fn func(w *Writer) error) error {
	unlock, err := m.st.Lock(ctx, m.space, m.db)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(&Writer{m: m, ctx: ctx})
}

func (m *Manager) writeOne(ctx context.Context, req writeRequest) (core.Document, error) {
	var out core.Document
	err := m.Batch(ctx, func(w *Writer) error {
		var err error
		out, err = w.write(req)
		return err
	})
	return out, err
}

// InsertWithSchema stores a new document validated against schemaRel. The
// collection is the leading segment of the schema path and is created when
// missing. It fails with ErrDocumentExists when the id is taken.
func (m *Manager) InsertWithSchema(ctx context.Context, schemaRel string, doc core.Document) (core.Document, error) {
	uri, err := m.resolveSchema(schemaRel)
	if err != nil {
		return nil, err
	}
	return m.writeOne(ctx, writeRequest{collection: collectionFromSchema(schemaRel), schemaURI: uri, mode: modeInsert, doc: doc})
}

// UpdateWithSchema replaces an existing document, validating it against
// schemaRel.
func (m *Manager) UpdateWithSchema(ctx context.Context, schemaRel string, doc core.Document) (core.Document, error) {
	uri, err := m.resolveSchema(schemaRel)
	if err != nil {
		return nil, err
	}
	return m.writeOne(ctx, writeRequest{collection: collectionFromSchema(schemaRel), schemaURI: uri, mode: modeUpdate, doc: doc})
}

// UpsertWithSchema updates the document when its id is stored and inserts
// it otherwise. Validation failures are returned as they are.
func (m *Manager) UpsertWithSchema(ctx context.Context, schemaRel string, doc core.Document) (core.Document, error) {
	uri, err := m.resolveSchema(schemaRel)
	if err != nil {
		return nil, err
	}
	return m.writeOne(ctx, writeRequest{collection: collectionFromSchema(schemaRel), schemaURI: uri, mode: modeUpsert, doc: doc})
}

// Insert stores a new document checked against the collection's bound
// schema.
func (m *Manager) Insert(ctx context.Context, collection string, doc core.Document) (core.Document, error) {
	return m.writeOne(ctx, writeRequest{collection: collection, bindSchema: true, mode: modeInsert, doc: doc})
}

// Update replaces a stored document checked against the collection's bound
// schema.
func (m *Manager) Update(ctx context.Context, collection string, doc core.Document) (core.Document, error) {
	return m.writeOne(ctx, writeRequest{collection: collection, bindSchema: true, mode: modeUpdate, doc: doc})
}

// Upsert inserts or replaces a document checked against the collection's
// bound schema.
func (m *Manager) Upsert(ctx context.Context, collection string, doc core.Document) (core.Document, error) {
	return m.writeOne(ctx, writeRequest{collection: collection, bindSchema: true, mode: modeUpsert, doc: doc})
}

// InsertRaw stores a document without schema defaults or validation.
// Computed-field rules still run.
func (m *Manager) InsertRaw(ctx context.Context, collection string, doc core.Document) (core.Document, error) {
	return m.writeOne(ctx, writeRequest{collection: collection, mode: modeInsert, doc: doc})
}

// UpdateRaw replaces a document without schema defaults or validation.
func (m *Manager) UpdateRaw(ctx context.Context, collection string, doc core.Document) (core.Document, error) {
	return m.writeOne(ctx, writeRequest{collection: collection, mode: modeUpdate, doc: doc})
}

// Delete removes a document, its index entries and its manifest entry.
func (m *Manager) Delete(ctx context.Context, collection, id string) error {
	return m.Batch(ctx, func(w *Writer) error {
		_, err := w.Delete(collection, id)
		return err
	})
}

// Insert stores a new document through the full pipeline using the
// collection's bound schema.
func (w *Writer) Insert(collection string, doc core.Document) (core.Document, error) {
	return w.write(writeRequest{collection: collection, bindSchema: true, mode: modeInsert, doc: doc})
}

// Update replaces a stored document through the full pipeline.
func (w *Writer) Update(collection string, doc core.Document) (core.Document, error) {
	return w.write(writeRequest{collection: collection, bindSchema: true, mode: modeUpdate, doc: doc})
}

// Upsert inserts or replaces a document through the full pipeline.
func (w *Writer) Upsert(collection string, doc core.Document) (core.Document, error) {
	return w.write(writeRequest{collection: collection, bindSchema: true, mode: modeUpsert, doc: doc})
}

// Get reads a document. ok is false when it is not stored.
func (w *Writer) Get(collection, id string) (core.Document, bool, error) {
	return w.m.read(collection, id)
}

// Delete removes a document and returns the removed version.
func (w *Writer) Delete(collection, id string) (core.Document, error) {
	m := w.m
	return m.withEvents(w.ctx, "delete", core.DocumentDeleteStart, core.DocumentDeleteSuccess, core.DocumentDeleteFailed,
		collection, core.Document{"id": id}, func() (core.Document, error) {
			if err := w.ctx.Err(); err != nil {
				return nil, err
			}
			prev, ok, err := m.read(collection, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
			}
			if err := w.remove(collection, prev); err != nil {
				return nil, err
			}
			return prev, nil
		})
}

// Restore puts a document back to an earlier version without running the
// pipeline. A nil previous version removes the document. It is used to
// undo writes.
func (w *Writer) Restore(collection, id string, previous core.Document) error {
	m := w.m
	current, exists, err := m.read(collection, id)
	if err != nil {
		return err
	}
	if previous == nil {
		if !exists {
			return nil
		}
		return w.remove(collection, current)
	}

	im, err := w.ensureCollection(collection, "")
	if err != nil {
		return err
	}
	if err := m.persist(collection, previous); err != nil {
		return err
	}
	if exists {
		err = im.OnUpdate(current, previous)
	} else {
		err = im.OnInsert(previous)
	}
	if err != nil {
		return fmt.Errorf("failed to restore index entries of %s/%s: %w", collection, id, err)
	}
	return m.recordItem(collection, id, true)
}

func (w *Writer) remove(collection string, prev core.Document) error {
	m := w.m
	id := prev.ID()
	path := m.st.DocumentPath(m.space, m.db, collection, id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	im, err := m.indexManager(collection)
	if err != nil {
		return err
	}
	if err := im.OnDelete(prev); err != nil {
		return fmt.Errorf("failed to retract index entries of %s/%s: %w", collection, id, err)
	}
	return m.recordItem(collection, id, false)
}

// write is the canonical pipeline: prepare, defaults, rules, validate,
// persist, index, manifest.
func (w *Writer) write(req writeRequest) (core.Document, error) {
	m := w.m
	start, success, failed := core.DocumentCreateStart, core.DocumentCreateSuccess, core.DocumentCreateFailed
	if req.mode == modeUpdate {
		start, success, failed = core.DocumentUpdateStart, core.DocumentUpdateSuccess, core.DocumentUpdateFailed
	}
	return m.withEvents(w.ctx, req.mode.String(), start, success, failed, req.collection, req.doc, func() (core.Document, error) {
		return w.run(req)
	})
}

func (w *Writer) run(req writeRequest) (core.Document, error) {
	m := w.m
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}
	if req.doc == nil {
		return nil, fmt.Errorf("nil document: %w", ErrInvalidDocument)
	}
	doc := req.doc.Clone()
	if raw, ok := doc["id"]; ok {
		if _, isString := raw.(string); !isString {
			return nil, fmt.Errorf("id must be a string, got %T: %w", raw, ErrInvalidDocument)
		}
	}

	im, err := w.ensureCollection(req.collection, req.schemaURI)
	if err != nil {
		return nil, err
	}
	schemaURI := req.schemaURI
	if req.bindSchema {
		schemaURI = im.Schema()
	}

	var prev core.Document
	exists := false
	if id := doc.ID(); id != "" {
		if prev, exists, err = m.read(req.collection, id); err != nil {
			return nil, err
		}
	}
	switch req.mode {
	case modeInsert:
		if exists {
			return nil, fmt.Errorf("%s/%s: %w", req.collection, doc.ID(), ErrDocumentExists)
		}
	case modeUpdate:
		if !exists {
			return nil, fmt.Errorf("%s/%s: %w", req.collection, doc.ID(), ErrDocumentNotFound)
		}
	}

	m.prepare(doc, prev, schemaURI)

	if schemaURI != "" {
		if err := m.currentValidator().ApplyDefaults(schemaURI, doc); err != nil {
			return nil, fmt.Errorf("failed to apply schema defaults: %w", err)
		}
	}

	if err := m.ensureSchemaRules(req.collection, schemaURI); err != nil {
		return nil, err
	}
	if err := m.compute(w.ctx, req.collection, doc, prev); err != nil {
		return nil, err
	}
	if err := validateID(doc.ID()); err != nil {
		return nil, err
	}

	if schemaURI != "" {
		if err := m.currentValidator().Validate(schemaURI, map[string]any(doc)); err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", req.collection, doc.ID(), err)
		}
	}

	if err := m.persist(req.collection, doc); err != nil {
		return nil, err
	}

	if prev != nil {
		err = im.OnUpdate(prev, doc)
	} else {
		err = im.OnInsert(doc)
	}
	if err != nil {
		if restoreErr := w.undoPersist(req.collection, doc.ID(), prev); restoreErr != nil {
			return nil, errors.Join(err, restoreErr)
		}
		return nil, err
	}

	if err := m.recordItem(req.collection, doc.ID(), true); err != nil {
		return nil, err
	}

	m.logger.Debug("Document stored",
		zap.String("collection", req.collection),
		zap.String("id", doc.ID()),
		zap.String("mode", req.mode.String()))
	return doc, nil
}

// undoPersist puts back the file contents that existed before a write whose
// index step failed, so a rejected document never stays on disk.
func (w *Writer) undoPersist(collection, id string, prev core.Document) error {
	m := w.m
	if prev != nil {
		return m.persist(collection, prev)
	}
	path := m.st.DocumentPath(m.space, m.db, collection, id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove rejected document %s: %w", path, err)
	}
	return nil
}

// prepare injects the engine-managed fields.
func (m *Manager) prepare(doc, prev core.Document, schemaURI string) {
	now := m.clock().UTC().Format(time.RFC3339)
	if doc.ID() == "" {
		doc["id"] = uuid.New().String()
	}
	switch {
	case prev != nil && prev["createdAt"] != nil:
		doc["createdAt"] = prev["createdAt"]
	case doc["createdAt"] == nil:
		doc["createdAt"] = now
	}
	doc["updatedAt"] = now
	if schemaURI != "" {
		if _, ok := doc["$schema"]; !ok {
			doc["$schema"] = schemaURI
		}
	}
}

// compute runs the rules impacted by the fields that changed against prev
// until no rule changes its target or the pass limit is hit. Rules whose
// inputs are missing are skipped.
func (m *Manager) compute(ctx context.Context, collection string, doc, prev core.Document) error {
	if len(m.rules.Rules(collection)) == 0 {
		return nil
	}
	var prevValue any
	if prev != nil {
		prevValue = map[string]any(prev)
	}
	changed := core.DiffPaths(map[string]any(doc), prevValue)

	passes := 0
	for ; len(changed) > 0 && passes < m.maxPasses; passes++ {
		impacted := m.rules.Impacted(collection, changed)
		if len(impacted) == 0 {
			break
		}
		var next []string
		for _, rule := range impacted {
			value, err := m.evaluator.Evaluate(ctx, rule.Expr, doc)
			if errors.Is(err, rules.ErrVarNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("rule %s of %s: %w", rule.ID, collection, err)
			}
			if current, present := core.GetPath(doc, rule.Target); present && core.JSONEqual(current, value) {
				continue
			}
			if err := core.SetPath(doc, rule.Target, value); err != nil {
				return fmt.Errorf("rule %s of %s: %w", rule.ID, collection, err)
			}
			next = append(next, core.ToDotPath(rule.Target))
		}
		changed = next
	}
	if passes >= m.maxPasses && len(changed) > 0 {
		m.logger.Warn("Rule pass limit reached",
			zap.String("collection", collection),
			zap.Int("passes", passes),
			zap.Strings("pending", changed))
	}
	return nil
}

func (m *Manager) persist(collection string, doc core.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.ID(), err)
	}
	return storage.AtomicWrite(m.st.DocumentPath(m.space, m.db, collection, doc.ID()), data)
}

// recordItem adds or removes a document from the manifest.
func (m *Manager) recordItem(collection, id string, present bool) error {
	manifest, err := m.st.GetIndex(m.space, m.db)
	if err != nil {
		return err
	}
	if present == manifest.HasItem(collection, id) {
		return nil
	}
	if present {
		manifest.AddItem(collection, id)
	} else {
		manifest.RemoveItem(collection, id)
	}
	return m.st.SaveIndex(m.space, m.db, manifest)
}
