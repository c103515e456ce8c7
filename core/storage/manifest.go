package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manifest is the database-level listing of collections and their member
// documents, persisted as _system.json.
type Manifest struct {
	Schema      string                      `json:"$schema,omitempty"`
	ID          string                      `json:"id"`
	Space       string                      `json:"space"`
	Database    string                      `json:"database"`
	Version     int                         `json:"version"`
	Collections map[string]*CollectionEntry `json:"collections"`
	CreatedAt   string                      `json:"createdAt"`
	UpdatedAt   string                      `json:"updatedAt"`
}

// CollectionEntry lists one collection's schema and member files.
type CollectionEntry struct {
	Schema string    `json:"schema,omitempty"`
	Items  []ItemRef `json:"items"`
}

// ItemRef points at one document file.
type ItemRef struct {
	File string `json:"file"`
}

// NewManifest returns an empty manifest for space/db.
func NewManifest(space, db string) *Manifest {
	now := time.Now().UTC().Format(time.RFC3339)
	return &Manifest{
		ID:          uuid.New().String(),
		Space:       space,
		Database:    db,
		Version:     1,
		Collections: make(map[string]*CollectionEntry),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Collections = make(map[string]*CollectionEntry, len(m.Collections))
	for name, entry := range m.Collections {
		out.Collections[name] = &CollectionEntry{
			Schema: entry.Schema,
			Items:  slices.Clone(entry.Items),
		}
	}
	return &out
}

// EnsureCollection registers a collection if missing and updates its schema
// when one is given.
func (m *Manifest) EnsureCollection(name, schema string) *CollectionEntry {
	if m.Collections == nil {
		m.Collections = make(map[string]*CollectionEntry)
	}
	entry, ok := m.Collections[name]
	if !ok {
		entry = &CollectionEntry{Items: []ItemRef{}}
		m.Collections[name] = entry
	}
	if schema != "" {
		entry.Schema = schema
	}
	return entry
}

// RemoveCollection drops a collection entry.
func (m *Manifest) RemoveCollection(name string) {
	delete(m.Collections, name)
}

// AddItem records a document file. It is a no-op when already present.
func (m *Manifest) AddItem(collection, id string) {
	entry := m.EnsureCollection(collection, "")
	file := id + ".json"
	for _, item := range entry.Items {
		if item.File == file {
			return
		}
	}
	entry.Items = append(entry.Items, ItemRef{File: file})
}

// RemoveItem forgets a document file.
func (m *Manifest) RemoveItem(collection, id string) {
	entry, ok := m.Collections[collection]
	if !ok {
		return
	}
	file := id + ".json"
	entry.Items = slices.DeleteFunc(entry.Items, func(item ItemRef) bool { return item.File == file })
}

// HasItem reports whether a document is listed.
func (m *Manifest) HasItem(collection, id string) bool {
	entry, ok := m.Collections[collection]
	if !ok {
		return false
	}
	file := id + ".json"
	return slices.ContainsFunc(entry.Items, func(item ItemRef) bool { return item.File == file })
}

// ItemIDs returns the document ids of a collection in insertion order.
func (m *Manifest) ItemIDs(collection string) []string {
	entry, ok := m.Collections[collection]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(entry.Items))
	for _, item := range entry.Items {
		ids = append(ids, strings.TrimSuffix(item.File, ".json"))
	}
	return ids
}

// GetIndex returns the manifest of space/db. Cache hits return a copy; a
// miss reads _system.json and populates the cache. A missing file yields an
// empty manifest.
func (s *Storage) GetIndex(space, db string) (*Manifest, error) {
	key := dbKey(space, db)
	if m, ok := s.cache.Get(key); ok {
		return m.Clone(), nil
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		m, err := s.readManifest(space, db)
		if err != nil {
			return nil, err
		}
		s.cache.Put(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Manifest).Clone(), nil
}

func (s *Storage) readManifest(space, db string) (*Manifest, error) {
	path := s.SystemIndexPath(space, db)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewManifest(space, db), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if m.Collections == nil {
		m.Collections = make(map[string]*CollectionEntry)
	}
	return &m, nil
}

// InvalidateIndex drops the cached manifest of space/db.
func (s *Storage) InvalidateIndex(space, db string) {
	s.cache.Remove(dbKey(space, db))
}

// UpdateCachedIndex replaces the cached manifest without touching disk.
func (s *Storage) UpdateCachedIndex(space, db string, m *Manifest) {
	s.cache.Put(dbKey(space, db), m.Clone())
}

// SaveIndex writes the manifest atomically and refreshes the cache.
func (s *Storage) SaveIndex(space, db string, m *Manifest) error {
	m.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := AtomicWrite(s.SystemIndexPath(space, db), data); err != nil {
		s.InvalidateIndex(space, db)
		return err
	}
	s.UpdateCachedIndex(space, db, m)
	s.logger.Debug("Manifest saved", zap.String("database", dbKey(space, db)))
	return nil
}
