package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/storage"
	"go.uber.org/zap"
)

// Config is the collection sidecar stored in _config.json.
type Config struct {
	Schema  string       `json:"schema"`
	Indexes []Definition `json:"indexes"`
}

// Manager owns the indexes of one collection directory.
type Manager struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	config Config
}

// Open reads the collection sidecar in dir. A missing sidecar yields a
// manager with no indexes and no schema.
func Open(dir string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{dir: dir, logger: logger}

	data, err := os.ReadFile(m.configPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read collection config: %w", err)
	default:
		if err := json.Unmarshal(data, &m.config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", m.configPath(), err)
		}
	}
	for i := range m.config.Indexes {
		if err := m.config.Indexes[i].Normalize(); err != nil {
			return nil, fmt.Errorf("collection config %s: %w", m.configPath(), err)
		}
	}
	return m, nil
}

func (m *Manager) configPath() string {
	return filepath.Join(m.dir, storage.CollectionConfigFile)
}

func (m *Manager) indexDir() string {
	return filepath.Join(m.dir, storage.IndexesDirName)
}

func (m *Manager) saveConfig() error {
	cfg := m.config
	if cfg.Indexes == nil {
		cfg.Indexes = []Definition{}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode collection config: %w", err)
	}
	return storage.AtomicWrite(m.configPath(), data)
}

// Schema returns the schema URI the collection is bound to.
func (m *Manager) Schema() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Schema
}

// Init writes the sidecar with the given schema if it does not exist yet.
// It reports whether the sidecar was created.
func (m *Manager) Init(schemaURI string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(m.configPath()); err == nil {
		return false, nil
	}
	m.config.Schema = schemaURI
	if err := m.saveConfig(); err != nil {
		return false, err
	}
	return true, nil
}

// Definitions returns a copy of the configured index definitions.
func (m *Manager) Definitions() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Definition(nil), m.config.Indexes...)
}

func (m *Manager) find(name string) (*Index, bool) {
	for _, def := range m.config.Indexes {
		if def.Name == name {
			return newIndex(m.indexDir(), def), true
		}
	}
	return nil, false
}

// Get returns the index called name.
func (m *Manager) Get(name string) (*Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ix, ok := m.find(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrIndexNotFound)
	}
	return ix, nil
}

// Create adds an index and backfills it from docs. A unique index that
// cannot be built over docs is not created.
func (m *Manager) Create(def Definition, docs []core.Document) error {
	if err := def.Normalize(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.find(def.Name); exists {
		return fmt.Errorf("%s: %w", def.Name, ErrIndexExists)
	}
	ix := newIndex(m.indexDir(), def)
	if err := ix.Rebuild(docs); err != nil {
		_ = os.Remove(ix.path)
		return fmt.Errorf("failed to build index %s: %w", def.Name, err)
	}

	m.config.Indexes = append(m.config.Indexes, def)
	if err := m.saveConfig(); err != nil {
		m.config.Indexes = m.config.Indexes[:len(m.config.Indexes)-1]
		return err
	}
	m.logger.Debug("Index created",
		zap.String("index", def.Name),
		zap.String("kind", string(def.Kind)),
		zap.Int("documents", len(docs)))
	return nil
}

// Drop removes an index definition and its file.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ix, ok := m.find(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrIndexNotFound)
	}
	kept := make([]Definition, 0, len(m.config.Indexes))
	for _, def := range m.config.Indexes {
		if def.Name != name {
			kept = append(kept, def)
		}
	}
	previous := m.config.Indexes
	m.config.Indexes = kept
	if err := m.saveConfig(); err != nil {
		m.config.Indexes = previous
		return err
	}
	if err := os.Remove(ix.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove index file: %w", err)
	}
	return nil
}

// OnInsert adds doc to every index.
func (m *Manager) OnInsert(doc core.Document) error {
	return m.update(doc.ID(), nil, doc)
}

// OnUpdate moves a document from the keys of prev to the keys of next.
func (m *Manager) OnUpdate(prev, next core.Document) error {
	id := next.ID()
	if id == "" {
		id = prev.ID()
	}
	return m.update(id, prev, next)
}

// OnDelete retracts doc from every index.
func (m *Manager) OnDelete(doc core.Document) error {
	return m.update(doc.ID(), doc, nil)
}

// update stages the change on every index before saving any of them, so a
// unique violation leaves all index files untouched.
func (m *Manager) update(id string, prev, next core.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.config.Indexes) == 0 {
		return nil
	}

	type staged struct {
		ix *Index
		e  entries
	}
	pending := make([]staged, 0, len(m.config.Indexes))
	for _, def := range m.config.Indexes {
		ix := newIndex(m.indexDir(), def)
		e, err := load(ix.path)
		if err != nil {
			return err
		}
		if err := ix.apply(e, id, prev, next); err != nil {
			return err
		}
		pending = append(pending, staged{ix: ix, e: e})
	}
	for _, p := range pending {
		if err := save(p.ix.path, p.ix.def.Kind, p.e); err != nil {
			return fmt.Errorf("index %s: %w", p.ix.def.Name, err)
		}
	}
	return nil
}

// Lookup returns the ids stored under value in the named index.
func (m *Manager) Lookup(name string, value any) ([]string, error) {
	ix, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ix.Lookup(value)
}

// Range scans the named ordered index between lo and hi inclusive.
func (m *Manager) Range(name string, lo, hi any) ([]string, error) {
	ix, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ix.Range(lo, hi)
}

// Search runs a token query against the named text index.
func (m *Manager) Search(name, query string) ([]string, error) {
	ix, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ix.Search(query)
}

// Rebuild regenerates every index from docs.
func (m *Manager) Rebuild(docs []core.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, def := range m.config.Indexes {
		if err := newIndex(m.indexDir(), def).Rebuild(docs); err != nil {
			return fmt.Errorf("failed to rebuild index %s: %w", def.Name, err)
		}
	}
	return nil
}
