// Package collections is the single read/write path of a database. Every
// write runs the same pipeline: prepare, schema defaults, computed fields,
// validation, persistence, index maintenance and manifest update. Writes to
// one database are serialised by the storage lock.
package collections

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/index"
	"github.com/asaidimu/go-jsondb/core/rules"
	"github.com/asaidimu/go-jsondb/core/schema"
	"github.com/asaidimu/go-jsondb/core/storage"
	"go.uber.org/zap"
)

// Options tunes a Manager. The zero value uses the storage configuration.
type Options struct {
	Logger *zap.Logger
	// MaxRulePasses overrides storage.Config.MaxRulePasses.
	MaxRulePasses int
	// Provider overrides the manager itself as the lookup data provider.
	Provider rules.DataProvider
	// Clock stamps createdAt/updatedAt and feeds the rule "now" operator.
	Clock func() time.Time
}

// Manager is the collections façade for one database.
type Manager struct {
	st        *storage.Storage
	space, db string
	logger    *zap.Logger
	maxPasses int
	clock     func() time.Time

	regMu     sync.RWMutex
	registry  *schema.Registry
	validator *schema.Validator

	rules       *rules.Store
	evaluator   *rules.Evaluator
	loadedMu    sync.Mutex
	loadedRules map[string]loadedSchemaRules

	idxMu   sync.Mutex
	indexes map[string]*index.Manager

	bus           *events.TypedEventBus[core.Event]
	subMu         sync.RWMutex
	subscriptions map[string]*core.SubscriptionInfo
}

// loadedSchemaRules remembers which schema a collection's x_rules came
// from so they can be replaced on reload.
type loadedSchemaRules struct {
	uri string
	ids []string
}

// NewManager opens space/db, creating the database when it does not exist,
// and loads its schema registry.
func NewManager(st *storage.Storage, space, db string, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxPasses := opts.MaxRulePasses
	if maxPasses <= 0 {
		maxPasses = st.Config().MaxRulePasses
	}
	if maxPasses <= 0 {
		maxPasses = storage.DefaultConfig().MaxRulePasses
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	if !st.DBExists(space, db) {
		if err := st.CreateDB(space, db); err != nil {
			return nil, fmt.Errorf("failed to create database %s/%s: %w", space, db, err)
		}
	}

	bus, err := events.NewTypedEventBus[core.Event](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	m := &Manager{
		st:            st,
		space:         space,
		db:            db,
		logger:        logger.With(zap.String("database", space+"/"+db)),
		maxPasses:     maxPasses,
		clock:         clock,
		rules:         rules.NewStore(),
		loadedRules:   make(map[string]loadedSchemaRules),
		indexes:       make(map[string]*index.Manager),
		bus:           bus,
		subscriptions: make(map[string]*core.SubscriptionInfo),
	}

	var provider rules.DataProvider = m
	if opts.Provider != nil {
		provider = opts.Provider
	}
	m.evaluator = rules.NewEvaluator(provider).WithClock(clock)

	if err := m.ReloadSchemas(); err != nil {
		return nil, err
	}
	return m, nil
}

// Space returns the space of the managed database.
func (m *Manager) Space() string { return m.space }

// Database returns the name of the managed database.
func (m *Manager) Database() string { return m.db }

// Storage returns the storage the manager writes through.
func (m *Manager) Storage() *storage.Storage { return m.st }

// Registry returns the current schema registry.
func (m *Manager) Registry() *schema.Registry {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	return m.registry
}

func (m *Manager) currentValidator() *schema.Validator {
	m.regMu.RLock()
	defer m.regMu.RUnlock()
	return m.validator
}

// ReloadSchemas re-reads every schema file of the database. Rules that were
// loaded from schema x_rules are dropped and reloaded on next use.
func (m *Manager) ReloadSchemas() error {
	registry, err := schema.FromDB(m.st, m.space, m.db)
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}

	m.regMu.Lock()
	m.registry = registry
	m.validator = schema.NewValidator(registry)
	m.regMu.Unlock()

	m.loadedMu.Lock()
	for collection, loaded := range m.loadedRules {
		for _, id := range loaded.ids {
			m.rules.Remove(collection, id)
		}
	}
	m.loadedRules = make(map[string]loadedSchemaRules)
	m.loadedMu.Unlock()

	m.logger.Debug("Schemas loaded", zap.Int("count", registry.Len()))
	return nil
}

// RegisterRule adds or replaces a computed-field rule of collection.
func (m *Manager) RegisterRule(collection string, rule rules.Rule) error {
	return m.rules.Register(collection, rule)
}

// Rules lists the rules currently registered for collection.
func (m *Manager) Rules(collection string) []rules.Rule {
	return m.rules.Rules(collection)
}

// ensureSchemaRules registers the x_rules of uri for collection once.
func (m *Manager) ensureSchemaRules(collection, uri string) error {
	m.loadedMu.Lock()
	defer m.loadedMu.Unlock()

	loaded, ok := m.loadedRules[collection]
	if ok && loaded.uri == uri {
		return nil
	}
	for _, id := range loaded.ids {
		m.rules.Remove(collection, id)
	}
	delete(m.loadedRules, collection)
	if uri == "" {
		return nil
	}

	list, err := m.Registry().Rules(uri)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(list))
	for _, rule := range list {
		if err := m.rules.Register(collection, rule); err != nil {
			return fmt.Errorf("schema %s: %w", uri, err)
		}
		ids = append(ids, rule.ID)
	}
	m.loadedRules[collection] = loadedSchemaRules{uri: uri, ids: ids}
	return nil
}

// indexManager returns the cached index manager of a collection.
func (m *Manager) indexManager(collection string) (*index.Manager, error) {
	m.idxMu.Lock()
	defer m.idxMu.Unlock()

	if im, ok := m.indexes[collection]; ok {
		return im, nil
	}
	im, err := index.Open(m.st.CollectionPath(m.space, m.db, collection), m.logger)
	if err != nil {
		return nil, err
	}
	m.indexes[collection] = im
	return im, nil
}

func (m *Manager) forgetIndexManager(collection string) {
	m.idxMu.Lock()
	defer m.idxMu.Unlock()
	delete(m.indexes, collection)
}

// resolveSchema turns a schema reference (relative path or db:// URI) into
// a registered URI.
func (m *Manager) resolveSchema(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	uri := m.Registry().URIFor(ref)
	if _, ok := m.Registry().Get(uri); !ok {
		return "", fmt.Errorf("%s: %w", uri, schema.ErrSchemaNotFound)
	}
	return uri, nil
}

// collectionFromSchema derives a collection name from the leading segment
// of a schema path: "actors/actor.json" belongs to "actors".
func collectionFromSchema(schemaRel string) string {
	rel := schemaRel
	if idx := strings.Index(rel, "/schemas/v1/"); idx >= 0 {
		rel = rel[idx+len("/schemas/v1/"):]
	}
	rel = strings.TrimPrefix(rel, "/")
	if head, _, found := strings.Cut(rel, "/"); found {
		return head
	}
	return strings.TrimSuffix(rel, ".json")
}
