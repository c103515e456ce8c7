// Package storage owns everything the engine keeps on disk below the
// collection level: path layout, atomic file replacement, the per-database
// manifest and its cache, database lifecycle and the per-database write lock.
package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	collectionsDir = "collections"
	schemasDir     = "schemas"
	schemaVersion  = "v1"
	walDir         = "wal"
	manifestFile   = "_system.json"
	lockFile       = ".lock"

	// CollectionConfigFile is the per-collection sidecar holding the bound
	// schema and index definitions.
	CollectionConfigFile = "_config.json"
	// IndexesDirName is the per-collection directory holding index files.
	IndexesDirName = "_indexes"
)

// Storage resolves paths for a domain root and caches database manifests.
type Storage struct {
	cfg    Config
	logger *zap.Logger
	cache  *Cache[string, *Manifest]
	loads  singleflight.Group

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// New creates a Storage rooted at cfg.DomainRoot.
func New(cfg Config, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Storage{
		cfg:    cfg,
		logger: logger,
		cache:  NewCache[string, *Manifest](cfg.CacheCapacity, cfg.CacheTTL.Duration),
		locks:  make(map[string]chan struct{}),
	}, nil
}

// Config returns the settings this storage was created with.
func (s *Storage) Config() Config {
	return s.cfg
}

// ValidateName rejects identifiers that would escape their directory.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", kind)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

func dbKey(space, db string) string {
	return space + "/" + db
}

// DBRoot returns {domain}/{space}/{db}.
func (s *Storage) DBRoot(space, db string) string {
	return filepath.Join(s.cfg.DomainRoot, space, db)
}

// CollectionsRoot returns the directory holding every collection of a database.
func (s *Storage) CollectionsRoot(space, db string) string {
	return filepath.Join(s.DBRoot(space, db), collectionsDir)
}

// CollectionPath returns the directory of one collection.
func (s *Storage) CollectionPath(space, db, collection string) string {
	return filepath.Join(s.CollectionsRoot(space, db), collection)
}

// DocumentPath returns the file of one document.
func (s *Storage) DocumentPath(space, db, collection, id string) string {
	return filepath.Join(s.CollectionPath(space, db, collection), id+".json")
}

// CollectionConfigPath returns the _config.json sidecar of a collection.
func (s *Storage) CollectionConfigPath(space, db, collection string) string {
	return filepath.Join(s.CollectionPath(space, db, collection), CollectionConfigFile)
}

// IndexesDir returns the directory holding a collection's index files.
func (s *Storage) IndexesDir(space, db, collection string) string {
	return filepath.Join(s.CollectionPath(space, db, collection), IndexesDirName)
}

// SchemasRoot returns {db}/schemas/v1.
func (s *Storage) SchemasRoot(space, db string) string {
	return filepath.Join(s.DBRoot(space, db), schemasDir, schemaVersion)
}

// WALDir returns the directory holding pending transaction records.
func (s *Storage) WALDir(space, db string) string {
	return filepath.Join(s.DBRoot(space, db), walDir)
}

// SystemIndexPath returns the manifest file of a database.
func (s *Storage) SystemIndexPath(space, db string) string {
	return filepath.Join(s.DBRoot(space, db), manifestFile)
}

// SchemaBaseURI returns the URI prefix under which a database's schemas are registered.
func SchemaBaseURI(space, db string) string {
	return fmt.Sprintf("db://%s/%s/%s/%s/", space, db, schemasDir, schemaVersion)
}
