package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/asaidimu/go-jsondb/core/rules"
	"github.com/asaidimu/go-jsondb/core/storage"
)

// Registry holds every schema document of one database keyed by URI.
// It is safe for concurrent use.
type Registry struct {
	base    string
	mu      sync.RWMutex
	schemas map[string]any
}

// Resolved is the outcome of following a $ref.
type Resolved struct {
	// Schema is the schema node the reference points at.
	Schema any
	// URI is the document URI the node lives in; nested references
	// resolve against it.
	URI string
	// Ref is the fully qualified reference, fragment included.
	Ref string
}

// NewRegistry creates an empty registry for space/db.
func NewRegistry(space, db string) *Registry {
	return &Registry{
		base:    storage.SchemaBaseURI(space, db),
		schemas: make(map[string]any),
	}
}

// FromDB walks the schema directory of space/db once and registers every
// .json file under db://{space}/{db}/schemas/v1/{relative path}.
func FromDB(st *storage.Storage, space, db string) (*Registry, error) {
	r := NewRegistry(space, db)
	root := st.SchemasRoot(space, db)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read schema %s: %w", path, err)
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse schema %s: %w", path, err)
		}
		r.schemas[r.base+filepath.ToSlash(rel)] = doc
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return r, nil
}

// BaseURI returns the URI prefix of this registry.
func (r *Registry) BaseURI() string {
	return r.base
}

// URIFor turns a path relative to the schema root into a URI. Absolute
// db:// URIs are returned unchanged.
func (r *Registry) URIFor(rel string) string {
	if strings.HasPrefix(rel, uriScheme) {
		return rel
	}
	return r.base + strings.TrimPrefix(filepath.ToSlash(rel), "/")
}

// Register adds or replaces a schema document.
func (r *Registry) Register(uri string, doc any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[uri] = doc
}

// Get returns the schema document registered under uri. A fragment in uri
// is resolved as a JSON pointer.
func (r *Registry) Get(uri string) (any, bool) {
	docURI, fragment := SplitFragment(uri)
	r.mu.RLock()
	doc, ok := r.schemas[docURI]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if fragment == "" {
		return doc, true
	}
	node, err := ResolvePointer(doc, fragment)
	if err != nil {
		return nil, false
	}
	return node, true
}

// Len returns the number of registered documents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// URIs lists registered document URIs in sorted order.
func (r *Registry) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for uri := range r.schemas {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Resolve follows ref as written inside the schema document at currentURI.
func (r *Registry) Resolve(currentURI, ref string) (Resolved, error) {
	var full string
	if strings.HasPrefix(ref, "#") {
		docURI, _ := SplitFragment(currentURI)
		full = docURI + ref
	} else {
		full = ResolvePathURI(currentURI, ref)
	}

	docURI, fragment := SplitFragment(full)
	r.mu.RLock()
	doc, ok := r.schemas[docURI]
	r.mu.RUnlock()
	if !ok {
		return Resolved{}, fmt.Errorf("%s (from $ref %q in %s): %w", docURI, ref, currentURI, ErrSchemaNotFound)
	}

	node := doc
	if fragment != "" {
		var err error
		if node, err = ResolvePointer(doc, fragment); err != nil {
			return Resolved{}, fmt.Errorf("$ref %q in %s: %w", ref, currentURI, err)
		}
	}
	return Resolved{Schema: node, URI: docURI, Ref: full}, nil
}

// Rules decodes the x_rules array declared at the root of the schema at uri.
func (r *Registry) Rules(uri string) ([]rules.Rule, error) {
	doc, ok := r.Get(uri)
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, ErrSchemaNotFound)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := obj["x_rules"]
	if !ok {
		return nil, nil
	}
	list, err := rules.ParseRules(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid x_rules in %s: %w", uri, err)
	}
	return list, nil
}
