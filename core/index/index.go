package index

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/asaidimu/go-jsondb/core"
)

// Index is one index file bound to its definition. Index does no locking of
// its own; the Manager serialises access.
type Index struct {
	def  Definition
	path string
}

func newIndex(dir string, def Definition) *Index {
	return &Index{def: def, path: filepath.Join(dir, def.FileName())}
}

// Definition returns the definition the index was created with.
func (ix *Index) Definition() Definition {
	return ix.def
}

// Path returns the location of the index file.
func (ix *Index) Path() string {
	return ix.path
}

// apply retracts the keys of prev and adds the keys of next for document
// id. A nil prev is an insert and a nil next a delete.
func (ix *Index) apply(e entries, id string, prev, next map[string]any) error {
	for _, key := range keysFor(ix.def, prev) {
		e.retract(key, id)
	}
	for _, key := range keysFor(ix.def, next) {
		if ix.def.Unique && e.conflict(key, id) {
			return &UniqueViolationError{Index: ix.def.Name, Key: key}
		}
		e.add(key, id)
	}
	return nil
}

// Update loads the index, moves document id from the keys of prev to the
// keys of next and saves the result. Nothing is written on a unique
// violation.
func (ix *Index) Update(id string, prev, next map[string]any) error {
	e, err := load(ix.path)
	if err != nil {
		return err
	}
	if err := ix.apply(e, id, prev, next); err != nil {
		return err
	}
	return save(ix.path, ix.def.Kind, e)
}

// Rebuild replaces the index contents with the keys of docs.
func (ix *Index) Rebuild(docs []core.Document) error {
	e := entries{}
	for _, doc := range docs {
		if err := ix.apply(e, doc.ID(), nil, doc); err != nil {
			return err
		}
	}
	return save(ix.path, ix.def.Kind, e)
}

// Lookup returns the ids stored under value. Text indexes treat value as a
// search string.
func (ix *Index) Lookup(value any) ([]string, error) {
	if ix.def.Kind == KindText {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("text index %s needs a string: %w", ix.def.Name, ErrUnsupported)
		}
		return ix.Search(s)
	}
	key, ok := CanonicalKey(value)
	if !ok {
		return nil, nil
	}
	e, err := load(ix.path)
	if err != nil {
		return nil, err
	}
	return sortedCopy(e[key]), nil
}

// Range returns the ids whose key lies in [lo, hi], in key order. A nil
// bound leaves that side open. Only ordered indexes support ranges.
func (ix *Index) Range(lo, hi any) ([]string, error) {
	if ix.def.Kind != KindOrdered {
		return nil, fmt.Errorf("range on %s index %s: %w", ix.def.Kind, ix.def.Name, ErrUnsupported)
	}
	e, err := load(ix.path)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(e))
	for key := range e {
		value := decodeKey(key)
		if lo != nil {
			if c, ok := core.Compare(value, lo); !ok || c < 0 {
				continue
			}
		}
		if hi != nil {
			if c, ok := core.Compare(value, hi); !ok || c > 0 {
				continue
			}
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return compareKeys(keys[i], keys[j]) < 0 })

	var ids []string
	for _, key := range keys {
		ids = append(ids, sortedCopy(e[key])...)
	}
	return ids, nil
}

// Search returns the ids of documents containing every token of query.
func (ix *Index) Search(query string) ([]string, error) {
	if ix.def.Kind != KindText {
		return nil, fmt.Errorf("search on %s index %s: %w", ix.def.Kind, ix.def.Name, ErrUnsupported)
	}
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	e, err := load(ix.path)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, token := range tokens {
		for _, id := range e[token] {
			counts[id]++
		}
	}
	var ids []string
	for id, n := range counts {
		if n == len(tokens) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func sortedCopy(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
