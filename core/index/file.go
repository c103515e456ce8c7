package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/asaidimu/go-jsondb/core/storage"
	"go.mongodb.org/mongo-driver/bson"
)

// entries maps a canonical key (or token) to the ids of the documents
// carrying it.
type entries map[string][]string

type fileRecord struct {
	Key        string `bson:"key"`
	DocumentID string `bson:"document_id"`
}

type indexFile struct {
	Kind    string       `bson:"kind"`
	Records []fileRecord `bson:"records"`
}

// load reads an index file. A missing file is an empty index.
func load(path string) (entries, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", path, err)
	}

	var f indexFile
	if err := bson.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode index %s: %w", path, err)
	}
	out := make(entries, len(f.Records))
	for _, rec := range f.Records {
		out[rec.Key] = append(out[rec.Key], rec.DocumentID)
	}
	return out, nil
}

// save rewrites the whole index file. Ordered indexes store their records
// in value order, the other kinds in key order.
func save(path string, kind Kind, e entries) error {
	keys := make([]string, 0, len(e))
	for k, ids := range e {
		if len(ids) > 0 {
			keys = append(keys, k)
		}
	}
	if kind == KindOrdered {
		sort.Slice(keys, func(i, j int) bool { return compareKeys(keys[i], keys[j]) < 0 })
	} else {
		sort.Strings(keys)
	}

	f := indexFile{Kind: string(kind), Records: make([]fileRecord, 0, len(keys))}
	for _, k := range keys {
		for _, id := range e[k] {
			f.Records = append(f.Records, fileRecord{Key: k, DocumentID: id})
		}
	}

	data, err := bson.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode index %s: %w", path, err)
	}
	return storage.AtomicWrite(path, data)
}

func (e entries) add(key, id string) {
	for _, existing := range e[key] {
		if existing == id {
			return
		}
	}
	e[key] = append(e[key], id)
}

// retract removes id from key, dropping the key once no id is left.
func (e entries) retract(key, id string) {
	ids := e[key]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(e, key)
		return
	}
	e[key] = ids
}

// conflict reports whether key already belongs to a document other than id.
func (e entries) conflict(key, id string) bool {
	for _, existing := range e[key] {
		if existing != id {
			return true
		}
	}
	return false
}
