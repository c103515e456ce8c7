// Package index maintains the secondary indexes of a collection. Three kinds
// exist: hash (point lookup), ordered (point lookup plus range scans) and
// text (inverted token index). Every index lives in one BSON file under the
// collection's _indexes directory and is rewritten atomically on change.
package index

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/storage"
)

// Kind selects the structure an index maintains.
type Kind string

const (
	KindHash    Kind = "hash"
	KindOrdered Kind = "ordered"
	KindText    Kind = "text"
)

var (
	ErrUniqueViolation   = errors.New("unique constraint violation")
	ErrIndexExists       = errors.New("index already exists")
	ErrIndexNotFound     = errors.New("index not found")
	ErrInvalidDefinition = errors.New("invalid index definition")
	ErrUnsupported       = errors.New("operation not supported by index kind")
)

// UniqueViolationError names the index and the key that already belongs to
// another document.
type UniqueViolationError struct {
	Index string
	Key   string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("index unique constraint violation: %s = %s", e.Index, e.Key)
}

func (e *UniqueViolationError) Unwrap() error {
	return ErrUniqueViolation
}

// ParseKind accepts the kind names used in definitions. "btree" is an alias
// for ordered.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hash":
		return KindHash, nil
	case "ordered", "btree":
		return KindOrdered, nil
	case "text":
		return KindText, nil
	}
	return "", fmt.Errorf("unknown index kind %q: %w", s, ErrInvalidDefinition)
}

// suffix is the kind tag used in index file names.
func (k Kind) suffix() string {
	if k == KindOrdered {
		return "btree"
	}
	return string(k)
}

// Definition describes one index of a collection.
type Definition struct {
	Name string `json:"name"`
	// Field is a JSON pointer into the document. Dot paths are accepted and
	// normalised.
	Field  string `json:"field"`
	Kind   Kind   `json:"kind"`
	Unique bool   `json:"unique,omitempty"`
}

// Normalize validates d and rewrites Field and Kind into canonical form.
func (d *Definition) Normalize() error {
	if err := storage.ValidateName("index", d.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if strings.TrimSpace(d.Field) == "" {
		return fmt.Errorf("index %s has no field: %w", d.Name, ErrInvalidDefinition)
	}
	kind, err := ParseKind(string(d.Kind))
	if err != nil {
		return err
	}
	if kind == KindText && d.Unique {
		return fmt.Errorf("text index %s cannot be unique: %w", d.Name, ErrInvalidDefinition)
	}
	d.Kind = kind
	d.Field = core.ToPointer(d.Field)
	return nil
}

// FileName is the name of the file holding the index records.
func (d Definition) FileName() string {
	return d.Name + "." + d.Kind.suffix() + ".idx"
}
