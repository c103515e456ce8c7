// Package utils converts between Go structs and engine documents.
package utils

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/asaidimu/go-jsondb/core"
)

// ToDocument converts a struct, or a pointer to one, into a document.
//
// The record goes through encoding/json, so `json` tags, omitempty and
// custom marshalers apply, and the result holds only the plain JSON values
// the engine stores: nested structs become map[string]any, slices become
// []any and every number becomes float64.
//
// Example:
//
//	type Contact struct {
//		ID   string `json:"id"`
//		Name string `json:"name"`
//		Age  int    `json:"age,omitempty"`
//	}
//	doc, err := ToDocument(Contact{ID: "c1", Name: "Ada", Age: 36})
//	// doc == core.Document{"id": "c1", "name": "Ada", "age": 36.0}
func ToDocument[T any](record T) (core.Document, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("ToDocument: input record cannot be nil")
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("ToDocument: input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("ToDocument: input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	b, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("ToDocument: failed to marshal input record to JSON: %w", err)
	}
	var doc core.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("ToDocument: failed to unmarshal JSON to document: %w", err)
	}
	return doc, nil
}

// ToDocuments converts a slice of records with ToDocument.
func ToDocuments[T any](records []T) ([]core.Document, error) {
	docs := make([]core.Document, 0, len(records))
	for i, r := range records {
		doc, err := ToDocument(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// FromDocument is the inverse of ToDocument. T must be a struct type or a
// pointer to one; fields the struct does not declare are dropped.
func FromDocument[T any](doc core.Document) (T, error) {
	var zero T
	if doc == nil {
		return zero, fmt.Errorf("FromDocument: input document cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("FromDocument: generic type T must be a struct type (or pointer to struct), got %s", typ.Kind())
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("FromDocument: failed to marshal document to JSON: %w", err)
	}
	var result T
	if err := json.Unmarshal(b, &result); err != nil {
		return zero, fmt.Errorf("FromDocument: failed to unmarshal JSON to target struct: %w", err)
	}
	return result, nil
}

// FromDocuments converts documents with FromDocument.
func FromDocuments[T any](docs []core.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := FromDocument[T](d)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", d.ID(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// CanonicalJSON encodes v with object keys sorted at every level, so equal
// values always produce the same bytes.
func CanonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return "", err
	}
	// encoding/json writes map keys in sorted order.
	b, err = json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
