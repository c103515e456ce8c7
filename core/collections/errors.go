package collections

import "errors"

var (
	// ErrDocumentExists is returned by inserts whose id is already stored.
	ErrDocumentExists = errors.New("document already exists")
	// ErrDocumentNotFound is returned when an id is not stored.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidDocument is returned for documents the engine cannot store,
	// such as ones with a non-string id.
	ErrInvalidDocument = errors.New("invalid document")
)
