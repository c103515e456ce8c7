package storage

import "errors"

var (
	// ErrNotFound is returned when a database or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a database that exists.
	ErrAlreadyExists = errors.New("already exists")
)
