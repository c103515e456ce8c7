// Package schema loads the JSON-Schema-like documents of a database into a
// URI-addressed registry and validates instances against them.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaNotFound is returned when a URI is absent from the registry.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrInvalidRef is returned when a $ref or its fragment cannot be resolved.
	ErrInvalidRef = errors.New("invalid $ref")
	// ErrRefCycle is returned when $ref resolution loops without consuming
	// any part of the instance.
	ErrRefCycle = errors.New("$ref cycle")
)

// Issue codes reported by the validator.
const (
	CodeTypeMismatch       = "TYPE_MISMATCH"
	CodeRequiredMissing    = "REQUIRED_FIELD_MISSING"
	CodeAdditionalProperty = "ADDITIONAL_PROPERTY"
	CodeEnumMismatch       = "ENUM_MISMATCH"
	CodePatternMismatch    = "PATTERN_MISMATCH"
	CodeInvalidPattern     = "INVALID_PATTERN"
	CodeFalseSchema        = "FALSE_SCHEMA"
)

// Issue represents a single validation failure.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func (i Issue) String() string {
	path := i.Path
	if path == "" {
		path = "(root)"
	}
	return fmt.Sprintf("%s: %s", path, i.Message)
}

// ValidationError lists every issue found while validating one instance.
type ValidationError struct {
	URI    string  `json:"uri"`
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("document does not match schema %s: %s", e.URI, strings.Join(parts, "; "))
}

// HasCode reports whether any issue carries code.
func (e *ValidationError) HasCode(code string) bool {
	for _, issue := range e.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}
