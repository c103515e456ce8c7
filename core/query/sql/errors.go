package sql

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax marks input that is not valid in the supported grammar.
	ErrSyntax = errors.New("sql syntax error")
	// ErrUnsupported marks valid SQL outside the supported subset, such as
	// INSERT statements or joins.
	ErrUnsupported = errors.New("unsupported sql")
)

// SyntaxError reports where parsing stopped. Pos is the byte offset of
// Token in the input.
type SyntaxError struct {
	Pos   int
	Token string
	Msg   string
	kind  error
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("sql: %s at position %d (end of input)", e.Msg, e.Pos)
	}
	return fmt.Sprintf("sql: %s at position %d near %q", e.Msg, e.Pos, e.Token)
}

// Unwrap returns ErrSyntax or ErrUnsupported.
func (e *SyntaxError) Unwrap() error {
	if e.kind == nil {
		return ErrSyntax
	}
	return e.kind
}
