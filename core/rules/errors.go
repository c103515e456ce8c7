package rules

import "fmt"

// ErrorKind classifies evaluation failures.
type ErrorKind string

const (
	KindVarNotFound  ErrorKind = "VarNotFound"
	KindNotANumber   ErrorKind = "NotANumber"
	KindNotAString   ErrorKind = "NotAString"
	KindInvalidDate  ErrorKind = "InvalidDate"
	KindInvalidRegex ErrorKind = "InvalidRegex"
	KindGeneric      ErrorKind = "Generic"
)

// EvalError is returned by the evaluator.
type EvalError struct {
	Kind   ErrorKind
	Detail string
}

func (e *EvalError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is matches any EvalError of the same kind, so errors.Is(err, ErrVarNotFound)
// works regardless of detail.
func (e *EvalError) Is(target error) bool {
	t, ok := target.(*EvalError)
	return ok && t.Kind == e.Kind && t.Detail == ""
}

var (
	ErrVarNotFound  = &EvalError{Kind: KindVarNotFound}
	ErrNotANumber   = &EvalError{Kind: KindNotANumber}
	ErrNotAString   = &EvalError{Kind: KindNotAString}
	ErrInvalidDate  = &EvalError{Kind: KindInvalidDate}
	ErrInvalidRegex = &EvalError{Kind: KindInvalidRegex}
	ErrGeneric      = &EvalError{Kind: KindGeneric}
)

func evalErr(kind ErrorKind, format string, args ...any) error {
	return &EvalError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
