package domain

import (
	"errors"
	"fmt"
	"maps"
)

// Kind classifies a failure into the closed taxonomy understood by every transport.
type Kind string

const (
	KindDuplicate          Kind = "duplicate"
	KindForeignKeyConflict Kind = "foreign_key_conflict"
	KindConnectionFailure  Kind = "connection_failure"
	KindValidationFailure  Kind = "validation_failure"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

var kindTitles = map[Kind]string{
	KindDuplicate:          "Duplicate Entry",
	KindForeignKeyConflict: "Foreign Key Conflict",
	KindConnectionFailure:  "Service Unavailable",
	KindValidationFailure:  "Validation Error",
	KindNotFound:           "Not Found",
	KindInternal:           "Internal Server Error",
}

// Title returns the human readable title of the kind.
func (k Kind) Title() string {
	if t, ok := kindTitles[k]; ok {
		return t
	}
	return kindTitles[KindInternal]
}

// Error is the single domain error type. Values are never mutated after
// construction; the With* methods return modified copies.
type Error struct {
	Kind        Kind
	Title       string
	Description string
	Metadata    map[string]any
	Cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches two domain errors of the same kind, so sentinel comparisons
// such as errors.Is(err, domain.ErrNotFound) work on decorated copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && t.Description == "" && t.Cause == nil
}

func (e *Error) clone() *Error {
	c := *e
	if e.Metadata != nil {
		c.Metadata = maps.Clone(e.Metadata)
	}
	return &c
}

// WithDescription returns a copy with the description replaced.
func (e *Error) WithDescription(format string, args ...any) *Error {
	c := e.clone()
	c.Description = fmt.Sprintf(format, args...)
	return c
}

// WithMeta returns a copy carrying an extra metadata entry.
func (e *Error) WithMeta(key string, value any) *Error {
	c := e.clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 1)
	}
	c.Metadata[key] = value
	return c
}

// WithCause returns a copy wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := e.clone()
	c.Cause = cause
	return c
}

// NewError builds a domain error of the given kind.
func NewError(kind Kind, description string) *Error {
	return &Error{Kind: kind, Title: kind.Title(), Description: description}
}

// Sentinels for errors.Is comparisons.
var (
	ErrDuplicate          = &Error{Kind: KindDuplicate}
	ErrForeignKeyConflict = &Error{Kind: KindForeignKeyConflict}
	ErrConnectionFailure  = &Error{Kind: KindConnectionFailure}
	ErrValidation         = &Error{Kind: KindValidationFailure}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInternal           = &Error{Kind: KindInternal}
)

func ErrDuplicateEntry(description string) *Error { return NewError(KindDuplicate, description) }

func ErrForeignKey(description string) *Error { return NewError(KindForeignKeyConflict, description) }

func ErrConnection(description string) *Error { return NewError(KindConnectionFailure, description) }

func ErrNotFoundf(format string, args ...any) *Error {
	return NewError(KindNotFound, fmt.Sprintf(format, args...))
}

func ErrValidationf(format string, args ...any) *Error {
	return NewError(KindValidationFailure, fmt.Sprintf(format, args...))
}

// AsError extracts a domain error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf reports the taxonomy kind of err. Errors outside the taxonomy are Internal.
func KindOf(err error) Kind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return KindInternal
}
