// Package errkind defines the domain error taxonomy used across the
// synchronization pipeline: a sum type carrying a kind, a message, and
// optional structured details, instead of bespoke exception classes.
package errkind

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from spec.md §7.
type Kind string

const (
	Connection       Kind = "connection"
	Normalization    Kind = "normalization"
	TypeCoercion     Kind = "type_coercion"
	Validation       Kind = "validation"
	Identity         Kind = "identity_generation"
	Delta            Kind = "delta_detection"
	ParentChild      Kind = "parent_child_resolution"
	SyncExecution    Kind = "sync_execution"
	AlreadyExists    Kind = "already_exists"
	NotFound         Kind = "not_found"
	Authentication   Kind = "authentication"
	Authorization    Kind = "authorization"
	Configuration    Kind = "configuration"
)

// Error is the structured domain error. It carries no stack trace and
// is never used for non-local control flow — stage boundaries return
// it as a normal value.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Kind, e.Message, e.Details)
}

// Is supports errors.Is comparisons by Kind only (message/details ignored).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an *Error with no structured details.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of the error with the given structured details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Details: details}
}

// OfKind reports whether err is an *Error of the given kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
