// Package storeerr defines the structured error taxonomy the Store
// surfaces to its callers, distinguishing cases callers may retry from
// cases they must not.
package storeerr

import "fmt"

// Kind classifies a Store failure.
type Kind string

const (
	// NotFound means the requested row does not exist. Non-retryable.
	NotFound Kind = "not_found"
	// Conflict means a write violated a uniqueness or state constraint.
	// Non-retryable without caller intervention.
	Conflict Kind = "conflict"
	// Backend means the underlying engine failed transiently (I/O,
	// lock contention). Callers may retry.
	Backend Kind = "backend"
)

// Error is the structured error type every Store method returns on
// failure.
type Error struct {
	Kind    Kind
	Op      string
	Target  string
	Err     error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the operation.
func (e *Error) Retryable() bool {
	return e.Kind == Backend
}

// New constructs a structured Error.
func New(kind Kind, op, target string, err error) *Error {
	return &Error{Kind: kind, Op: op, Target: target, Err: err}
}

// NotFoundf builds a NotFound error.
func NotFoundf(op, target string, err error) *Error {
	return New(NotFound, op, target, err)
}

// Conflictf builds a Conflict error.
func Conflictf(op, target string, err error) *Error {
	return New(Conflict, op, target, err)
}

// Backendf builds a Backend error.
func Backendf(op, target string, err error) *Error {
	return New(Backend, op, target, err)
}
