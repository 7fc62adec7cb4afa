// Package errs defines the operator-visible error kinds. Every kind renders
// with a fixed message prefix that callers and the smoke suite match
// literally, so the prefixes here are part of the CLI contract.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// MissingPrerequisite covers missing binaries, uncommitted changes, and
	// wrong-location invocations that must be fixed before retrying.
	MissingPrerequisite Kind = "MissingPrerequisite"
	// LockConflict is an attempt to acquire a scope lock held by a
	// different owner or task.
	LockConflict Kind = "LockConflict"
	// StateInvariant reports on-disk state that violates the lock/pid/
	// worktree pairing rules.
	StateInvariant Kind = "StateInvariant"
	// MergeFailed is a fast-forward failure with no remaining strategy.
	MergeFailed Kind = "MergeFailed"
	// NotFound reports an absent task row, spec file, or lock.
	NotFound Kind = "NotFound"
	// Rejected reports invalid operator input.
	Rejected Kind = "Rejected"
	// WorkerLaunch covers backend validation and spawn failures.
	WorkerLaunch Kind = "WorkerLaunch"
)

// Error carries a kind plus a human diagnostic. It renders as
// "<Kind>: <message>".
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that unwraps to err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err (or anything it wraps) is an Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
