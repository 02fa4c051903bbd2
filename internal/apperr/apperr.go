// Package apperr defines the coded error kinds shared across the combat
// engine. Every gated mutation rejects with exactly one of these kinds so
// callers (and tests) can match on the kind rather than on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	// KindInvalidState: operation attempted while the encounter is not in
	// the required lifecycle state (e.g. acting before start).
	KindInvalidState Kind = "INVALID_STATE"
	// KindNoActionAvailable: the action/bonus-action slot is already
	// consumed, or the actor has no active turn.
	KindNoActionAvailable Kind = "NO_ACTION_AVAILABLE"
	// KindActionNotFound: the named action is absent from the actor's list.
	KindActionNotFound Kind = "ACTION_NOT_FOUND"
	// KindInsufficientMovement: the proposed move exceeds the remaining
	// movement budget.
	KindInsufficientMovement Kind = "INSUFFICIENT_MOVEMENT"
	// KindInvalidPosition: out of bounds or a wall cell.
	KindInvalidPosition Kind = "INVALID_POSITION"
	// KindActorNotFound: no registered actor with the given ID.
	KindActorNotFound Kind = "ACTOR_NOT_FOUND"
	// KindEncounterNotFound: no stored encounter with the given ID.
	KindEncounterNotFound Kind = "ENCOUNTER_NOT_FOUND"
	// KindPlannerUnavailable: the planner collaborator failed or returned a
	// malformed response. Non-fatal; degrades to skipping the automated
	// intent for the turn.
	KindPlannerUnavailable Kind = "PLANNER_UNAVAILABLE"
)

// Error is a coded error with optional metadata.
type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]any
	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.wrapped }

// Is reports kind equality, making errors.Is(err, apperr.New(kind, ""))
// and IsKind work through wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// WithMeta attaches a metadata key/value and returns the error for chaining.
//
// Postcondition: Meta is non-nil and contains key.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message, preserving the cause chain.
//
// Precondition: err must be non-nil.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, wrapped: err}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the kind carried by err, or "" when err is not an Error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// Convenience constructors, one per kind.

// InvalidState creates a KindInvalidState error.
func InvalidState(message string) *Error { return New(KindInvalidState, message) }

// InvalidStatef creates a formatted KindInvalidState error.
func InvalidStatef(format string, args ...any) *Error {
	return Newf(KindInvalidState, format, args...)
}

// NoActionAvailable creates a KindNoActionAvailable error.
func NoActionAvailable(message string) *Error { return New(KindNoActionAvailable, message) }

// ActionNotFound creates a formatted KindActionNotFound error.
func ActionNotFound(format string, args ...any) *Error {
	return Newf(KindActionNotFound, format, args...)
}

// InsufficientMovement creates a formatted KindInsufficientMovement error.
func InsufficientMovement(format string, args ...any) *Error {
	return Newf(KindInsufficientMovement, format, args...)
}

// InvalidPosition creates a formatted KindInvalidPosition error.
func InvalidPosition(format string, args ...any) *Error {
	return Newf(KindInvalidPosition, format, args...)
}

// ActorNotFound creates a formatted KindActorNotFound error.
func ActorNotFound(format string, args ...any) *Error {
	return Newf(KindActorNotFound, format, args...)
}

// EncounterNotFound creates a formatted KindEncounterNotFound error.
func EncounterNotFound(format string, args ...any) *Error {
	return Newf(KindEncounterNotFound, format, args...)
}

// PlannerUnavailable wraps err as KindPlannerUnavailable.
func PlannerUnavailable(err error, message string) *Error {
	return Wrap(err, KindPlannerUnavailable, message)
}
