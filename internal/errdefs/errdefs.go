// Package errdefs classifies orchestration errors so callers can branch on
// what went wrong without matching message strings.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an orchestration error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindPermissionDenied
	KindInvalidInput
	KindUnsupported
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindPermissionDenied:
		return "permission denied"
	case KindInvalidInput:
		return "invalid input"
	case KindUnsupported:
		return "unsupported"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is a kinded error with an optional operation tag.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with an operation label and kind. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown if it carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func is(err error, kind Kind) bool { return KindOf(err) == kind }

func IsNotFound(err error) bool         { return is(err, KindNotFound) }
func IsConflict(err error) bool         { return is(err, KindConflict) }
func IsPermissionDenied(err error) bool { return is(err, KindPermissionDenied) }
func IsInvalidInput(err error) bool     { return is(err, KindInvalidInput) }
func IsUnsupported(err error) bool      { return is(err, KindUnsupported) }
func IsUnavailable(err error) bool      { return is(err, KindUnavailable) }
