// Package agenterrors defines the discriminated error taxonomy shared across
// the agent core. Every component that crosses a concurrency or network
// boundary reports failures through this type rather than bare errors.
package agenterrors

import (
	"errors"
	"fmt"
)

// Kind discriminates the category of a failure.
type Kind string

const (
	KindRuntimeUnavailable   Kind = "RuntimeUnavailable"
	KindNotFound             Kind = "NotFound"
	KindConflict             Kind = "Conflict"
	KindRegistryUnreachable  Kind = "RegistryUnreachable"
	KindAuthRequired         Kind = "AuthRequired"
	KindConfigNotReplicable  Kind = "ConfigNotReplicable"
	KindTimeout              Kind = "Timeout"
	KindInvalidConfig        Kind = "InvalidConfig"
	KindInternal             Kind = "Internal"
)

// Retryable reports whether the taxonomy generally considers errors of this
// kind worth retrying. Callers may still override this at their discretion.
func (k Kind) Retryable() bool {
	switch k {
	case KindRuntimeUnavailable, KindRegistryUnreachable, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is the structured error value surfaced across component boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether this specific error should be retried. It
// always defers to the Kind's default; the wrapped cause is not consulted.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// New constructs an Error with the given kind, operation, and message.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Is allows errors.Is(err, agenterrors.Sentinel(agenterrors.KindNotFound))
// style checks against a sentinel constructed with just a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel returns a bare *Error carrying only a Kind, suitable for use with
// errors.Is.
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
