// Package perrors implements the coarse tagged-union error taxonomy
// that crosses every boundary in the cluster control plane: the
// registry and state manager wrap KV store errors in this type, and the
// gRPC and REST boundaries translate from it, rather than leaking
// transport-specific error shapes into domain code.
package perrors

import "fmt"

// Kind is the coarse error taxonomy shared across all boundaries.
type Kind string

const (
	KindInvalidArgument Kind = "InvalidArgument"
	KindNotFound        Kind = "NotFound"
	KindUnavailable     Kind = "Unavailable"
	KindConflict        Kind = "Conflict"
	KindInternal        Kind = "Internal"
)

// Error is a tagged-union domain error: a Kind plus a message, with an
// optional wrapped cause for log context. No dynamic exception types
// cross module boundaries — every adapter works in terms of this type.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func InvalidArgument(format string, args ...any) *Error {
	return newErr(KindInvalidArgument, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newErr(KindNotFound, nil, format, args...)
}

func Unavailable(cause error, format string, args ...any) *Error {
	return newErr(KindUnavailable, cause, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newErr(KindConflict, nil, format, args...)
}

func Internal(cause error, format string, args ...any) *Error {
	return newErr(KindInternal, cause, format, args...)
}

// As extracts an *Error from err, if any wrapping layer is one.
func As(err error) (*Error, bool) {
	var e *Error
	if err == nil {
		return nil, false
	}
	if ce, ok := err.(*Error); ok {
		return ce, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap())
	}
	return e, false
}

// KindOf returns the Kind of err, defaulting to KindInternal for
// errors that never went through a constructor in this package.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
