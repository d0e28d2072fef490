// Package apperr defines the service's typed error kinds, so the
// HTTP/WS boundary can translate any internal error to the right wire
// response with a single `errors.As` switch instead of bespoke checks
// scattered across handlers.
package apperr

import "fmt"

// Kind classifies an error for the boundary's response mapping.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindInternal
)

// Error is a typed application error carrying a Kind plus a
// human-readable message. Wrap underlying causes with fmt.Errorf's %w
// so errors.Is/errors.As keep working through this type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error (malformed input).
func Validation(format string, args ...any) *Error { return newErr(KindValidation, format, args...) }

// NotFound builds a KindNotFound error (unknown session/media/template).
func NotFound(format string, args ...any) *Error { return newErr(KindNotFound, format, args...) }

// Forbidden builds a KindForbidden error (path escape outside allow-list).
func Forbidden(format string, args ...any) *Error { return newErr(KindForbidden, format, args...) }

// Conflict builds a KindConflict error (store filename already exists).
func Conflict(format string, args ...any) *Error { return newErr(KindConflict, format, args...) }

// Internal wraps cause as a KindInternal error.
func Internal(cause error, format string, args ...any) *Error {
	e := newErr(KindInternal, format, args...)
	e.Cause = cause
	return e
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
