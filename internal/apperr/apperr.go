// Package apperr defines the error taxonomy shared by the store, the
// services and the HTTP surface.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a machine-readable error kind.
type Kind string

const (
	KindInternal          Kind = "INTERNAL"
	KindInvalidFormat     Kind = "INVALID_FORMAT"
	KindInvalidRequest    Kind = "INVALID_REQUEST"
	KindNotFound          Kind = "NOT_FOUND"
	KindAlreadyRegistered Kind = "ALREADY_REGISTERED"
	KindAlreadyInTeam     Kind = "ALREADY_IN_TEAM"
	KindAlreadyConfirmed  Kind = "ALREADY_CONFIRMED"
	KindForbidden         Kind = "FORBIDDEN"
	KindTeamFull          Kind = "TEAM_FULL"
	KindInvalidSignature  Kind = "INVALID_SIGNATURE"
	KindUnauthenticated   Kind = "UNAUTHENTICATED"
	KindUnavailable       Kind = "UNAVAILABLE"
)

// HTTPStatus maps a kind onto the status code the handler layer writes.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidFormat, KindInvalidRequest, KindInvalidSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyRegistered, KindAlreadyInTeam, KindAlreadyConfirmed, KindTeamFull:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Conflict reports whether the kind is an expected state conflict: the
// caller's intent is already satisfied or cannot be, and no state changed.
func (k Kind) Conflict() bool {
	switch k {
	case KindAlreadyRegistered, KindAlreadyInTeam, KindAlreadyConfirmed, KindTeamFull:
		return true
	}
	return false
}

// Error is the domain error type.
type Error struct {
	Kind    Kind   // Machine-readable kind
	Message string // Human-readable message, safe to show to callers
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-safe message of the first *Error in err's
// chain. Errors without a kind are reported generically.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

// Sentinels. Compare with errors.Is; the kind decides the match.
var (
	ErrInvalidFormat     = New(KindInvalidFormat, "malformed identifier")
	ErrInvalidRequest    = New(KindInvalidRequest, "invalid request")
	ErrNotFound          = New(KindNotFound, "not found")
	ErrAlreadyRegistered = New(KindAlreadyRegistered, "already registered for this event")
	ErrAlreadyInTeam     = New(KindAlreadyInTeam, "already a member of a team for this event")
	ErrAlreadyConfirmed  = New(KindAlreadyConfirmed, "already confirmed")
	ErrForbidden         = New(KindForbidden, "only the team leader can do this")
	ErrTeamFull          = New(KindTeamFull, "team is full")
	ErrInvalidSignature  = New(KindInvalidSignature, "invalid payment signature")
	ErrUnauthenticated   = New(KindUnauthenticated, "login required")
	ErrUnavailable       = New(KindUnavailable, "service temporarily unavailable")
)
