// Package errors provides the typed error vocabulary shared by every
// ActingWeb component. Components never return bare stdlib errors across
// a package boundary; they wrap them in an *Error so that HTTP adapters
// (pkg/api/errors) and peer-facing handlers can map them to the right
// status code without re-deriving intent from error strings.
package errors

import "fmt"

// Kind enumerates the error vocabulary from the protocol spec. These are
// error kinds, not HTTP codes — mapping to a status happens in Code().
type Kind string

// Error kinds.
const (
	KindNotFound              Kind = "not_found"
	KindUnauthenticated       Kind = "unauthenticated"
	KindForbidden             Kind = "forbidden"
	KindInvalidRequest        Kind = "invalid_request"
	KindConflict              Kind = "conflict"
	KindRateLimited           Kind = "rate_limited"
	KindPeerUnavailable       Kind = "peer_unavailable"
	KindPeerGone              Kind = "peer_gone"
	KindStateMachineViolation Kind = "state_machine_violation"
	KindFatal                 Kind = "fatal"
)

// Error is the concrete error type returned by ActingWeb components.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// RetryAfterSeconds is set for KindRateLimited and some
	// KindPeerUnavailable cases so HTTP adapters can emit Retry-After.
	RetryAfterSeconds int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind. It intentionally
// does not require exact pointer identity so call sites can do
// errors.Is(err, errors.NotFound) style checks against sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values usable with errors.Is for kind-only comparisons.
var (
	NotFound              = &Error{Kind: KindNotFound}
	Unauthenticated       = &Error{Kind: KindUnauthenticated}
	Forbidden             = &Error{Kind: KindForbidden}
	InvalidRequest        = &Error{Kind: KindInvalidRequest}
	Conflict              = &Error{Kind: KindConflict}
	RateLimited           = &Error{Kind: KindRateLimited}
	PeerUnavailable       = &Error{Kind: KindPeerUnavailable}
	PeerGone              = &Error{Kind: KindPeerGone}
	StateMachineViolation = &Error{Kind: KindStateMachineViolation}
	Fatal                 = &Error{Kind: KindFatal}
)

// Constructors mirror the teacher's per-kind NewXError helpers.

// NewNotFoundError builds a KindNotFound error.
func NewNotFoundError(message string, cause error) *Error {
	return New(KindNotFound, message, cause)
}

// NewUnauthenticatedError builds a KindUnauthenticated error.
func NewUnauthenticatedError(message string, cause error) *Error {
	return New(KindUnauthenticated, message, cause)
}

// NewForbiddenError builds a KindForbidden error.
func NewForbiddenError(message string, cause error) *Error {
	return New(KindForbidden, message, cause)
}

// NewInvalidRequestError builds a KindInvalidRequest error.
func NewInvalidRequestError(message string, cause error) *Error {
	return New(KindInvalidRequest, message, cause)
}

// NewConflictError builds a KindConflict error.
func NewConflictError(message string, cause error) *Error {
	return New(KindConflict, message, cause)
}

// NewRateLimitedError builds a KindRateLimited error with a Retry-After hint.
func NewRateLimitedError(message string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfterSeconds: retryAfterSeconds}
}

// NewPeerUnavailableError builds a KindPeerUnavailable error.
func NewPeerUnavailableError(message string, cause error) *Error {
	return New(KindPeerUnavailable, message, cause)
}

// NewPeerGoneError builds a KindPeerGone error.
func NewPeerGoneError(message string, cause error) *Error {
	return New(KindPeerGone, message, cause)
}

// NewStateMachineViolationError builds a KindStateMachineViolation error.
func NewStateMachineViolationError(message string) *Error {
	return New(KindStateMachineViolation, message, nil)
}

// NewFatalError builds a KindFatal error.
func NewFatalError(message string, cause error) *Error {
	return New(KindFatal, message, cause)
}

// Code maps an error to an HTTP status code. Errors not produced by this
// package map to 500, matching the teacher's ErrorHandler fallback.
func Code(err error) int {
	var e *Error
	if !As(err, &e) {
		return 500
	}
	switch e.Kind {
	case KindNotFound:
		return 404
	case KindUnauthenticated:
		return 401
	case KindForbidden:
		return 403
	case KindInvalidRequest:
		return 400
	case KindConflict:
		return 409
	case KindRateLimited:
		return 429
	case KindPeerUnavailable:
		return 502
	case KindPeerGone:
		return 410
	case KindStateMachineViolation:
		return 409
	case KindFatal:
		return 500
	default:
		return 500
	}
}

// As is a thin wrapper to avoid importing stdlib errors in call sites that
// only deal with our own type; it behaves like errors.As restricted to *Error.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
