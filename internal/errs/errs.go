// Package errs defines the error taxonomy shared by every stage of the
// transport spine: Guard, Validate, Transient, Permanent, Poison, and
// Capacity. Every error that crosses a component boundary is classified
// into exactly one of these kinds so the caller knows, without inspecting
// the error's text, whether to retry, DLQ, or surface a status code.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the six error categories from the error handling design.
type Kind string

const (
	// KindGuard is an authentication/signature failure. Not retried.
	// Surfaced as 401/403 at HTTP, never DLQ'd.
	KindGuard Kind = "guard"
	// KindValidate is a malformed payload or unknown platform. Not
	// retried. 400 at HTTP; DLQ'd only if discovered post-publish.
	KindValidate Kind = "validate"
	// KindTransient is a bus/network/runner 5xx or timeout. Retried with
	// bounded back-off; DLQ'd after the retry threshold.
	KindTransient Kind = "transient"
	// KindPermanent is a runner 4xx or adapter rejection. Immediate DLQ.
	KindPermanent Kind = "permanent"
	// KindPoison is a decode failure of a bus message. Immediate DLQ
	// with the raw bytes preserved.
	KindPoison Kind = "poison"
	// KindCapacity is a rate-limit denial. Not an error for the caller;
	// results in 429 or delayed re-delivery.
	KindCapacity Kind = "capacity"
)

// Error wraps an underlying cause with a Kind and optional retry-after.
type Error struct {
	Kind       Kind
	Msg        string
	RetryAfter float64 // seconds, only meaningful for KindCapacity/KindTransient
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a classified error around a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

// Guard, Validate, Transient, Permanent, Poison, and Capacity are
// constructors for the matching Kind.
func Guard(msg string) *Error             { return New(KindGuard, msg) }
func Validate(msg string) *Error          { return New(KindValidate, msg) }
func Transient(msg string, err error) *Error {
	return Wrap(KindTransient, msg, err)
}
func Permanent(msg string, err error) *Error {
	return Wrap(KindPermanent, msg, err)
}
func Poison(msg string, err error) *Error { return Wrap(KindPoison, msg, err) }

// CapacityDenied builds a KindCapacity error carrying a retry-after hint.
func CapacityDenied(retryAfter float64) *Error {
	return &Error{Kind: KindCapacity, Msg: "rate limit exceeded", RetryAfter: retryAfter}
}

// Classify extracts the Kind of err, defaulting to KindTransient for
// errors that were never classified (treat the unknown case as retryable
// rather than silently dropping it).
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// RetryAfter extracts the retry-after hint, if any.
func RetryAfter(err error) (float64, bool) {
	var e *Error
	if errors.As(err, &e) && (e.Kind == KindCapacity || e.Kind == KindTransient) {
		return e.RetryAfter, true
	}
	return 0, false
}

// HTTPStatus maps a Kind to the status code the ingress gateway returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindGuard:
		return 403
	case KindValidate:
		return 400
	case KindCapacity:
		return 429
	case KindTransient:
		return 503
	default:
		return 500
	}
}
