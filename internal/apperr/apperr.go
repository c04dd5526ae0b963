// Package apperr defines the error kinds returned by the settlement engine.
// Every failure that reaches a caller is an *Error carrying exactly one Kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindInvalidTransition   Kind = "invalid_transition"
	KindConflict            Kind = "conflict"
	KindIdempotencyConflict Kind = "idempotency_conflict"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindAccountFrozen       Kind = "account_frozen"
	KindRateLimited         Kind = "rate_limited"
	KindInvariantViolation  Kind = "invariant_violation"
	KindValidation          Kind = "validation"
)

// Error is the typed result for every engine failure. From and To are only
// set for KindInvalidTransition.
type Error struct {
	Kind    Kind
	Message string
	From    string
	To      string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Kind == KindInvalidTransition && e.From != "" {
		msg = fmt.Sprintf("%s: %s -> %s", msg, e.From, e.To)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrIdempotencyConflict = &Error{Kind: KindIdempotencyConflict}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrAccountFrozen       = &Error{Kind: KindAccountFrozen}
	ErrRateLimited         = &Error{Kind: KindRateLimited}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation}
	ErrValidation          = &Error{Kind: KindValidation}
)

func NotFound(entity string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", entity, id)}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func InvalidTransition(from, to string) *Error {
	return &Error{Kind: KindInvalidTransition, Message: "invalid status transition", From: from, To: to}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func IdempotencyConflict(key string) *Error {
	return &Error{Kind: KindIdempotencyConflict, Message: fmt.Sprintf("idempotency key %q reused with a different request", key)}
}

func InsufficientBalance(balance, amount int64) *Error {
	return &Error{Kind: KindInsufficientBalance, Message: fmt.Sprintf("insufficient balance: have %d, need %d", balance, amount)}
}

func AccountFrozen() *Error {
	return &Error{Kind: KindAccountFrozen, Message: "account is frozen"}
}

func RateLimited(endpoint string) *Error {
	return &Error{Kind: KindRateLimited, Message: fmt.Sprintf("rate limit exceeded for %s", endpoint)}
}

func Invariant(format string, args ...any) *Error {
	return &Error{Kind: KindInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInvalidTransition, KindConflict:
		return http.StatusConflict
	case KindIdempotencyConflict:
		return http.StatusUnprocessableEntity
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindAccountFrozen:
		return http.StatusLocked
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
