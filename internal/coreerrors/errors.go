// Package coreerrors defines the typed error kinds shared across the
// trading core, independent of any transport.
package coreerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a core error. Callers should switch on
// Kind (via errors.As) rather than string-matching messages.
type Kind string

const (
	KindOrderValidation    Kind = "order_validation"
	KindOrderNotFound      Kind = "order_not_found"
	KindRiskBlocked        Kind = "risk_blocked"
	KindInsufficientCap    Kind = "insufficient_capital"
	KindVenueAuth          Kind = "venue_auth"
	KindVenueNetwork       Kind = "venue_network"
	KindVenueAPI           Kind = "venue_api"
	KindRateLimited        Kind = "rate_limited"
	KindTransferFailed     Kind = "transfer_failed"
	KindOpportunityExpired Kind = "opportunity_expired"
	KindCircuitBreakerOpen Kind = "circuit_breaker_open"
	KindInternal           Kind = "internal"
)

// Error is the concrete error type carried through the core. Fields is
// optional structured context (e.g. {"required": "100", "available": "40"}
// for InsufficientCapital).
type Error struct {
	Kind    Kind
	Msg     string
	Cause   error
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, coreerrors.KindX) style checks work via a
// sentinel-per-kind wrapper, while New still returns the richer *Error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithFields attaches structured context and returns the same error for
// chaining: coreerrors.New(...).WithFields(...).
func (e *Error) WithFields(fields map[string]any) *Error {
	e.Fields = fields
	return e
}

// Sentinel of each kind for errors.Is comparisons where no message/cause
// detail is needed.
var (
	ErrOrderNotFound      = New(KindOrderNotFound, "order not found")
	ErrOpportunityExpired = New(KindOpportunityExpired, "opportunity expired")
	ErrCircuitBreakerOpen = New(KindCircuitBreakerOpen, "circuit breaker open")
)

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
