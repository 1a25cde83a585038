// Package status defines the error taxonomy shared by every component and
// its mapping onto the small set of codes allowed to cross the wire.
//
// Package sentinels are created with New so that errors.Is keeps working
// while KindOf can classify any error in a wrapped chain.
package status

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindInternal covers anything not classified below.
	KindInternal Kind = iota
	// KindAuth is a signature, proof or identity mismatch.
	KindAuth
	// KindPermission is a consent denial or permission ceiling violation.
	KindPermission
	// KindTicket is an expired, revoked or mis-bound ticket.
	KindTicket
	// KindPolicy is a time-of-day or day-of-week restriction.
	KindPolicy
	// KindStore is a persistence failure.
	KindStore
	// KindTransport is a transport negotiation failure.
	KindTransport
	// KindRateLimit is a throttled request.
	KindRateLimit
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "Internal"
	case KindAuth:
		return "AuthError"
	case KindPermission:
		return "PermissionError"
	case KindTicket:
		return "TicketError"
	case KindPolicy:
		return "PolicyError"
	case KindStore:
		return "StoreError"
	case KindTransport:
		return "TransportError"
	case KindRateLimit:
		return "RateLimitError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a classified sentinel error.
type Error struct {
	kind Kind
	msg  string
}

// New creates a classified sentinel.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the error classification.
func (e *Error) Kind() Kind { return e.kind }

// opError attaches a classification and operation name to a wrapped error.
type opError struct {
	kind Kind
	op   string
	err  error
}

func (e *opError) Error() string { return e.op + ": " + e.err.Error() }
func (e *opError) Unwrap() error { return e.err }
func (e *opError) Kind() Kind    { return e.kind }

// Wrap classifies err under kind. Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{kind: kind, op: op, err: err}
}

type kinded interface {
	Kind() Kind
}

// KindOf returns the outermost classification found in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
