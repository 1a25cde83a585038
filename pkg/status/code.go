package status

import (
	"errors"
	"fmt"
	"time"

	"github.com/backkem/trustlink/pkg/wire"
)

// Code is the error code carried on the wire. Codes are deliberately
// coarse: peers learn what class of failure happened, never why.
type Code uint16

const (
	CodeOK               Code = 0
	CodeUnauthenticated  Code = 1
	CodePermissionDenied Code = 2
	CodeTicketInvalid    Code = 3
	CodePolicyDenied     Code = 4
	CodeUnavailable      Code = 5
	CodeTransport        Code = 6
	CodeRateLimited      Code = 7
	CodeInternal         Code = 8
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeUnauthenticated:
		return "Unauthenticated"
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeTicketInvalid:
		return "TicketInvalid"
	case CodePolicyDenied:
		return "PolicyDenied"
	case CodeUnavailable:
		return "Unavailable"
	case CodeTransport:
		return "Transport"
	case CodeRateLimited:
		return "RateLimited"
	case CodeInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Code(%d)", uint16(c))
	}
}

// Message returns the fixed human-readable text for the code.
func (c Code) Message() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeUnauthenticated:
		return "authentication failed"
	case CodePermissionDenied:
		return "permission denied"
	case CodeTicketInvalid:
		return "session ticket is not valid"
	case CodePolicyDenied:
		return "not allowed at this time"
	case CodeUnavailable:
		return "service temporarily unavailable"
	case CodeTransport:
		return "no usable transport"
	case CodeRateLimited:
		return "too many attempts, try again later"
	default:
		return "internal error"
	}
}

// CodeFor maps a kind to its wire code.
func CodeFor(kind Kind) Code {
	switch kind {
	case KindAuth:
		return CodeUnauthenticated
	case KindPermission:
		return CodePermissionDenied
	case KindTicket:
		return CodeTicketInvalid
	case KindPolicy:
		return CodePolicyDenied
	case KindStore:
		return CodeUnavailable
	case KindTransport:
		return CodeTransport
	case KindRateLimit:
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// KindFor maps a wire code back to a kind.
func KindFor(code Code) Kind {
	switch code {
	case CodeUnauthenticated:
		return KindAuth
	case CodePermissionDenied:
		return KindPermission
	case CodeTicketInvalid:
		return KindTicket
	case CodePolicyDenied:
		return KindPolicy
	case CodeUnavailable:
		return KindStore
	case CodeTransport:
		return KindTransport
	case CodeRateLimited:
		return KindRateLimit
	default:
		return KindInternal
	}
}

// Report is the error structure sent to a peer.
type Report struct {
	Code       Code
	Message    string
	RetryAfter time.Duration // Only meaningful for CodeRateLimited
}

// retryAfter is implemented by errors that suggest a wait before retrying.
type retryAfter interface {
	RetryAfter() time.Duration
}

// ToReport maps a local error onto a wire report. The message is the
// code's generic text; err's own text never leaves the process.
func ToReport(err error) Report {
	if err == nil {
		return Report{Code: CodeOK, Message: CodeOK.Message()}
	}
	code := CodeFor(KindOf(err))
	r := Report{Code: code, Message: code.Message()}
	var ra retryAfter
	if errors.As(err, &ra) {
		r.RetryAfter = ra.RetryAfter()
	}
	return r
}

// Err converts a received report into a local error, or nil for CodeOK.
func (r Report) Err() error {
	if r.Code == CodeOK {
		return nil
	}
	return &RemoteError{Report: r}
}

// Encode serializes the report.
func (r Report) Encode() []byte {
	return wire.NewEncoder().
		Uint64(1, uint64(r.Code)).
		String(2, r.Message).
		Uint64(3, uint64(r.RetryAfter/time.Millisecond)).
		Encode()
}

// DecodeReport parses a report.
func DecodeReport(b []byte) (Report, error) {
	var r Report
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			v, err := f.Uint16()
			r.Code = Code(v)
			return err
		case 2:
			s, err := f.String()
			r.Message = s
			return err
		case 3:
			v, err := f.Uint64()
			r.RetryAfter = time.Duration(v) * time.Millisecond
			return err
		}
		return nil
	})
	return r, err
}

// RemoteError is a failure reported by the peer.
type RemoteError struct {
	Report Report
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: %s: %s", e.Report.Code, e.Report.Message)
}

// Kind returns the classification implied by the remote code.
func (e *RemoteError) Kind() Kind { return KindFor(e.Report.Code) }

// RetryAfter returns the peer's suggested wait.
func (e *RemoteError) RetryAfter() time.Duration { return e.Report.RetryAfter }
