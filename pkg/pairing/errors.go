package pairing

import "github.com/backkem/trustlink/pkg/status"

// Pairing errors.
var (
	// ErrInvalidState is returned when an operation is not valid in the
	// current state.
	ErrInvalidState = status.New(status.KindInternal, "pairing: invalid state for operation")

	// ErrInvalidProof indicates an invite proof that does not verify.
	ErrInvalidProof = status.New(status.KindAuth, "pairing: invalid invite proof")

	// ErrInviteExpired indicates an invite past its expiry.
	ErrInviteExpired = status.New(status.KindAuth, "pairing: invite expired")

	// ErrInvalidInviteCode indicates an invite code that does not parse or
	// whose secret does not match its hash.
	ErrInvalidInviteCode = status.New(status.KindAuth, "pairing: invalid invite code")

	// ErrIDMismatch indicates an id that does not match its public key.
	ErrIDMismatch = status.New(status.KindAuth, "pairing: id does not match public key")

	// ErrBadSignature indicates a receipt whose device signature does not
	// verify against the key pinned by the invite.
	ErrBadSignature = status.New(status.KindAuth, "pairing: receipt signature verification failed")

	// ErrMismatch indicates a message for another invite, operator or
	// request.
	ErrMismatch = status.New(status.KindAuth, "pairing: message does not match pending request")

	// ErrStale indicates a request timestamp outside the allowed skew.
	ErrStale = status.New(status.KindAuth, "pairing: request timestamp outside allowed skew")

	// ErrSASRejected indicates the human reported mismatching codes.
	ErrSASRejected = status.New(status.KindAuth, "pairing: short authentication string rejected")

	// ErrEmptyPermissions indicates nothing would be granted.
	ErrEmptyPermissions = status.New(status.KindPermission, "pairing: no permissions granted")

	// ErrPermissionCeiling indicates a receipt granting more than was
	// requested.
	ErrPermissionCeiling = status.New(status.KindPermission, "pairing: receipt exceeds requested permissions")

	// ErrRejected indicates the device declined the request.
	ErrRejected = status.New(status.KindPermission, "pairing: request rejected")

	// ErrTimeout indicates the 5-minute inactivity limit passed.
	ErrTimeout = status.New(status.KindInternal, "pairing: timed out")

	// ErrCancelled indicates the attempt was cancelled locally.
	ErrCancelled = status.New(status.KindInternal, "pairing: cancelled")

	// ErrMalformed indicates a message that does not decode.
	ErrMalformed = status.New(status.KindInternal, "pairing: malformed message")
)
