// Package ticket implements session tickets: short-lived capability tokens
// signed by the device and bound to one session's key exchange.
package ticket

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
)

const (
	ticketDomain  = "trustlink/ticket/v1"
	bindingDomain = "trustlink/session-binding/v1"
)

// Transcript tags for the ticket.
const (
	tagTicketID uint32 = iota + 1
	tagSessionID
	tagOperatorID
	tagDeviceID
	tagPermissions
	tagIssuedAt
	tagExpiresAt
	tagBinding
)

// Ticket authorizes one session.
type Ticket struct {
	TicketID       uuid.UUID
	SessionID      uuid.UUID
	OperatorID     identity.ID
	DeviceID       identity.ID
	Permissions    acl.Permission
	IssuedAt       time.Time
	ExpiresAt      time.Time
	SessionBinding [32]byte
	Signature      []byte
}

// Digest returns the transcript digest over every field except Signature.
func (t *Ticket) Digest() [crypto.SHA256LenBytes]byte {
	return crypto.NewTranscript(ticketDomain).
		Append(tagTicketID, t.TicketID[:]).
		Append(tagSessionID, t.SessionID[:]).
		Append(tagOperatorID, t.OperatorID[:]).
		Append(tagDeviceID, t.DeviceID[:]).
		AppendUint32(tagPermissions, uint32(t.Permissions)).
		AppendUint64(tagIssuedAt, uint64(t.IssuedAt.UnixMilli())).
		AppendUint64(tagExpiresAt, uint64(t.ExpiresAt.UnixMilli())).
		Append(tagBinding, t.SessionBinding[:]).
		Finalize()
}

// Sign fills in Signature using the device identity.
func Sign(t *Ticket, device *identity.Identity) error {
	if t.DeviceID != device.ID() {
		return ErrDeviceMismatch
	}
	t.IssuedAt = t.IssuedAt.Truncate(time.Millisecond)
	t.ExpiresAt = t.ExpiresAt.Truncate(time.Millisecond)
	sig, err := device.SignDigest(t.Digest())
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

// Verify checks, in order: the device signature, expiry against now, and
// the session binding. Each check returns its own error so callers and
// tests can tell the failure modes apart.
func Verify(t *Ticket, deviceSignPub [identity.KeySize]byte, expectedBinding [32]byte, now time.Time) error {
	if identity.IDFromSignKey(deviceSignPub) != t.DeviceID {
		return ErrTicketSignature
	}
	if err := identity.VerifyDigest(deviceSignPub, t.Digest(), t.Signature); err != nil {
		return ErrTicketSignature
	}
	if !t.ExpiresAt.After(now) {
		return ErrTicketExpired
	}
	if subtle.ConstantTimeCompare(t.SessionBinding[:], expectedBinding[:]) != 1 {
		return ErrBindingMismatch
	}
	return nil
}

// Expired reports whether the ticket is no longer valid at now.
func (t *Ticket) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Remaining returns the validity left at now, or zero once expired.
func (t *Ticket) Remaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Clone returns a deep copy.
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.Signature = append([]byte(nil), t.Signature...)
	return &c
}

// BindingInput is the material a session binding commits to.
type BindingInput struct {
	SessionID           uuid.UUID
	OperatorID          identity.ID
	DeviceID            identity.ID
	ControllerEphemeral [identity.KeySize]byte
	HostEphemeral       [identity.KeySize]byte
	RequestNonce        []byte
}

// ComputeBinding derives the session binding both sides compute
// independently from the session-init exchange.
func ComputeBinding(in BindingInput) [32]byte {
	return crypto.NewTranscript(bindingDomain).
		Append(1, in.SessionID[:]).
		Append(2, in.OperatorID[:]).
		Append(3, in.DeviceID[:]).
		Append(4, in.ControllerEphemeral[:]).
		Append(5, in.HostEphemeral[:]).
		Append(6, in.RequestNonce).
		Finalize()
}
