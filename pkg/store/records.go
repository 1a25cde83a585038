package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/ticket"
	"github.com/backkem/trustlink/pkg/wire"
)

// Pairing is the persisted mutual-trust record between a device and an
// operator. Permissions are the ceiling for every future session.
type Pairing struct {
	DeviceID    identity.ID
	OperatorID  identity.ID
	Device      identity.PublicKeys
	Operator    identity.PublicKeys
	Permissions acl.Permission
	PairedAt    time.Time
	LastSession time.Time // Zero until the first session becomes active
}

// Validate checks both ids against their pinned public keys.
func (p *Pairing) Validate() error {
	if p.Device.CheckID(p.DeviceID) != nil || p.Operator.CheckID(p.OperatorID) != nil {
		return ErrIDMismatch
	}
	return nil
}

// PeerID returns the id of the party that is not local.
func (p *Pairing) PeerID(local identity.ID) identity.ID {
	if p.DeviceID == local {
		return p.OperatorID
	}
	return p.DeviceID
}

// Peer returns the public keys of the party that is not local.
func (p *Pairing) Peer(local identity.ID) identity.PublicKeys {
	if p.DeviceID == local {
		return p.Operator
	}
	return p.Device
}

// Clone returns a copy.
func (p *Pairing) Clone() *Pairing {
	c := *p
	return &c
}

// Marshal encodes the pairing.
func (p *Pairing) Marshal() []byte {
	e := wire.NewEncoder().
		Bytes(1, p.DeviceID[:]).
		Bytes(2, p.OperatorID[:]).
		Bytes(3, p.Device.Sign[:]).
		Bytes(4, p.Device.KEX[:]).
		Bytes(5, p.Operator.Sign[:]).
		Bytes(6, p.Operator.KEX[:]).
		Uint64(7, uint64(p.Permissions)).
		Int64(8, p.PairedAt.UnixMilli())
	if !p.LastSession.IsZero() {
		e.Int64(9, p.LastSession.UnixMilli())
	}
	return e.Encode()
}

// UnmarshalPairing decodes a pairing record.
func UnmarshalPairing(b []byte) (*Pairing, error) {
	p := &Pairing{PairedAt: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array32((*[32]byte)(&p.DeviceID))
		case 2:
			return f.Array32((*[32]byte)(&p.OperatorID))
		case 3:
			return f.Array32(&p.Device.Sign)
		case 4:
			return f.Array32(&p.Device.KEX)
		case 5:
			return f.Array32(&p.Operator.Sign)
		case 6:
			return f.Array32(&p.Operator.KEX)
		case 7:
			v, err := f.Uint32()
			p.Permissions = acl.Permission(v)
			return err
		case 8:
			ms, err := f.Int64()
			p.PairedAt = time.UnixMilli(ms)
			return err
		case 9:
			ms, err := f.Int64()
			p.LastSession = time.UnixMilli(ms)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrCorrupt
	}
	return p, nil
}

// Invite is the host-side record of an issued invite. Secret never leaves
// the host except inside the out-of-band invite code.
type Invite struct {
	ID        [16]byte
	Secret    []byte
	Encoded   []byte // Wire encoding of the public invite
	CreatedAt time.Time
	ExpiresAt time.Time
	Consumed  bool
}

// Expired reports whether the invite is no longer usable at now.
func (i *Invite) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// Marshal encodes the invite record.
func (i *Invite) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, i.ID[:]).
		Bytes(2, i.Secret).
		Bytes(3, i.Encoded).
		Int64(4, i.CreatedAt.UnixMilli()).
		Int64(5, i.ExpiresAt.UnixMilli()).
		Bool(6, i.Consumed).
		Encode()
}

// UnmarshalInvite decodes an invite record.
func UnmarshalInvite(b []byte) (*Invite, error) {
	i := &Invite{CreatedAt: time.UnixMilli(0), ExpiresAt: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		var err error
		switch num {
		case 1:
			return f.Array16(&i.ID)
		case 2:
			i.Secret, err = f.Bytes()
		case 3:
			i.Encoded, err = f.Bytes()
		case 4:
			var ms int64
			ms, err = f.Int64()
			i.CreatedAt = time.UnixMilli(ms)
		case 5:
			var ms int64
			ms, err = f.Int64()
			i.ExpiresAt = time.UnixMilli(ms)
		case 6:
			i.Consumed, err = f.Bool()
		}
		return err
	})
	if err != nil {
		return nil, ErrCorrupt
	}
	return i, nil
}

// PairingStore is the pairing subset of Records.
type PairingStore interface {
	SavePairing(ctx context.Context, p *Pairing) error
	GetPairing(ctx context.Context, peer identity.ID) (*Pairing, error)
	ListPairings(ctx context.Context) ([]*Pairing, error)
	DeletePairing(ctx context.Context, peer identity.ID) error
	TouchPairing(ctx context.Context, peer identity.ID, at time.Time) error
}

// InviteStore is the invite subset of Records.
type InviteStore interface {
	SaveInvite(ctx context.Context, inv *Invite) error
	GetInvite(ctx context.Context, id [16]byte) (*Invite, error)
	ListInvites(ctx context.Context) ([]*Invite, error)
	DeleteInvite(ctx context.Context, id [16]byte) error
	ConsumeInvite(ctx context.Context, id [16]byte) error
}

// TicketStore is the ticket subset of Records.
type TicketStore interface {
	SaveTicket(ctx context.Context, t *ticket.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*ticket.Ticket, error)
	ListTickets(ctx context.Context) ([]*ticket.Ticket, error)
	DeleteTicket(ctx context.Context, id uuid.UUID) error
	RevokeTicket(ctx context.Context, id uuid.UUID, until time.Time) error
	IsRevoked(ctx context.Context, id uuid.UUID) (bool, error)
}

// Records provides typed access to a Store for one local principal.
// Pairings are keyed by the peer's id.
type Records struct {
	s     Store
	local identity.ID
}

// NewRecords wraps s for the principal local.
func NewRecords(s Store, local identity.ID) *Records {
	return &Records{s: s, local: local}
}

// Store returns the underlying store.
func (r *Records) Store() Store {
	return r.s
}

// SavePairing upserts a pairing after validating its ids.
func (r *Records) SavePairing(ctx context.Context, p *Pairing) error {
	if err := p.Validate(); err != nil {
		return err
	}
	peer := p.PeerID(r.local)
	return r.s.Put(ctx, BucketPairings, peer[:], p.Marshal())
}

// GetPairing returns the pairing with peer or ErrNotFound.
func (r *Records) GetPairing(ctx context.Context, peer identity.ID) (*Pairing, error) {
	b, err := r.s.Get(ctx, BucketPairings, peer[:])
	if err != nil {
		return nil, err
	}
	return UnmarshalPairing(b)
}

// ListPairings returns all pairings.
func (r *Records) ListPairings(ctx context.Context) ([]*Pairing, error) {
	entries, err := r.s.List(ctx, BucketPairings)
	if err != nil {
		return nil, err
	}
	out := make([]*Pairing, 0, len(entries))
	for _, e := range entries {
		p, err := UnmarshalPairing(e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DeletePairing revokes the pairing with peer.
func (r *Records) DeletePairing(ctx context.Context, peer identity.ID) error {
	return r.s.Delete(ctx, BucketPairings, peer[:])
}

// TouchPairing sets LastSession on the pairing with peer.
func (r *Records) TouchPairing(ctx context.Context, peer identity.ID, at time.Time) error {
	return r.s.Update(ctx, BucketPairings, peer[:], func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		p, err := UnmarshalPairing(cur)
		if err != nil {
			return nil, err
		}
		p.LastSession = at
		return p.Marshal(), nil
	})
}

// SaveInvite upserts an invite record.
func (r *Records) SaveInvite(ctx context.Context, inv *Invite) error {
	return r.s.Put(ctx, BucketInvites, inv.ID[:], inv.Marshal())
}

// GetInvite returns the invite or ErrNotFound.
func (r *Records) GetInvite(ctx context.Context, id [16]byte) (*Invite, error) {
	b, err := r.s.Get(ctx, BucketInvites, id[:])
	if err != nil {
		return nil, err
	}
	return UnmarshalInvite(b)
}

// ListInvites returns all invite records.
func (r *Records) ListInvites(ctx context.Context) ([]*Invite, error) {
	entries, err := r.s.List(ctx, BucketInvites)
	if err != nil {
		return nil, err
	}
	out := make([]*Invite, 0, len(entries))
	for _, e := range entries {
		inv, err := UnmarshalInvite(e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// DeleteInvite removes an invite record.
func (r *Records) DeleteInvite(ctx context.Context, id [16]byte) error {
	return r.s.Delete(ctx, BucketInvites, id[:])
}

// ConsumeInvite marks an invite used. It fails with ErrInviteConsumed if a
// concurrent or earlier caller already consumed it.
func (r *Records) ConsumeInvite(ctx context.Context, id [16]byte) error {
	return r.s.Update(ctx, BucketInvites, id[:], func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		inv, err := UnmarshalInvite(cur)
		if err != nil {
			return nil, err
		}
		if inv.Consumed {
			return nil, ErrInviteConsumed
		}
		inv.Consumed = true
		return inv.Marshal(), nil
	})
}

// SaveTicket upserts an issued ticket.
func (r *Records) SaveTicket(ctx context.Context, t *ticket.Ticket) error {
	return r.s.Put(ctx, BucketTickets, t.TicketID[:], t.Marshal())
}

// GetTicket returns the ticket or ErrNotFound.
func (r *Records) GetTicket(ctx context.Context, id uuid.UUID) (*ticket.Ticket, error) {
	b, err := r.s.Get(ctx, BucketTickets, id[:])
	if err != nil {
		return nil, err
	}
	t, err := ticket.Unmarshal(b)
	if err != nil {
		return nil, ErrCorrupt
	}
	return t, nil
}

// ListTickets returns all stored tickets.
func (r *Records) ListTickets(ctx context.Context) ([]*ticket.Ticket, error) {
	entries, err := r.s.List(ctx, BucketTickets)
	if err != nil {
		return nil, err
	}
	out := make([]*ticket.Ticket, 0, len(entries))
	for _, e := range entries {
		t, err := ticket.Unmarshal(e.Value)
		if err != nil {
			return nil, ErrCorrupt
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTicket removes a ticket.
func (r *Records) DeleteTicket(ctx context.Context, id uuid.UUID) error {
	return r.s.Delete(ctx, BucketTickets, id[:])
}

// RevokeTicket records a revocation that is kept until the ticket would
// have expired anyway.
func (r *Records) RevokeTicket(ctx context.Context, id uuid.UUID, until time.Time) error {
	v := wire.NewEncoder().Int64(1, until.UnixMilli()).Encode()
	return r.s.Put(ctx, BucketRevoked, id[:], v)
}

// IsRevoked reports whether a ticket id was revoked.
func (r *Records) IsRevoked(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := r.s.Get(ctx, BucketRevoked, id[:])
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// PruneRevoked drops revocations and tickets that have expired by now.
// It returns the number of entries removed.
func (r *Records) PruneRevoked(ctx context.Context, now time.Time) (int, error) {
	n := 0
	revoked, err := r.s.List(ctx, BucketRevoked)
	if err != nil {
		return 0, err
	}
	for _, e := range revoked {
		until := time.UnixMilli(0)
		_ = wire.Decode(e.Value, func(num wire.Number, f wire.Field) error {
			if num == 1 {
				ms, err := f.Int64()
				until = time.UnixMilli(ms)
				return err
			}
			return nil
		})
		if !until.After(now) {
			if err := r.s.Delete(ctx, BucketRevoked, e.Key); err != nil {
				return n, err
			}
			n++
		}
	}

	tickets, err := r.ListTickets(ctx)
	if err != nil {
		return n, err
	}
	for _, t := range tickets {
		if t.Expired(now) {
			if err := r.DeleteTicket(ctx, t.TicketID); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

var (
	_ PairingStore = (*Records)(nil)
	_ InviteStore  = (*Records)(nil)
	_ TicketStore  = (*Records)(nil)
)
