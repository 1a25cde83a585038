package ticket

import (
	"time"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/wire"
)

// Marshal encodes the ticket.
func (t *Ticket) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, t.TicketID[:]).
		Bytes(2, t.SessionID[:]).
		Bytes(3, t.OperatorID[:]).
		Bytes(4, t.DeviceID[:]).
		Uint64(5, uint64(t.Permissions)).
		Int64(6, t.IssuedAt.UnixMilli()).
		Int64(7, t.ExpiresAt.UnixMilli()).
		Bytes(8, t.SessionBinding[:]).
		Bytes(9, t.Signature).
		Encode()
}

// Unmarshal decodes a ticket.
func Unmarshal(b []byte) (*Ticket, error) {
	t := &Ticket{IssuedAt: time.UnixMilli(0), ExpiresAt: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16((*[16]byte)(&t.TicketID))
		case 2:
			return f.Array16((*[16]byte)(&t.SessionID))
		case 3:
			return f.Array32((*[32]byte)(&t.OperatorID))
		case 4:
			return f.Array32((*[32]byte)(&t.DeviceID))
		case 5:
			v, err := f.Uint32()
			t.Permissions = acl.Permission(v)
			return err
		case 6:
			ms, err := f.Int64()
			t.IssuedAt = time.UnixMilli(ms)
			return err
		case 7:
			ms, err := f.Int64()
			t.ExpiresAt = time.UnixMilli(ms)
			return err
		case 8:
			return f.Array32(&t.SessionBinding)
		case 9:
			var err error
			t.Signature, err = f.Bytes()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return t, nil
}
