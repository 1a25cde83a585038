package pairing

import (
	"strings"
	"time"

	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/transport"
	"github.com/backkem/trustlink/pkg/wire"
)

// InviteIDSize is the size of invite ids.
const InviteIDSize = 16

// InviteCodePrefix starts every invite code.
const InviteCodePrefix = "TL:"

// Invite is the public part of an invite. It never carries the secret;
// SecretHash lets a holder of the invite code check the secret it was
// given.
type Invite struct {
	ID         [InviteIDSize]byte
	DeviceID   identity.ID
	DeviceKeys identity.PublicKeys
	SecretHash [crypto.SHA256LenBytes]byte
	ExpiresAt  time.Time
	Transports []transport.Candidate // Hints for reaching the device
	Label      string
}

// Expired reports whether the invite is unusable at now.
func (i *Invite) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// Marshal encodes the invite.
func (i *Invite) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, i.ID[:]).
		Bytes(2, i.DeviceID[:]).
		Bytes(3, i.DeviceKeys.Sign[:]).
		Bytes(4, i.DeviceKeys.KEX[:]).
		Bytes(5, i.SecretHash[:]).
		Int64(6, i.ExpiresAt.UnixMilli()).
		RepeatedBytes(7, transport.MarshalCandidates(i.Transports)).
		String(8, i.Label).
		Encode()
}

// UnmarshalInvite decodes an invite and checks the device id against the
// device signing key.
func UnmarshalInvite(b []byte) (*Invite, error) {
	i := &Invite{ExpiresAt: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		switch num {
		case 1:
			return f.Array16(&i.ID)
		case 2:
			return f.Array32((*[32]byte)(&i.DeviceID))
		case 3:
			return f.Array32(&i.DeviceKeys.Sign)
		case 4:
			return f.Array32(&i.DeviceKeys.KEX)
		case 5:
			return f.Array32(&i.SecretHash)
		case 6:
			ms, err := f.Int64()
			i.ExpiresAt = time.UnixMilli(ms)
			return err
		case 7:
			return appendCandidate(&i.Transports, f)
		case 8:
			var err error
			i.Label, err = f.String()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, ErrMalformed
	}
	if i.DeviceKeys.CheckID(i.DeviceID) != nil {
		return nil, ErrIDMismatch
	}
	return i, nil
}

// EncodeInviteCode returns the out-of-band code for inv and its secret.
func EncodeInviteCode(inv *Invite, secret []byte) string {
	payload := wire.NewEncoder().
		Bytes(1, inv.Marshal()).
		Bytes(2, secret).
		Encode()
	return InviteCodePrefix + base38Encode(payload)
}

// ParseInviteCode decodes an invite code. It fails with
// ErrInvalidInviteCode unless the secret matches the invite's SecretHash
// and the device id matches its key. Expiry is not checked.
func ParseInviteCode(code string) (*Invite, []byte, error) {
	code = strings.TrimSpace(code)
	if len(code) < len(InviteCodePrefix) || !strings.EqualFold(code[:len(InviteCodePrefix)], InviteCodePrefix) {
		return nil, nil, ErrInvalidInviteCode
	}
	payload, err := base38Decode(code[len(InviteCodePrefix):])
	if err != nil {
		return nil, nil, ErrInvalidInviteCode
	}

	var raw, secret []byte
	err = wire.Decode(payload, func(num wire.Number, f wire.Field) error {
		var err error
		switch num {
		case 1:
			raw, err = f.Bytes()
		case 2:
			secret, err = f.Bytes()
		}
		return err
	})
	if err != nil || len(secret) != SecretSize {
		return nil, nil, ErrInvalidInviteCode
	}
	inv, err := UnmarshalInvite(raw)
	if err != nil {
		return nil, nil, ErrInvalidInviteCode
	}
	hash := crypto.SHA256(secret)
	if !crypto.HMACEqual(hash[:], inv.SecretHash[:]) {
		return nil, nil, ErrInvalidInviteCode
	}
	return inv, secret, nil
}

func appendCandidate(dst *[]transport.Candidate, f wire.Field) error {
	b, err := f.Bytes()
	if err != nil {
		return err
	}
	c, err := transport.UnmarshalCandidate(b)
	if err != nil {
		return err
	}
	*dst = append(*dst, c)
	return nil
}
