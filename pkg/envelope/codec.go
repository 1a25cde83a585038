package envelope

import (
	"time"

	"github.com/backkem/trustlink/pkg/wire"
)

// Field numbers.
const (
	fieldVersion       wire.Number = 1
	fieldMsgType       wire.Number = 2
	fieldSender        wire.Number = 3
	fieldRecipient     wire.Number = 4
	fieldTimestamp     wire.Number = 5
	fieldNonce         wire.Number = 6
	fieldSenderSignPub wire.Number = 7
	fieldEphemeral     wire.Number = 8
	fieldAAD           wire.Number = 9
	fieldCiphertext    wire.Number = 10
	fieldSignature     wire.Number = 11
)

// Marshal encodes the envelope.
func (e *Envelope) Marshal() []byte {
	return wire.NewEncoder().
		Uint64(fieldVersion, uint64(e.Version)).
		Uint64(fieldMsgType, uint64(e.MsgType)).
		Bytes(fieldSender, e.SenderID[:]).
		Bytes(fieldRecipient, e.RecipientID[:]).
		Int64(fieldTimestamp, e.Timestamp.UnixMilli()).
		Bytes(fieldNonce, e.Nonce[:]).
		Bytes(fieldSenderSignPub, e.SenderSignPub[:]).
		Bytes(fieldEphemeral, e.EphemeralKEX[:]).
		Bytes(fieldAAD, e.AAD).
		Bytes(fieldCiphertext, e.Ciphertext).
		Bytes(fieldSignature, e.Signature).
		Encode()
}

// Unmarshal decodes an envelope. Any decoding failure is reported as
// ErrMalformed.
func Unmarshal(b []byte) (*Envelope, error) {
	e := &Envelope{Header: Header{Timestamp: time.UnixMilli(0)}}
	var seen uint32
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		var err error
		switch num {
		case fieldVersion:
			e.Version, err = f.Uint8()
		case fieldMsgType:
			var v uint16
			v, err = f.Uint16()
			e.MsgType = MsgType(v)
		case fieldSender:
			err = f.Array32((*[32]byte)(&e.SenderID))
		case fieldRecipient:
			err = f.Array32((*[32]byte)(&e.RecipientID))
		case fieldTimestamp:
			var ms int64
			ms, err = f.Int64()
			e.Timestamp = time.UnixMilli(ms)
		case fieldNonce:
			var n []byte
			n, err = f.Bytes()
			if err == nil && len(n) != NonceSize {
				err = wire.ErrFieldSize
			}
			copy(e.Nonce[:], n)
		case fieldSenderSignPub:
			err = f.Array32(&e.SenderSignPub)
		case fieldEphemeral:
			err = f.Array32(&e.EphemeralKEX)
		case fieldAAD:
			e.AAD, err = f.Bytes()
		case fieldCiphertext:
			e.Ciphertext, err = f.Bytes()
		case fieldSignature:
			e.Signature, err = f.Bytes()
		default:
			return nil
		}
		seen |= 1 << uint(num)
		return err
	})
	if err != nil {
		return nil, ErrMalformed
	}
	required := uint32(1<<fieldVersion | 1<<fieldMsgType | 1<<fieldSender | 1<<fieldRecipient |
		1<<fieldSenderSignPub | 1<<fieldEphemeral | 1<<fieldSignature)
	if seen&required != required {
		return nil, ErrMalformed
	}
	return e, nil
}
