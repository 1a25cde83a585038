package pairing

import (
	"time"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/wire"
)

// NonceSize is the size of request and receipt nonces.
const NonceSize = 16

const (
	requestDomain = "trustlink/pair-request/v1"
	receiptDomain = "trustlink/pair-receipt/v1"
	sasDomain     = "trustlink/pair-sas/v1"
)

// PairRequest is the operator's request to pair, authenticated by a proof
// of knowledge of the invite secret.
type PairRequest struct {
	InviteID     [InviteIDSize]byte
	OperatorID   identity.ID
	DeviceID     identity.ID
	OperatorKeys identity.PublicKeys
	Nonce        [NonceSize]byte
	Timestamp    time.Time
	Permissions  acl.Permission // Requested
	Label        string
	Proof        []byte
}

// Digest returns the transcript digest over every field except Proof.
func (r *PairRequest) Digest() [crypto.SHA256LenBytes]byte {
	return crypto.NewTranscript(requestDomain).
		Append(1, r.InviteID[:]).
		Append(2, r.OperatorID[:]).
		Append(3, r.DeviceID[:]).
		Append(4, r.OperatorKeys.Sign[:]).
		Append(5, r.OperatorKeys.KEX[:]).
		Append(6, r.Nonce[:]).
		AppendUint64(7, uint64(r.Timestamp.UnixMilli())).
		AppendUint32(8, uint32(r.Permissions)).
		AppendString(9, r.Label).
		Finalize()
}

// Prove sets Proof from the invite secret.
func (r *PairRequest) Prove(secret []byte) {
	r.Timestamp = r.Timestamp.Truncate(time.Millisecond)
	proof := GenerateInviteProof(secret, r.Digest())
	r.Proof = proof[:]
}

// VerifyProof checks the operator id against its key, then the proof.
func (r *PairRequest) VerifyProof(secret []byte) error {
	if r.OperatorKeys.CheckID(r.OperatorID) != nil {
		return ErrIDMismatch
	}
	return VerifyInviteProof(secret, r.Digest(), r.Proof)
}

// Marshal encodes the request.
func (r *PairRequest) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, r.InviteID[:]).
		Bytes(2, r.OperatorID[:]).
		Bytes(3, r.DeviceID[:]).
		Bytes(4, r.OperatorKeys.Sign[:]).
		Bytes(5, r.OperatorKeys.KEX[:]).
		Bytes(6, r.Nonce[:]).
		Int64(7, r.Timestamp.UnixMilli()).
		Uint64(8, uint64(r.Permissions)).
		String(9, r.Label).
		Bytes(10, r.Proof).
		Encode()
}

// UnmarshalPairRequest decodes a PairRequest.
func UnmarshalPairRequest(b []byte) (*PairRequest, error) {
	r := &PairRequest{Timestamp: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		var err error
		switch num {
		case 1:
			return f.Array16(&r.InviteID)
		case 2:
			return f.Array32((*[32]byte)(&r.OperatorID))
		case 3:
			return f.Array32((*[32]byte)(&r.DeviceID))
		case 4:
			return f.Array32(&r.OperatorKeys.Sign)
		case 5:
			return f.Array32(&r.OperatorKeys.KEX)
		case 6:
			return f.Array16(&r.Nonce)
		case 7:
			var ms int64
			ms, err = f.Int64()
			r.Timestamp = time.UnixMilli(ms)
		case 8:
			var v uint32
			v, err = f.Uint32()
			r.Permissions = acl.Permission(v)
		case 9:
			r.Label, err = f.String()
		case 10:
			r.Proof, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// PairReceipt is the device's signed answer to an approved PairRequest.
type PairReceipt struct {
	InviteID     [InviteIDSize]byte
	OperatorID   identity.ID
	DeviceID     identity.ID
	DeviceKeys   identity.PublicKeys
	Permissions  acl.Permission // Granted
	RequestNonce [NonceSize]byte
	DeviceNonce  [NonceSize]byte
	PairedAt     time.Time
	Signature    []byte
}

func (r *PairReceipt) digest() [crypto.SHA256LenBytes]byte {
	return crypto.NewTranscript(receiptDomain).
		Append(1, r.InviteID[:]).
		Append(2, r.OperatorID[:]).
		Append(3, r.DeviceID[:]).
		Append(4, r.DeviceKeys.Sign[:]).
		Append(5, r.DeviceKeys.KEX[:]).
		AppendUint32(6, uint32(r.Permissions)).
		Append(7, r.RequestNonce[:]).
		Append(8, r.DeviceNonce[:]).
		AppendUint64(9, uint64(r.PairedAt.UnixMilli())).
		Finalize()
}

// Sign signs the receipt as the device.
func (r *PairReceipt) Sign(device *identity.Identity) error {
	r.PairedAt = r.PairedAt.Truncate(time.Millisecond)
	sig, err := device.SignDigest(r.digest())
	r.Signature = sig
	return err
}

// Verify checks the device id against deviceSignPub, then the signature.
func (r *PairReceipt) Verify(deviceSignPub [identity.KeySize]byte) error {
	if identity.IDFromSignKey(deviceSignPub) != r.DeviceID || r.DeviceKeys.Sign != deviceSignPub {
		return ErrIDMismatch
	}
	if identity.VerifyDigest(deviceSignPub, r.digest(), r.Signature) != nil {
		return ErrBadSignature
	}
	return nil
}

// Marshal encodes the receipt.
func (r *PairReceipt) Marshal() []byte {
	return wire.NewEncoder().
		Bytes(1, r.InviteID[:]).
		Bytes(2, r.OperatorID[:]).
		Bytes(3, r.DeviceID[:]).
		Bytes(4, r.DeviceKeys.Sign[:]).
		Bytes(5, r.DeviceKeys.KEX[:]).
		Uint64(6, uint64(r.Permissions)).
		Bytes(7, r.RequestNonce[:]).
		Bytes(8, r.DeviceNonce[:]).
		Int64(9, r.PairedAt.UnixMilli()).
		Bytes(10, r.Signature).
		Encode()
}

// UnmarshalPairReceipt decodes a PairReceipt.
func UnmarshalPairReceipt(b []byte) (*PairReceipt, error) {
	r := &PairReceipt{PairedAt: time.UnixMilli(0)}
	err := wire.Decode(b, func(num wire.Number, f wire.Field) error {
		var err error
		switch num {
		case 1:
			return f.Array16(&r.InviteID)
		case 2:
			return f.Array32((*[32]byte)(&r.OperatorID))
		case 3:
			return f.Array32((*[32]byte)(&r.DeviceID))
		case 4:
			return f.Array32(&r.DeviceKeys.Sign)
		case 5:
			return f.Array32(&r.DeviceKeys.KEX)
		case 6:
			var v uint32
			v, err = f.Uint32()
			r.Permissions = acl.Permission(v)
		case 7:
			return f.Array16(&r.RequestNonce)
		case 8:
			return f.Array16(&r.DeviceNonce)
		case 9:
			var ms int64
			ms, err = f.Int64()
			r.PairedAt = time.UnixMilli(ms)
		case 10:
			r.Signature, err = f.Bytes()
		}
		return err
	})
	if err != nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// SASDigest returns the transcript both sides hash into the SAS. It binds
// the invite, both parties' keys and both nonces.
func SASDigest(req *PairRequest, receipt *PairReceipt) [crypto.SHA256LenBytes]byte {
	return crypto.NewTranscript(sasDomain).
		Append(1, req.InviteID[:]).
		Append(2, receipt.DeviceKeys.Sign[:]).
		Append(3, receipt.DeviceKeys.KEX[:]).
		Append(4, req.OperatorKeys.Sign[:]).
		Append(5, req.OperatorKeys.KEX[:]).
		Append(6, req.Nonce[:]).
		Append(7, receipt.DeviceNonce[:]).
		Finalize()
}

// SAS returns the short authentication string for a request and receipt.
func SAS(req *PairRequest, receipt *PairReceipt) string {
	return ComputeSAS(SASDigest(req, receipt))
}
