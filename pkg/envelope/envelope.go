// Package envelope implements the signed, encrypted container exchanged
// between two identities.
//
// Seal encrypts to the recipient's X25519 key with a fresh ephemeral key
// and signs the header, ephemeral key, aad and ciphertext with the sender's
// Ed25519 key. Open verifies that signature before any decryption is
// attempted.
package envelope

import (
	"crypto/rand"
	"time"

	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
)

// Version is the envelope format version.
const Version = 1

// NonceSize is the header nonce length; it doubles as the AEAD nonce.
const NonceSize = crypto.AEADNonceSize

// Domain strings.
const (
	transcriptDomain = "trustlink/envelope/v1"
	kdfInfo          = "trustlink/envelope-key/v1"
)

// Transcript tags.
const (
	tagVersion uint32 = iota + 1
	tagMsgType
	tagSender
	tagRecipient
	tagTimestamp
	tagNonce
	tagSenderSignPub
	tagEphemeral
	tagAAD
	tagCiphertext
)

// Header is the authenticated, unencrypted part of an envelope.
type Header struct {
	Version     uint8
	MsgType     MsgType
	SenderID    identity.ID
	RecipientID identity.ID
	Timestamp   time.Time // Millisecond precision on the wire
	Nonce       [NonceSize]byte
}

// Envelope is a sealed message.
type Envelope struct {
	Header
	SenderSignPub [identity.KeySize]byte
	EphemeralKEX  [identity.KeySize]byte
	AAD           []byte
	Ciphertext    []byte
	Signature     []byte
}

// SenderCheck decides whether a self-consistent sender signing key is
// acceptable for the given header, typically by comparing it against a
// pinned key. A nil SenderCheck accepts any key whose digest matches
// SenderID.
type SenderCheck func(h *Header, signPub [identity.KeySize]byte) error

// Seal encrypts plaintext from sender to recipient.
func Seal(sender *identity.Identity, recipient identity.PublicKeys, msgType MsgType, plaintext, aad []byte) (*Envelope, error) {
	return SealAt(sender, recipient, msgType, plaintext, aad, time.Now())
}

// SealAt is Seal with an explicit timestamp.
func SealAt(sender *identity.Identity, recipient identity.PublicKeys, msgType MsgType, plaintext, aad []byte, now time.Time) (*Envelope, error) {
	eph, err := identity.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	defer eph.Destroy()

	env := &Envelope{
		Header: Header{
			Version:     Version,
			MsgType:     msgType,
			SenderID:    sender.ID(),
			RecipientID: recipient.ID(),
			Timestamp:   now.Truncate(time.Millisecond),
		},
		SenderSignPub: sender.PublicKeys().Sign,
		EphemeralKEX:  eph.Public,
		AAD:           append([]byte(nil), aad...),
	}
	if _, err := rand.Read(env.Nonce[:]); err != nil {
		return nil, err
	}

	shared, err := eph.Exchange(recipient.KEX)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(shared, eph.Public, recipient.KEX)
	crypto.Wipe(shared[:])
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	base := env.headerTranscript()
	headerDigest := base.Fork().Finalize()
	env.Ciphertext, err = crypto.SealAEAD(key, env.Nonce[:], plaintext, aeadData(headerDigest, env.AAD))
	if err != nil {
		return nil, err
	}

	env.Signature, err = sender.SignDigest(env.signingDigest(base))
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Open verifies and decrypts an envelope addressed to recipient.
//
// Checks run in this order, each short-circuiting: version, recipient,
// sender id derivation, check (if non-nil), signature, decryption. The
// ciphertext is only touched once the signature has verified.
func Open(recipient *identity.Identity, env *Envelope, check SenderCheck) ([]byte, error) {
	if env.Version != Version {
		return nil, ErrVersion
	}
	if env.RecipientID != recipient.ID() {
		return nil, ErrWrongRecipient
	}
	if identity.IDFromSignKey(env.SenderSignPub) != env.SenderID {
		return nil, ErrSenderMismatch
	}
	if check != nil {
		if err := check(&env.Header, env.SenderSignPub); err != nil {
			return nil, err
		}
	}

	base := env.headerTranscript()
	headerDigest := base.Fork().Finalize()
	if err := identity.VerifyDigest(env.SenderSignPub, env.signingDigest(base), env.Signature); err != nil {
		return nil, ErrSignature
	}

	shared, err := recipient.KeyExchange(env.EphemeralKEX)
	if err != nil {
		return nil, ErrDecrypt
	}
	key, err := deriveKey(shared, env.EphemeralKEX, recipient.PublicKeys().KEX)
	crypto.Wipe(shared[:])
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	plaintext, err := crypto.OpenAEAD(key, env.Nonce[:], env.Ciphertext, aeadData(headerDigest, env.AAD))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// VerifySignature checks only the sender signature. It does not require
// the recipient's private key.
func (e *Envelope) VerifySignature() error {
	if identity.IDFromSignKey(e.SenderSignPub) != e.SenderID {
		return ErrSenderMismatch
	}
	if err := identity.VerifyDigest(e.SenderSignPub, e.signingDigest(e.headerTranscript()), e.Signature); err != nil {
		return ErrSignature
	}
	return nil
}

// headerTranscript covers every header field plus the sender key.
func (e *Envelope) headerTranscript() *crypto.Transcript {
	return crypto.NewTranscript(transcriptDomain).
		AppendUint32(tagVersion, uint32(e.Version)).
		AppendUint32(tagMsgType, uint32(e.MsgType)).
		Append(tagSender, e.SenderID[:]).
		Append(tagRecipient, e.RecipientID[:]).
		AppendUint64(tagTimestamp, uint64(e.Timestamp.UnixMilli())).
		Append(tagNonce, e.Nonce[:]).
		Append(tagSenderSignPub, e.SenderSignPub[:])
}

// signingDigest extends the header transcript with the remaining fields.
// It consumes base.
func (e *Envelope) signingDigest(base *crypto.Transcript) [crypto.SHA256LenBytes]byte {
	return base.
		Append(tagEphemeral, e.EphemeralKEX[:]).
		Append(tagAAD, e.AAD).
		Append(tagCiphertext, e.Ciphertext).
		Finalize()
}

func aeadData(headerDigest [crypto.SHA256LenBytes]byte, aad []byte) []byte {
	out := make([]byte, 0, len(headerDigest)+len(aad))
	out = append(out, headerDigest[:]...)
	return append(out, aad...)
}

func deriveKey(shared, ephPub, recipientKEX [identity.KeySize]byte) ([]byte, error) {
	salt := make([]byte, 0, 2*identity.KeySize)
	salt = append(salt, ephPub[:]...)
	salt = append(salt, recipientKEX[:]...)
	return crypto.HKDFSHA256(shared[:], salt, []byte(kdfInfo), crypto.SymmetricKeySize)
}
