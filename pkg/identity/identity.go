// Package identity holds per-principal key material: an Ed25519 signing
// keypair and an X25519 key-exchange keypair. A principal's ID is the
// SHA-256 digest of its signing public key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"io"
	"runtime"

	"golang.org/x/crypto/curve25519"

	"github.com/backkem/trustlink/pkg/crypto"
)

// Identity is a principal's long-term key material.
//
// Private keys are wiped by Destroy. A finalizer calls Destroy as a
// backstop, but owners should call it explicitly when done.
type Identity struct {
	signPriv  ed25519.PrivateKey
	kexPriv   [KeySize]byte
	pub       PublicKeys
	id        ID
	destroyed bool
}

// Generate creates a new identity from crypto/rand.
func Generate() (*Identity, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom creates a new identity reading randomness from r.
func GenerateFrom(r io.Reader) (*Identity, error) {
	var signSeed, kexPriv [KeySize]byte
	defer crypto.Wipe(signSeed[:])
	defer crypto.Wipe(kexPriv[:])

	if _, err := io.ReadFull(r, signSeed[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, kexPriv[:]); err != nil {
		return nil, err
	}
	return FromSecrets(signSeed, kexPriv)
}

// FromSecrets rebuilds an identity from its Ed25519 seed and X25519
// private scalar. The caller keeps ownership of the inputs.
func FromSecrets(signSeed, kexPriv [KeySize]byte) (*Identity, error) {
	id := &Identity{
		signPriv: ed25519.NewKeyFromSeed(signSeed[:]),
		kexPriv:  kexPriv,
	}
	clamp(&id.kexPriv)

	copy(id.pub.Sign[:], id.signPriv.Public().(ed25519.PublicKey))
	kexPub, err := curve25519.X25519(id.kexPriv[:], curve25519.Basepoint)
	if err != nil {
		id.Destroy()
		return nil, err
	}
	copy(id.pub.KEX[:], kexPub)
	id.id = id.pub.ID()

	runtime.SetFinalizer(id, (*Identity).Destroy)
	return id, nil
}

// ID returns the principal ID.
func (i *Identity) ID() ID {
	return i.id
}

// PublicKeys returns the public keys.
func (i *Identity) PublicKeys() PublicKeys {
	return i.pub
}

// Sign signs msg with the Ed25519 key.
func (i *Identity) Sign(msg []byte) ([]byte, error) {
	if i.destroyed {
		return nil, ErrDestroyed
	}
	return ed25519.Sign(i.signPriv, msg), nil
}

// SignDigest signs a transcript digest.
func (i *Identity) SignDigest(digest [crypto.SHA256LenBytes]byte) ([]byte, error) {
	return i.Sign(digest[:])
}

// KeyExchange performs X25519 with the peer's public key.
func (i *Identity) KeyExchange(peerKEX [KeySize]byte) ([KeySize]byte, error) {
	if i.destroyed {
		return [KeySize]byte{}, ErrDestroyed
	}
	return x25519(i.kexPriv, peerKEX)
}

// Destroy wipes the private key material. Further Sign or KeyExchange
// calls fail with ErrDestroyed. Destroy is idempotent.
func (i *Identity) Destroy() {
	if i.destroyed {
		return
	}
	crypto.Wipe(i.signPriv)
	crypto.Wipe(i.kexPriv[:])
	i.destroyed = true
	runtime.SetFinalizer(i, nil)
}

// Destroyed reports whether Destroy has been called.
func (i *Identity) Destroyed() bool {
	return i.destroyed
}

// secrets returns copies of the seed and scalar for sealing at rest.
func (i *Identity) secrets() (signSeed, kexPriv [KeySize]byte, err error) {
	if i.destroyed {
		return signSeed, kexPriv, ErrDestroyed
	}
	copy(signSeed[:], i.signPriv.Seed())
	kexPriv = i.kexPriv
	return signSeed, kexPriv, nil
}

// Verify checks an Ed25519 signature.
func Verify(signPub [KeySize]byte, msg, sig []byte) error {
	if len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(signPub[:]), msg, sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyDigest checks an Ed25519 signature over a transcript digest.
func VerifyDigest(signPub [KeySize]byte, digest [crypto.SHA256LenBytes]byte, sig []byte) error {
	return Verify(signPub, digest[:], sig)
}

// EphemeralKey is a single-use X25519 keypair.
type EphemeralKey struct {
	priv   [KeySize]byte
	Public [KeySize]byte
}

// GenerateEphemeral creates a fresh X25519 keypair from crypto/rand.
func GenerateEphemeral() (*EphemeralKey, error) {
	e := &EphemeralKey{}
	if _, err := rand.Read(e.priv[:]); err != nil {
		return nil, err
	}
	clamp(&e.priv)
	pub, err := curve25519.X25519(e.priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(e.Public[:], pub)
	return e, nil
}

// Exchange performs X25519 with the peer's public key.
func (e *EphemeralKey) Exchange(peerKEX [KeySize]byte) ([KeySize]byte, error) {
	return x25519(e.priv, peerKEX)
}

// Destroy wipes the private scalar.
func (e *EphemeralKey) Destroy() {
	crypto.Wipe(e.priv[:])
}

func x25519(priv, peer [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	secret, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return out, ErrLowOrderPoint
	}
	copy(out[:], secret)
	crypto.Wipe(secret)
	var zero [KeySize]byte
	if subtle.ConstantTimeCompare(out[:], zero[:]) == 1 {
		return out, ErrLowOrderPoint
	}
	return out, nil
}

// clamp applies RFC 7748 scalar clamping.
func clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
