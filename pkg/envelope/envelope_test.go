package envelope

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/backkem/trustlink/pkg/identity"
)

func newPair(t *testing.T) (*identity.Identity, *identity.Identity) {
	t.Helper()
	a, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	b, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	return a, b
}

func TestSealOpen_RoundTrip(t *testing.T) {
	sender, recipient := newPair(t)
	plaintext := []byte("pair request body")
	aad := []byte("route=7")

	env, err := Seal(sender, recipient.PublicKeys(), MsgPairRequest, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(env.Ciphertext, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := Open(recipient, env, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
	if err := env.VerifySignature(); err != nil {
		t.Errorf("VerifySignature() error = %v", err)
	}
}

func TestOpen_TamperedFieldsFailSignature(t *testing.T) {
	sender, recipient := newPair(t)

	tests := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"ciphertext", func(e *Envelope) { e.Ciphertext[0] ^= 1 }},
		{"aad", func(e *Envelope) { e.AAD = []byte("other") }},
		{"msg type", func(e *Envelope) { e.MsgType = MsgSessionEnd }},
		{"timestamp", func(e *Envelope) { e.Timestamp = e.Timestamp.Add(time.Second) }},
		{"nonce", func(e *Envelope) { e.Nonce[0] ^= 1 }},
		{"ephemeral", func(e *Envelope) { e.EphemeralKEX[0] ^= 1 }},
		{"signature", func(e *Envelope) { e.Signature[0] ^= 1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Seal(sender, recipient.PublicKeys(), MsgPairRequest, []byte("x"), []byte("aad"))
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(env)
			if _, err := Open(recipient, env, nil); !errors.Is(err, ErrSignature) {
				t.Errorf("Open() error = %v, want ErrSignature", err)
			}
		})
	}
}

func TestOpen_WrongSigner(t *testing.T) {
	sender, recipient := newPair(t)
	impostor, _ := newPair(t)

	env, err := Seal(sender, recipient.PublicKeys(), MsgPairRequest, []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	// Self-consistent id/key of another principal, original signature.
	env.SenderSignPub = impostor.PublicKeys().Sign
	env.SenderID = impostor.ID()

	if _, err := Open(recipient, env, nil); !errors.Is(err, ErrSignature) {
		t.Errorf("Open() error = %v, want ErrSignature", err)
	}
}

func TestOpen_SenderIDMismatch(t *testing.T) {
	sender, recipient := newPair(t)
	env, err := Seal(sender, recipient.PublicKeys(), MsgPairRequest, []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	env.SenderID[0] ^= 1
	if _, err := Open(recipient, env, nil); !errors.Is(err, ErrSenderMismatch) {
		t.Errorf("Open() error = %v, want ErrSenderMismatch", err)
	}
}

func TestOpen_DecryptFailureIsDistinct(t *testing.T) {
	sender, recipient := newPair(t)
	env, err := Seal(sender, recipient.PublicKeys(), MsgPairRequest, []byte("secret"), nil)
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt the ciphertext and re-sign so only the AEAD check can fail.
	env.Ciphertext[0] ^= 1
	env.Signature, err = sender.SignDigest(env.signingDigest(env.headerTranscript()))
	if err != nil {
		t.Fatal(err)
	}

	_, err = Open(recipient, env, nil)
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("Open() error = %v, want ErrDecrypt", err)
	}
	if errors.Is(err, ErrSignature) {
		t.Error("decrypt failure reported as signature failure")
	}
}

func TestOpen_WrongRecipient(t *testing.T) {
	sender, recipient := newPair(t)
	other, _ := newPair(t)
	env, err := Seal(sender, recipient.PublicKeys(), MsgPairRequest, []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(other, env, nil); !errors.Is(err, ErrWrongRecipient) {
		t.Errorf("Open() error = %v, want ErrWrongRecipient", err)
	}
}

func TestOpen_SenderCheck(t *testing.T) {
	sender, recipient := newPair(t)
	env, err := Seal(sender, recipient.PublicKeys(), MsgSessionInitRequest, []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}

	var sawType MsgType
	reject := func(h *Header, pub [identity.KeySize]byte) error {
		sawType = h.MsgType
		return ErrUnknownSender
	}
	if _, err := Open(recipient, env, reject); !errors.Is(err, ErrUnknownSender) {
		t.Errorf("Open() error = %v, want ErrUnknownSender", err)
	}
	if sawType != MsgSessionInitRequest {
		t.Errorf("check saw %v", sawType)
	}

	pinned := sender.PublicKeys().Sign
	accept := func(h *Header, pub [identity.KeySize]byte) error {
		if pub != pinned {
			return ErrUnknownSender
		}
		return nil
	}
	if _, err := Open(recipient, env, accept); err != nil {
		t.Errorf("Open() with pinned key error = %v", err)
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	sender, recipient := newPair(t)
	now := time.UnixMilli(1_700_000_000_123)
	env, err := SealAt(sender, recipient.PublicKeys(), MsgSessionInitResponse, []byte("payload"), []byte("aad"), now)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Unmarshal(env.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !decoded.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, now)
	}
	got, err := Open(recipient, decoded, nil)
	if err != nil {
		t.Fatalf("Open(decoded) error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Open(decoded) = %q", got)
	}

	if _, err := Unmarshal([]byte{0xFF}); !errors.Is(err, ErrMalformed) {
		t.Errorf("Unmarshal(garbage) error = %v, want ErrMalformed", err)
	}
	if _, err := Unmarshal(nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("Unmarshal(empty) error = %v, want ErrMalformed", err)
	}
}
