package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestAEAD_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, SymmetricKeySize)
	nonce := StreamNonce(0x0102, 7)
	plaintext := []byte("control payload")
	aad := []byte("header")

	ct, err := SealAEAD(key, nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("SealAEAD() error = %v", err)
	}
	if len(ct) != len(plaintext)+AEADTagSize {
		t.Errorf("ciphertext length = %d, want %d", len(ct), len(plaintext)+AEADTagSize)
	}

	pt, err := OpenAEAD(key, nonce, ct, aad)
	if err != nil {
		t.Fatalf("OpenAEAD() error = %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Errorf("OpenAEAD() = %q, want %q", pt, plaintext)
	}
}

func TestAEAD_Tamper(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, SymmetricKeySize)
	nonce := StreamNonce(1, 1)
	ct, err := SealAEAD(key, nonce, []byte("data"), []byte("aad"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		nonce []byte
		ct    []byte
		aad   []byte
	}{
		{"flipped ciphertext", nonce, flip(ct, 0), []byte("aad")},
		{"flipped tag", nonce, flip(ct, len(ct)-1), []byte("aad")},
		{"wrong aad", nonce, ct, []byte("aae")},
		{"wrong nonce", StreamNonce(1, 2), ct, []byte("aad")},
		{"truncated", nonce, ct[:AEADTagSize-1], []byte("aad")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := OpenAEAD(key, tc.nonce, tc.ct, tc.aad)
			if !errors.Is(err, ErrAuthFailed) {
				t.Errorf("OpenAEAD() error = %v, want ErrAuthFailed", err)
			}
		})
	}
}

func TestAEAD_InvalidSizes(t *testing.T) {
	if _, err := SealAEAD(make([]byte, 16), make([]byte, AEADNonceSize), nil, nil); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("short key: error = %v, want ErrInvalidKeySize", err)
	}
	if _, err := SealAEAD(make([]byte, SymmetricKeySize), make([]byte, 8), nil, nil); !errors.Is(err, ErrInvalidNonceSize) {
		t.Errorf("short nonce: error = %v, want ErrInvalidNonceSize", err)
	}
}

func TestStreamNonce(t *testing.T) {
	got := StreamNonce(0x00000107, 0x0102030405060708)
	want, _ := hex.DecodeString("000001070102030405060708")
	if !bytes.Equal(got, want) {
		t.Errorf("StreamNonce() = %x, want %x", got, want)
	}
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	if !bytes.Equal(b, make([]byte, 4)) {
		t.Errorf("Wipe() left %x", b)
	}
	Wipe(nil)
}

func flip(b []byte, i int) []byte {
	out := append([]byte(nil), b...)
	out[i] ^= 0x01
	return out
}
