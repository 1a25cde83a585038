package crypto

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

// NIST FIPS 180-4 / CAVP vectors.
var sha256TestVectors = []struct {
	name     string
	message  string // hex-encoded input
	expected string // hex-encoded expected hash
}{
	{
		name:     "FIPS180-4_B1_abc",
		message:  "616263",
		expected: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	},
	{
		name:     "CAVP_empty",
		message:  "",
		expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	},
	{
		name:     "CAVP_8bit",
		message:  "d3",
		expected: "28969cdfa74a12c82f3bad960b0b000aca2ac329deea5c2328ebc6f2ba9802c1",
	},
}

func TestSHA256(t *testing.T) {
	for _, tc := range sha256TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			msg, _ := hex.DecodeString(tc.message)
			want, _ := hex.DecodeString(tc.expected)

			got := SHA256(msg)
			if !bytes.Equal(got[:], want) {
				t.Errorf("SHA256() = %x, want %x", got, want)
			}
		})
	}
}

// RFC 4231 HMAC-SHA-256 vectors.
var hmacSHA256TestVectors = []struct {
	name     string
	key      string
	data     string
	expected string
}{
	{
		name:     "RFC4231_TC1",
		key:      "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
		data:     "4869205468657265",
		expected: "b0344c61d8db38535ca8afceaf0bf12b881dc200c9833da726e9376c2e32cff7",
	},
	{
		name:     "RFC4231_TC2",
		key:      "4a656665",
		data:     "7768617420646f2079612077616e7420666f72206e6f7468696e673f",
		expected: "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
	},
	{
		name:     "RFC4231_TC6",
		key:      strings.Repeat("aa", 131),
		data:     "54657374205573696e67204c6172676572205468616e20426c6f636b2d53697a65204b6579202d2048617368204b6579204669727374",
		expected: "60e431591ee0b67f0d8a26aacbf5b77f8e0bc6213728c5140546040f0ee37f54",
	},
}

func TestHMACSHA256(t *testing.T) {
	for _, tc := range hmacSHA256TestVectors {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := hex.DecodeString(tc.key)
			data, _ := hex.DecodeString(tc.data)
			want, _ := hex.DecodeString(tc.expected)

			got := HMACSHA256(key, data)
			if !bytes.Equal(got[:], want) {
				t.Errorf("HMACSHA256() = %x, want %x", got, want)
			}
		})
	}
}

func TestHMACEqual(t *testing.T) {
	a := []byte{1, 2, 3}
	if !HMACEqual(a, []byte{1, 2, 3}) {
		t.Error("equal MACs reported unequal")
	}
	if HMACEqual(a, []byte{1, 2, 4}) {
		t.Error("different MACs reported equal")
	}
	if HMACEqual(a, []byte{1, 2}) {
		t.Error("different lengths reported equal")
	}
}

// RFC 5869 Test Case 1.
func TestHKDFSHA256_RFC5869(t *testing.T) {
	ikm, _ := hex.DecodeString("0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	salt, _ := hex.DecodeString("000102030405060708090a0b0c")
	info, _ := hex.DecodeString("f0f1f2f3f4f5f6f7f8f9")
	want, _ := hex.DecodeString("3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865")

	got, err := HKDFSHA256(ikm, salt, info, 42)
	if err != nil {
		t.Fatalf("HKDFSHA256() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("HKDFSHA256() = %x, want %x", got, want)
	}
}
