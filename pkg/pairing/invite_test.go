package pairing

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/transport"
)

func testInvite(t *testing.T) (*Invite, []byte, *identity.Identity) {
	t.Helper()
	device, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	secret := bytes.Repeat([]byte{7}, SecretSize)
	inv := &Invite{
		ID:         [InviteIDSize]byte{1, 2, 3, 4},
		DeviceID:   device.ID(),
		DeviceKeys: device.PublicKeys(),
		SecretHash: crypto.SHA256(secret),
		ExpiresAt:  testEpoch.Add(10 * time.Minute),
		Transports: []transport.Candidate{
			{Kind: transport.KindDirect, Address: "192.0.2.10:7000"},
			{Kind: transport.KindRelay},
		},
		Label: "kitchen-pc",
	}
	return inv, secret, device
}

func TestInviteCodeRoundTrip(t *testing.T) {
	inv, secret, _ := testInvite(t)

	code := EncodeInviteCode(inv, secret)
	if !strings.HasPrefix(code, InviteCodePrefix) {
		t.Fatalf("code %q lacks prefix", code)
	}
	if strings.ToUpper(code) != code {
		t.Errorf("code %q is not upper case", code)
	}

	got, gotSecret, err := ParseInviteCode(" " + strings.ToLower(code) + "\n")
	if err != nil {
		t.Fatalf("ParseInviteCode() = %v", err)
	}
	if !bytes.Equal(gotSecret, secret) {
		t.Error("secret mismatch")
	}
	if got.ID != inv.ID || got.DeviceID != inv.DeviceID || got.DeviceKeys != inv.DeviceKeys {
		t.Error("identity fields mismatch")
	}
	if !got.ExpiresAt.Equal(inv.ExpiresAt) || got.Label != inv.Label || len(got.Transports) != 2 {
		t.Errorf("got %+v", got)
	}
	if got.Transports[0].Address != "192.0.2.10:7000" || got.Transports[1].Kind != transport.KindRelay {
		t.Errorf("transports = %+v", got.Transports)
	}
}

func TestParseInviteCodeRejects(t *testing.T) {
	inv, secret, _ := testInvite(t)

	wrongSecret := bytes.Repeat([]byte{8}, SecretSize)
	other, _, _ := testInvite(t)
	forged := *inv
	forged.DeviceKeys = other.DeviceKeys

	tests := []struct {
		name string
		code string
	}{
		{name: "empty", code: ""},
		{name: "no prefix", code: strings.TrimPrefix(EncodeInviteCode(inv, secret), InviteCodePrefix)},
		{name: "bad base38", code: InviteCodePrefix + "!!!!!"},
		{name: "wrong secret", code: EncodeInviteCode(inv, wrongSecret)},
		{name: "short secret", code: EncodeInviteCode(inv, secret[:16])},
		{name: "id not matching key", code: EncodeInviteCode(&forged, secret)},
		{name: "truncated", code: EncodeInviteCode(inv, secret)[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseInviteCode(tt.code); err != ErrInvalidInviteCode {
				t.Errorf("ParseInviteCode() = %v, want ErrInvalidInviteCode", err)
			}
		})
	}
}

func TestPairRequestCodec(t *testing.T) {
	operator, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	secret := bytes.Repeat([]byte{9}, SecretSize)
	req := &PairRequest{
		InviteID:     [InviteIDSize]byte{9},
		OperatorID:   operator.ID(),
		DeviceID:     identity.ID{1},
		OperatorKeys: operator.PublicKeys(),
		Nonce:        [NonceSize]byte{3},
		Timestamp:    testEpoch,
		Permissions:  acl.PermView | acl.PermControl,
		Label:        "alice",
	}
	req.Prove(secret)

	got, err := UnmarshalPairRequest(req.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if err := got.VerifyProof(secret); err != nil {
		t.Fatalf("decoded proof: %v", err)
	}
	if got.Digest() != req.Digest() {
		t.Error("digest changed across codec")
	}

	tampered := *got
	tampered.Permissions |= acl.PermFileTransfer
	if err := tampered.VerifyProof(secret); err != ErrInvalidProof {
		t.Errorf("tampered permissions: %v", err)
	}
	tampered = *got
	tampered.OperatorID = identity.ID{2}
	if err := tampered.VerifyProof(secret); err != ErrIDMismatch {
		t.Errorf("tampered operator id: %v", err)
	}

	if _, err := UnmarshalPairRequest([]byte{0x0a, 0x05, 0x01}); err != ErrMalformed {
		t.Errorf("truncated: %v", err)
	}
}

func TestPairReceiptSignatureCoversFields(t *testing.T) {
	device, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	r := &PairReceipt{
		InviteID:     [InviteIDSize]byte{1},
		OperatorID:   identity.ID{2},
		DeviceID:     device.ID(),
		DeviceKeys:   device.PublicKeys(),
		Permissions:  acl.PermView,
		RequestNonce: [NonceSize]byte{3},
		DeviceNonce:  [NonceSize]byte{4},
		PairedAt:     testEpoch,
	}
	if err := r.Sign(device); err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalPairReceipt(r.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if err := got.Verify(device.PublicKeys().Sign); err != nil {
		t.Fatalf("Verify() = %v", err)
	}

	mutations := map[string]func(*PairReceipt){
		"invite":        func(r *PairReceipt) { r.InviteID[0] ^= 1 },
		"operator":      func(r *PairReceipt) { r.OperatorID[0] ^= 1 },
		"permissions":   func(r *PairReceipt) { r.Permissions = acl.PermAll },
		"request nonce": func(r *PairReceipt) { r.RequestNonce[0] ^= 1 },
		"device nonce":  func(r *PairReceipt) { r.DeviceNonce[0] ^= 1 },
		"kex key":       func(r *PairReceipt) { r.DeviceKeys.KEX[0] ^= 1 },
		"paired at":     func(r *PairReceipt) { r.PairedAt = r.PairedAt.Add(time.Millisecond) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			m := *got
			mutate(&m)
			if err := m.Verify(device.PublicKeys().Sign); err != ErrBadSignature {
				t.Errorf("Verify() = %v, want ErrBadSignature", err)
			}
		})
	}

	other, _ := identity.Generate()
	if err := got.Verify(other.PublicKeys().Sign); err != ErrIDMismatch {
		t.Errorf("other device key: %v", err)
	}
}
