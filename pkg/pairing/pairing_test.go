package pairing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/audit"
	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/consent"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/ratelimit"
	"github.com/backkem/trustlink/pkg/status"
	"github.com/backkem/trustlink/pkg/store"
)

var testEpoch = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type pairingFixture struct {
	device   *identity.Identity
	operator *identity.Identity

	deviceRecords   *store.Records
	operatorRecords *store.Records

	clock   *clock.Manual
	sink    *audit.MemorySink
	limiter *ratelimit.Limiter
}

func newPairingFixture(t *testing.T) *pairingFixture {
	t.Helper()
	device, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	operator, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	c := clock.NewManual(testEpoch)
	return &pairingFixture{
		device:          device,
		operator:        operator,
		deviceRecords:   store.NewRecords(store.NewMemoryStore(), device.ID()),
		operatorRecords: store.NewRecords(store.NewMemoryStore(), operator.ID()),
		clock:           c,
		sink:            audit.NewMemorySink(),
		limiter:         ratelimit.New(ratelimit.Config{Clock: c}),
	}
}

func (f *pairingFixture) host(t *testing.T, handler consent.Handler) *Host {
	t.Helper()
	h, err := NewHost(HostConfig{
		Device:   f.device,
		Invites:  f.deviceRecords,
		Pairings: f.deviceRecords,
		Limiter:  f.limiter,
		Consent:  handler,
		Audit:    audit.NewRecorder(audit.RecorderConfig{Device: f.device, Sink: f.sink, Clock: f.clock}),
		Clock:    f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (f *pairingFixture) controller(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(ControllerConfig{
		Operator: f.operator,
		Pairings: f.operatorRecords,
		Label:    "alice",
		Clock:    f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// published returns a host with a published invite and its code.
func (f *pairingFixture) published(t *testing.T, handler consent.Handler) (*Host, string) {
	t.Helper()
	h := f.host(t, handler)
	_, code, err := h.GenerateInvite(context.Background(), 600*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if h.State() != HostInviteGenerated {
		t.Fatalf("state = %v, want InviteGenerated", h.State())
	}
	if err := h.Publish(); err != nil {
		t.Fatal(err)
	}
	return h, code
}

func (f *pairingFixture) request(t *testing.T, code string, perms acl.Permission) (*Controller, *PairRequest) {
	t.Helper()
	c := f.controller(t)
	if _, err := c.ImportInvite(code); err != nil {
		t.Fatalf("ImportInvite() = %v", err)
	}
	req, err := c.SendRequest(perms)
	if err != nil {
		t.Fatalf("SendRequest() = %v", err)
	}
	return c, req
}

func TestPairing_EndToEnd(t *testing.T) {
	f := newPairingFixture(t)
	ctx := context.Background()

	h, code := f.published(t, nil)
	c, req := f.request(t, code, acl.PermView|acl.PermControl|acl.PermClipboard)
	if c.State() != ControllerRequestSent {
		t.Fatalf("controller state = %v", c.State())
	}

	// The request travels as bytes.
	wireReq, err := UnmarshalPairRequest(req.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if err := h.HandleRequest(ctx, "198.51.100.7", wireReq); err != nil {
		t.Fatalf("HandleRequest() = %v", err)
	}
	if h.State() != HostAwaitingApproval {
		t.Fatalf("host state = %v, want AwaitingApproval", h.State())
	}
	if h.Request().OperatorID != f.operator.ID() {
		t.Error("pending request has wrong operator")
	}

	receipt, err := h.Approve(ctx, acl.PermView|acl.PermControl)
	if err != nil {
		t.Fatalf("Approve() = %v", err)
	}
	if h.State() != HostPaired {
		t.Fatalf("host state = %v, want Paired", h.State())
	}

	wireReceipt, err := UnmarshalPairReceipt(receipt.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	sas, err := c.HandleReceipt(ctx, wireReceipt)
	if err != nil {
		t.Fatalf("HandleReceipt() = %v", err)
	}
	if c.State() != ControllerAwaitingSAS {
		t.Fatalf("controller state = %v, want AwaitingSAS", c.State())
	}
	if len(sas) != SASDigits || sas != h.SAS() {
		t.Fatalf("SAS controller %q host %q", sas, h.SAS())
	}

	cp, err := c.ConfirmSAS(ctx)
	if err != nil {
		t.Fatalf("ConfirmSAS() = %v", err)
	}
	if c.State() != ControllerPaired {
		t.Fatalf("controller state = %v, want Paired", c.State())
	}

	hp := h.Pairing()
	if hp.DeviceID != cp.DeviceID || hp.OperatorID != cp.OperatorID || hp.Permissions != cp.Permissions {
		t.Fatalf("pairings differ: host %+v controller %+v", hp, cp)
	}
	if hp.Permissions != acl.PermView|acl.PermControl {
		t.Errorf("permissions = %v, want VIEW|CONTROL", hp.Permissions)
	}
	if hp.Device != f.device.PublicKeys() || hp.Operator != f.operator.PublicKeys() {
		t.Error("pinned keys differ")
	}

	stored, err := f.deviceRecords.GetPairing(ctx, f.operator.ID())
	if err != nil {
		t.Fatalf("device pairing not stored: %v", err)
	}
	if stored.Permissions != hp.Permissions {
		t.Error("stored device pairing differs")
	}
	if _, err := f.operatorRecords.GetPairing(ctx, f.device.ID()); err != nil {
		t.Fatalf("operator pairing not stored: %v", err)
	}

	inv, err := f.deviceRecords.GetInvite(ctx, req.InviteID)
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Consumed {
		t.Error("invite not consumed")
	}

	if n := len(f.sink.OfType(audit.PairingRequested)); n != 1 {
		t.Errorf("PairingRequested events = %d", n)
	}
	approved := f.sink.OfType(audit.PairingApproved)
	if len(approved) != 1 || approved[0].PeerID != f.operator.ID() || approved[0].Source != "198.51.100.7" {
		t.Errorf("PairingApproved events = %+v", approved)
	}
}

func TestPairing_ConsentHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("approve narrows", func(t *testing.T) {
		f := newPairingFixture(t)
		var asked consent.Request
		h, code := f.published(t, consent.HandlerFunc(func(ctx context.Context, req consent.Request) (consent.Decision, error) {
			asked = req
			return consent.Approve(acl.PermView), nil
		}))
		_, req := f.request(t, code, acl.PermView|acl.PermControl)
		if err := h.HandleRequest(ctx, "src", req); err != nil {
			t.Fatal(err)
		}
		receipt, err := h.RequestApproval(ctx)
		if err != nil {
			t.Fatalf("RequestApproval() = %v", err)
		}
		if asked.Kind != consent.KindPairing || asked.Label != "alice" || asked.OperatorID != f.operator.ID() {
			t.Errorf("consent request = %+v", asked)
		}
		if receipt.Permissions != acl.PermView {
			t.Errorf("granted %v, want VIEW", receipt.Permissions)
		}
	})

	t.Run("deny returns to idle and consumes invite", func(t *testing.T) {
		f := newPairingFixture(t)
		h, code := f.published(t, consent.Static(consent.Deny()))
		_, req := f.request(t, code, acl.PermView)
		if err := h.HandleRequest(ctx, "src", req); err != nil {
			t.Fatal(err)
		}
		if _, err := h.RequestApproval(ctx); err != ErrRejected {
			t.Fatalf("RequestApproval() = %v, want ErrRejected", err)
		}
		if h.State() != HostIdle {
			t.Errorf("state = %v, want Idle", h.State())
		}
		inv, err := f.deviceRecords.GetInvite(ctx, req.InviteID)
		if err != nil || !inv.Consumed {
			t.Errorf("invite consumed = %v, err %v", inv != nil && inv.Consumed, err)
		}
		if len(f.sink.OfType(audit.PairingRejected)) != 1 {
			t.Error("no PairingRejected event")
		}
		if status.ToReport(ErrRejected).Code != status.CodePermissionDenied {
			t.Error("rejection does not map to PermissionDenied")
		}
	})

	t.Run("no handler rejects", func(t *testing.T) {
		f := newPairingFixture(t)
		h, code := f.published(t, nil)
		_, req := f.request(t, code, acl.PermView)
		if err := h.HandleRequest(ctx, "src", req); err != nil {
			t.Fatal(err)
		}
		if _, err := h.RequestApproval(ctx); err != ErrRejected {
			t.Fatalf("RequestApproval() = %v", err)
		}
	})
}

func TestPairing_ApproveEmptyGrant(t *testing.T) {
	f := newPairingFixture(t)
	ctx := context.Background()
	h, code := f.published(t, nil)
	_, req := f.request(t, code, acl.PermView)
	if err := h.HandleRequest(ctx, "src", req); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Approve(ctx, acl.PermFileTransfer); err != ErrEmptyPermissions {
		t.Fatalf("Approve() = %v, want ErrEmptyPermissions", err)
	}
	if h.State() != HostAwaitingApproval {
		t.Errorf("state = %v, want unchanged", h.State())
	}
	if _, err := h.Approve(ctx, acl.PermView); err != nil {
		t.Fatalf("second Approve() = %v", err)
	}
}

func TestPairing_RateLimit(t *testing.T) {
	f := newPairingFixture(t)
	ctx := context.Background()
	h, code := f.published(t, nil)

	_, good := f.request(t, code, acl.PermView)
	bad := *good
	bad.Proof = append([]byte(nil), good.Proof...)
	bad.Proof[0] ^= 0xff

	for i := 1; i <= 3; i++ {
		attempt := bad
		if err := h.HandleRequest(ctx, "203.0.113.9", &attempt); err != ErrInvalidProof {
			t.Fatalf("attempt %d: got %v, want ErrInvalidProof", i, err)
		}
		if h.State() != HostFailed {
			t.Fatalf("attempt %d: state = %v, want Failed", i, h.State())
		}
		f.clock.Advance(5 * time.Second)
	}

	attempt := bad
	err := h.HandleRequest(ctx, "203.0.113.9", &attempt)
	if !errors.Is(err, ratelimit.ErrRateLimited) {
		t.Fatalf("4th attempt: got %v, want ErrRateLimited", err)
	}
	if status.KindOf(err) != status.KindRateLimit {
		t.Errorf("kind = %v", status.KindOf(err))
	}
	// Only the three verified attempts were audited as auth failures.
	if n := len(f.sink.OfType(audit.AuthFailure)); n != 3 {
		t.Errorf("AuthFailure events = %d, want 3", n)
	}
	if n := len(f.sink.OfType(audit.RateLimitBlocked)); n != 1 {
		t.Errorf("RateLimitBlocked events = %d, want 1", n)
	}

	// Even a correct proof from the blocked source is not looked at.
	if err := h.HandleRequest(ctx, "203.0.113.9", good); !errors.Is(err, ratelimit.ErrRateLimited) {
		t.Fatalf("blocked source with good proof: %v", err)
	}

	// The invite is still live, so another source can complete pairing.
	if err := h.HandleRequest(ctx, "198.51.100.1", good); err != nil {
		t.Fatalf("other source: %v", err)
	}
	if h.State() != HostAwaitingApproval {
		t.Errorf("state = %v", h.State())
	}
}

func TestPairing_InviteSingleUse(t *testing.T) {
	f := newPairingFixture(t)
	ctx := context.Background()
	h, code := f.published(t, nil)
	_, req := f.request(t, code, acl.PermView)

	if err := h.HandleRequest(ctx, "src", req); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Approve(ctx, acl.PermView); err != nil {
		t.Fatal(err)
	}
	if err := h.HandleRequest(ctx, "src", req); err != ErrInvalidState {
		t.Errorf("replay after approval: %v", err)
	}

	// A second host over the same store cannot consume it either.
	if err := f.deviceRecords.ConsumeInvite(ctx, req.InviteID); err != store.ErrInviteConsumed {
		t.Errorf("ConsumeInvite() = %v, want ErrInviteConsumed", err)
	}
}

func TestPairing_ValidProofLaterCheckKeepsInvite(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *pairingFixture, c *Controller) *PairRequest
		wantErr error
	}{
		{
			name: "stale timestamp",
			mutate: func(f *pairingFixture, c *Controller) *PairRequest {
				f.clock.Advance(-5 * time.Minute)
				req, _ := c.SendRequest(acl.PermView)
				f.clock.Advance(5 * time.Minute)
				return req
			},
			wantErr: ErrStale,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPairingFixture(t)
			ctx := context.Background()
			h, code := f.published(t, nil)
			c := f.controller(t)
			if _, err := c.ImportInvite(code); err != nil {
				t.Fatal(err)
			}
			req := tt.mutate(f, c)
			if err := h.HandleRequest(ctx, "src", req); err != tt.wantErr {
				t.Fatalf("HandleRequest() = %v, want %v", err, tt.wantErr)
			}
			if h.State() != HostAwaitingRequest {
				t.Errorf("state = %v, want AwaitingRequest", h.State())
			}
			if f.limiter.Remaining("src") != ratelimit.DefaultMaxFailures {
				t.Error("valid proof consumed a rate-limit credit")
			}

			// A fresh, well-formed request against the same invite succeeds.
			_, fresh := f.request(t, code, acl.PermView)
			if err := h.HandleRequest(ctx, "src", fresh); err != nil {
				t.Fatalf("fresh request: %v", err)
			}
		})
	}
}

func TestPairing_ReceiptChecks(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *PairReceipt, device, other *identity.Identity)
		wantErr error
	}{
		{
			name:    "wrong request nonce",
			mutate:  func(r *PairReceipt, _, _ *identity.Identity) { r.RequestNonce[0] ^= 1 },
			wantErr: ErrMismatch,
		},
		{
			name:    "tampered permissions",
			mutate:  func(r *PairReceipt, _, _ *identity.Identity) { r.Permissions |= acl.PermFileTransfer },
			wantErr: ErrBadSignature,
		},
		{
			name: "signed by another device",
			mutate: func(r *PairReceipt, _, other *identity.Identity) {
				r.DeviceID = other.ID()
				r.DeviceKeys = other.PublicKeys()
				_ = r.Sign(other)
			},
			wantErr: ErrIDMismatch,
		},
		{
			name: "grant wider than request",
			mutate: func(r *PairReceipt, device, _ *identity.Identity) {
				r.Permissions = acl.PermView | acl.PermUnattended
				_ = r.Sign(device)
			},
			wantErr: ErrPermissionCeiling,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPairingFixture(t)
			ctx := context.Background()
			h, code := f.published(t, nil)
			c, req := f.request(t, code, acl.PermView)
			if err := h.HandleRequest(ctx, "src", req); err != nil {
				t.Fatal(err)
			}
			receipt, err := h.Approve(ctx, acl.PermView)
			if err != nil {
				t.Fatal(err)
			}
			other, err := identity.Generate()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(receipt, f.device, other)

			if _, err := c.HandleReceipt(ctx, receipt); err != tt.wantErr {
				t.Fatalf("HandleReceipt() = %v, want %v", err, tt.wantErr)
			}
			if c.State() != ControllerFailed {
				t.Errorf("state = %v, want Failed", c.State())
			}
			if _, err := f.operatorRecords.GetPairing(ctx, f.device.ID()); err != store.ErrNotFound {
				t.Errorf("pairing persisted after failure: %v", err)
			}
		})
	}
}

func TestPairing_RejectSAS(t *testing.T) {
	f := newPairingFixture(t)
	ctx := context.Background()
	h, code := f.published(t, nil)
	c, req := f.request(t, code, acl.PermView)
	if err := h.HandleRequest(ctx, "src", req); err != nil {
		t.Fatal(err)
	}
	receipt, err := h.Approve(ctx, acl.PermView)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.HandleReceipt(ctx, receipt); err != nil {
		t.Fatal(err)
	}
	if err := c.RejectSAS(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != ControllerFailed || c.Err() != ErrSASRejected {
		t.Errorf("state %v err %v", c.State(), c.Err())
	}
	if _, err := f.operatorRecords.GetPairing(ctx, f.device.ID()); err != store.ErrNotFound {
		t.Errorf("pairing persisted after SAS rejection: %v", err)
	}
}

func TestPairing_ImportInvite(t *testing.T) {
	f := newPairingFixture(t)
	_, code := f.published(t, nil)

	c := f.controller(t)
	if _, err := c.ImportInvite("TL:0000"); err != ErrInvalidInviteCode {
		t.Errorf("garbage: %v", err)
	}
	f.clock.Advance(601 * time.Second)
	if _, err := c.ImportInvite(code); err != ErrInviteExpired {
		t.Errorf("expired: %v", err)
	}
	if c.State() != ControllerIdle {
		t.Errorf("state = %v, want Idle", c.State())
	}
	if _, err := c.SendRequest(acl.PermView); err != ErrInvalidState {
		t.Errorf("SendRequest from Idle: %v", err)
	}
}

func TestPairing_Timeouts(t *testing.T) {
	ctx := context.Background()

	t.Run("controller inactivity", func(t *testing.T) {
		f := newPairingFixture(t)
		_, code := f.published(t, nil)
		c, _ := f.request(t, code, acl.PermView)
		if c.Tick(ctx, testEpoch.Add(4*time.Minute)) {
			t.Fatal("timed out early")
		}
		if !c.Tick(ctx, testEpoch.Add(5*time.Minute)) {
			t.Fatal("no timeout at 5 minutes")
		}
		if c.State() != ControllerFailed || c.Err() != ErrTimeout {
			t.Errorf("state %v err %v", c.State(), c.Err())
		}
	})

	t.Run("host approval", func(t *testing.T) {
		f := newPairingFixture(t)
		h, code := f.published(t, nil)
		_, req := f.request(t, code, acl.PermView)
		if err := h.HandleRequest(ctx, "src", req); err != nil {
			t.Fatal(err)
		}
		if !h.Tick(ctx, testEpoch.Add(5*time.Minute)) {
			t.Fatal("no timeout")
		}
		if h.State() != HostFailed || h.Err() != ErrTimeout {
			t.Errorf("state %v err %v", h.State(), h.Err())
		}
		if _, err := f.deviceRecords.GetInvite(ctx, req.InviteID); err != store.ErrNotFound {
			t.Errorf("invite not deleted: %v", err)
		}
	})

	t.Run("invite expiry", func(t *testing.T) {
		f := newPairingFixture(t)
		h, _ := f.published(t, nil)
		if h.Tick(ctx, testEpoch.Add(599*time.Second)) {
			t.Fatal("expired early")
		}
		if !h.Tick(ctx, testEpoch.Add(600*time.Second)) {
			t.Fatal("not expired")
		}
		if h.State() != HostFailed || h.Err() != ErrInviteExpired {
			t.Errorf("state %v err %v", h.State(), h.Err())
		}
		if _, _, err := h.GenerateInvite(ctx, 0); err != nil {
			t.Errorf("new invite after expiry: %v", err)
		}
	})
}

func TestPairing_Cancel(t *testing.T) {
	f := newPairingFixture(t)
	ctx := context.Background()
	h, code := f.published(t, nil)
	c, req := f.request(t, code, acl.PermView)

	if err := h.Cancel(ctx); err != nil {
		t.Fatal(err)
	}
	if h.State() != HostFailed || h.Err() != ErrCancelled {
		t.Errorf("host state %v err %v", h.State(), h.Err())
	}
	if err := h.HandleRequest(ctx, "src", req); err != ErrInvalidState {
		t.Errorf("request after cancel: %v", err)
	}
	if err := c.Cancel(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Cancel(ctx); err != ErrInvalidState {
		t.Errorf("second cancel: %v", err)
	}
}

func TestPairing_HandleError(t *testing.T) {
	f := newPairingFixture(t)
	ctx := context.Background()
	_, code := f.published(t, nil)
	c, _ := f.request(t, code, acl.PermView)

	report := status.ToReport(ErrRejected)
	if err := c.HandleError(ctx, report); status.KindOf(err) != status.KindPermission {
		t.Fatalf("HandleError() = %v", err)
	}
	if c.State() != ControllerFailed {
		t.Errorf("state = %v", c.State())
	}
}
