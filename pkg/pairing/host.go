package pairing

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/audit"
	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/consent"
	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/ratelimit"
	"github.com/backkem/trustlink/pkg/store"
	"github.com/backkem/trustlink/pkg/transport"
)

// Defaults.
const (
	DefaultInviteTTL    = 10 * time.Minute
	DefaultTimeout      = 5 * time.Minute
	DefaultMaxClockSkew = 2 * time.Minute
)

// HostConfig configures a pairing Host.
type HostConfig struct {
	// Device is the local identity. Required.
	Device *identity.Identity

	// Invites persists issued invites. Required.
	Invites store.InviteStore

	// Pairings receives the pairing on approval. Required.
	Pairings store.PairingStore

	// Limiter throttles failed proofs per source. Shared between hosts so
	// the limit holds across invites. Default: a private limiter.
	Limiter *ratelimit.Limiter

	// Consent is asked by RequestApproval. A nil handler rejects.
	Consent consent.Handler

	// Negotiator provides the transport hints placed in invites.
	// Optional.
	Negotiator *transport.Negotiator

	// Audit receives lifecycle events. Optional.
	Audit *audit.Recorder

	// Label is a human-readable device name placed in invites.
	Label string

	// Timeout bounds AwaitingApproval. Default: DefaultTimeout.
	Timeout time.Duration

	// MaxClockSkew bounds request timestamps. Default: DefaultMaxClockSkew.
	MaxClockSkew time.Duration

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory

	rand io.Reader
}

func (c *HostConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxClockSkew <= 0 {
		c.MaxClockSkew = DefaultMaxClockSkew
	}
	c.Clock = clock.OrReal(c.Clock)
	if c.Limiter == nil {
		c.Limiter = ratelimit.New(ratelimit.Config{Clock: c.Clock, LoggerFactory: c.LoggerFactory})
	}
	if c.rand == nil {
		c.rand = rand.Reader
	}
}

type (
	hostState interface{ kind() HostState }

	hostIdle struct{}

	// hostInvite covers InviteGenerated and AwaitingRequest.
	hostInvite struct {
		published bool
		invite    *Invite
		secret    []byte
	}

	hostApproval struct {
		invite *Invite
		req    *PairRequest
		source string
		since  time.Time
	}

	hostPaired struct {
		pairing *store.Pairing
		receipt *PairReceipt
		sas     string
	}

	// hostFailed keeps the invite while it can still accept a fresh
	// attempt; invite is nil once the failure is permanent.
	hostFailed struct {
		err    error
		invite *Invite
		secret []byte
	}
)

func (hostIdle) kind() HostState { return HostIdle }
func (s *hostInvite) kind() HostState {
	if s.published {
		return HostAwaitingRequest
	}
	return HostInviteGenerated
}
func (*hostApproval) kind() HostState { return HostAwaitingApproval }
func (*hostPaired) kind() HostState { return HostPaired }
func (*hostFailed) kind() HostState { return HostFailed }

// Host is the device side of pairing for one invite at a time. It is safe
// for concurrent use.
type Host struct {
	config HostConfig
	log    logging.LeveledLogger

	mu    sync.Mutex
	state hostState
}

// NewHost creates a Host in Idle.
func NewHost(config HostConfig) (*Host, error) {
	if config.Device == nil || config.Invites == nil || config.Pairings == nil {
		return nil, errors.New("pairing: host requires Device, Invites and Pairings")
	}
	config.applyDefaults()
	h := &Host{config: config, state: hostIdle{}}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("pairing-host")
	}
	return h, nil
}

// State returns the current state.
func (h *Host) State() HostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.kind()
}

// Invite returns the current invite, or nil.
func (h *Host) Invite() *Invite {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch s := h.state.(type) {
	case *hostInvite:
		return s.invite
	case *hostApproval:
		return s.invite
	case *hostFailed:
		return s.invite
	}
	return nil
}

// Request returns the verified request awaiting approval, or nil.
func (h *Host) Request() *PairRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.state.(*hostApproval); ok {
		return s.req
	}
	return nil
}

// Pairing returns a copy of the created pairing once Paired.
func (h *Host) Pairing() *store.Pairing {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.state.(*hostPaired); ok {
		return s.pairing.Clone()
	}
	return nil
}

// SAS returns the short authentication string once Paired.
func (h *Host) SAS() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.state.(*hostPaired); ok {
		return s.sas
	}
	return ""
}

// Err returns the failure cause in Failed.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.state.(*hostFailed); ok {
		return s.err
	}
	return nil
}

// GenerateInvite creates and stores a fresh invite valid for ttl
// (DefaultInviteTTL if ttl <= 0) and returns it with its out-of-band code.
// It is valid in Idle and Failed; a previous invite is deleted.
func (h *Host) GenerateInvite(ctx context.Context, ttl time.Duration) (*Invite, string, error) {
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch s := h.state.(type) {
	case hostIdle:
	case *hostFailed:
		if s.invite != nil {
			h.dropInviteLocked(ctx, s.invite)
		}
	default:
		return nil, "", ErrInvalidState
	}

	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(h.config.rand, secret); err != nil {
		return nil, "", err
	}
	now := h.config.Clock.Now()
	inv := &Invite{
		DeviceID:   h.config.Device.ID(),
		DeviceKeys: h.config.Device.PublicKeys(),
		SecretHash: crypto.SHA256(secret),
		ExpiresAt:  now.Add(ttl).Truncate(time.Millisecond),
		Label:      h.config.Label,
	}
	if _, err := io.ReadFull(h.config.rand, inv.ID[:]); err != nil {
		return nil, "", err
	}
	if h.config.Negotiator != nil {
		inv.Transports = h.config.Negotiator.Offer()
	}

	err := h.config.Invites.SaveInvite(ctx, &store.Invite{
		ID:        inv.ID,
		Secret:    secret,
		Encoded:   inv.Marshal(),
		CreatedAt: now,
		ExpiresAt: inv.ExpiresAt,
	})
	if err != nil {
		return nil, "", err
	}

	h.state = &hostInvite{invite: inv, secret: secret}
	if h.log != nil {
		h.log.Infof("invite %x generated, expires %s", inv.ID[:4], inv.ExpiresAt.Format(time.RFC3339))
	}
	return inv, EncodeInviteCode(inv, secret), nil
}

// Publish marks the invite as handed out: InviteGenerated to
// AwaitingRequest.
func (h *Host) Publish() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.state.(*hostInvite)
	if !ok || s.published {
		return ErrInvalidState
	}
	s.published = true
	return nil
}

// HandleRequest verifies req from source. A rate-limit credit for source
// is reserved before any proof work; a wrong proof consumes it and moves
// to Failed, from which a fresh attempt is accepted while the invite is
// live. A request with a valid proof that fails later checks leaves the
// invite unconsumed. On success the Host moves to AwaitingApproval.
func (h *Host) HandleRequest(ctx context.Context, source string, req *PairRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var (
		inv    *Invite
		secret []byte
	)
	switch s := h.state.(type) {
	case *hostInvite:
		if !s.published {
			return ErrInvalidState
		}
		inv, secret = s.invite, s.secret
	case *hostFailed:
		if s.invite == nil {
			return ErrInvalidState
		}
		inv, secret = s.invite, s.secret
	default:
		return ErrInvalidState
	}

	res, err := h.config.Limiter.Reserve(source)
	if err != nil {
		h.config.Audit.Record(ctx, audit.Event{
			Type:   audit.RateLimitBlocked,
			PeerID: req.OperatorID,
			Source: source,
			Reason: "pairing request",
		})
		return err
	}

	now := h.config.Clock.Now()
	if inv.Expired(now) {
		res.Release()
		h.dropInviteLocked(ctx, inv)
		return h.failLocked(ctx, req.OperatorID, source, ErrInviteExpired, false)
	}

	if req.InviteID != inv.ID {
		res.Fail()
		return h.failLocked(ctx, req.OperatorID, source, ErrMismatch, true)
	}
	if err := req.VerifyProof(secret); err != nil {
		res.Fail()
		h.config.Audit.Record(ctx, audit.Event{
			Type:   audit.AuthFailure,
			PeerID: req.OperatorID,
			Source: source,
			Reason: err.Error(),
		})
		return h.failLocked(ctx, req.OperatorID, source, err, true)
	}
	res.Release()

	if req.DeviceID != inv.DeviceID {
		return ErrMismatch
	}
	if skew := now.Sub(req.Timestamp); skew > h.config.MaxClockSkew || -skew > h.config.MaxClockSkew {
		return ErrStale
	}
	if req.Permissions.IsEmpty() || !req.Permissions.IsValid() {
		return ErrEmptyPermissions
	}

	h.state = &hostApproval{invite: inv, req: req, source: source, since: now}
	h.config.Audit.Record(ctx, audit.Event{
		Type:        audit.PairingRequested,
		PeerID:      req.OperatorID,
		Permissions: req.Permissions,
		Source:      source,
	})
	if h.log != nil {
		h.log.Infof("pairing request from %s (%s) verified, awaiting approval", req.OperatorID.Short(), source)
	}
	return nil
}

// RequestApproval asks the consent handler about the pending request
// without holding the lock, then approves or rejects accordingly. The
// handler is bounded by the inactivity timeout.
func (h *Host) RequestApproval(ctx context.Context) (*PairReceipt, error) {
	h.mu.Lock()
	s, ok := h.state.(*hostApproval)
	if !ok {
		h.mu.Unlock()
		return nil, ErrInvalidState
	}
	req := consent.Request{
		Kind:        consent.KindPairing,
		OperatorID:  s.req.OperatorID,
		Permissions: s.req.Permissions,
		Label:       s.req.Label,
	}
	handler := h.config.Consent
	h.mu.Unlock()

	if handler == nil {
		return nil, h.rejectWith(ctx, "no consent handler")
	}

	cctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()
	decision, err := handler.Decide(cctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if a, ok := h.state.(*hostApproval); ok {
				h.dropInviteLocked(ctx, a.invite)
				return nil, h.failLocked(ctx, a.req.OperatorID, a.source, ErrTimeout, false)
			}
			return nil, ErrTimeout
		}
		return nil, h.rejectWith(ctx, "consent failed")
	}
	if !decision.Approved {
		return nil, h.rejectWith(ctx, "rejected by user")
	}
	perms := decision.Permissions
	if perms.IsEmpty() {
		perms = req.Permissions
	}
	return h.Approve(ctx, perms)
}

// Approve grants perms ∩ requested, consumes the invite, persists the
// pairing and returns the signed receipt. An empty grant fails with
// ErrEmptyPermissions and leaves the state unchanged.
func (h *Host) Approve(ctx context.Context, perms acl.Permission) (*PairReceipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.state.(*hostApproval)
	if !ok {
		return nil, ErrInvalidState
	}
	granted := perms.Intersect(s.req.Permissions)
	if granted.IsEmpty() {
		return nil, ErrEmptyPermissions
	}

	if err := h.config.Invites.ConsumeInvite(ctx, s.invite.ID); err != nil {
		return nil, h.failLocked(ctx, s.req.OperatorID, s.source, err, false)
	}

	now := h.config.Clock.Now()
	device := h.config.Device
	receipt := &PairReceipt{
		InviteID:     s.invite.ID,
		OperatorID:   s.req.OperatorID,
		DeviceID:     device.ID(),
		DeviceKeys:   device.PublicKeys(),
		Permissions:  granted,
		RequestNonce: s.req.Nonce,
		PairedAt:     now,
	}
	if _, err := io.ReadFull(h.config.rand, receipt.DeviceNonce[:]); err != nil {
		return nil, h.failLocked(ctx, s.req.OperatorID, s.source, err, false)
	}
	if err := receipt.Sign(device); err != nil {
		return nil, h.failLocked(ctx, s.req.OperatorID, s.source, err, false)
	}

	p := &store.Pairing{
		DeviceID:    receipt.DeviceID,
		OperatorID:  s.req.OperatorID,
		Device:      receipt.DeviceKeys,
		Operator:    s.req.OperatorKeys,
		Permissions: granted,
		PairedAt:    receipt.PairedAt,
	}
	if err := h.config.Pairings.SavePairing(ctx, p); err != nil {
		return nil, h.failLocked(ctx, s.req.OperatorID, s.source, err, false)
	}

	sas := SAS(s.req, receipt)
	h.state = &hostPaired{pairing: p, receipt: receipt, sas: sas}
	h.config.Audit.Record(ctx, audit.Event{
		Type:        audit.PairingApproved,
		PeerID:      p.OperatorID,
		Permissions: granted,
		Source:      s.source,
	})
	if h.log != nil {
		h.log.Infof("paired with %s, permissions %s", p.OperatorID.Short(), granted)
	}
	return receipt, nil
}

func (h *Host) rejectWith(ctx context.Context, reason string) error {
	if err := h.Reject(ctx, reason); err != nil {
		return err
	}
	return ErrRejected
}

// Reject declines the pending request. The invite is consumed and the
// Host returns to Idle.
func (h *Host) Reject(ctx context.Context, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.state.(*hostApproval)
	if !ok {
		return ErrInvalidState
	}
	if err := h.config.Invites.ConsumeInvite(ctx, s.invite.ID); err != nil && h.log != nil {
		h.log.Warnf("consume invite %x: %v", s.invite.ID[:4], err)
	}
	h.state = hostIdle{}
	h.config.Audit.Record(ctx, audit.Event{
		Type:        audit.PairingRejected,
		PeerID:      s.req.OperatorID,
		Permissions: s.req.Permissions,
		Source:      s.source,
		Reason:      reason,
	})
	if h.log != nil {
		h.log.Infof("pairing request from %s rejected: %s", s.req.OperatorID.Short(), reason)
	}
	return nil
}

// Cancel abandons the current invite from any non-terminal state.
func (h *Host) Cancel(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var operator identity.ID
	switch s := h.state.(type) {
	case *hostInvite:
		h.dropInviteLocked(ctx, s.invite)
	case *hostApproval:
		operator = s.req.OperatorID
		h.dropInviteLocked(ctx, s.invite)
	case *hostFailed:
		if s.invite == nil {
			return ErrInvalidState
		}
		h.dropInviteLocked(ctx, s.invite)
	default:
		return ErrInvalidState
	}
	h.failLocked(ctx, operator, "", ErrCancelled, false)
	return nil
}

// Tick enforces invite expiry and the approval timeout. It reports
// whether the state changed.
func (h *Host) Tick(ctx context.Context, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch s := h.state.(type) {
	case *hostInvite:
		if s.invite.Expired(now) {
			h.dropInviteLocked(ctx, s.invite)
			h.failLocked(ctx, identity.ID{}, "", ErrInviteExpired, false)
			return true
		}
	case *hostFailed:
		if s.invite != nil && s.invite.Expired(now) {
			h.dropInviteLocked(ctx, s.invite)
			s.invite, s.secret, s.err = nil, nil, ErrInviteExpired
			return true
		}
	case *hostApproval:
		if now.Sub(s.since) >= h.config.Timeout {
			h.dropInviteLocked(ctx, s.invite)
			h.failLocked(ctx, s.req.OperatorID, s.source, ErrTimeout, false)
			return true
		}
	}
	return false
}

// failLocked moves to Failed. With retry, the current invite stays usable.
func (h *Host) failLocked(ctx context.Context, operator identity.ID, source string, err error, retry bool) error {
	f := &hostFailed{err: err}
	if retry {
		switch s := h.state.(type) {
		case *hostInvite:
			f.invite, f.secret = s.invite, s.secret
		case *hostFailed:
			f.invite, f.secret = s.invite, s.secret
		}
	}
	h.state = f

	h.config.Audit.Record(ctx, audit.Event{
		Type:   audit.PairingFailed,
		PeerID: operator,
		Source: source,
		Reason: err.Error(),
	})
	if h.log != nil {
		h.log.Warnf("pairing failed (source %q): %v", source, err)
	}
	return err
}

func (h *Host) dropInviteLocked(ctx context.Context, inv *Invite) {
	err := h.config.Invites.DeleteInvite(ctx, inv.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) && h.log != nil {
		h.log.Warnf("delete invite %x: %v", inv.ID[:4], err)
	}
}
