package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/audit"
	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/consent"
	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/store"
	"github.com/backkem/trustlink/pkg/ticket"
	"github.com/backkem/trustlink/pkg/transport"
)

// Host defaults.
const (
	DefaultTicketLifetime = 10 * time.Minute
	DefaultConsentTimeout = 2 * time.Minute
	DefaultConnectTimeout = time.Minute
	DefaultMaxClockSkew   = 2 * time.Minute
)

// HostConfig configures a session Host.
type HostConfig struct {
	// Device is the local identity. Required.
	Device *identity.Identity

	// Pairings is consulted for the requester's pairing. Required.
	Pairings store.PairingStore

	// Tickets persists issued tickets and answers revocation checks.
	// Optional.
	Tickets store.TicketStore

	// Policy decides consent, permission scope and time windows. Required.
	Policy Policy

	// Consent is asked when Policy requires it. A nil handler denies.
	Consent consent.Handler

	// Negotiator answers the operator's transport offer. Default: one
	// supporting every kind with no local candidates.
	Negotiator *transport.Negotiator

	// Audit receives lifecycle events. Optional.
	Audit *audit.Recorder

	// TicketLifetime is the validity of issued tickets.
	// Default: DefaultTicketLifetime.
	TicketLifetime time.Duration

	// ConsentTimeout bounds RequestReceived and AwaitingConsent.
	// Default: DefaultConsentTimeout.
	ConsentTimeout time.Duration

	// ConnectTimeout bounds Negotiating. Default: DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// MaxClockSkew bounds request timestamps. Default: DefaultMaxClockSkew.
	MaxClockSkew time.Duration

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

func (c *HostConfig) applyDefaults() {
	if c.TicketLifetime <= 0 {
		c.TicketLifetime = DefaultTicketLifetime
	}
	if c.ConsentTimeout <= 0 {
		c.ConsentTimeout = DefaultConsentTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxClockSkew <= 0 {
		c.MaxClockSkew = DefaultMaxClockSkew
	}
	if c.Negotiator == nil {
		c.Negotiator = transport.NewNegotiator(transport.NegotiatorConfig{})
	}
	c.Clock = clock.OrReal(c.Clock)
}

// Host states. Each carries only what that state needs.
type (
	hostState interface{ kind() State }

	hostIdle struct{}

	// hostPending covers RequestReceived and AwaitingConsent.
	hostPending struct {
		awaitingConsent bool
		req             *InitRequest
		pairing         *store.Pairing
		since           time.Time
	}

	// hostLive covers Negotiating and Active.
	hostLive struct {
		active    bool
		req       *InitRequest
		pairing   *store.Pairing
		ticket    *ticket.Ticket
		keys      *Keys
		since     time.Time
		startedAt time.Time
	}

	hostEnded struct {
		reason string
		err    error
	}
)

func (hostIdle) kind() State { return StateIdle }
func (s *hostPending) kind() State {
	if s.awaitingConsent {
		return StateAwaitingConsent
	}
	return StateRequestReceived
}
func (s *hostLive) kind() State {
	if s.active {
		return StateActive
	}
	return StateNegotiating
}
func (*hostEnded) kind() State { return StateEnded }

// Host is the device side of one session. It is safe for concurrent use;
// RequestConsent blocks on the consent handler without holding the lock.
type Host struct {
	config HostConfig
	log    logging.LeveledLogger

	mu        sync.Mutex
	sessionID uuid.UUID
	requester identity.ID // Claimed by the request; unverified until Pending
	state     hostState
}

// NewHost creates a Host in Idle.
func NewHost(config HostConfig) (*Host, error) {
	if config.Device == nil || config.Pairings == nil || config.Policy == nil {
		return nil, errors.New("session: host requires Device, Pairings and Policy")
	}
	config.applyDefaults()
	h := &Host{config: config, state: hostIdle{}}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("session-host")
	}
	return h, nil
}

// State returns the current state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.kind()
}

// SessionID returns the session id, or uuid.Nil before a request.
func (h *Host) SessionID() uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessionID
}

// OperatorID returns the requesting operator, if known.
func (h *Host) OperatorID() identity.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch s := h.state.(type) {
	case *hostPending:
		return s.req.OperatorID
	case *hostLive:
		return s.req.OperatorID
	}
	return identity.ID{}
}

// Ticket returns a copy of the current ticket, or nil.
func (h *Host) Ticket() *ticket.Ticket {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.state.(*hostLive); ok {
		return s.ticket.Clone()
	}
	return nil
}

// Keys returns the session keys while Negotiating or Active.
func (h *Host) Keys() *Keys {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.state.(*hostLive); ok {
		return s.keys
	}
	return nil
}

// Err returns the error that ended the session, if any.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.state.(*hostEnded); ok {
		return s.err
	}
	return nil
}

// HandleRequest validates a SessionInitRequest: the requester must hold a
// pairing, the signature must verify against the pinned key, and the time
// policy must allow a session now. It reports whether consent is needed.
// Any failure ends the session.
func (h *Host) HandleRequest(ctx context.Context, req *InitRequest) (consentRequired bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.state.(hostIdle); !ok {
		return false, ErrInvalidState
	}
	now := h.config.Clock.Now()
	h.sessionID = req.SessionID
	h.requester = req.OperatorID

	ev := audit.Event{Type: audit.SessionRequested, PeerID: req.OperatorID, SessionID: req.SessionID, Permissions: req.Permissions}
	h.config.Audit.Record(ctx, ev)

	if req.DeviceID != h.config.Device.ID() {
		return false, h.failLocked(ctx, audit.AuthFailure, ErrWrongPeer)
	}
	pairing, err := h.config.Pairings.GetPairing(ctx, req.OperatorID)
	if errors.Is(err, store.ErrNotFound) {
		return false, h.failLocked(ctx, audit.AuthFailure, ErrNotPaired)
	}
	if err != nil {
		return false, h.failLocked(ctx, "", fmt.Errorf("session: load pairing: %w", err))
	}
	if err := req.Verify(pairing.Operator.Sign); err != nil {
		return false, h.failLocked(ctx, audit.AuthFailure, err)
	}
	if skew := now.Sub(req.Timestamp).Abs(); skew > h.config.MaxClockSkew {
		return false, h.failLocked(ctx, audit.AuthFailure, ErrStale)
	}
	if err := h.config.Policy.CheckTimeRestrictions(now); err != nil {
		return false, h.failLocked(ctx, audit.PolicyViolation, err)
	}
	if _, err := h.config.Policy.ValidatePermissions(req.Permissions, pairing.Permissions); err != nil {
		return false, h.failLocked(ctx, audit.PolicyViolation, err)
	}

	consentRequired = h.config.Policy.RequiresConsent(req.OperatorID, pairing.Permissions)
	h.state = &hostPending{
		awaitingConsent: consentRequired,
		req:             req,
		pairing:         pairing,
		since:           now,
	}
	if h.log != nil {
		h.log.Infof("session %s: request from %s for %s, consent=%v", req.SessionID, req.OperatorID.Short(), req.Permissions, consentRequired)
	}
	return consentRequired, nil
}

// RequestConsent asks the consent handler and then approves or denies.
// The handler runs without the host lock held, bounded by ConsentTimeout.
func (h *Host) RequestConsent(ctx context.Context) (*InitResponse, error) {
	h.mu.Lock()
	s, ok := h.state.(*hostPending)
	if !ok || !s.awaitingConsent {
		h.mu.Unlock()
		return nil, ErrInvalidState
	}
	req := consent.Request{
		Kind:        consent.KindSession,
		OperatorID:  s.req.OperatorID,
		Permissions: s.req.Permissions.Intersect(s.pairing.Permissions),
	}
	handler := h.config.Consent
	h.mu.Unlock()

	if handler == nil {
		return nil, h.deny(ctx, "no consent handler", ErrConsentDenied)
	}

	cctx, cancel := context.WithTimeout(ctx, h.config.ConsentTimeout)
	defer cancel()
	decision, err := handler.Decide(cctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		return nil, h.deny(ctx, "consent failed", err)
	}
	if !decision.Approved {
		return nil, h.deny(ctx, "denied by user", ErrConsentDenied)
	}
	return h.Approve(ctx, decision.Permissions)
}

// Approve issues the ticket. The grant is the request clamped to the
// pairing ceiling, further narrowed by granted when non-zero. It returns
// the signed response for the operator and moves to Negotiating.
func (h *Host) Approve(ctx context.Context, granted acl.Permission) (*InitResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.state.(*hostPending)
	if !ok {
		return nil, ErrInvalidState
	}
	now := h.config.Clock.Now()

	perms, err := h.config.Policy.ValidatePermissions(s.req.Permissions, s.pairing.Permissions)
	if err != nil {
		return nil, h.failLocked(ctx, audit.PolicyViolation, err)
	}
	if granted != acl.PermNone {
		perms = perms.Intersect(granted)
	}
	if perms.IsEmpty() {
		return nil, h.endLocked(ctx, audit.SessionDenied, "nothing granted", ErrConsentDenied)
	}

	answer, err := h.config.Negotiator.Answer(s.req.Transports)
	if err != nil {
		return nil, h.failLocked(ctx, "", err)
	}

	eph, err := identity.GenerateEphemeral()
	if err != nil {
		return nil, h.failLocked(ctx, "", err)
	}
	defer eph.Destroy()

	binding := ticket.ComputeBinding(ticket.BindingInput{
		SessionID:           s.req.SessionID,
		OperatorID:          s.req.OperatorID,
		DeviceID:            s.req.DeviceID,
		ControllerEphemeral: s.req.ControllerEphemeral,
		HostEphemeral:       eph.Public,
		RequestNonce:        s.req.Nonce[:],
	})
	tk := &ticket.Ticket{
		TicketID:       uuid.New(),
		SessionID:      s.req.SessionID,
		OperatorID:     s.req.OperatorID,
		DeviceID:       s.req.DeviceID,
		Permissions:    perms,
		IssuedAt:       now,
		ExpiresAt:      now.Add(h.config.TicketLifetime),
		SessionBinding: binding,
	}
	if err := ticket.Sign(tk, h.config.Device); err != nil {
		return nil, h.failLocked(ctx, "", err)
	}

	shared, err := eph.Exchange(s.req.ControllerEphemeral)
	if err != nil {
		return nil, h.failLocked(ctx, audit.AuthFailure, err)
	}
	keys, err := DeriveKeys(binding, tk.TicketID, shared, RoleHost, nil)
	crypto.Wipe(shared[:])
	if err != nil {
		return nil, h.failLocked(ctx, "", err)
	}

	if h.config.Tickets != nil {
		if err := h.config.Tickets.SaveTicket(ctx, tk); err != nil {
			keys.Destroy()
			return nil, h.failLocked(ctx, "", fmt.Errorf("session: save ticket: %w", err))
		}
	}

	resp := &InitResponse{
		SessionID:     s.req.SessionID,
		RequestNonce:  s.req.Nonce,
		Ticket:        tk.Clone(),
		HostEphemeral: eph.Public,
		Transports:    answer,
	}
	if err := resp.Sign(h.config.Device); err != nil {
		keys.Destroy()
		return nil, h.failLocked(ctx, "", err)
	}

	h.state = &hostLive{
		req:     s.req,
		pairing: s.pairing,
		ticket:  tk,
		keys:    keys,
		since:   now,
	}
	if h.log != nil {
		h.log.Infof("session %s: approved %s until %s", s.req.SessionID, perms, tk.ExpiresAt.Format(time.RFC3339))
	}
	return resp, nil
}

// Deny ends a pending request. The operator learns of it through an
// error report carrying ErrConsentDenied.
func (h *Host) Deny(ctx context.Context, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.state.(*hostPending); !ok {
		return ErrInvalidState
	}
	h.endLocked(ctx, audit.SessionDenied, reason, ErrConsentDenied)
	return nil
}

func (h *Host) deny(ctx context.Context, reason string, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.state.(*hostPending); !ok {
		// Ended or approved while the handler ran.
		return ErrInvalidState
	}
	return h.endLocked(ctx, audit.SessionDenied, reason, err)
}

// TransportConnected is the transport layer's signal that the operator is
// reachable. Negotiating becomes Active and the pairing's last-session
// time is updated.
func (h *Host) TransportConnected(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.state.(*hostLive)
	if !ok || s.active {
		return ErrInvalidState
	}
	now := h.config.Clock.Now()
	s.active = true
	s.since = now
	if !s.startedAt.IsZero() {
		// Resumed.
		return nil
	}
	s.startedAt = now

	if err := h.config.Pairings.TouchPairing(ctx, s.req.OperatorID, now); err != nil && h.log != nil {
		h.log.Warnf("session %s: touch pairing: %v", s.req.SessionID, err)
	}
	h.config.Audit.Record(ctx, audit.Event{
		Type:        audit.SessionStarted,
		PeerID:      s.req.OperatorID,
		SessionID:   s.req.SessionID,
		Permissions: s.ticket.Permissions,
	})
	if h.log != nil {
		h.log.Infof("session %s: active", s.req.SessionID)
	}
	return nil
}

// HandleRenewal issues a replacement ticket with a new id and expiry. The
// binding and the derived keys stay as they are.
func (h *Host) HandleRenewal(ctx context.Context, req *RenewRequest) (*RenewResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.state.(*hostLive)
	if !ok || !s.active {
		return nil, ErrInvalidState
	}
	if req.SessionID != h.sessionID {
		return nil, ErrSessionMismatch
	}
	if req.TicketID != s.ticket.TicketID {
		return nil, ErrTicketMismatch
	}
	now := h.config.Clock.Now()
	if now.Sub(req.Timestamp).Abs() > h.config.MaxClockSkew {
		return nil, ErrStale
	}
	if err := h.checkRevokedLocked(ctx, s.ticket.TicketID); err != nil {
		return nil, h.failLocked(ctx, "", err)
	}
	if err := h.config.Policy.CheckTimeRestrictions(now); err != nil {
		return nil, h.failLocked(ctx, audit.PolicyViolation, err)
	}

	next := s.ticket.Clone()
	next.TicketID = uuid.New()
	next.IssuedAt = now
	next.ExpiresAt = now.Add(h.config.TicketLifetime)
	if err := ticket.Sign(next, h.config.Device); err != nil {
		return nil, err
	}
	if h.config.Tickets != nil {
		if err := h.config.Tickets.SaveTicket(ctx, next); err != nil {
			return nil, fmt.Errorf("session: save ticket: %w", err)
		}
		if err := h.config.Tickets.DeleteTicket(ctx, s.ticket.TicketID); err != nil && h.log != nil {
			h.log.Warnf("session %s: delete old ticket: %v", h.sessionID, err)
		}
	}
	s.ticket = next

	h.config.Audit.Record(ctx, audit.Event{
		Type:        audit.TicketRenewed,
		PeerID:      s.req.OperatorID,
		SessionID:   h.sessionID,
		Permissions: next.Permissions,
	})
	return &RenewResponse{SessionID: h.sessionID, Ticket: next.Clone()}, nil
}

// HandleResume re-keys a session whose transport dropped. The ticket must
// still be valid; keys are re-derived from the original binding and a
// fresh ephemeral exchange, and the session returns to Negotiating.
func (h *Host) HandleResume(ctx context.Context, req *ResumeRequest) (*ResumeResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.state.(*hostLive)
	if !ok {
		return nil, ErrInvalidState
	}
	if req.SessionID != h.sessionID {
		return nil, ErrSessionMismatch
	}
	if req.TicketID != s.ticket.TicketID {
		return nil, ErrTicketMismatch
	}
	if err := req.Verify(s.pairing.Operator.Sign); err != nil {
		h.config.Audit.Record(ctx, audit.Event{Type: audit.AuthFailure, PeerID: s.req.OperatorID, SessionID: h.sessionID, Reason: err.Error()})
		return nil, err
	}
	now := h.config.Clock.Now()
	if now.Sub(req.Timestamp).Abs() > h.config.MaxClockSkew {
		return nil, ErrStale
	}
	if s.ticket.Expired(now) {
		return nil, h.failLocked(ctx, "", ticket.ErrTicketExpired)
	}
	if err := h.checkRevokedLocked(ctx, s.ticket.TicketID); err != nil {
		return nil, h.failLocked(ctx, "", err)
	}

	answer, err := h.config.Negotiator.Answer(req.Transports)
	if err != nil {
		return nil, h.failLocked(ctx, "", err)
	}
	eph, err := identity.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	defer eph.Destroy()
	shared, err := eph.Exchange(req.ControllerEphemeral)
	if err != nil {
		return nil, h.failLocked(ctx, audit.AuthFailure, err)
	}
	keys, err := DeriveKeys(s.ticket.SessionBinding, s.ticket.TicketID, shared, RoleHost, nil)
	crypto.Wipe(shared[:])
	if err != nil {
		return nil, err
	}

	resp := &ResumeResponse{
		SessionID:     h.sessionID,
		TicketID:      s.ticket.TicketID,
		RequestNonce:  req.Nonce,
		HostEphemeral: eph.Public,
		Transports:    answer,
	}
	if err := resp.Sign(h.config.Device); err != nil {
		keys.Destroy()
		return nil, err
	}

	s.keys.Destroy()
	s.keys = keys
	s.active = false
	s.since = now
	if h.log != nil {
		h.log.Infof("session %s: resumed, re-keyed", h.sessionID)
	}
	return resp, nil
}

// Seal encrypts plaintext for the operator on ch.
func (h *Host) Seal(ch Channel, plaintext []byte) (*ControlMsg, error) {
	keys, sid, err := h.activeKeys(ch)
	if err != nil {
		return nil, err
	}
	return SealMessage(keys, sid, ch, plaintext)
}

// Open decrypts a message from the operator.
func (h *Host) Open(m *ControlMsg) ([]byte, error) {
	keys, sid, err := h.activeKeys(m.Channel)
	if err != nil {
		return nil, err
	}
	return OpenMessage(keys, sid, m)
}

func (h *Host) activeKeys(ch Channel) (*Keys, uuid.UUID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.state.(*hostLive)
	if !ok || !s.active {
		return nil, uuid.Nil, ErrInvalidState
	}
	if !s.ticket.Permissions.Has(ChannelPermission(ch)) {
		return nil, uuid.Nil, ErrChannelNotPermitted
	}
	if s.ticket.Expired(h.config.Clock.Now()) {
		return nil, uuid.Nil, ticket.ErrTicketExpired
	}
	return s.keys, h.sessionID, nil
}

// EndSession ends the session from any non-terminal state and zeroizes
// its keys. It returns the notice to send to the operator.
func (h *Host) EndSession(ctx context.Context, reason string) (*End, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.state.(*hostEnded); ok {
		return nil, ErrEnded
	}
	h.endLocked(ctx, audit.SessionEnded, reason, nil)
	return &End{SessionID: h.sessionID, Reason: reason}, nil
}

// HandleEnd processes the operator's end notice.
func (h *Host) HandleEnd(ctx context.Context, msg *End) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.SessionID != h.sessionID {
		return ErrSessionMismatch
	}
	if _, ok := h.state.(*hostEnded); ok {
		return nil
	}
	h.endLocked(ctx, audit.SessionEnded, "peer: "+msg.Reason, nil)
	return nil
}

// Revoke ends the session and marks its ticket revoked until it would
// have expired.
func (h *Host) Revoke(ctx context.Context) (*End, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.state.(*hostLive)
	if !ok {
		return nil, ErrInvalidState
	}
	if h.config.Tickets != nil {
		if err := h.config.Tickets.RevokeTicket(ctx, s.ticket.TicketID, s.ticket.ExpiresAt); err != nil {
			return nil, fmt.Errorf("session: revoke ticket: %w", err)
		}
	}
	h.config.Audit.Record(ctx, audit.Event{
		Type:      audit.TicketRevoked,
		PeerID:    s.req.OperatorID,
		SessionID: h.sessionID,
	})
	h.endLocked(ctx, audit.SessionEnded, "ticket revoked", ticket.ErrRevoked)
	return &End{SessionID: h.sessionID, Reason: "ticket revoked"}, nil
}

// Tick enforces timeouts and ticket expiry. It returns true if the
// session ended during this call.
func (h *Host) Tick(ctx context.Context, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch s := h.state.(type) {
	case *hostPending:
		if now.Sub(s.since) >= h.config.ConsentTimeout {
			h.endLocked(ctx, audit.SessionDenied, "consent timeout", ErrTimeout)
			return true
		}
	case *hostLive:
		if s.ticket.Expired(now) {
			h.endLocked(ctx, audit.SessionEnded, "ticket expired", ticket.ErrTicketExpired)
			return true
		}
		if !s.active && now.Sub(s.since) >= h.config.ConnectTimeout {
			h.endLocked(ctx, audit.SessionEnded, "connect timeout", ErrTimeout)
			return true
		}
	}
	return false
}

func (h *Host) checkRevokedLocked(ctx context.Context, id uuid.UUID) error {
	if h.config.Tickets == nil {
		return nil
	}
	revoked, err := h.config.Tickets.IsRevoked(ctx, id)
	if err != nil {
		return fmt.Errorf("session: revocation check: %w", err)
	}
	if revoked {
		return ticket.ErrRevoked
	}
	return nil
}

// failLocked ends the session because of err, auditing it under t when t
// is set, and returns err.
func (h *Host) failLocked(ctx context.Context, t audit.Type, err error) error {
	if t == "" {
		t = audit.SessionEnded
	}
	return h.endLocked(ctx, t, err.Error(), err)
}

// endLocked moves to Ended, zeroizing any keys, and returns err.
func (h *Host) endLocked(ctx context.Context, t audit.Type, reason string, err error) error {
	operator := h.requester
	var perms acl.Permission
	switch s := h.state.(type) {
	case *hostEnded:
		return err
	case *hostPending:
		operator = s.req.OperatorID
	case *hostLive:
		operator = s.req.OperatorID
		perms = s.ticket.Permissions
		s.keys.Destroy()
	}
	h.state = &hostEnded{reason: reason, err: err}

	h.config.Audit.Record(ctx, audit.Event{
		Type:        t,
		PeerID:      operator,
		SessionID:   h.sessionID,
		Permissions: perms,
		Reason:      reason,
	})
	if h.log != nil {
		if err != nil {
			h.log.Warnf("session %s: ended: %s: %v", h.sessionID, reason, err)
		} else {
			h.log.Infof("session %s: ended: %s", h.sessionID, reason)
		}
	}
	return err
}
