package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/audit"
	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/crypto"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/status"
	"github.com/backkem/trustlink/pkg/store"
	"github.com/backkem/trustlink/pkg/ticket"
	"github.com/backkem/trustlink/pkg/transport"
)

// Controller defaults.
const (
	DefaultRenewBefore     = time.Minute
	DefaultResponseTimeout = DefaultConsentTimeout + 30*time.Second
)

// ControllerConfig configures a session Controller.
type ControllerConfig struct {
	// Operator is the local identity. Required.
	Operator *identity.Identity

	// Pairings supplies the pinned device key. Required.
	Pairings store.PairingStore

	// Negotiator builds the transport offer and connection plan. Default:
	// one supporting every kind with no local candidates.
	Negotiator *transport.Negotiator

	// Audit receives lifecycle events. Optional.
	Audit *audit.Recorder

	// RenewBefore is how long before expiry NeedsRenewal turns true.
	// Default: DefaultRenewBefore.
	RenewBefore time.Duration

	// ResponseTimeout bounds RequestSent. It covers the device's consent
	// prompt. Default: DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// ConnectTimeout bounds TicketReceived and Connecting.
	// Default: DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory

	// rand is the nonce source; tests may replace it.
	rand io.Reader
}

func (c *ControllerConfig) applyDefaults() {
	if c.RenewBefore <= 0 {
		c.RenewBefore = DefaultRenewBefore
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Negotiator == nil {
		c.Negotiator = transport.NewNegotiator(transport.NegotiatorConfig{})
	}
	if c.rand == nil {
		c.rand = rand.Reader
	}
	c.Clock = clock.OrReal(c.Clock)
}

type (
	ctrlState interface{ kind() State }

	ctrlIdle struct{}

	ctrlRequested struct {
		req     *InitRequest
		eph     *identity.EphemeralKey
		pairing *store.Pairing
		since   time.Time
	}

	// ctrlLive covers TicketReceived, Connecting and Active, plus the
	// RequestSent phase of a resume.
	ctrlLive struct {
		phase     State
		req       *InitRequest
		pairing   *store.Pairing
		ticket    *ticket.Ticket
		keys      *Keys
		plan      *transport.Plan
		since     time.Time
		startedAt time.Time
		renewal   *RenewRequest
		resume    *ResumeRequest
		resumeEph *identity.EphemeralKey
	}

	ctrlEnded struct {
		reason string
		err    error
	}
)

func (ctrlIdle) kind() State { return StateIdle }
func (*ctrlRequested) kind() State { return StateRequestSent }
func (s *ctrlLive) kind() State { return s.phase }
func (*ctrlEnded) kind() State { return StateEnded }

// Controller is the operator side of one session.
type Controller struct {
	config ControllerConfig
	log    logging.LeveledLogger

	mu        sync.Mutex
	sessionID uuid.UUID
	state     ctrlState
}

// NewController creates a Controller in Idle.
func NewController(config ControllerConfig) (*Controller, error) {
	if config.Operator == nil || config.Pairings == nil {
		return nil, errors.New("session: controller requires Operator and Pairings")
	}
	config.applyDefaults()
	c := &Controller{config: config, state: ctrlIdle{}}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("session-controller")
	}
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.kind()
}

// SessionID returns the session id, or uuid.Nil before Start.
func (c *Controller) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// DeviceID returns the target device, if started.
func (c *Controller) DeviceID() identity.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s := c.state.(type) {
	case *ctrlRequested:
		return s.req.DeviceID
	case *ctrlLive:
		return s.req.DeviceID
	}
	return identity.ID{}
}

// Ticket returns a copy of the current ticket, or nil.
func (c *Controller) Ticket() *ticket.Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state.(*ctrlLive); ok {
		return s.ticket.Clone()
	}
	return nil
}

// Keys returns the session keys once a ticket has been accepted.
func (c *Controller) Keys() *Keys {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state.(*ctrlLive); ok {
		return s.keys
	}
	return nil
}

// Err returns the error that ended the session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state.(*ctrlEnded); ok {
		return s.err
	}
	return nil
}

// Start builds and signs a SessionInitRequest to a paired device.
func (c *Controller) Start(ctx context.Context, device identity.ID, requested acl.Permission) (*InitRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(ctrlIdle); !ok {
		return nil, ErrInvalidState
	}
	pairing, err := c.config.Pairings.GetPairing(ctx, device)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotPaired
	}
	if err != nil {
		return nil, fmt.Errorf("session: load pairing: %w", err)
	}

	eph, err := identity.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	req := &InitRequest{
		SessionID:           uuid.New(),
		OperatorID:          c.config.Operator.ID(),
		DeviceID:            device,
		Permissions:         requested,
		ControllerEphemeral: eph.Public,
		Timestamp:           c.config.Clock.Now(),
		Transports:          c.config.Negotiator.Offer(),
	}
	if _, err := io.ReadFull(c.config.rand, req.Nonce[:]); err != nil {
		eph.Destroy()
		return nil, err
	}
	if err := req.Sign(c.config.Operator); err != nil {
		eph.Destroy()
		return nil, err
	}

	c.sessionID = req.SessionID
	c.state = &ctrlRequested{req: req, eph: eph, pairing: pairing, since: c.config.Clock.Now()}
	if c.log != nil {
		c.log.Infof("session %s: requesting %s from %s", req.SessionID, requested, device.Short())
	}
	return req, nil
}

// HandleResponse verifies the device's signature over the response before
// looking at the ticket, then checks the ticket against the locally
// computed binding and the permission ceiling, derives the session keys
// and builds the connection plan. Extra candidates, such as LAN
// addresses found by discovery, join the plan. Any failure ends the
// session.
func (c *Controller) HandleResponse(ctx context.Context, resp *InitResponse, extra ...transport.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.state.(*ctrlRequested)
	if !ok {
		return ErrInvalidState
	}
	if resp.SessionID != c.sessionID || resp.RequestNonce != s.req.Nonce {
		return c.failLocked(ctx, audit.AuthFailure, ErrSessionMismatch)
	}
	devicePub := s.pairing.Device.Sign
	if err := resp.Verify(devicePub); err != nil {
		return c.failLocked(ctx, audit.AuthFailure, err)
	}

	binding := ticket.ComputeBinding(ticket.BindingInput{
		SessionID:           s.req.SessionID,
		OperatorID:          s.req.OperatorID,
		DeviceID:            s.req.DeviceID,
		ControllerEphemeral: s.req.ControllerEphemeral,
		HostEphemeral:       resp.HostEphemeral,
		RequestNonce:        s.req.Nonce[:],
	})
	now := c.config.Clock.Now()
	tk := resp.Ticket
	if tk == nil {
		return c.failLocked(ctx, "", ErrMalformed)
	}
	if err := ticket.Verify(tk, devicePub, binding, now); err != nil {
		return c.failLocked(ctx, audit.AuthFailure, err)
	}
	if tk.SessionID != s.req.SessionID || tk.OperatorID != s.req.OperatorID {
		return c.failLocked(ctx, audit.AuthFailure, ErrSessionMismatch)
	}
	ceiling := s.pairing.Permissions.Intersect(s.req.Permissions)
	if tk.Permissions.IsEmpty() || !tk.Permissions.IsSubsetOf(ceiling) {
		return c.failLocked(ctx, audit.PolicyViolation, ErrPermissionCeiling)
	}

	shared, err := s.eph.Exchange(resp.HostEphemeral)
	s.eph.Destroy()
	if err != nil {
		return c.failLocked(ctx, audit.AuthFailure, err)
	}
	keys, err := DeriveKeys(binding, tk.TicketID, shared, RoleController, nil)
	crypto.Wipe(shared[:])
	if err != nil {
		return c.failLocked(ctx, "", err)
	}
	plan, err := c.config.Negotiator.Plan(resp.Transports, extra...)
	if err != nil {
		keys.Destroy()
		return c.failLocked(ctx, "", err)
	}

	c.state = &ctrlLive{
		phase:   StateTicketReceived,
		req:     s.req,
		pairing: s.pairing,
		ticket:  tk.Clone(),
		keys:    keys,
		plan:    plan,
		since:   now,
	}
	if c.log != nil {
		c.log.Infof("session %s: ticket %s grants %s", c.sessionID, tk.TicketID, tk.Permissions)
	}
	return nil
}

// HandleError ends the session with the device's error report.
func (c *Controller) HandleError(ctx context.Context, report status.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.(*ctrlEnded); ok {
		return ErrEnded
	}
	err := report.Err()
	c.endLocked(ctx, "remote error", err)
	return err
}

// Connect returns the transport candidate to try and moves to Connecting.
func (c *Controller) Connect() (transport.Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || (s.phase != StateTicketReceived && s.phase != StateConnecting) {
		return transport.Candidate{}, ErrInvalidState
	}
	cand, err := s.plan.Current()
	if err != nil {
		return transport.Candidate{}, c.failLocked(context.Background(), "", err)
	}
	if s.phase != StateConnecting {
		s.phase = StateConnecting
		s.since = c.config.Clock.Now()
	}
	return cand, nil
}

// ConnectFailed reports that the current candidate could not be reached
// and returns the next one in ladder order. An exhausted plan ends the
// session.
func (c *Controller) ConnectFailed(ctx context.Context) (transport.Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || s.phase != StateConnecting {
		return transport.Candidate{}, ErrInvalidState
	}
	cand, err := s.plan.Reject()
	if err != nil {
		return transport.Candidate{}, c.failLocked(ctx, "", err)
	}
	if c.log != nil {
		c.log.Debugf("session %s: falling back to %s", c.sessionID, cand.Kind)
	}
	return cand, nil
}

// TransportConnected moves Connecting to Active.
func (c *Controller) TransportConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || s.phase != StateConnecting {
		return ErrInvalidState
	}
	now := c.config.Clock.Now()
	s.phase = StateActive
	s.since = now
	if !s.startedAt.IsZero() {
		return nil
	}
	s.startedAt = now
	if err := c.config.Pairings.TouchPairing(ctx, s.req.DeviceID, now); err != nil && c.log != nil {
		c.log.Warnf("session %s: touch pairing: %v", c.sessionID, err)
	}
	c.config.Audit.Record(ctx, audit.Event{
		Type:        audit.SessionStarted,
		PeerID:      s.req.DeviceID,
		SessionID:   c.sessionID,
		Permissions: s.ticket.Permissions,
	})
	return nil
}

// NeedsRenewal reports whether the ticket is within RenewBefore of
// expiry and no renewal is outstanding.
func (c *Controller) NeedsRenewal(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || s.phase != StateActive || s.renewal != nil {
		return false
	}
	return s.ticket.Remaining(now) <= c.config.RenewBefore
}

// RenewalRequest builds a RenewRequest for the current ticket.
func (c *Controller) RenewalRequest() (*RenewRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || s.phase != StateActive {
		return nil, ErrInvalidState
	}
	req := &RenewRequest{
		SessionID: c.sessionID,
		TicketID:  s.ticket.TicketID,
		Timestamp: c.config.Clock.Now().Truncate(time.Millisecond),
	}
	if _, err := io.ReadFull(c.config.rand, req.Nonce[:]); err != nil {
		return nil, err
	}
	s.renewal = req
	return req, nil
}

// HandleRenewal accepts a replacement ticket. It must verify against the
// session's binding and may not widen the current grant.
func (c *Controller) HandleRenewal(ctx context.Context, resp *RenewResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || s.phase != StateActive || s.renewal == nil {
		return ErrInvalidState
	}
	if resp.SessionID != c.sessionID {
		return ErrSessionMismatch
	}
	tk := resp.Ticket
	if tk == nil {
		return ErrMalformed
	}
	now := c.config.Clock.Now()
	if err := ticket.Verify(tk, s.pairing.Device.Sign, s.ticket.SessionBinding, now); err != nil {
		c.config.Audit.Record(ctx, audit.Event{Type: audit.AuthFailure, PeerID: s.req.DeviceID, SessionID: c.sessionID, Reason: err.Error()})
		return err
	}
	if tk.SessionID != c.sessionID || !tk.Permissions.IsSubsetOf(s.ticket.Permissions) {
		return ErrPermissionCeiling
	}
	s.ticket = tk.Clone()
	s.renewal = nil
	c.config.Audit.Record(ctx, audit.Event{
		Type:        audit.TicketRenewed,
		PeerID:      s.req.DeviceID,
		SessionID:   c.sessionID,
		Permissions: tk.Permissions,
	})
	if c.log != nil {
		c.log.Debugf("session %s: ticket renewed until %s", c.sessionID, tk.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// TransportLost handles an unexpected disconnect. With a still-valid
// ticket it returns a signed ResumeRequest and waits for the device;
// otherwise the session ends.
func (c *Controller) TransportLost(ctx context.Context) (*ResumeRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || (s.phase != StateActive && s.phase != StateConnecting) {
		return nil, ErrInvalidState
	}
	now := c.config.Clock.Now()
	if s.ticket.Expired(now) {
		return nil, c.failLocked(ctx, "", ticket.ErrTicketExpired)
	}

	eph, err := identity.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	req := &ResumeRequest{
		SessionID:           c.sessionID,
		TicketID:            s.ticket.TicketID,
		ControllerEphemeral: eph.Public,
		Timestamp:           now,
		Transports:          c.config.Negotiator.Offer(),
	}
	if _, err := io.ReadFull(c.config.rand, req.Nonce[:]); err != nil {
		eph.Destroy()
		return nil, err
	}
	if err := req.Sign(c.config.Operator); err != nil {
		eph.Destroy()
		return nil, err
	}

	if s.resumeEph != nil {
		s.resumeEph.Destroy()
	}
	s.resume = req
	s.resumeEph = eph
	s.renewal = nil
	s.phase = StateRequestSent
	s.since = now
	if c.log != nil {
		c.log.Infof("session %s: transport lost, resuming with ticket %s", c.sessionID, s.ticket.TicketID)
	}
	return req, nil
}

// HandleResumeResponse re-derives the session keys from the original
// binding and the fresh exchange and returns to TicketReceived.
func (c *Controller) HandleResumeResponse(ctx context.Context, resp *ResumeResponse, extra ...transport.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || s.phase != StateRequestSent || s.resume == nil {
		return ErrInvalidState
	}
	if resp.SessionID != c.sessionID || resp.TicketID != s.ticket.TicketID || resp.RequestNonce != s.resume.Nonce {
		return c.failLocked(ctx, audit.AuthFailure, ErrSessionMismatch)
	}
	if err := resp.Verify(s.pairing.Device.Sign); err != nil {
		return c.failLocked(ctx, audit.AuthFailure, err)
	}
	shared, err := s.resumeEph.Exchange(resp.HostEphemeral)
	s.resumeEph.Destroy()
	s.resumeEph = nil
	if err != nil {
		return c.failLocked(ctx, audit.AuthFailure, err)
	}
	keys, err := DeriveKeys(s.ticket.SessionBinding, s.ticket.TicketID, shared, RoleController, nil)
	crypto.Wipe(shared[:])
	if err != nil {
		return c.failLocked(ctx, "", err)
	}
	plan, err := c.config.Negotiator.Plan(resp.Transports, extra...)
	if err != nil {
		keys.Destroy()
		return c.failLocked(ctx, "", err)
	}

	s.keys.Destroy()
	s.keys = keys
	s.plan = plan
	s.resume = nil
	s.phase = StateTicketReceived
	s.since = c.config.Clock.Now()
	return nil
}

// Seal encrypts plaintext for the device on ch.
func (c *Controller) Seal(ch Channel, plaintext []byte) (*ControlMsg, error) {
	keys, sid, err := c.activeKeys(ch)
	if err != nil {
		return nil, err
	}
	return SealMessage(keys, sid, ch, plaintext)
}

// Open decrypts a message from the device.
func (c *Controller) Open(m *ControlMsg) ([]byte, error) {
	keys, sid, err := c.activeKeys(m.Channel)
	if err != nil {
		return nil, err
	}
	return OpenMessage(keys, sid, m)
}

func (c *Controller) activeKeys(ch Channel) (*Keys, uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(*ctrlLive)
	if !ok || s.phase != StateActive {
		return nil, uuid.Nil, ErrInvalidState
	}
	if !s.ticket.Permissions.Has(ChannelPermission(ch)) {
		return nil, uuid.Nil, ErrChannelNotPermitted
	}
	return s.keys, c.sessionID, nil
}

// EndSession ends the session from any non-terminal state and zeroizes
// keys. It returns the notice for the device, or nil before Start.
func (c *Controller) EndSession(ctx context.Context, reason string) (*End, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.(type) {
	case *ctrlEnded:
		return nil, ErrEnded
	case ctrlIdle:
		c.endLocked(ctx, reason, nil)
		return nil, nil
	}
	c.endLocked(ctx, reason, nil)
	return &End{SessionID: c.sessionID, Reason: reason}, nil
}

// HandleEnd processes the device's end notice.
func (c *Controller) HandleEnd(ctx context.Context, msg *End) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.SessionID != c.sessionID {
		return ErrSessionMismatch
	}
	if _, ok := c.state.(*ctrlEnded); ok {
		return nil
	}
	c.endLocked(ctx, "peer: "+msg.Reason, nil)
	return nil
}

// Tick enforces timeouts and ticket expiry. It returns true if the
// session ended during this call.
func (c *Controller) Tick(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s := c.state.(type) {
	case *ctrlRequested:
		if now.Sub(s.since) >= c.config.ResponseTimeout {
			c.failLocked(ctx, "", ErrTimeout)
			return true
		}
	case *ctrlLive:
		if s.ticket.Expired(now) {
			c.failLocked(ctx, "", ticket.ErrTicketExpired)
			return true
		}
		if s.phase != StateActive && now.Sub(s.since) >= c.config.ConnectTimeout {
			c.failLocked(ctx, "", ErrTimeout)
			return true
		}
	}
	return false
}

func (c *Controller) failLocked(ctx context.Context, t audit.Type, err error) error {
	if t != "" {
		c.config.Audit.Record(ctx, audit.Event{
			Type:      t,
			PeerID:    c.peerLocked(),
			SessionID: c.sessionID,
			Reason:    err.Error(),
		})
	}
	return c.endLocked(ctx, err.Error(), err)
}

func (c *Controller) peerLocked() identity.ID {
	switch s := c.state.(type) {
	case *ctrlRequested:
		return s.req.DeviceID
	case *ctrlLive:
		return s.req.DeviceID
	}
	return identity.ID{}
}

// endLocked moves to Ended, destroying keys and ephemerals, and returns err.
func (c *Controller) endLocked(ctx context.Context, reason string, err error) error {
	peer := c.peerLocked()
	switch s := c.state.(type) {
	case *ctrlEnded:
		return err
	case *ctrlRequested:
		s.eph.Destroy()
	case *ctrlLive:
		s.keys.Destroy()
		if s.resumeEph != nil {
			s.resumeEph.Destroy()
		}
	}
	c.state = &ctrlEnded{reason: reason, err: err}

	c.config.Audit.Record(ctx, audit.Event{
		Type:      audit.SessionEnded,
		PeerID:    peer,
		SessionID: c.sessionID,
		Reason:    reason,
	})
	if c.log != nil {
		if err != nil {
			c.log.Warnf("session %s: ended: %s", c.sessionID, reason)
		} else {
			c.log.Infof("session %s: ended: %s", c.sessionID, reason)
		}
	}
	return err
}
