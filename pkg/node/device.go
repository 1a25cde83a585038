package node

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
	"github.com/backkem/trustlink/pkg/discovery"
	"github.com/backkem/trustlink/pkg/dispatch"
	"github.com/backkem/trustlink/pkg/envelope"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/pairing"
	"github.com/backkem/trustlink/pkg/ratelimit"
	"github.com/backkem/trustlink/pkg/session"
	"github.com/backkem/trustlink/pkg/status"
	"github.com/backkem/trustlink/pkg/store"
	"github.com/backkem/trustlink/pkg/transport"
)

// DeviceConfig configures a Device.
type DeviceConfig struct {
	// Identity is the device identity. Required.
	Identity *identity.Identity

	// Store persists pairings, invites and tickets. Required.
	Store store.Store

	// Sender delivers replies. Required.
	Sender Sender

	// Policy decides consent, permission scope and time windows.
	// Required.
	Policy session.Policy

	// Consent is asked about pairings and about sessions that need it.
	// A nil handler rejects both.
	Consent consent.Handler

	// Limiter throttles failed pairing proofs and session
	// authentications per source. Default: a private limiter.
	Limiter *ratelimit.Limiter

	// AuditSink receives signed audit events. Optional.
	AuditSink audit.Sink

	// Negotiator provides invite hints and answers transport offers.
	// Optional.
	Negotiator *transport.Negotiator

	// Advertiser announces the device on the LAN. Optional.
	Advertiser *discovery.Advertiser

	// Label is a human-readable device name.
	Label string

	// InviteTTL is the default invite lifetime.
	// Default: pairing.DefaultInviteTTL.
	InviteTTL time.Duration

	// PairingTimeout bounds approval of a pairing request.
	// Default: pairing.DefaultTimeout.
	PairingTimeout time.Duration

	// TicketLifetime is the validity of issued tickets.
	// Default: session.DefaultTicketLifetime.
	TicketLifetime time.Duration

	// MaxSessions bounds concurrent sessions.
	// Default: session.DefaultMaxSessions.
	MaxSessions int

	// MaxClockSkew bounds envelope and request timestamps.
	// Default: dispatch.DefaultMaxSkew.
	MaxClockSkew time.Duration

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Validate checks required fields.
func (c *DeviceConfig) Validate() error {
	switch {
	case c.Identity == nil:
		return ErrIdentityRequired
	case c.Store == nil:
		return ErrStoreRequired
	case c.Sender == nil:
		return ErrSenderRequired
	case c.Policy == nil:
		return ErrPolicyRequired
	}
	return nil
}

func (c *DeviceConfig) applyDefaults() {
	if c.InviteTTL <= 0 {
		c.InviteTTL = pairing.DefaultInviteTTL
	}
	if c.MaxClockSkew <= 0 {
		c.MaxClockSkew = dispatch.DefaultMaxSkew
	}
	c.Clock = clock.OrReal(c.Clock)
	if c.Limiter == nil {
		c.Limiter = ratelimit.New(ratelimit.Config{Clock: c.Clock, LoggerFactory: c.LoggerFactory})
	}
}

// deviceSession is a hosted session and where its operator was last seen.
type deviceSession struct {
	host *session.Host

	mu     sync.Mutex
	source string
}

func (s *deviceSession) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

func (s *deviceSession) setAddr(source string) {
	s.mu.Lock()
	s.source = source
	s.mu.Unlock()
}

// Device is the controlled side. It issues invites, answers pairing
// requests and hosts sessions for paired operators.
type Device struct {
	*peer
	config   DeviceConfig
	sessions *session.Table[*deviceSession]

	// pairingMu guards the current pairing host. A host that reached
	// Paired is replaced on the next GenerateInvite.
	pairingMu sync.Mutex
	pairing   *pairing.Host
}

// NewDevice creates a Device.
func NewDevice(config DeviceConfig) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	d := &Device{
		peer:     newPeer(config.Identity, config.Store, config.Sender, config.AuditSink, config.Clock, config.LoggerFactory, "device"),
		config:   config,
		sessions: session.NewTable[*deviceSession](config.MaxSessions),
	}
	disp, err := dispatch.New(dispatch.Config{
		Local:         config.Identity,
		Resolver:      dispatch.KeyResolverFunc(d.resolvePeer),
		MaxSkew:       config.MaxClockSkew,
		Clock:         config.Clock,
		Audit:         d.audit,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	d.dispatcher = disp

	disp.Register(envelope.MsgPairRequest, dispatch.HandlerFunc(d.handlePairRequest))
	disp.Register(envelope.MsgSessionInitRequest, dispatch.HandlerFunc(d.handleInitRequest))
	disp.Register(envelope.MsgRenewRequest, dispatch.HandlerFunc(d.handleRenewRequest))
	disp.Register(envelope.MsgResumeRequest, dispatch.HandlerFunc(d.handleResumeRequest))
	disp.Register(envelope.MsgSessionEnd, dispatch.HandlerFunc(d.handleEnd))
	return d, nil
}

func (d *Device) resolvePeer(ctx context.Context, id identity.ID) (identity.PublicKeys, error) {
	p, err := d.records.GetPairing(ctx, id)
	if err != nil {
		return identity.PublicKeys{}, err
	}
	return p.Operator, nil
}

// GenerateInvite issues and publishes a new invite. A ttl of zero uses
// the configured InviteTTL. Only one invite is live at a time; call
// CancelPairing to abandon an outstanding one.
func (d *Device) GenerateInvite(ctx context.Context, ttl time.Duration) (*pairing.Invite, string, error) {
	if d.isClosed() {
		return nil, "", ErrClosed
	}
	if ttl <= 0 {
		ttl = d.config.InviteTTL
	}

	d.pairingMu.Lock()
	defer d.pairingMu.Unlock()

	host := d.pairing
	if host == nil || host.State() == pairing.HostPaired {
		var err error
		host, err = pairing.NewHost(pairing.HostConfig{
			Device:        d.local,
			Invites:       d.records,
			Pairings:      d.records,
			Limiter:       d.config.Limiter,
			Consent:       d.config.Consent,
			Negotiator:    d.config.Negotiator,
			Audit:         d.audit,
			Label:         d.config.Label,
			Timeout:       d.config.PairingTimeout,
			MaxClockSkew:  d.config.MaxClockSkew,
			Clock:         d.clock,
			LoggerFactory: d.config.LoggerFactory,
		})
		if err != nil {
			return nil, "", err
		}
	}
	inv, code, err := host.GenerateInvite(ctx, ttl)
	if err != nil {
		return nil, "", err
	}
	if err := host.Publish(); err != nil {
		return nil, "", err
	}
	d.pairing = host
	return inv, code, nil
}

// PairingHost returns the current pairing host, or nil.
func (d *Device) PairingHost() *pairing.Host {
	d.pairingMu.Lock()
	defer d.pairingMu.Unlock()
	return d.pairing
}

// CancelPairing abandons the current pairing attempt.
func (d *Device) CancelPairing(ctx context.Context) error {
	host := d.PairingHost()
	if host == nil {
		return ErrNoPairing
	}
	return host.Cancel(ctx)
}

func (d *Device) handlePairRequest(ctx context.Context, msg *dispatch.Message) error {
	req, err := pairing.UnmarshalPairRequest(msg.Payload)
	if err != nil {
		return err
	}
	if req.OperatorID != msg.SenderID || req.OperatorKeys.Sign != msg.SenderSignPub {
		return ErrSenderMismatch
	}
	host := d.PairingHost()
	if host == nil {
		d.sendError(ctx, msg.Source, req.OperatorKeys, uuid.Nil, msg.Type, pairing.ErrInvalidState)
		return ErrNoPairing
	}
	if err := host.HandleRequest(ctx, msg.Source, req); err != nil {
		d.sendError(ctx, msg.Source, req.OperatorKeys, uuid.Nil, msg.Type, err)
		return err
	}

	source := msg.Source
	d.async(func(ctx context.Context) {
		receipt, err := host.RequestApproval(ctx)
		if err != nil {
			d.sendError(ctx, source, req.OperatorKeys, uuid.Nil, envelope.MsgPairRequest, err)
			return
		}
		_ = d.send(ctx, source, req.OperatorKeys, envelope.MsgPairReceipt, receipt.Marshal())
	})
	return nil
}

func (d *Device) handleInitRequest(ctx context.Context, msg *dispatch.Message) error {
	req, err := session.UnmarshalInitRequest(msg.Payload)
	if err != nil {
		return err
	}
	if req.OperatorID != msg.SenderID {
		return ErrSenderMismatch
	}
	p, err := d.records.GetPairing(ctx, req.OperatorID)
	if err != nil {
		return err
	}
	operator := p.Operator

	res, err := d.config.Limiter.Reserve(msg.Source)
	if err != nil {
		d.audit.Record(ctx, audit.Event{
			Type:      audit.RateLimitBlocked,
			PeerID:    req.OperatorID,
			SessionID: req.SessionID,
			Source:    msg.Source,
			Reason:    "session request",
		})
		d.sendError(ctx, msg.Source, operator, req.SessionID, msg.Type, err)
		return err
	}

	host, err := session.NewHost(session.HostConfig{
		Device:         d.local,
		Pairings:       d.records,
		Tickets:        d.records,
		Policy:         d.config.Policy,
		Consent:        d.config.Consent,
		Negotiator:     d.config.Negotiator,
		Audit:          d.audit,
		TicketLifetime: d.config.TicketLifetime,
		MaxClockSkew:   d.config.MaxClockSkew,
		Clock:          d.clock,
		LoggerFactory:  d.config.LoggerFactory,
	})
	if err != nil {
		res.Release()
		return err
	}
	ds := &deviceSession{host: host, source: msg.Source}
	if err := d.sessions.Add(req.SessionID, ds); err != nil {
		res.Release()
		d.sendError(ctx, msg.Source, operator, req.SessionID, msg.Type, err)
		return err
	}

	consentRequired, err := host.HandleRequest(ctx, req)
	if err != nil {
		if status.KindOf(err) == status.KindAuth {
			res.Fail()
		} else {
			res.Release()
		}
		d.sessions.Remove(req.SessionID)
		d.sendError(ctx, msg.Source, operator, req.SessionID, msg.Type, err)
		return err
	}
	res.Release()

	if !consentRequired {
		resp, err := host.Approve(ctx, acl.PermNone)
		d.finishInit(ctx, ds, operator, req.SessionID, resp, err)
		return err
	}
	d.async(func(ctx context.Context) {
		resp, err := host.RequestConsent(ctx)
		d.finishInit(ctx, ds, operator, req.SessionID, resp, err)
	})
	return nil
}

func (d *Device) finishInit(ctx context.Context, ds *deviceSession, operator identity.PublicKeys, sid uuid.UUID, resp *session.InitResponse, err error) {
	if err != nil {
		d.sessions.Remove(sid)
		d.sendError(ctx, ds.addr(), operator, sid, envelope.MsgSessionInitRequest, err)
		return
	}
	_ = d.send(ctx, ds.addr(), operator, envelope.MsgSessionInitResponse, resp.Marshal())
}

// lookup finds the session and checks that sender is its operator.
func (d *Device) lookup(sid uuid.UUID, sender identity.ID) (*deviceSession, error) {
	ds, ok := d.sessions.Get(sid)
	if !ok {
		return nil, ErrUnknownSession
	}
	if ds.host.OperatorID() != sender {
		return nil, ErrSenderMismatch
	}
	return ds, nil
}

func (d *Device) operatorKeys(ctx context.Context, id identity.ID) (identity.PublicKeys, error) {
	return d.resolvePeer(ctx, id)
}

func (d *Device) handleRenewRequest(ctx context.Context, msg *dispatch.Message) error {
	req, err := session.UnmarshalRenewRequest(msg.Payload)
	if err != nil {
		return err
	}
	ds, err := d.lookup(req.SessionID, msg.SenderID)
	if err != nil {
		return err
	}
	operator, err := d.operatorKeys(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	resp, err := ds.host.HandleRenewal(ctx, req)
	if err != nil {
		if ds.host.State() == session.StateEnded {
			d.sessions.Remove(req.SessionID)
		}
		d.sendError(ctx, msg.Source, operator, req.SessionID, msg.Type, err)
		return err
	}
	return d.send(ctx, msg.Source, operator, envelope.MsgRenewResponse, resp.Marshal())
}

func (d *Device) handleResumeRequest(ctx context.Context, msg *dispatch.Message) error {
	req, err := session.UnmarshalResumeRequest(msg.Payload)
	if err != nil {
		return err
	}
	ds, err := d.lookup(req.SessionID, msg.SenderID)
	if err != nil {
		return err
	}
	operator, err := d.operatorKeys(ctx, msg.SenderID)
	if err != nil {
		return err
	}
	resp, err := ds.host.HandleResume(ctx, req)
	if err != nil {
		if ds.host.State() == session.StateEnded {
			d.sessions.Remove(req.SessionID)
		}
		d.sendError(ctx, msg.Source, operator, req.SessionID, msg.Type, err)
		return err
	}
	ds.setAddr(msg.Source)
	return d.send(ctx, msg.Source, operator, envelope.MsgResumeResponse, resp.Marshal())
}

func (d *Device) handleEnd(ctx context.Context, msg *dispatch.Message) error {
	end, err := session.UnmarshalEnd(msg.Payload)
	if err != nil {
		return err
	}
	ds, err := d.lookup(end.SessionID, msg.SenderID)
	if err != nil {
		return err
	}
	d.sessions.Remove(end.SessionID)
	return ds.host.HandleEnd(ctx, end)
}

// Session returns the host for a session.
func (d *Device) Session(sid uuid.UUID) (*session.Host, bool) {
	ds, ok := d.sessions.Get(sid)
	if !ok {
		return nil, false
	}
	return ds.host, true
}

// SessionCount returns the number of tracked sessions.
func (d *Device) SessionCount() int {
	return d.sessions.Count()
}

// TransportConnected reports that the operator of sid is reachable over
// the negotiated transport.
func (d *Device) TransportConnected(ctx context.Context, sid uuid.UUID) error {
	ds, ok := d.sessions.Get(sid)
	if !ok {
		return ErrUnknownSession
	}
	return ds.host.TransportConnected(ctx)
}

// EndSession ends a session and notifies the operator.
func (d *Device) EndSession(ctx context.Context, sid uuid.UUID, reason string) error {
	ds, ok := d.sessions.Get(sid)
	if !ok {
		return ErrUnknownSession
	}
	operatorID := ds.host.OperatorID()
	d.sessions.Remove(sid)
	end, err := ds.host.EndSession(ctx, reason)
	if err != nil {
		return err
	}
	return d.notifyEnd(ctx, ds, operatorID, end)
}

// RevokeTicket ends a session, marks its ticket revoked and notifies the
// operator.
func (d *Device) RevokeTicket(ctx context.Context, sid uuid.UUID) error {
	ds, ok := d.sessions.Get(sid)
	if !ok {
		return ErrUnknownSession
	}
	operatorID := ds.host.OperatorID()
	end, err := ds.host.Revoke(ctx)
	if err != nil {
		return err
	}
	d.sessions.Remove(sid)
	return d.notifyEnd(ctx, ds, operatorID, end)
}

// notifyEnd tells the operator a session is over. The session is already
// ended locally when it fails.
func (d *Device) notifyEnd(ctx context.Context, ds *deviceSession, operatorID identity.ID, end *session.End) error {
	operator, err := d.operatorKeys(ctx, operatorID)
	if err != nil {
		if d.log != nil {
			d.log.Warnf("session %s ended without notice to %s: %v", end.SessionID, operatorID.Short(), err)
		}
		return fmt.Errorf("notify session end: %w", err)
	}
	return d.send(ctx, ds.addr(), operator, envelope.MsgSessionEnd, end.Marshal())
}

// Unpair revokes the operator's live sessions and deletes its pairing.
// Later envelopes from the operator are dropped as unknown senders.
func (d *Device) Unpair(ctx context.Context, operator identity.ID) error {
	if _, err := d.records.GetPairing(ctx, operator); err != nil {
		return err
	}
	for _, ds := range d.sessions.Snapshot() {
		if ds.host.OperatorID() != operator {
			continue
		}
		sid := ds.host.SessionID()
		end, err := ds.host.Revoke(ctx)
		if errors.Is(err, session.ErrInvalidState) {
			end, err = ds.host.EndSession(ctx, "unpaired")
		}
		d.sessions.Remove(sid)
		if err == nil {
			_ = d.notifyEnd(ctx, ds, operator, end)
		}
	}
	if err := d.records.DeletePairing(ctx, operator); err != nil {
		return err
	}
	d.audit.Record(ctx, audit.Event{Type: audit.PairingRevoked, PeerID: operator})
	if d.log != nil {
		d.log.Infof("unpaired operator %s", operator.Short())
	}
	return nil
}

// Pairings lists the operators paired with this device.
func (d *Device) Pairings(ctx context.Context) ([]*store.Pairing, error) {
	return d.records.ListPairings(ctx)
}

// Advertise announces the device on the LAN. It fails when no Advertiser
// is configured.
func (d *Device) Advertise() error {
	if d.config.Advertiser == nil {
		return discovery.ErrNotStarted
	}
	return d.config.Advertiser.Start(discovery.TXT{DeviceID: d.ID(), Label: d.config.Label})
}

// Tick enforces pairing and session timeouts, drops ended sessions and
// prunes limiter entries, expired invites and lapsed revocations.
func (d *Device) Tick(ctx context.Context, now time.Time) {
	if host := d.PairingHost(); host != nil {
		host.Tick(ctx, now)
	}

	for _, ds := range d.sessions.Snapshot() {
		ds.host.Tick(ctx, now)
	}
	if n := d.sessions.RemoveIf(func(ds *deviceSession) bool {
		return ds.host.State() == session.StateEnded
	}); n > 0 && d.log != nil {
		d.log.Debugf("removed %d ended sessions", n)
	}

	d.config.Limiter.Prune()

	invites, err := d.records.ListInvites(ctx)
	if err == nil {
		for _, inv := range invites {
			if inv.Expired(now) {
				_ = d.records.DeleteInvite(ctx, inv.ID)
			}
		}
	} else if d.log != nil {
		d.log.Warnf("list invites: %v", err)
	}

	if _, err := d.records.PruneRevoked(ctx, now); err != nil && d.log != nil {
		d.log.Warnf("prune revocations: %v", err)
	}
}

// Run calls Tick every interval until ctx is done.
func (d *Device) Run(ctx context.Context, interval time.Duration) error {
	return run(ctx, interval, d.clock, d.Tick)
}

// Close ends every session, stops advertising and waits for background
// consent prompts to return.
func (d *Device) Close() error {
	if err := d.shutdown(); err != nil {
		return err
	}
	ctx := context.Background()
	for _, ds := range d.sessions.Snapshot() {
		if _, err := ds.host.EndSession(ctx, "device closed"); err == nil && d.log != nil {
			d.log.Debugf("session %s ended on close", ds.host.SessionID())
		}
	}
	d.sessions.RemoveIf(func(*deviceSession) bool { return true })
	if d.config.Advertiser != nil && d.config.Advertiser.IsAdvertising() {
		return d.config.Advertiser.Stop()
	}
	return nil
}
