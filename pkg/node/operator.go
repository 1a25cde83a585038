package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/audit"
	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/dispatch"
	"github.com/backkem/trustlink/pkg/envelope"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/pairing"
	"github.com/backkem/trustlink/pkg/session"
	"github.com/backkem/trustlink/pkg/store"
	"github.com/backkem/trustlink/pkg/transport"
)

// SASHandler shows the short authentication string to the user and
// reports whether it matches the one shown on the device.
type SASHandler interface {
	CompareSAS(ctx context.Context, device identity.ID, sas string) (bool, error)
}

// SASHandlerFunc adapts a function to SASHandler.
type SASHandlerFunc func(ctx context.Context, device identity.ID, sas string) (bool, error)

// CompareSAS calls f.
func (f SASHandlerFunc) CompareSAS(ctx context.Context, device identity.ID, sas string) (bool, error) {
	return f(ctx, device, sas)
}

// OperatorConfig configures an Operator.
type OperatorConfig struct {
	// Identity is the operator identity. Required.
	Identity *identity.Identity

	// Store persists pairings. Required.
	Store store.Store

	// Sender delivers requests. Required.
	Sender Sender

	// SAS compares pairing codes as soon as a receipt arrives. When nil
	// the caller confirms with ConfirmSAS or RejectSAS.
	SAS SASHandler

	// Resolver finds LAN addresses for paired devices. Optional.
	Resolver transport.DirectResolver

	// Negotiator builds transport offers. Optional.
	Negotiator *transport.Negotiator

	// AuditSink receives signed audit events. Optional.
	AuditSink audit.Sink

	// Label is a human-readable operator name sent with pairing requests.
	Label string

	// PairingTimeout bounds a pairing attempt after the request is sent.
	// Default: pairing.DefaultTimeout.
	PairingTimeout time.Duration

	// RenewBefore is how long before expiry tickets are renewed.
	// Default: session.DefaultRenewBefore.
	RenewBefore time.Duration

	// MaxSessions bounds concurrent sessions.
	// Default: session.DefaultMaxSessions.
	MaxSessions int

	// MaxClockSkew bounds envelope timestamps.
	// Default: dispatch.DefaultMaxSkew.
	MaxClockSkew time.Duration

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Validate checks required fields.
func (c *OperatorConfig) Validate() error {
	switch {
	case c.Identity == nil:
		return ErrIdentityRequired
	case c.Store == nil:
		return ErrStoreRequired
	case c.Sender == nil:
		return ErrSenderRequired
	}
	return nil
}

func (c *OperatorConfig) applyDefaults() {
	if c.MaxClockSkew <= 0 {
		c.MaxClockSkew = dispatch.DefaultMaxSkew
	}
	c.Clock = clock.OrReal(c.Clock)
}

type pendingPairing struct {
	ctrl *pairing.Controller
}

type operatorSession struct {
	ctrl   *session.Controller
	device identity.PublicKeys

	mu   sync.Mutex
	dest string
}

func (s *operatorSession) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dest
}

// Operator is the controlling side. It pairs with devices from invite
// codes and opens sessions to paired devices.
type Operator struct {
	*peer
	config   OperatorConfig
	sessions *session.Table[*operatorSession]

	pairingMu sync.Mutex
	pairings  map[identity.ID]*pendingPairing
}

// NewOperator creates an Operator.
func NewOperator(config OperatorConfig) (*Operator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	o := &Operator{
		peer:     newPeer(config.Identity, config.Store, config.Sender, config.AuditSink, config.Clock, config.LoggerFactory, "operator"),
		config:   config,
		sessions: session.NewTable[*operatorSession](config.MaxSessions),
		pairings: make(map[identity.ID]*pendingPairing),
	}
	disp, err := dispatch.New(dispatch.Config{
		Local:         config.Identity,
		Resolver:      dispatch.KeyResolverFunc(o.resolvePeer),
		Unpinned:      []envelope.MsgType{},
		MaxSkew:       config.MaxClockSkew,
		Clock:         config.Clock,
		Audit:         o.audit,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	o.dispatcher = disp

	disp.Register(envelope.MsgPairReceipt, dispatch.HandlerFunc(o.handlePairReceipt))
	disp.Register(envelope.MsgSessionInitResponse, dispatch.HandlerFunc(o.handleInitResponse))
	disp.Register(envelope.MsgRenewResponse, dispatch.HandlerFunc(o.handleRenewResponse))
	disp.Register(envelope.MsgResumeResponse, dispatch.HandlerFunc(o.handleResumeResponse))
	disp.Register(envelope.MsgSessionEnd, dispatch.HandlerFunc(o.handleEnd))
	disp.Register(envelope.MsgError, dispatch.HandlerFunc(o.handleError))
	return o, nil
}

// resolvePeer pins paired devices from the store and devices being
// paired from their invite.
func (o *Operator) resolvePeer(ctx context.Context, id identity.ID) (identity.PublicKeys, error) {
	p, err := o.records.GetPairing(ctx, id)
	if err == nil {
		return p.Device, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return identity.PublicKeys{}, err
	}
	if pp := o.pending(id); pp != nil {
		if inv := pp.ctrl.Invite(); inv != nil {
			return inv.DeviceKeys, nil
		}
	}
	return identity.PublicKeys{}, store.ErrNotFound
}

func (o *Operator) pending(device identity.ID) *pendingPairing {
	o.pairingMu.Lock()
	defer o.pairingMu.Unlock()
	return o.pairings[device]
}

// dialAddress picks where to send to a device: the first direct hint,
// then whatever the resolver finds.
func (o *Operator) dialAddress(ctx context.Context, device identity.ID, hints []transport.Candidate) (string, error) {
	for _, c := range hints {
		if c.Kind == transport.KindDirect && c.Address != "" {
			return c.Address, nil
		}
	}
	if o.config.Resolver == nil {
		return "", transport.ErrNoMutualTransport
	}
	cands, err := o.config.Resolver.ResolveDirect(ctx, device.String())
	if err != nil {
		return "", err
	}
	if len(cands) == 0 {
		return "", transport.ErrNoMutualTransport
	}
	return cands[0].Address, nil
}

// directCandidates returns LAN candidates for device, or nil.
func (o *Operator) directCandidates(ctx context.Context, device identity.ID) []transport.Candidate {
	if o.config.Resolver == nil {
		return nil
	}
	cands, err := o.config.Resolver.ResolveDirect(ctx, device.String())
	if err != nil {
		if o.log != nil {
			o.log.Debugf("resolve %s: %v", device.Short(), err)
		}
		return nil
	}
	return cands
}

// sessionCandidates adds the address the device answers envelopes on to
// its LAN candidates. It backs answers that name a kind but no endpoint.
func (o *Operator) sessionCandidates(ctx context.Context, sess *operatorSession, device identity.ID) []transport.Candidate {
	cands := o.directCandidates(ctx, device)
	if addr := sess.addr(); addr != "" {
		cands = append(cands, transport.Candidate{Kind: transport.KindDirect, Address: addr})
	}
	return cands
}

// Pair imports an invite code and sends a pairing request for perms. An
// empty addr is filled from the invite's direct hints or the resolver.
func (o *Operator) Pair(ctx context.Context, addr, code string, perms acl.Permission) (*pairing.Controller, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	ctrl, err := pairing.NewController(pairing.ControllerConfig{
		Operator:      o.local,
		Pairings:      o.records,
		Audit:         o.audit,
		Label:         o.config.Label,
		Timeout:       o.config.PairingTimeout,
		Clock:         o.clock,
		LoggerFactory: o.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	inv, err := ctrl.ImportInvite(code)
	if err != nil {
		return nil, err
	}
	if addr == "" {
		if addr, err = o.dialAddress(ctx, inv.DeviceID, inv.Transports); err != nil {
			return nil, err
		}
	}

	o.pairingMu.Lock()
	if pp, ok := o.pairings[inv.DeviceID]; ok && !pp.ctrl.State().Terminal() {
		o.pairingMu.Unlock()
		return nil, ErrPairingInProgress
	}
	o.pairings[inv.DeviceID] = &pendingPairing{ctrl: ctrl}
	o.pairingMu.Unlock()

	req, err := ctrl.SendRequest(perms)
	if err == nil {
		err = o.send(ctx, addr, inv.DeviceKeys, envelope.MsgPairRequest, req.Marshal())
	}
	if err != nil {
		_ = ctrl.Cancel(ctx)
		o.pairingMu.Lock()
		delete(o.pairings, inv.DeviceID)
		o.pairingMu.Unlock()
		return nil, err
	}
	return ctrl, nil
}

// PairingController returns the attempt with device, or nil.
func (o *Operator) PairingController(device identity.ID) *pairing.Controller {
	if pp := o.pending(device); pp != nil {
		return pp.ctrl
	}
	return nil
}

func (o *Operator) handlePairReceipt(ctx context.Context, msg *dispatch.Message) error {
	pp := o.pending(msg.SenderID)
	if pp == nil {
		return ErrNoPairing
	}
	r, err := pairing.UnmarshalPairReceipt(msg.Payload)
	if err != nil {
		return err
	}
	if r.DeviceID != msg.SenderID {
		return ErrSenderMismatch
	}
	sas, err := pp.ctrl.HandleReceipt(ctx, r)
	if err != nil {
		return err
	}
	if o.log != nil {
		o.log.Infof("pairing with %s awaiting SAS confirmation", msg.SenderID.Short())
	}
	if o.config.SAS == nil {
		return nil
	}
	device := msg.SenderID
	o.async(func(ctx context.Context) {
		match, err := o.config.SAS.CompareSAS(ctx, device, sas)
		if err != nil || !match {
			_ = pp.ctrl.RejectSAS(ctx)
			return
		}
		_, _ = pp.ctrl.ConfirmSAS(ctx)
	})
	return nil
}

// ConfirmSAS records that the codes matched and persists the pairing.
func (o *Operator) ConfirmSAS(ctx context.Context, device identity.ID) (*store.Pairing, error) {
	pp := o.pending(device)
	if pp == nil {
		return nil, ErrNoPairing
	}
	return pp.ctrl.ConfirmSAS(ctx)
}

// RejectSAS records that the codes differed and fails the attempt.
func (o *Operator) RejectSAS(ctx context.Context, device identity.ID) error {
	pp := o.pending(device)
	if pp == nil {
		return ErrNoPairing
	}
	return pp.ctrl.RejectSAS(ctx)
}

// StartSession requests a session with a paired device. An empty addr is
// filled from the resolver.
func (o *Operator) StartSession(ctx context.Context, addr string, device identity.ID, perms acl.Permission) (*session.Controller, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	p, err := o.records.GetPairing(ctx, device)
	if err != nil {
		return nil, err
	}
	if addr == "" {
		if addr, err = o.dialAddress(ctx, device, nil); err != nil {
			return nil, err
		}
	}
	ctrl, err := session.NewController(session.ControllerConfig{
		Operator:      o.local,
		Pairings:      o.records,
		Negotiator:    o.config.Negotiator,
		Audit:         o.audit,
		RenewBefore:   o.config.RenewBefore,
		Clock:         o.clock,
		LoggerFactory: o.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	req, err := ctrl.Start(ctx, device, perms)
	if err != nil {
		return nil, err
	}
	sess := &operatorSession{ctrl: ctrl, device: p.Device, dest: addr}
	if err := o.sessions.Add(req.SessionID, sess); err != nil {
		_, _ = ctrl.EndSession(ctx, "session table full")
		return nil, err
	}
	if err := o.send(ctx, addr, p.Device, envelope.MsgSessionInitRequest, req.Marshal()); err != nil {
		o.sessions.Remove(req.SessionID)
		_, _ = ctrl.EndSession(ctx, "send failed")
		return nil, err
	}
	return ctrl, nil
}

// Session returns the controller for a session.
func (o *Operator) Session(sid uuid.UUID) (*session.Controller, bool) {
	sess, ok := o.sessions.Get(sid)
	if !ok {
		return nil, false
	}
	return sess.ctrl, true
}

// SessionCount returns the number of tracked sessions.
func (o *Operator) SessionCount() int {
	return o.sessions.Count()
}

func (o *Operator) lookup(sid uuid.UUID, sender identity.ID) (*operatorSession, error) {
	sess, ok := o.sessions.Get(sid)
	if !ok {
		return nil, ErrUnknownSession
	}
	if sess.ctrl.DeviceID() != sender {
		return nil, ErrSenderMismatch
	}
	return sess, nil
}

// settle drops the session once its controller has ended.
func (o *Operator) settle(sid uuid.UUID, sess *operatorSession) {
	if sess.ctrl.State() == session.StateEnded {
		o.sessions.Remove(sid)
	}
}

func (o *Operator) handleInitResponse(ctx context.Context, msg *dispatch.Message) error {
	resp, err := session.UnmarshalInitResponse(msg.Payload)
	if err != nil {
		return err
	}
	sess, err := o.lookup(resp.SessionID, msg.SenderID)
	if err != nil {
		return err
	}
	err = sess.ctrl.HandleResponse(ctx, resp, o.sessionCandidates(ctx, sess, msg.SenderID)...)
	o.settle(resp.SessionID, sess)
	return err
}

func (o *Operator) handleRenewResponse(ctx context.Context, msg *dispatch.Message) error {
	resp, err := session.UnmarshalRenewResponse(msg.Payload)
	if err != nil {
		return err
	}
	sess, err := o.lookup(resp.SessionID, msg.SenderID)
	if err != nil {
		return err
	}
	err = sess.ctrl.HandleRenewal(ctx, resp)
	o.settle(resp.SessionID, sess)
	return err
}

func (o *Operator) handleResumeResponse(ctx context.Context, msg *dispatch.Message) error {
	resp, err := session.UnmarshalResumeResponse(msg.Payload)
	if err != nil {
		return err
	}
	sess, err := o.lookup(resp.SessionID, msg.SenderID)
	if err != nil {
		return err
	}
	err = sess.ctrl.HandleResumeResponse(ctx, resp, o.sessionCandidates(ctx, sess, msg.SenderID)...)
	o.settle(resp.SessionID, sess)
	return err
}

func (o *Operator) handleEnd(ctx context.Context, msg *dispatch.Message) error {
	end, err := session.UnmarshalEnd(msg.Payload)
	if err != nil {
		return err
	}
	sess, err := o.lookup(end.SessionID, msg.SenderID)
	if err != nil {
		return err
	}
	o.sessions.Remove(end.SessionID)
	return sess.ctrl.HandleEnd(ctx, end)
}

func (o *Operator) handleError(ctx context.Context, msg *dispatch.Message) error {
	n, err := UnmarshalErrorNotice(msg.Payload)
	if err != nil {
		return err
	}
	if o.log != nil {
		o.log.Infof("%s rejected by %s: %s", n.Ref, msg.SenderID.Short(), n.Report.Code)
	}
	if n.SessionID == uuid.Nil {
		pp := o.pending(msg.SenderID)
		if pp == nil {
			return ErrNoPairing
		}
		return pp.ctrl.HandleError(ctx, n.Report)
	}
	sess, err := o.lookup(n.SessionID, msg.SenderID)
	if err != nil {
		return err
	}
	o.sessions.Remove(n.SessionID)
	return sess.ctrl.HandleError(ctx, n.Report)
}

func (o *Operator) sessionFor(sid uuid.UUID) (*operatorSession, error) {
	sess, ok := o.sessions.Get(sid)
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

// Connect returns the next candidate to dial for sid.
func (o *Operator) Connect(sid uuid.UUID) (transport.Candidate, error) {
	sess, err := o.sessionFor(sid)
	if err != nil {
		return transport.Candidate{}, err
	}
	return sess.ctrl.Connect()
}

// ConnectFailed rejects the candidate being dialed and returns the next
// one. When the plan is exhausted the session ends and is dropped.
func (o *Operator) ConnectFailed(ctx context.Context, sid uuid.UUID) (transport.Candidate, error) {
	sess, err := o.sessionFor(sid)
	if err != nil {
		return transport.Candidate{}, err
	}
	c, err := sess.ctrl.ConnectFailed(ctx)
	o.settle(sid, sess)
	return c, err
}

// TransportConnected reports that the device is reachable for sid.
func (o *Operator) TransportConnected(ctx context.Context, sid uuid.UUID) error {
	sess, err := o.sessionFor(sid)
	if err != nil {
		return err
	}
	return sess.ctrl.TransportConnected(ctx)
}

// TransportLost asks the device to resume sid over a fresh key exchange.
func (o *Operator) TransportLost(ctx context.Context, sid uuid.UUID) error {
	sess, err := o.sessionFor(sid)
	if err != nil {
		return err
	}
	req, err := sess.ctrl.TransportLost(ctx)
	if err != nil {
		o.settle(sid, sess)
		return err
	}
	return o.send(ctx, sess.addr(), sess.device, envelope.MsgResumeRequest, req.Marshal())
}

// Renew sends a renewal request for sid now.
func (o *Operator) Renew(ctx context.Context, sid uuid.UUID) error {
	sess, err := o.sessionFor(sid)
	if err != nil {
		return err
	}
	return o.renew(ctx, sess)
}

func (o *Operator) renew(ctx context.Context, sess *operatorSession) error {
	req, err := sess.ctrl.RenewalRequest()
	if err != nil {
		return err
	}
	return o.send(ctx, sess.addr(), sess.device, envelope.MsgRenewRequest, req.Marshal())
}

// EndSession ends sid and notifies the device.
func (o *Operator) EndSession(ctx context.Context, sid uuid.UUID, reason string) error {
	sess, err := o.sessionFor(sid)
	if err != nil {
		return err
	}
	o.sessions.Remove(sid)
	end, err := sess.ctrl.EndSession(ctx, reason)
	if err != nil || end == nil {
		return err
	}
	return o.send(ctx, sess.addr(), sess.device, envelope.MsgSessionEnd, end.Marshal())
}

// Unpair ends every session with device and deletes the pairing.
func (o *Operator) Unpair(ctx context.Context, device identity.ID) error {
	if _, err := o.records.GetPairing(ctx, device); err != nil {
		return err
	}
	for _, sess := range o.sessions.Snapshot() {
		if sess.ctrl.DeviceID() == device {
			_ = o.EndSession(ctx, sess.ctrl.SessionID(), "unpaired")
		}
	}
	if err := o.records.DeletePairing(ctx, device); err != nil {
		return err
	}
	o.audit.Record(ctx, audit.Event{Type: audit.PairingRevoked, PeerID: device})
	return nil
}

// Pairings lists the devices this operator is paired with.
func (o *Operator) Pairings(ctx context.Context) ([]*store.Pairing, error) {
	return o.records.ListPairings(ctx)
}

// Tick enforces pairing and session timeouts, sends renewals that are due
// and drops finished attempts and ended sessions.
func (o *Operator) Tick(ctx context.Context, now time.Time) {
	o.pairingMu.Lock()
	for id, pp := range o.pairings {
		pp.ctrl.Tick(ctx, now)
		if pp.ctrl.State().Terminal() {
			delete(o.pairings, id)
		}
	}
	o.pairingMu.Unlock()

	for _, sess := range o.sessions.Snapshot() {
		sess.ctrl.Tick(ctx, now)
		if sess.ctrl.NeedsRenewal(now) {
			if err := o.renew(ctx, sess); err != nil && o.log != nil {
				o.log.Warnf("session %s: renew: %v", sess.ctrl.SessionID(), err)
			}
		}
	}
	o.sessions.RemoveIf(func(sess *operatorSession) bool {
		return sess.ctrl.State() == session.StateEnded
	})
}

// Run calls Tick every interval until ctx is done.
func (o *Operator) Run(ctx context.Context, interval time.Duration) error {
	return run(ctx, interval, o.clock, o.Tick)
}

// Close ends every session locally and waits for background SAS prompts.
func (o *Operator) Close() error {
	if err := o.shutdown(); err != nil {
		return err
	}
	ctx := context.Background()
	for _, sess := range o.sessions.Snapshot() {
		_, _ = sess.ctrl.EndSession(ctx, "operator closed")
	}
	o.sessions.RemoveIf(func(*operatorSession) bool { return true })

	o.pairingMu.Lock()
	for id, pp := range o.pairings {
		_ = pp.ctrl.Cancel(ctx)
		delete(o.pairings, id)
	}
	o.pairingMu.Unlock()
	return nil
}
