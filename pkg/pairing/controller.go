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
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/status"
	"github.com/backkem/trustlink/pkg/store"
)

// ControllerConfig configures a pairing Controller.
type ControllerConfig struct {
	// Operator is the local identity. Required.
	Operator *identity.Identity

	// Pairings receives the pairing on SAS confirmation. Required.
	Pairings store.PairingStore

	// Audit receives lifecycle events. Optional.
	Audit *audit.Recorder

	// Label is a human-readable operator name sent with the request.
	Label string

	// Timeout is the inactivity limit after the request is sent.
	// Default: DefaultTimeout.
	Timeout time.Duration

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory

	rand io.Reader
}

func (c *ControllerConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.Clock = clock.OrReal(c.Clock)
	if c.rand == nil {
		c.rand = rand.Reader
	}
}

type (
	ctrlState interface{ kind() ControllerState }

	ctrlIdle struct{}

	ctrlImported struct {
		invite *Invite
		secret []byte
	}

	ctrlSent struct {
		invite *Invite
		req    *PairRequest
		since  time.Time
	}

	ctrlAwaitingSAS struct {
		invite  *Invite
		req     *PairRequest
		receipt *PairReceipt
		sas     string
		since   time.Time
	}

	ctrlPaired struct {
		pairing *store.Pairing
		sas     string
	}

	ctrlFailed struct {
		err error
	}
)

func (ctrlIdle) kind() ControllerState { return ControllerIdle }
func (*ctrlImported) kind() ControllerState { return ControllerInviteImported }
func (*ctrlSent) kind() ControllerState { return ControllerRequestSent }
func (*ctrlAwaitingSAS) kind() ControllerState { return ControllerAwaitingSAS }
func (*ctrlPaired) kind() ControllerState { return ControllerPaired }
func (*ctrlFailed) kind() ControllerState { return ControllerFailed }

// Controller is the operator side of one pairing attempt. It is safe for
// concurrent use.
type Controller struct {
	config ControllerConfig
	log    logging.LeveledLogger

	mu    sync.Mutex
	state ctrlState
}

// NewController creates a Controller in Idle.
func NewController(config ControllerConfig) (*Controller, error) {
	if config.Operator == nil || config.Pairings == nil {
		return nil, errors.New("pairing: controller requires Operator and Pairings")
	}
	config.applyDefaults()
	c := &Controller{config: config, state: ctrlIdle{}}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("pairing-controller")
	}
	return c, nil
}

// State returns the current state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.kind()
}

// Invite returns the imported invite, or nil.
func (c *Controller) Invite() *Invite {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s := c.state.(type) {
	case *ctrlImported:
		return s.invite
	case *ctrlSent:
		return s.invite
	case *ctrlAwaitingSAS:
		return s.invite
	}
	return nil
}

// SAS returns the short authentication string in AwaitingSAS and Paired.
func (c *Controller) SAS() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s := c.state.(type) {
	case *ctrlAwaitingSAS:
		return s.sas
	case *ctrlPaired:
		return s.sas
	}
	return ""
}

// Pairing returns a copy of the persisted pairing once Paired.
func (c *Controller) Pairing() *store.Pairing {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state.(*ctrlPaired); ok {
		return s.pairing.Clone()
	}
	return nil
}

// Err returns the failure cause in Failed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state.(*ctrlFailed); ok {
		return s.err
	}
	return nil
}

// ImportInvite parses an invite code. Invalid and expired invites are
// rejected outright and leave the Controller in Idle.
func (c *Controller) ImportInvite(code string) (*Invite, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.state.(ctrlIdle); !ok {
		return nil, ErrInvalidState
	}
	inv, secret, err := ParseInviteCode(code)
	if err != nil {
		return nil, err
	}
	if inv.Expired(c.config.Clock.Now()) {
		return nil, ErrInviteExpired
	}
	c.state = &ctrlImported{invite: inv, secret: secret}
	if c.log != nil {
		c.log.Infof("imported invite %x for device %s", inv.ID[:4], inv.DeviceID.Short())
	}
	return inv, nil
}

// SendRequest builds the proven PairRequest asking for perms and moves to
// RequestSent. The invite secret is dropped once the proof is computed.
func (c *Controller) SendRequest(perms acl.Permission) (*PairRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.state.(*ctrlImported)
	if !ok {
		return nil, ErrInvalidState
	}
	if perms.IsEmpty() || !perms.IsValid() {
		return nil, ErrEmptyPermissions
	}

	now := c.config.Clock.Now()
	op := c.config.Operator
	req := &PairRequest{
		InviteID:     s.invite.ID,
		OperatorID:   op.ID(),
		DeviceID:     s.invite.DeviceID,
		OperatorKeys: op.PublicKeys(),
		Timestamp:    now,
		Permissions:  perms,
		Label:        c.config.Label,
	}
	if _, err := io.ReadFull(c.config.rand, req.Nonce[:]); err != nil {
		return nil, err
	}
	req.Prove(s.secret)

	c.state = &ctrlSent{invite: s.invite, req: req, since: now}
	return req, nil
}

// HandleReceipt verifies the device's receipt against the key pinned by
// the invite and returns the SAS to show the user. The Controller moves to
// AwaitingSAS; any verification failure moves it to Failed.
func (c *Controller) HandleReceipt(ctx context.Context, r *PairReceipt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.state.(*ctrlSent)
	if !ok {
		return "", ErrInvalidState
	}
	if r.InviteID != s.req.InviteID || r.OperatorID != s.req.OperatorID || r.RequestNonce != s.req.Nonce {
		return "", c.failLocked(ctx, ErrMismatch)
	}
	if err := r.Verify(s.invite.DeviceKeys.Sign); err != nil {
		c.config.Audit.Record(ctx, audit.Event{
			Type:   audit.AuthFailure,
			PeerID: s.invite.DeviceID,
			Reason: err.Error(),
		})
		return "", c.failLocked(ctx, err)
	}
	if r.DeviceKeys != s.invite.DeviceKeys {
		return "", c.failLocked(ctx, ErrMismatch)
	}
	if r.Permissions.IsEmpty() || !r.Permissions.IsSubsetOf(s.req.Permissions) {
		return "", c.failLocked(ctx, ErrPermissionCeiling)
	}

	sas := SAS(s.req, r)
	c.state = &ctrlAwaitingSAS{
		invite:  s.invite,
		req:     s.req,
		receipt: r,
		sas:     sas,
		since:   c.config.Clock.Now(),
	}
	return sas, nil
}

// HandleError fails the attempt with the device's reported error.
func (c *Controller) HandleError(ctx context.Context, report status.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.(*ctrlSent); !ok {
		return ErrInvalidState
	}
	return c.failLocked(ctx, report.Err())
}

// ConfirmSAS records that the user saw matching codes. The pairing is
// persisted and the Controller moves to Paired.
func (c *Controller) ConfirmSAS(ctx context.Context) (*store.Pairing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.state.(*ctrlAwaitingSAS)
	if !ok {
		return nil, ErrInvalidState
	}
	p := &store.Pairing{
		DeviceID:    s.receipt.DeviceID,
		OperatorID:  s.req.OperatorID,
		Device:      s.receipt.DeviceKeys,
		Operator:    s.req.OperatorKeys,
		Permissions: s.receipt.Permissions,
		PairedAt:    s.receipt.PairedAt,
	}
	if err := c.config.Pairings.SavePairing(ctx, p); err != nil {
		return nil, c.failLocked(ctx, err)
	}
	c.state = &ctrlPaired{pairing: p, sas: s.sas}

	c.config.Audit.Record(ctx, audit.Event{
		Type:        audit.PairingConfirmed,
		PeerID:      p.DeviceID,
		Permissions: p.Permissions,
	})
	if c.log != nil {
		c.log.Infof("paired with device %s, permissions %s", p.DeviceID.Short(), p.Permissions)
	}
	return p.Clone(), nil
}

// RejectSAS records that the user saw different codes.
func (c *Controller) RejectSAS(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.(*ctrlAwaitingSAS); !ok {
		return ErrInvalidState
	}
	c.failLocked(ctx, ErrSASRejected)
	return nil
}

// Cancel abandons the attempt from any non-terminal state.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.kind().Terminal() {
		return ErrInvalidState
	}
	c.failLocked(ctx, ErrCancelled)
	return nil
}

// Tick enforces the inactivity timeout after the request is sent and the
// invite expiry before it. It reports whether the state changed.
func (c *Controller) Tick(ctx context.Context, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s := c.state.(type) {
	case *ctrlImported:
		if s.invite.Expired(now) {
			c.failLocked(ctx, ErrInviteExpired)
			return true
		}
	case *ctrlSent:
		if now.Sub(s.since) >= c.config.Timeout {
			c.failLocked(ctx, ErrTimeout)
			return true
		}
	case *ctrlAwaitingSAS:
		if now.Sub(s.since) >= c.config.Timeout {
			c.failLocked(ctx, ErrTimeout)
			return true
		}
	}
	return false
}

func (c *Controller) failLocked(ctx context.Context, err error) error {
	var device identity.ID
	switch s := c.state.(type) {
	case *ctrlImported:
		device = s.invite.DeviceID
	case *ctrlSent:
		device = s.invite.DeviceID
	case *ctrlAwaitingSAS:
		device = s.invite.DeviceID
	}
	c.state = &ctrlFailed{err: err}

	c.config.Audit.Record(ctx, audit.Event{
		Type:   audit.PairingFailed,
		PeerID: device,
		Reason: err.Error(),
	})
	if c.log != nil {
		c.log.Warnf("pairing with %s failed: %v", device.Short(), err)
	}
	return err
}
