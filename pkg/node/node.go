// Package node ties the trust-establishment components into the two roles
// a peer can play. A Device accepts pairings and hosts sessions; an
// Operator pairs with devices and opens sessions to them.
//
// Both roles receive marshaled envelopes through HandleEnvelope, open them
// with a dispatch.Dispatcher and answer through a Sender. Neither owns a
// socket: the caller feeds them datagrams from whatever link is in use,
// for example with Serve.
//
// Time-driven work (timeouts, ticket expiry, renewal, pruning) happens in
// Tick, which Run calls on an interval.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/audit"
	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/dispatch"
	"github.com/backkem/trustlink/pkg/envelope"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/store"
)

// DefaultTickInterval is the interval Run uses when none is given.
const DefaultTickInterval = time.Second

// peer holds what both roles share.
type peer struct {
	local      *identity.Identity
	clock      clock.Clock
	sender     Sender
	records    *store.Records
	audit      *audit.Recorder
	dispatcher *dispatch.Dispatcher
	log        logging.LeveledLogger

	// ctx outlives individual messages; background consent and SAS
	// prompts run under it and stop on Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

func newPeer(local *identity.Identity, s store.Store, sender Sender, sink audit.Sink, c clock.Clock, lf logging.LoggerFactory, scope string) *peer {
	p := &peer{
		local:   local,
		clock:   clock.OrReal(c),
		sender:  sender,
		records: store.NewRecords(s, local.ID()),
	}
	if sink != nil {
		p.audit = audit.NewRecorder(audit.RecorderConfig{
			Device:        local,
			Sink:          sink,
			Clock:         p.clock,
			LoggerFactory: lf,
		})
	}
	if lf != nil {
		p.log = lf.NewLogger(scope)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// ID returns the local identity's id.
func (p *peer) ID() identity.ID {
	return p.local.ID()
}

// Records returns the persistent records.
func (p *peer) Records() *store.Records {
	return p.records
}

// Stats returns the dispatcher counters.
func (p *peer) Stats() dispatch.Stats {
	return p.dispatcher.Stats()
}

// HandleEnvelope opens raw and routes it to the matching handler.
func (p *peer) HandleEnvelope(ctx context.Context, source string, raw []byte) error {
	if p.isClosed() {
		return ErrClosed
	}
	return p.dispatcher.Dispatch(ctx, source, raw)
}

func (p *peer) isClosed() bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	return p.closed
}

// async runs fn in the background unless the peer is closed.
func (p *peer) async(fn func(ctx context.Context)) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(p.ctx)
	}()
	return true
}

// shutdown marks the peer closed, cancels background work and waits for
// it.
func (p *peer) shutdown() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return ErrClosed
	}
	p.closed = true
	p.closeMu.Unlock()

	p.cancel()
	p.wg.Wait()
	return nil
}

// send seals body to the peer keys and hands it to the Sender.
func (p *peer) send(ctx context.Context, to string, recipient identity.PublicKeys, mt envelope.MsgType, body []byte) error {
	env, err := envelope.SealAt(p.local, recipient, mt, body, nil, p.clock.Now())
	if err != nil {
		return err
	}
	if err := p.sender.Send(ctx, to, env.Marshal()); err != nil {
		if p.log != nil {
			p.log.Warnf("send %s to %s: %v", mt, to, err)
		}
		return err
	}
	return nil
}

// sendError answers a failed request with an ErrorNotice. Delivery
// failures are only logged.
func (p *peer) sendError(ctx context.Context, to string, recipient identity.PublicKeys, sessionID uuid.UUID, ref envelope.MsgType, cause error) {
	if p.log != nil {
		p.log.Debugf("%s from %s failed: %v", ref, to, cause)
	}
	_ = p.send(ctx, to, recipient, envelope.MsgError, noticeFor(sessionID, ref, cause).Marshal())
}

// run calls tick every interval until ctx is done.
func run(ctx context.Context, interval time.Duration, c clock.Clock, tick func(ctx context.Context, now time.Time)) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick(ctx, c.Now())
		}
	}
}
