// Package dispatch opens incoming envelopes and routes them by message
// type to registered handlers.
//
// Every envelope is counted as received and then either dispatched or
// dropped with a reason. Nothing is dropped silently: drops are counted,
// logged, and returned to the caller as errors.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/audit"
	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/envelope"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/store"
)

// DefaultMaxSkew bounds envelope timestamps in both directions.
const DefaultMaxSkew = 2 * time.Minute

// Message is an opened envelope.
type Message struct {
	Type          envelope.MsgType
	SenderID      identity.ID
	SenderSignPub [identity.KeySize]byte
	Timestamp     time.Time
	Source        string // Transport-level source, e.g. a remote address
	Payload       []byte
	AAD           []byte

	// Pinned is true when the sender key matched a pinned key. It is
	// false only for types accepted from unpinned senders.
	Pinned bool
}

// Handler handles one message type.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// KeyResolver returns the pinned public keys for a peer, or an error
// matching store.ErrNotFound if the peer is unknown.
type KeyResolver interface {
	ResolvePeer(ctx context.Context, id identity.ID) (identity.PublicKeys, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, id identity.ID) (identity.PublicKeys, error)

// ResolvePeer calls f.
func (f KeyResolverFunc) ResolvePeer(ctx context.Context, id identity.ID) (identity.PublicKeys, error) {
	return f(ctx, id)
}

// Config configures a Dispatcher.
type Config struct {
	// Local is the recipient identity. Required.
	Local *identity.Identity

	// Resolver supplies pinned sender keys. Required.
	Resolver KeyResolver

	// Unpinned lists message types accepted from senders without a
	// pinned key. Default: envelope.MsgPairRequest only.
	Unpinned []envelope.MsgType

	// MaxSkew bounds envelope timestamps. Default: DefaultMaxSkew.
	MaxSkew time.Duration

	// Clock is the time source. Default: clock.Real.
	Clock clock.Clock

	// Audit receives authentication failures. Optional.
	Audit *audit.Recorder

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.Unpinned == nil {
		c.Unpinned = []envelope.MsgType{envelope.MsgPairRequest}
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = DefaultMaxSkew
	}
	c.Clock = clock.OrReal(c.Clock)
}

// Dispatcher opens envelopes and routes them. It is safe for concurrent
// use.
type Dispatcher struct {
	config   Config
	log      logging.LeveledLogger
	nonces   *nonceCache
	unpinned map[envelope.MsgType]bool
	stats    counters

	mu       sync.RWMutex
	handlers map[envelope.MsgType]Handler
}

// New creates a Dispatcher.
func New(config Config) (*Dispatcher, error) {
	if config.Local == nil || config.Resolver == nil {
		return nil, errors.New("dispatch: Local and Resolver are required")
	}
	config.applyDefaults()
	d := &Dispatcher{
		config:   config,
		nonces:   newNonceCache(2*config.MaxSkew, config.Clock),
		unpinned: make(map[envelope.MsgType]bool, len(config.Unpinned)),
		handlers: make(map[envelope.MsgType]Handler),
	}
	for _, t := range config.Unpinned {
		d.unpinned[t] = true
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("dispatch")
	}
	return d, nil
}

// Register sets the handler for t, replacing any previous one.
func (d *Dispatcher) Register(t envelope.MsgType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats.snapshot()
}

// Dispatch decodes, verifies and decrypts raw, then calls the handler for
// its type. It returns the drop cause, or the handler's error.
func (d *Dispatcher) Dispatch(ctx context.Context, source string, raw []byte) error {
	d.stats.received.Add(1)

	env, err := envelope.Unmarshal(raw)
	if err != nil {
		return d.drop(ctx, DropMalformed, source, nil, err)
	}
	if !env.MsgType.IsValid() {
		return d.drop(ctx, DropUnknownType, source, env, ErrUnknownType)
	}
	d.mu.RLock()
	h, ok := d.handlers[env.MsgType]
	d.mu.RUnlock()
	if !ok {
		return d.drop(ctx, DropNoHandler, source, env, ErrNoHandler)
	}

	now := d.config.Clock.Now()
	if skew := now.Sub(env.Timestamp); skew > d.config.MaxSkew || -skew > d.config.MaxSkew {
		return d.drop(ctx, DropStale, source, env, ErrStale)
	}
	key := nonceKey{sender: env.SenderID, nonce: env.Nonce}
	if d.nonces.seen(key) {
		return d.drop(ctx, DropReplay, source, env, ErrReplay)
	}

	pinned := false
	check := func(hdr *envelope.Header, signPub [identity.KeySize]byte) error {
		keys, err := d.config.Resolver.ResolvePeer(ctx, hdr.SenderID)
		switch {
		case err == nil:
			if keys.Sign != signPub {
				return envelope.ErrUnknownSender
			}
			pinned = true
			return nil
		case errors.Is(err, store.ErrNotFound):
			if d.unpinned[hdr.MsgType] {
				return nil
			}
			return envelope.ErrUnknownSender
		default:
			return err
		}
	}
	payload, err := envelope.Open(d.config.Local, env, check)
	if err != nil {
		return d.drop(ctx, reasonFor(err), source, env, err)
	}
	if !d.nonces.record(key) {
		return d.drop(ctx, DropReplay, source, env, ErrReplay)
	}

	msg := &Message{
		Type:          env.MsgType,
		SenderID:      env.SenderID,
		SenderSignPub: env.SenderSignPub,
		Timestamp:     env.Timestamp,
		Source:        source,
		Payload:       payload,
		AAD:           env.AAD,
		Pinned:        pinned,
	}
	d.stats.dispatched.Add(1)
	if err := h.Handle(ctx, msg); err != nil {
		d.stats.handlerErrors.Add(1)
		if d.log != nil {
			d.log.Debugf("%s from %s: handler: %v", env.MsgType, env.SenderID.Short(), err)
		}
		return err
	}
	return nil
}

func reasonFor(err error) DropReason {
	switch {
	case errors.Is(err, envelope.ErrWrongRecipient):
		return DropWrongRecipient
	case errors.Is(err, envelope.ErrSignature), errors.Is(err, envelope.ErrSenderMismatch):
		return DropSignature
	case errors.Is(err, envelope.ErrDecrypt):
		return DropDecrypt
	case errors.Is(err, envelope.ErrVersion):
		return DropMalformed
	default:
		return DropUnknownSender
	}
}

func (d *Dispatcher) drop(ctx context.Context, r DropReason, source string, env *envelope.Envelope, err error) error {
	d.stats.drop(r)

	var sender identity.ID
	if env != nil {
		sender = env.SenderID
	}
	switch r {
	case DropSignature, DropDecrypt, DropUnknownSender, DropReplay:
		d.config.Audit.Record(ctx, audit.Event{
			Type:   audit.AuthFailure,
			PeerID: sender,
			Source: source,
			Reason: err.Error(),
		})
	}
	if d.log != nil {
		d.log.Debugf("dropped envelope from %s (%s): %s: %v", sender.Short(), source, r, err)
	}
	return err
}
