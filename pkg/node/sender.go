package node

import (
	"context"

	"github.com/backkem/trustlink/pkg/transport"
)

// Sender delivers a marshaled envelope to a transport-level address. The
// address is whatever the receiving side reported as the message source.
type Sender interface {
	Send(ctx context.Context, to string, raw []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to string, raw []byte) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, to string, raw []byte) error {
	return f(ctx, to, raw)
}

// LinkSender sends everything over a single link regardless of address.
type LinkSender struct {
	Link transport.Link
}

// Send writes raw to the link.
func (s LinkSender) Send(ctx context.Context, _ string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Link.Send(raw)
}

// Receiver consumes marshaled envelopes. Device and Operator implement it.
type Receiver interface {
	HandleEnvelope(ctx context.Context, source string, raw []byte) error
}

// Serve reads envelopes from link and hands each one to r, reporting
// source as the origin. Handler errors are counted by r and do not stop
// the loop. Serve closes link when ctx is done and returns the error that
// ended the loop.
func Serve(ctx context.Context, link transport.Link, source string, r Receiver) error {
	stop := context.AfterFunc(ctx, func() { _ = link.Close() })
	defer stop()

	for {
		raw, err := link.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		_ = r.HandleEnvelope(ctx, source, raw)
	}
}
