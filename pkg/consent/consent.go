// Package consent defines the collaborator that approves or denies a
// pairing or session on the device, usually by asking a human.
package consent

import (
	"context"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/identity"
)

// Kind distinguishes what consent is asked for.
type Kind int

const (
	KindSession Kind = iota
	KindPairing
)

// String returns the kind name.
func (k Kind) String() string {
	if k == KindPairing {
		return "pairing"
	}
	return "session"
}

// Request describes what the operator asks for.
type Request struct {
	Kind        Kind
	OperatorID  identity.ID
	Permissions acl.Permission
	Label       string // Optional human-readable operator label
}

// Decision is the handler's answer. Permissions, when non-zero, narrows
// what is granted; it can never widen the request.
type Decision struct {
	Approved    bool
	Permissions acl.Permission
}

// Approve returns an approving decision for p (zero keeps the request).
func Approve(p acl.Permission) Decision {
	return Decision{Approved: true, Permissions: p}
}

// Deny returns a denying decision.
func Deny() Decision {
	return Decision{}
}

// Handler decides a consent request. Implementations may block on a human
// and must honor ctx cancellation.
type Handler interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Decision, error)

// Decide calls f.
func (f HandlerFunc) Decide(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Static always returns the same decision.
type Static Decision

// Decide returns the static decision.
func (s Static) Decide(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	return Decision(s), nil
}

var (
	_ Handler = HandlerFunc(nil)
	_ Handler = Static{}
)
