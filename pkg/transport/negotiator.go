package transport

import (
	"context"
	"sort"

	"github.com/pion/logging"
)

// DirectResolver finds LAN addresses for a peer, e.g. via mDNS.
type DirectResolver interface {
	ResolveDirect(ctx context.Context, instance string) ([]Candidate, error)
}

// NegotiatorConfig configures a Negotiator.
type NegotiatorConfig struct {
	// Supported lists the kinds this side can use. Nil means every kind.
	Supported []Kind

	// Local are this side's own candidates (its addresses, relay URL, ...).
	Local []Candidate

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Negotiator produces and selects connection parameters. It holds only
// configuration and is safe for concurrent use.
type Negotiator struct {
	supported map[Kind]bool
	local     []Candidate
	log       logging.LeveledLogger
}

// NewNegotiator creates a negotiator.
func NewNegotiator(config NegotiatorConfig) *Negotiator {
	n := &Negotiator{supported: make(map[Kind]bool)}
	kinds := config.Supported
	if kinds == nil {
		kinds = Ladder
	}
	for _, k := range kinds {
		if k.IsValid() {
			n.supported[k] = true
		}
	}
	for _, c := range config.Local {
		if n.supported[c.Kind] {
			n.local = append(n.local, c)
		}
	}
	sortByLadder(n.local)

	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("transport")
	}
	return n
}

// Supports reports whether k is usable locally.
func (n *Negotiator) Supports(k Kind) bool {
	return n.supported[k]
}

// Offer returns this side's candidates in ladder order. A candidate with
// an empty address advertises support for the kind without an endpoint.
func (n *Negotiator) Offer() []Candidate {
	out := make([]Candidate, 0, len(n.local)+len(n.supported))
	out = append(out, n.local...)
	for _, k := range Ladder {
		if n.supported[k] && !hasKind(out, k) {
			out = append(out, Candidate{Kind: k})
		}
	}
	sortByLadder(out)
	return out
}

// Answer returns, in ladder order, the local candidates for kinds that both
// sides support. A mutual kind without a local candidate is answered with
// an address-less candidate, leaving the endpoint to the offering side's
// own hints and discovery.
func (n *Negotiator) Answer(offered []Candidate) ([]Candidate, error) {
	var out []Candidate
	for _, k := range Ladder {
		if !n.supported[k] || !hasKind(offered, k) {
			continue
		}
		found := false
		for _, c := range n.local {
			if c.Kind == k {
				out = append(out, c)
				found = true
			}
		}
		if !found {
			out = append(out, Candidate{Kind: k})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoMutualTransport
	}
	return out, nil
}

// Select returns the highest-priority offered candidate that is supported
// locally.
func (n *Negotiator) Select(offered []Candidate) (Candidate, error) {
	plan, err := n.Plan(offered)
	if err != nil {
		return Candidate{}, err
	}
	return plan.Current()
}

// Plan orders the supported subset of offered for sequential attempts.
// Extra candidates (e.g. discovered LAN addresses) are merged in.
func (n *Negotiator) Plan(offered []Candidate, extra ...Candidate) (*Plan, error) {
	var usable []Candidate
	for _, c := range append(append([]Candidate(nil), offered...), extra...) {
		if n.supported[c.Kind] && c.Address != "" && !contains(usable, c) {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoMutualTransport
	}
	sortByLadder(usable)
	if n.log != nil {
		n.log.Debugf("transport plan: %d candidates, first %s", len(usable), usable[0].Kind)
	}
	return &Plan{candidates: usable}, nil
}

// Fallback returns the candidate after rejected in the ladder ordering of
// offered. It is a pure function of its inputs.
func (n *Negotiator) Fallback(offered []Candidate, rejected Candidate) (Candidate, error) {
	plan, err := n.Plan(offered)
	if err != nil {
		return Candidate{}, err
	}
	for i, c := range plan.candidates {
		if sameCandidate(c, rejected) {
			plan.pos = i
			return plan.Reject()
		}
	}
	return plan.Current()
}

// Plan is an ordered list of candidates with a cursor. It is not safe for
// concurrent use.
type Plan struct {
	candidates []Candidate
	pos        int
}

// Current returns the candidate to try now.
func (p *Plan) Current() (Candidate, error) {
	if p.pos >= len(p.candidates) {
		return Candidate{}, ErrPlanExhausted
	}
	return p.candidates[p.pos], nil
}

// Reject marks the current candidate as failed and returns the next.
func (p *Plan) Reject() (Candidate, error) {
	if p.pos < len(p.candidates) {
		p.pos++
	}
	return p.Current()
}

// Reset returns the cursor to the best candidate.
func (p *Plan) Reset() {
	p.pos = 0
}

// Candidates returns the ordered candidates.
func (p *Plan) Candidates() []Candidate {
	return append([]Candidate(nil), p.candidates...)
}

func sortByLadder(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Kind.Priority() < cs[j].Kind.Priority()
	})
}

func hasKind(cs []Candidate, k Kind) bool {
	for _, c := range cs {
		if c.Kind == k {
			return true
		}
	}
	return false
}

func contains(cs []Candidate, c Candidate) bool {
	for _, x := range cs {
		if sameCandidate(x, c) {
			return true
		}
	}
	return false
}

func sameCandidate(a, b Candidate) bool {
	return a.Kind == b.Kind && a.Address == b.Address
}
