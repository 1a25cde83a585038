package transport

import (
	"errors"
	"testing"

	"github.com/backkem/trustlink/pkg/status"
)

func TestKind_Ladder(t *testing.T) {
	tests := []struct {
		kind     Kind
		name     string
		priority int
	}{
		{KindMesh, "mesh", 0},
		{KindDirect, "direct", 1},
		{KindRendezvous, "rendezvous", 2},
		{KindRelay, "relay", 3},
		{KindUnknown, "Kind(0)", 4},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.kind.Priority(); got != tt.priority {
			t.Errorf("%s Priority() = %d, want %d", tt.name, got, tt.priority)
		}
	}

	if k, err := ParseKind("relay"); err != nil || k != KindRelay {
		t.Errorf("ParseKind(relay) = %v, %v", k, err)
	}
	if _, err := ParseKind("carrier-pigeon"); err != ErrInvalidKind {
		t.Errorf("ParseKind(bogus) error = %v, want ErrInvalidKind", err)
	}
}

func TestNegotiator_Select(t *testing.T) {
	offered := []Candidate{
		{Kind: KindRelay, Address: "relay.example:443"},
		{Kind: KindDirect, Address: "192.168.1.20:7400"},
		{Kind: KindMesh, Address: "100.64.0.7:7400"},
	}

	tests := []struct {
		name      string
		supported []Kind
		want      Kind
		wantErr   error
	}{
		{"all supported picks mesh", nil, KindMesh, nil},
		{"no mesh picks direct", []Kind{KindDirect, KindRelay}, KindDirect, nil},
		{"relay only", []Kind{KindRelay}, KindRelay, nil},
		{"nothing mutual", []Kind{KindRendezvous}, KindUnknown, ErrNoMutualTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNegotiator(NegotiatorConfig{Supported: tt.supported})
			got, err := n.Select(offered)
			if err != tt.wantErr {
				t.Fatalf("Select() error = %v, want %v", err, tt.wantErr)
			}
			if got.Kind != tt.want {
				t.Errorf("Select() = %s, want %s", got.Kind, tt.want)
			}
		})
	}
}

func TestNegotiator_NoMutualIsTransportError(t *testing.T) {
	n := NewNegotiator(NegotiatorConfig{Supported: []Kind{KindMesh}})
	_, err := n.Select([]Candidate{{Kind: KindRelay, Address: "r:1"}})
	if status.KindOf(err) != status.KindTransport {
		t.Errorf("KindOf(err) = %v, want KindTransport", status.KindOf(err))
	}
}

func TestNegotiator_FallbackDeterministic(t *testing.T) {
	n := NewNegotiator(NegotiatorConfig{})
	offered := []Candidate{
		{Kind: KindRelay, Address: "relay:443"},
		{Kind: KindDirect, Address: "10.0.0.2:7400"},
		{Kind: KindRendezvous, Address: "rv:3478"},
	}

	wantOrder := []Kind{KindDirect, KindRendezvous, KindRelay}
	cur, err := n.Select(offered)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	for i, want := range wantOrder {
		if cur.Kind != want {
			t.Fatalf("step %d: got %s, want %s", i, cur.Kind, want)
		}
		next, err := n.Fallback(offered, cur)
		if i == len(wantOrder)-1 {
			if !errors.Is(err, ErrPlanExhausted) {
				t.Fatalf("Fallback() after last error = %v, want ErrPlanExhausted", err)
			}
			break
		}
		if err != nil {
			t.Fatalf("Fallback() error = %v", err)
		}
		// Same inputs, same answer.
		again, _ := n.Fallback(offered, cur)
		if !sameCandidate(again, next) {
			t.Fatalf("Fallback not deterministic: %v vs %v", again, next)
		}
		cur = next
	}
}

func TestNegotiator_OfferAndAnswer(t *testing.T) {
	host := NewNegotiator(NegotiatorConfig{
		Supported: []Kind{KindDirect, KindRelay},
		Local: []Candidate{
			{Kind: KindRelay, Address: "relay:443"},
			{Kind: KindDirect, Address: "10.0.0.2:7400"},
			{Kind: KindMesh, Address: "ignored:1"},
		},
	})
	ctrl := NewNegotiator(NegotiatorConfig{Supported: []Kind{KindMesh, KindRelay}})

	offer := ctrl.Offer()
	if len(offer) != 2 || offer[0].Kind != KindMesh || offer[1].Kind != KindRelay {
		t.Fatalf("Offer() = %+v", offer)
	}

	answer, err := host.Answer(offer)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(answer) != 1 || answer[0].Address != "relay:443" {
		t.Fatalf("Answer() = %+v, want relay only", answer)
	}

	got, err := ctrl.Select(answer)
	if err != nil || got.Kind != KindRelay {
		t.Errorf("Select(answer) = %v, %v", got, err)
	}

	if _, err := host.Answer([]Candidate{{Kind: KindMesh}}); err != ErrNoMutualTransport {
		t.Errorf("Answer(mesh) error = %v, want ErrNoMutualTransport", err)
	}
}

func TestNegotiator_AnswerWithoutLocalCandidates(t *testing.T) {
	host := NewNegotiator(NegotiatorConfig{})
	ctrl := NewNegotiator(NegotiatorConfig{Supported: []Kind{KindDirect, KindRelay}})

	answer, err := host.Answer(ctrl.Offer())
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	want := []Candidate{{Kind: KindDirect}, {Kind: KindRelay}}
	if len(answer) != len(want) {
		t.Fatalf("Answer() = %+v, want %+v", answer, want)
	}
	for i := range want {
		if !sameCandidate(answer[i], want[i]) {
			t.Errorf("Answer()[%d] = %+v, want %+v", i, answer[i], want[i])
		}
	}

	if _, err := ctrl.Plan(answer); err != ErrNoMutualTransport {
		t.Errorf("Plan(answer) error = %v, want ErrNoMutualTransport", err)
	}
	lan := Candidate{Kind: KindDirect, Address: "192.168.0.5:7400"}
	got, err := ctrl.Plan(answer, lan)
	if err != nil {
		t.Fatalf("Plan(answer, lan) error = %v", err)
	}
	if cur, _ := got.Current(); !sameCandidate(cur, lan) {
		t.Errorf("Current() = %+v, want %+v", cur, lan)
	}
}

func TestPlan_ExtraCandidates(t *testing.T) {
	n := NewNegotiator(NegotiatorConfig{})
	offered := []Candidate{{Kind: KindRelay, Address: "relay:443"}}
	lan := Candidate{Kind: KindDirect, Address: "192.168.0.5:7400"}

	plan, err := n.Plan(offered, lan, lan)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	cs := plan.Candidates()
	if len(cs) != 2 || !sameCandidate(cs[0], lan) {
		t.Fatalf("Candidates() = %+v", cs)
	}

	if c, _ := plan.Reject(); c.Kind != KindRelay {
		t.Errorf("Reject() = %s, want relay", c.Kind)
	}
	if _, err := plan.Reject(); err != ErrPlanExhausted {
		t.Errorf("Reject() error = %v, want ErrPlanExhausted", err)
	}
	plan.Reset()
	if c, _ := plan.Current(); !sameCandidate(c, lan) {
		t.Errorf("Current() after Reset = %+v", c)
	}
}

func TestCandidate_Codec(t *testing.T) {
	c := Candidate{Kind: KindRendezvous, Address: "rv.example:3478", Token: []byte{1, 2, 3}}
	got, err := UnmarshalCandidate(c.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalCandidate() error = %v", err)
	}
	if got.Kind != c.Kind || got.Address != c.Address || string(got.Token) != string(c.Token) {
		t.Errorf("round trip = %+v, want %+v", got, c)
	}
}
