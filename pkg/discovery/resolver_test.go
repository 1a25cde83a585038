package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/backkem/trustlink/pkg/transport"
)

func newTestResolver(t *testing.T, mock *MockMDNSResolver) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{
		MDNSResolver:  mock,
		BrowseTimeout: time.Second,
		LookupTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func TestResolver_Browse(t *testing.T) {
	mock := NewMockMDNSResolver()
	a, b := testDeviceID(t), testDeviceID(t)
	mock.RegisterService(ServiceName, MockDeviceService(a, "alpha", 7420, net.ParseIP("192.168.1.10")))
	mock.RegisterService(ServiceName, MockDeviceService(b, "beta", 7421, net.ParseIP("192.168.1.11")))
	mock.RegisterService("_other._udp", MockDeviceService(testDeviceID(t), "", 1, net.ParseIP("192.168.1.12")))

	r := newTestResolver(t, mock)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results, err := r.Browse(ctx)
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	labels := map[string]bool{}
	for svc := range results {
		if svc.TXT == nil {
			t.Fatalf("TXT not decoded for %s", svc.InstanceName)
		}
		labels[svc.TXT.Label] = true
	}
	if len(labels) != 2 || !labels["alpha"] || !labels["beta"] {
		t.Errorf("browsed labels = %v", labels)
	}
}

func TestResolver_Lookup(t *testing.T) {
	mock := NewMockMDNSResolver()
	id := testDeviceID(t)
	mock.RegisterService(ServiceName, MockDeviceService(id, "alpha", 7420,
		net.ParseIP("fe80::1"),
		net.ParseIP("203.0.113.5"),
		net.ParseIP("192.168.1.10"),
	))
	r := newTestResolver(t, mock)

	svc, err := r.Lookup(context.Background(), InstanceName(id))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !svc.PreferredIP().Equal(net.ParseIP("192.168.1.10")) {
		t.Errorf("PreferredIP() = %v", svc.PreferredIP())
	}
	if svc.Port != 7420 || svc.Text["n"] != "alpha" {
		t.Errorf("service = %+v", svc)
	}

	if _, err := r.Lookup(context.Background(), "NOPE"); err != ErrServiceNotFound {
		t.Errorf("Lookup(unknown) error = %v, want %v", err, ErrServiceNotFound)
	}
}

func TestResolver_ResolveDirect(t *testing.T) {
	mock := NewMockMDNSResolver()
	id := testDeviceID(t)
	mock.RegisterService(ServiceName, MockDeviceService(id, "alpha", 7420,
		net.ParseIP("fe80::1"),
		net.ParseIP("fd00::5"),
		net.ParseIP("192.168.1.10"),
	))
	r := newTestResolver(t, mock)
	ctx := context.Background()

	want := []transport.Candidate{
		{Kind: transport.KindDirect, Address: "192.168.1.10:7420"},
		{Kind: transport.KindDirect, Address: "[fd00::5]:7420"},
	}
	for _, instance := range []string{id.String(), InstanceName(id)} {
		got, err := r.ResolveDirect(ctx, instance)
		if err != nil {
			t.Fatalf("ResolveDirect(%s) error = %v", instance, err)
		}
		if len(got) != len(want) {
			t.Fatalf("ResolveDirect(%s) = %+v", instance, got)
		}
		for i := range want {
			if got[i].Kind != want[i].Kind || got[i].Address != want[i].Address {
				t.Errorf("candidate[%d] = %+v, want %+v", i, got[i], want[i])
			}
		}
	}

	if _, err := r.ResolveDirect(ctx, testDeviceID(t).String()); err != ErrServiceNotFound {
		t.Errorf("ResolveDirect(unknown) error = %v", err)
	}
}

func TestResolver_ResolveDirectIDMismatch(t *testing.T) {
	mock := NewMockMDNSResolver()
	id, other := testDeviceID(t), testDeviceID(t)

	// An instance squatting on id's name but advertising another device.
	entry := MockDeviceService(other, "", 7420, net.ParseIP("192.168.1.66"))
	entry.Instance = InstanceName(id)
	mock.RegisterService(ServiceName, entry)

	r := newTestResolver(t, mock)
	if _, err := r.ResolveDirect(context.Background(), id.String()); err != ErrIDMismatch {
		t.Errorf("ResolveDirect() error = %v, want %v", err, ErrIDMismatch)
	}
}

func TestResolver_NoDialableAddress(t *testing.T) {
	mock := NewMockMDNSResolver()
	id := testDeviceID(t)
	mock.RegisterService(ServiceName, MockDeviceService(id, "", 7420, net.ParseIP("fe80::1")))

	r := newTestResolver(t, mock)
	if _, err := r.ResolveDirect(context.Background(), id.String()); err != ErrServiceNotFound {
		t.Errorf("ResolveDirect() error = %v, want %v", err, ErrServiceNotFound)
	}
}
