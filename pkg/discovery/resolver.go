package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/transport"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout is the default timeout for lookup operations.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedService contains information about a discovered device instance.
type ResolvedService struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// HostName is the target host name.
	HostName string

	// Port is the service port.
	Port int

	// IPs contains the resolved IP addresses, sorted by preference.
	IPs []net.IP

	// Text contains the raw TXT record key-value pairs.
	Text map[string]string

	// TXT is the decoded record, or nil if it did not parse.
	TXT *TXT
}

// PreferredIP returns the most preferred IP address (first in the sorted list).
// Returns nil if no addresses are available.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) > 0 {
		return r.IPs[0]
	}
	return nil
}

// Candidates returns one direct transport candidate per dialable address,
// in preference order.
func (r *ResolvedService) Candidates() []transport.Candidate {
	var out []transport.Candidate
	for _, ip := range dialable(r.IPs) {
		out = append(out, transport.Candidate{
			Kind:    transport.KindDirect,
			Address: net.JoinHostPort(ip.String(), strconv.Itoa(r.Port)),
		})
	}
	return out
}

// MDNSResolver is the interface for mDNS service resolution.
// This allows for dependency injection in tests. Implementations block
// until done and never close entries.
type MDNSResolver interface {
	// Browse browses for services of the given type.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup looks up a specific service instance.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation using grandcat/zeroconf.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	in := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Browse(ctx, service, domain, in); err != nil {
		return err
	}
	return forward(ctx, in, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	in := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Lookup(ctx, instance, service, domain, in); err != nil {
		return err
	}
	return forward(ctx, in, entries)
}

// forward copies entries until ctx is done. zeroconf returns from Browse
// and Lookup immediately and owns the channel it was given; MDNSResolver
// implementations block and leave closing to the caller.
func forward(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- *zeroconf.ServiceEntry) error {
	for {
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// ResolverConfig holds configuration for the Resolver.
type ResolverConfig struct {
	// MDNSResolver is the underlying mDNS resolver implementation.
	// If nil, the default zeroconf resolver is used.
	MDNSResolver MDNSResolver

	// BrowseTimeout is the timeout for browse operations.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	// LookupTimeout is the timeout for lookup operations.
	// If zero, DefaultLookupTimeout is used.
	LookupTimeout time.Duration

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Resolver discovers devices via DNS-SD. It implements
// transport.DirectResolver.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

var _ transport.DirectResolver = (*Resolver)(nil)

// NewResolver creates a new Resolver with the given configuration.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	r := &Resolver{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse discovers device instances on the network. The returned channel
// is closed when the context is cancelled or the browse timeout expires.
func (r *Resolver) Browse(ctx context.Context) (<-chan ResolvedService, error) {
	results := make(chan ResolvedService)
	entries := make(chan *zeroconf.ServiceEntry)

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); ok {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	}

	go func() {
		defer close(results)
		defer cancel()

		go func() {
			defer close(entries)
			r.resolver.Browse(ctx, ServiceName, DefaultDomain, entries)
		}()

		for entry := range entries {
			select {
			case results <- entryToResolvedService(entry):
			case <-ctx.Done():
				// Drain so the browse goroutine can exit.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// Lookup looks up a specific instance by name.
func (r *Resolver) Lookup(ctx context.Context, instanceName string) (*ResolvedService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry, 1)
	go func() {
		defer close(entries)
		r.resolver.Lookup(ctx, instanceName, ServiceName, DefaultDomain, entries)
	}()

	select {
	case entry, ok := <-entries:
		if !ok || entry == nil {
			return nil, ErrServiceNotFound
		}
		svc := entryToResolvedService(entry)
		return &svc, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// LookupDevice looks up the instance for id and checks that its TXT record
// names the same device.
func (r *Resolver) LookupDevice(ctx context.Context, id identity.ID) (*ResolvedService, error) {
	svc, err := r.Lookup(ctx, InstanceName(id))
	if err != nil {
		return nil, err
	}
	if svc.TXT == nil {
		return nil, ErrInvalidTXTRecord
	}
	if svc.TXT.DeviceID != id {
		return nil, ErrIDMismatch
	}
	return svc, nil
}

// ResolveDirect returns direct candidates for a device. instance may be a
// full device ID in hex, in which case the TXT record is checked against
// it, or a bare instance name.
func (r *Resolver) ResolveDirect(ctx context.Context, instance string) ([]transport.Candidate, error) {
	var (
		svc *ResolvedService
		err error
	)
	if id, perr := identity.ParseID(instance); perr == nil {
		svc, err = r.LookupDevice(ctx, id)
	} else {
		svc, err = r.Lookup(ctx, instance)
	}
	if err != nil {
		if r.log != nil && !errors.Is(err, ErrServiceNotFound) {
			r.log.Debugf("resolve %s: %v", instance, err)
		}
		return nil, err
	}

	cs := svc.Candidates()
	if len(cs) == 0 {
		return nil, ErrServiceNotFound
	}
	if r.log != nil {
		r.log.Debugf("resolved %s to %d direct candidates", svc.InstanceName, len(cs))
	}
	return cs, nil
}

// entryToResolvedService converts a zeroconf.ServiceEntry to ResolvedService.
func entryToResolvedService(entry *zeroconf.ServiceEntry) ResolvedService {
	var allIPs []net.IP
	allIPs = append(allIPs, entry.AddrIPv4...)
	allIPs = append(allIPs, entry.AddrIPv6...)

	svc := ResolvedService{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(allIPs),
		Text:         ParseTXT(entry.Text),
	}
	if txt, err := DecodeTXT(entry.Text); err == nil {
		svc.TXT = txt
	}
	return svc
}
