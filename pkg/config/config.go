// Package config loads a trustlink node configuration from a YAML file
// and turns it into the component configs used by pkg/node.
//
// A minimal device file:
//
//	role: device
//	label: office-pc
//	identity:
//	  keystore: /var/lib/trustlink/identity.key
//	store:
//	  dir: /var/lib/trustlink/db
//	policy:
//	  mode: unattended-allowed
//	  allowedHours: {start: 8, end: 18}
//	discovery:
//	  enabled: true
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"gopkg.in/yaml.v2"

	"github.com/backkem/trustlink/pkg/consent"
	"github.com/backkem/trustlink/pkg/discovery"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/node"
	"github.com/backkem/trustlink/pkg/pairing"
	"github.com/backkem/trustlink/pkg/policy"
	"github.com/backkem/trustlink/pkg/ratelimit"
	"github.com/backkem/trustlink/pkg/session"
	"github.com/backkem/trustlink/pkg/store"
	"github.com/backkem/trustlink/pkg/transport"
)

// Roles.
const (
	RoleDevice   = "device"
	RoleOperator = "operator"
)

// DefaultPassphraseEnv names the variable holding the keystore passphrase.
const DefaultPassphraseEnv = "TRUSTLINK_PASSPHRASE"

// File is the on-disk configuration.
type File struct {
	Role  string `yaml:"role"`
	Label string `yaml:"label"`

	Identity  IdentitySection  `yaml:"identity"`
	Store     StoreSection     `yaml:"store"`
	Policy    PolicySection    `yaml:"policy"`
	RateLimit RateLimitSection `yaml:"rateLimit"`
	Session   SessionSection   `yaml:"session"`
	Pairing   PairingSection   `yaml:"pairing"`
	Transport TransportSection `yaml:"transport"`
	Discovery DiscoverySection `yaml:"discovery"`
}

// IdentitySection locates the sealed identity.
type IdentitySection struct {
	Keystore      string `yaml:"keystore"`
	PassphraseEnv string `yaml:"passphraseEnv"`
}

// StoreSection selects the persistent store. An empty Dir keeps
// everything in memory.
type StoreSection struct {
	Dir        string `yaml:"dir"`
	SyncWrites bool   `yaml:"syncWrites"`
}

// Hours is a daily window [Start, End).
type Hours struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// PolicySection configures the device policy engine.
type PolicySection struct {
	Mode         string   `yaml:"mode"`
	Trusted      []string `yaml:"trusted"`
	AllowedDays  []string `yaml:"allowedDays"`
	AllowedHours *Hours   `yaml:"allowedHours"`
	Location     string   `yaml:"location"`
}

// RateLimitSection configures the failure limiter.
type RateLimitSection struct {
	MaxFailures   int           `yaml:"maxFailures"`
	Window        time.Duration `yaml:"window"`
	BackoffBase   time.Duration `yaml:"backoffBase"`
	BackoffMax    time.Duration `yaml:"backoffMax"`
	BackoffJitter float64       `yaml:"backoffJitter"`
	Allowlist     []string      `yaml:"allowlist"`
}

// SessionSection configures session lifetimes.
type SessionSection struct {
	TicketLifetime time.Duration `yaml:"ticketLifetime"`
	RenewBefore    time.Duration `yaml:"renewBefore"`
	MaxSessions    int           `yaml:"maxSessions"`
	MaxClockSkew   time.Duration `yaml:"maxClockSkew"`
}

// PairingSection configures invites and pairing timeouts.
type PairingSection struct {
	InviteTTL time.Duration `yaml:"inviteTTL"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Candidate is a configured transport candidate.
type Candidate struct {
	Kind    string `yaml:"kind"`
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
}

// TransportSection lists usable kinds and local candidates.
type TransportSection struct {
	Supported  []string    `yaml:"supported"`
	Candidates []Candidate `yaml:"candidates"`
}

// DiscoverySection configures mDNS.
type DiscoverySection struct {
	Enabled    bool     `yaml:"enabled"`
	Port       int      `yaml:"port"`
	Interfaces []string `yaml:"interfaces"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Role == "" {
		f.Role = RoleDevice
	}
	if f.Identity.PassphraseEnv == "" {
		f.Identity.PassphraseEnv = DefaultPassphraseEnv
	}
	if f.Policy.Mode == "" {
		f.Policy.Mode = policy.ModeAlwaysAsk.String()
	}
	if f.Discovery.Port == 0 {
		f.Discovery.Port = discovery.DefaultPort
	}
}

// Validate checks every section that can be checked without side effects.
func (f *File) Validate() error {
	if f.Role != RoleDevice && f.Role != RoleOperator {
		return ErrInvalidRole
	}
	if f.Identity.Keystore == "" {
		return ErrKeystoreRequired
	}
	if _, err := f.PolicyConfig(); err != nil {
		return err
	}
	if _, err := f.NegotiatorConfig(nil); err != nil {
		return err
	}
	return nil
}

// Passphrase returns the keystore passphrase from the environment.
func (f *File) Passphrase() string {
	return os.Getenv(f.Identity.PassphraseEnv)
}

// LoadIdentity opens the sealed identity.
func (f *File) LoadIdentity(passphrase string) (*identity.Identity, error) {
	return identity.LoadFile(f.Identity.Keystore, passphrase)
}

// OpenStore opens the Badger store in Dir, or a memory store when Dir is
// empty. A Badger store must be closed by the caller.
func (f *File) OpenStore(lf logging.LoggerFactory) (store.Store, error) {
	if f.Store.Dir == "" {
		return store.NewMemoryStore(), nil
	}
	return store.OpenBadger(store.BadgerConfig{
		Dir:           f.Store.Dir,
		SyncWrites:    f.Store.SyncWrites,
		LoggerFactory: lf,
	})
}

// PolicyConfig builds the policy engine configuration.
func (f *File) PolicyConfig() (policy.Config, error) {
	var c policy.Config
	mode, err := policy.ParseMode(f.Policy.Mode)
	if err != nil {
		return c, err
	}
	c.Mode = mode

	for _, s := range f.Policy.Trusted {
		id, err := identity.ParseID(s)
		if err != nil {
			return c, fmt.Errorf("config: trusted operator %q: %w", s, err)
		}
		c.Trusted = append(c.Trusted, id)
	}
	for _, s := range f.Policy.AllowedDays {
		d, err := parseWeekday(s)
		if err != nil {
			return c, err
		}
		c.AllowedDays = append(c.AllowedDays, d)
	}
	if h := f.Policy.AllowedHours; h != nil {
		if h.Start < 0 || h.Start > 24 || h.End < 0 || h.End > 24 {
			return c, ErrInvalidHours
		}
		c.AllowedHours = &policy.HourWindow{Start: h.Start, End: h.End}
	}
	if f.Policy.Location != "" {
		loc, err := time.LoadLocation(f.Policy.Location)
		if err != nil {
			return c, fmt.Errorf("config: location: %w", err)
		}
		c.Location = loc
	}
	return c, c.Validate()
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDay, s)
}

// LimiterConfig builds the rate-limiter configuration. Zero fields keep
// the limiter defaults.
func (f *File) LimiterConfig(lf logging.LoggerFactory) ratelimit.Config {
	r := f.RateLimit
	return ratelimit.Config{
		MaxFailures:   r.MaxFailures,
		Window:        r.Window,
		BackoffBase:   r.BackoffBase,
		BackoffMax:    r.BackoffMax,
		BackoffJitter: r.BackoffJitter,
		Allowlist:     r.Allowlist,
		LoggerFactory: lf,
	}
}

// NegotiatorConfig builds the transport negotiator configuration.
func (f *File) NegotiatorConfig(lf logging.LoggerFactory) (transport.NegotiatorConfig, error) {
	c := transport.NegotiatorConfig{LoggerFactory: lf}
	for _, s := range f.Transport.Supported {
		k, err := transport.ParseKind(s)
		if err != nil {
			return c, err
		}
		c.Supported = append(c.Supported, k)
	}
	for _, cand := range f.Transport.Candidates {
		k, err := transport.ParseKind(cand.Kind)
		if err != nil {
			return c, err
		}
		if cand.Address == "" {
			return c, ErrInvalidCandidate
		}
		c.Local = append(c.Local, transport.Candidate{Kind: k, Address: cand.Address, Token: []byte(cand.Token)})
	}
	return c, nil
}

func (f *File) interfaces() ([]net.Interface, error) {
	var out []net.Interface
	for _, name := range f.Discovery.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("config: interface %q: %w", name, err)
		}
		out = append(out, *iface)
	}
	return out, nil
}

// DeviceConfig assembles a node.DeviceConfig. An Advertiser is attached
// when discovery is enabled.
func (f *File) DeviceConfig(id *identity.Identity, st store.Store, sender node.Sender, handler consent.Handler, lf logging.LoggerFactory) (node.DeviceConfig, error) {
	if f.Role != RoleDevice {
		return node.DeviceConfig{}, ErrWrongRole
	}
	pc, err := f.PolicyConfig()
	if err != nil {
		return node.DeviceConfig{}, err
	}
	engine, err := policy.NewEngine(pc)
	if err != nil {
		return node.DeviceConfig{}, err
	}
	nc, err := f.NegotiatorConfig(lf)
	if err != nil {
		return node.DeviceConfig{}, err
	}

	c := node.DeviceConfig{
		Identity:       id,
		Store:          st,
		Sender:         sender,
		Policy:         engine,
		Consent:        handler,
		Limiter:        ratelimit.New(f.LimiterConfig(lf)),
		Negotiator:     transport.NewNegotiator(nc),
		Label:          f.Label,
		InviteTTL:      orDefault(f.Pairing.InviteTTL, pairing.DefaultInviteTTL),
		PairingTimeout: orDefault(f.Pairing.Timeout, pairing.DefaultTimeout),
		TicketLifetime: orDefault(f.Session.TicketLifetime, session.DefaultTicketLifetime),
		MaxSessions:    f.Session.MaxSessions,
		MaxClockSkew:   f.Session.MaxClockSkew,
		LoggerFactory:  lf,
	}
	if f.Discovery.Enabled {
		ifaces, err := f.interfaces()
		if err != nil {
			return node.DeviceConfig{}, err
		}
		adv, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Port:          f.Discovery.Port,
			Interfaces:    ifaces,
			LoggerFactory: lf,
		})
		if err != nil {
			return node.DeviceConfig{}, err
		}
		c.Advertiser = adv
	}
	return c, nil
}

// OperatorConfig assembles a node.OperatorConfig. A LAN resolver is
// attached when discovery is enabled.
func (f *File) OperatorConfig(id *identity.Identity, st store.Store, sender node.Sender, lf logging.LoggerFactory) (node.OperatorConfig, error) {
	if f.Role != RoleOperator {
		return node.OperatorConfig{}, ErrWrongRole
	}
	nc, err := f.NegotiatorConfig(lf)
	if err != nil {
		return node.OperatorConfig{}, err
	}
	c := node.OperatorConfig{
		Identity:       id,
		Store:          st,
		Sender:         sender,
		Negotiator:     transport.NewNegotiator(nc),
		Label:          f.Label,
		PairingTimeout: f.Pairing.Timeout,
		RenewBefore:    f.Session.RenewBefore,
		MaxSessions:    f.Session.MaxSessions,
		MaxClockSkew:   f.Session.MaxClockSkew,
		LoggerFactory:  lf,
	}
	if f.Discovery.Enabled {
		r, err := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: lf})
		if err != nil {
			return node.OperatorConfig{}, err
		}
		c.Resolver = r
	}
	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
