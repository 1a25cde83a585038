package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/trustlink/pkg/consent"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/node"
	"github.com/backkem/trustlink/pkg/policy"
	"github.com/backkem/trustlink/pkg/store"
	"github.com/backkem/trustlink/pkg/transport"
)

const deviceYAML = `
role: device
label: office-pc
identity:
  keystore: /tmp/identity.key
policy:
  mode: trusted-operators-only
  trusted:
    - "%s"
  allowedDays: [mon, Tuesday, wed]
  allowedHours: {start: 22, end: 6}
  location: UTC
rateLimit:
  maxFailures: 5
  window: 2m
  backoffBase: 10s
  allowlist: ["127.0.0.1"]
session:
  ticketLifetime: 15m
  maxSessions: 4
pairing:
  inviteTTL: 3m
transport:
  supported: [direct, relay]
  candidates:
    - kind: direct
      address: 192.0.2.10:7420
    - kind: relay
      address: relay.example.net:443
      token: abc
`

func TestParse_Device(t *testing.T) {
	op, err := identity.Generate()
	require.NoError(t, err)

	f, err := Parse([]byte(fmt.Sprintf(deviceYAML, op.ID().String())))
	require.NoError(t, err)
	assert.Equal(t, RoleDevice, f.Role)
	assert.Equal(t, DefaultPassphraseEnv, f.Identity.PassphraseEnv)
	assert.Equal(t, 2*time.Minute, f.RateLimit.Window)
	assert.Equal(t, 3*time.Minute, f.Pairing.InviteTTL)

	pc, err := f.PolicyConfig()
	require.NoError(t, err)
	assert.Equal(t, policy.ModeTrustedOperatorsOnly, pc.Mode)
	assert.Equal(t, []identity.ID{op.ID()}, pc.Trusted)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday}, pc.AllowedDays)
	require.NotNil(t, pc.AllowedHours)
	assert.Equal(t, policy.HourWindow{Start: 22, End: 6}, *pc.AllowedHours)
	assert.Equal(t, time.UTC, pc.Location)

	lc := f.LimiterConfig(nil)
	assert.Equal(t, 5, lc.MaxFailures)
	assert.Equal(t, 10*time.Second, lc.BackoffBase)
	assert.Equal(t, []string{"127.0.0.1"}, lc.Allowlist)

	nc, err := f.NegotiatorConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, []transport.Kind{transport.KindDirect, transport.KindRelay}, nc.Supported)
	require.Len(t, nc.Local, 2)
	assert.Equal(t, []byte("abc"), nc.Local[1].Token)

	id, err := identity.Generate()
	require.NoError(t, err)
	dc, err := f.DeviceConfig(id, store.NewMemoryStore(), node.SenderFunc(nil), consent.Static(consent.Deny()), nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, dc.TicketLifetime)
	assert.Equal(t, 4, dc.MaxSessions)
	assert.Equal(t, "office-pc", dc.Label)
	assert.Nil(t, dc.Advertiser)
	assert.NoError(t, dc.Validate())

	_, err = f.OperatorConfig(id, store.NewMemoryStore(), node.SenderFunc(nil), nil)
	assert.ErrorIs(t, err, ErrWrongRole)
}

func TestParse_OperatorDefaults(t *testing.T) {
	f, err := Parse([]byte("role: operator\nidentity: {keystore: op.key}\ndiscovery: {enabled: true}\n"))
	require.NoError(t, err)
	assert.Equal(t, policy.ModeAlwaysAsk.String(), f.Policy.Mode)

	id, err := identity.Generate()
	require.NoError(t, err)
	oc, err := f.OperatorConfig(id, store.NewMemoryStore(), node.SenderFunc(nil), nil)
	require.NoError(t, err)
	assert.NotNil(t, oc.Resolver)
	assert.NotNil(t, oc.Negotiator)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{name: "role", yaml: "role: relay\nidentity: {keystore: k}\n", want: ErrInvalidRole},
		{name: "keystore", yaml: "role: device\n", want: ErrKeystoreRequired},
		{name: "hours", yaml: "identity: {keystore: k}\npolicy: {allowedHours: {start: 8, end: 25}}\n", want: ErrInvalidHours},
		{name: "day", yaml: "identity: {keystore: k}\npolicy: {allowedDays: [funday]}\n", want: ErrInvalidDay},
		{name: "candidate", yaml: "identity: {keystore: k}\ntransport: {candidates: [{kind: direct}]}\n", want: ErrInvalidCandidate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	for name, data := range map[string]string{
		"mode":        "identity: {keystore: k}\npolicy: {mode: sometimes}\n",
		"kind":        "identity: {keystore: k}\ntransport: {supported: [carrier-pigeon]}\n",
		"trusted":     "identity: {keystore: k}\npolicy: {trusted: [nothex]}\n",
		"unknown key": "identity: {keystore: k}\nbogus: 1\n",
		"location":    "identity: {keystore: k}\npolicy: {location: Nowhere/Atlantis}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trustlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("role: operator\nidentity: {keystore: k}\n"), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, f.Role)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIdentityAndStore(t *testing.T) {
	dir := t.TempDir()
	id, err := identity.Generate()
	require.NoError(t, err)
	keystore := filepath.Join(dir, "identity.key")
	require.NoError(t, identity.SaveFile(keystore, id, "hunter2", identity.ScryptParams{N: 1 << 10, R: 8, P: 1}))

	f := &File{
		Role:     RoleDevice,
		Identity: IdentitySection{Keystore: keystore, PassphraseEnv: "TRUSTLINK_TEST_PASSPHRASE"},
		Store:    StoreSection{Dir: filepath.Join(dir, "db")},
	}
	t.Setenv("TRUSTLINK_TEST_PASSPHRASE", "hunter2")

	loaded, err := f.LoadIdentity(f.Passphrase())
	require.NoError(t, err)
	assert.Equal(t, id.ID(), loaded.ID())

	st, err := f.OpenStore(nil)
	require.NoError(t, err)
	bs, ok := st.(*store.BadgerStore)
	require.True(t, ok)
	require.NoError(t, bs.Close())

	f.Store.Dir = ""
	st, err = f.OpenStore(nil)
	require.NoError(t, err)
	_, ok = st.(*store.MemoryStore)
	assert.True(t, ok)
}
