// Package ratelimit throttles failed attempts per source.
//
// A source reserves a credit before doing expensive work (such as
// verifying an invite proof). The reservation is then either failed,
// which counts against the source's fixed time window, or released, which
// returns the credit. Sources that exceed the window limit are blocked
// with exponential backoff on repeat offenses. Allowlisted sources are
// never throttled.
package ratelimit

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/clock"
)

// Defaults.
const (
	DefaultMaxFailures = 3
	DefaultWindow      = time.Minute
)

// Config configures a Limiter.
type Config struct {
	// MaxFailures per window. Default: 3.
	MaxFailures int

	// Window is the fixed counting window. Default: 1 minute.
	Window time.Duration

	// BackoffBase is the block on a first offense. Default: 30s.
	// The block never ends before the current window does.
	BackoffBase time.Duration

	// BackoffMax caps blocks. Default: 1 hour.
	BackoffMax time.Duration

	// BackoffJitter adds up to this fraction of random extra block.
	BackoffJitter float64

	// Allowlist sources bypass all limits.
	Allowlist []string

	// Clock for window and block timing. Default: clock.Real.
	Clock clock.Clock

	// Random for jitter. Default: DefaultRandomSource.
	Random RandomSource

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

type entry struct {
	windowStart  time.Time
	failures     int
	reserved     int
	offenses     int
	blockedUntil time.Time
}

// Limiter tracks per-source failure counts. It is safe for concurrent use
// and is meant to be constructed once and shared by every handler that
// gates on it.
type Limiter struct {
	maxFailures int
	window      time.Duration
	backoff     *BackoffCalculator
	clock       clock.Clock
	log         logging.LeveledLogger

	mu        sync.Mutex
	allowlist map[string]struct{}
	entries   map[string]*entry
}

// New creates a limiter.
func New(config Config) *Limiter {
	l := &Limiter{
		maxFailures: config.MaxFailures,
		window:      config.Window,
		backoff:     NewBackoffCalculator(config.BackoffBase, config.BackoffMax, config.BackoffJitter, config.Random),
		clock:       clock.OrReal(config.Clock),
		allowlist:   make(map[string]struct{}),
		entries:     make(map[string]*entry),
	}
	if l.maxFailures <= 0 {
		l.maxFailures = DefaultMaxFailures
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	for _, s := range config.Allowlist {
		l.allowlist[s] = struct{}{}
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("ratelimit")
	}
	return l
}

// Allow adds source to the allowlist.
func (l *Limiter) Allow(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowlist[source] = struct{}{}
	delete(l.entries, source)
}

// Disallow removes source from the allowlist.
func (l *Limiter) Disallow(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.allowlist, source)
}

// Reserve takes a credit for source. It fails with a *LimitedError (which
// matches ErrRateLimited) if the source is blocked or has no credit left in
// the current window. Outstanding reservations count against the limit so
// concurrent attempts cannot overshoot it.
func (l *Limiter) Reserve(source string) (*Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.allowlist[source]; ok {
		return &Reservation{done: true}, nil
	}

	now := l.clock.Now()
	e := l.roll(source, now)

	if now.Before(e.blockedUntil) {
		return nil, &LimitedError{Source: source, Wait: e.blockedUntil.Sub(now)}
	}

	if e.failures+e.reserved >= l.maxFailures {
		e.offenses++
		until := now.Add(l.backoff.Calculate(e.offenses))
		if windowEnd := e.windowStart.Add(l.window); windowEnd.After(until) {
			until = windowEnd
		}
		e.blockedUntil = until
		if l.log != nil {
			l.log.Warnf("source %s blocked until %s (offense %d)", source, until.Format(time.RFC3339), e.offenses)
		}
		return nil, &LimitedError{Source: source, Wait: until.Sub(now)}
	}

	e.reserved++
	return &Reservation{limiter: l, source: source}, nil
}

// Remaining returns the credits left for source in the current window.
func (l *Limiter) Remaining(source string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.allowlist[source]; ok {
		return l.maxFailures
	}
	now := l.clock.Now()
	e := l.roll(source, now)
	if now.Before(e.blockedUntil) {
		return 0
	}
	if n := l.maxFailures - e.failures - e.reserved; n > 0 {
		return n
	}
	return 0
}

// Prune drops idle entries. It returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	n := 0
	for s, e := range l.entries {
		age := now.Sub(e.windowStart)
		if e.reserved > 0 || now.Before(e.blockedUntil) || age < l.window {
			continue
		}
		// Keep repeat offenders around long enough to remember them.
		if e.offenses == 0 || age >= l.backoff.max {
			delete(l.entries, s)
			n++
		}
	}
	return n
}

// roll returns source's entry, starting a new window if the old one has
// elapsed. A window without failures forgives past offenses. Must be
// called with mu held.
func (l *Limiter) roll(source string, now time.Time) *entry {
	e, ok := l.entries[source]
	if !ok {
		e = &entry{windowStart: now}
		l.entries[source] = e
		return e
	}
	if now.Sub(e.windowStart) >= l.window && !now.Before(e.blockedUntil) {
		if e.failures == 0 {
			e.offenses = 0
		}
		e.windowStart = now
		e.failures = 0
	}
	return e
}

// settle ends a reservation. A failure reported after its window rolled
// counts in the current one. Must not be called with mu held.
func (l *Limiter) settle(source string, failed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[source]
	if !ok {
		return
	}
	if e.reserved > 0 {
		e.reserved--
	}
	if failed {
		e.failures++
		if l.log != nil {
			l.log.Debugf("source %s failure %d/%d", source, e.failures, l.maxFailures)
		}
	}
}

// Reservation is one reserved credit. Exactly one of Fail or Release takes
// effect; later calls are no-ops.
type Reservation struct {
	limiter *Limiter
	source  string

	mu   sync.Mutex
	done bool
}

// Fail counts the attempt as a failure.
func (r *Reservation) Fail() {
	r.finish(true)
}

// Release returns the credit without counting a failure. Use it for
// successful attempts and for cancelled ones.
func (r *Reservation) Release() {
	r.finish(false)
}

func (r *Reservation) finish(failed bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()

	r.limiter.settle(r.source, failed)
}
