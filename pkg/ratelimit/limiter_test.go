package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/status"
)

func newTestLimiter(c clock.Clock) *Limiter {
	return New(Config{
		MaxFailures: 3,
		Window:      time.Minute,
		BackoffBase: 30 * time.Second,
		BackoffMax:  10 * time.Minute,
		Clock:       c,
	})
}

func failN(t *testing.T, l *Limiter, source string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		r, err := l.Reserve(source)
		if err != nil {
			t.Fatalf("Reserve() #%d error = %v", i+1, err)
		}
		r.Fail()
	}
}

func expectLimited(t *testing.T, l *Limiter, source string, wait time.Duration) {
	t.Helper()
	_, err := l.Reserve(source)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Reserve() error = %v, want ErrRateLimited", err)
	}
	var le *LimitedError
	if !errors.As(err, &le) {
		t.Fatalf("error %T is not *LimitedError", err)
	}
	if le.Wait != wait {
		t.Errorf("Wait = %v, want %v", le.Wait, wait)
	}
}

// TestLimiter_FourthAttemptRejected covers 4 failed attempts within a
// minute from one source.
func TestLimiter_FourthAttemptRejected(t *testing.T) {
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	l := newTestLimiter(c)

	for i := 0; i < 3; i++ {
		r, err := l.Reserve("10.0.0.9")
		if err != nil {
			t.Fatalf("attempt %d: Reserve() error = %v", i+1, err)
		}
		r.Fail()
		c.Advance(10 * time.Second)
	}

	_, err := l.Reserve("10.0.0.9")
	if err == nil {
		t.Fatal("4th attempt should be rate limited")
	}
	if status.KindOf(err) != status.KindRateLimit {
		t.Errorf("KindOf = %v, want RateLimitError", status.KindOf(err))
	}
	report := status.ToReport(err)
	if report.Code != status.CodeRateLimited {
		t.Errorf("Report.Code = %v", report.Code)
	}
	// Window started at t0, we are at t0+30s.
	if report.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", report.RetryAfter)
	}

	// Other sources are unaffected.
	if _, err := l.Reserve("10.0.0.10"); err != nil {
		t.Errorf("other source: Reserve() error = %v", err)
	}
}

func TestLimiter_ReleaseReturnsCredit(t *testing.T) {
	l := newTestLimiter(clock.NewManual(time.Unix(0, 0)))

	for i := 0; i < 10; i++ {
		r, err := l.Reserve("a")
		if err != nil {
			t.Fatalf("Reserve() #%d error = %v", i, err)
		}
		r.Release()
		r.Fail() // No effect after Release.
	}
	if got := l.Remaining("a"); got != 3 {
		t.Errorf("Remaining() = %d, want 3", got)
	}
}

func TestLimiter_OutstandingReservationsCount(t *testing.T) {
	l := newTestLimiter(clock.NewManual(time.Unix(0, 0)))

	var held []*Reservation
	for i := 0; i < 3; i++ {
		r, err := l.Reserve("a")
		if err != nil {
			t.Fatalf("Reserve() error = %v", err)
		}
		held = append(held, r)
	}
	if _, err := l.Reserve("a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Reserve() with 3 outstanding error = %v", err)
	}
	for _, r := range held {
		r.Release()
	}
}

func TestLimiter_ConcurrentReserve(t *testing.T) {
	l := newTestLimiter(clock.NewManual(time.Unix(0, 0)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve("flood"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 3 {
		t.Errorf("granted = %d, want 3", granted)
	}
}

func TestLimiter_WindowResetIsTimeBased(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	l := newTestLimiter(c)

	failN(t, l, "a", 3)
	if got := l.Remaining("a"); got != 0 {
		t.Fatalf("Remaining() = %d, want 0", got)
	}

	c.Advance(59 * time.Second)
	if got := l.Remaining("a"); got != 0 {
		t.Errorf("Remaining() before window end = %d, want 0", got)
	}

	c.Advance(time.Second)
	if got := l.Remaining("a"); got != 3 {
		t.Errorf("Remaining() after window end = %d, want 3", got)
	}
}

func TestLimiter_ExponentialBackoff(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	l := newTestLimiter(c)

	// Offense 1: 30s backoff, but never shorter than the window.
	failN(t, l, "a", 3)
	expectLimited(t, l, "a", time.Minute)

	// Offense 2: 60s backoff.
	c.Advance(time.Minute)
	failN(t, l, "a", 3)
	expectLimited(t, l, "a", time.Minute)

	// Offense 3: 120s backoff outlasts the window.
	c.Advance(time.Minute)
	failN(t, l, "a", 3)
	expectLimited(t, l, "a", 2*time.Minute)

	// Still blocked part-way through.
	c.Advance(90 * time.Second)
	expectLimited(t, l, "a", 30*time.Second)
}

func TestLimiter_CleanWindowForgives(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	l := newTestLimiter(c)

	failN(t, l, "a", 3)
	expectLimited(t, l, "a", time.Minute)

	// A window with a success and no failures.
	c.Advance(time.Minute)
	r, err := l.Reserve("a")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	r.Release()
	c.Advance(time.Minute)

	// Back to a first offense.
	failN(t, l, "a", 3)
	expectLimited(t, l, "a", time.Minute)
}

func TestLimiter_Allowlist(t *testing.T) {
	l := New(Config{Allowlist: []string{"trusted-op"}, Clock: clock.NewManual(time.Unix(0, 0))})

	for i := 0; i < 10; i++ {
		r, err := l.Reserve("trusted-op")
		if err != nil {
			t.Fatalf("allowlisted Reserve() error = %v", err)
		}
		r.Fail()
	}

	l.Disallow("trusted-op")
	failN(t, l, "trusted-op", DefaultMaxFailures)
	if _, err := l.Reserve("trusted-op"); err == nil {
		t.Error("expected limit after Disallow")
	}

	l.Allow("trusted-op")
	if _, err := l.Reserve("trusted-op"); err != nil {
		t.Errorf("Reserve() after Allow error = %v", err)
	}
}

func TestLimiter_Prune(t *testing.T) {
	c := clock.NewManual(time.Unix(0, 0))
	l := newTestLimiter(c)

	r, _ := l.Reserve("idle")
	r.Release()
	failN(t, l, "offender", 3)
	expectLimited(t, l, "offender", time.Minute)

	c.Advance(2 * time.Minute)
	if n := l.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1 (offender is remembered)", n)
	}
	c.Advance(10 * time.Minute)
	if n := l.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
}

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

func TestBackoffCalculator(t *testing.T) {
	b := NewBackoffCalculator(10*time.Second, time.Minute, 0, nil)

	tests := []struct {
		offense int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, time.Minute},
		{10, time.Minute},
	}
	for _, tt := range tests {
		if got := b.Calculate(tt.offense); got != tt.want {
			t.Errorf("Calculate(%d) = %v, want %v", tt.offense, got, tt.want)
		}
	}

	j := NewBackoffCalculator(10*time.Second, time.Minute, 0.2, fixedRandom(0.5))
	if got := j.Calculate(1); got != 11*time.Second {
		t.Errorf("Calculate with jitter = %v, want 11s", got)
	}
	if got := j.CalculateMin(1); got != 10*time.Second {
		t.Errorf("CalculateMin = %v, want 10s", got)
	}
}
