package ratelimit

import (
	"math"
	"math/rand"
	"time"
)

// Backoff defaults.
const (
	// DefaultBackoffBase is the block applied on the first offense.
	DefaultBackoffBase = 30 * time.Second

	// DefaultBackoffMax caps the block for persistent offenders.
	DefaultBackoffMax = time.Hour

	// BackoffFactor is the growth per repeated offense.
	BackoffFactor = 2.0
)

// RandomSource provides random values for jitter calculation.
// Allows injection of deterministic sources for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource uses math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// BackoffCalculator computes how long a repeat offender stays blocked:
//
//	block = min(base * factor^(offense-1), max) * (1 + random(0,1) * jitter)
type BackoffCalculator struct {
	base   time.Duration
	max    time.Duration
	jitter float64
	random RandomSource
}

// NewBackoffCalculator creates a calculator. Zero base or max use the
// defaults; a nil random uses DefaultRandomSource.
func NewBackoffCalculator(base, max time.Duration, jitter float64, random RandomSource) *BackoffCalculator {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if random == nil {
		random = DefaultRandomSource
	}
	return &BackoffCalculator{base: base, max: max, jitter: jitter, random: random}
}

// Calculate returns the block for the given offense count (1 for the
// first offense).
func (b *BackoffCalculator) Calculate(offense int) time.Duration {
	d := b.CalculateMin(offense)
	if b.jitter > 0 {
		d = time.Duration(float64(d) * (1.0 + b.random.Float64()*b.jitter))
	}
	return d
}

// CalculateMin returns the block without jitter.
func (b *BackoffCalculator) CalculateMin(offense int) time.Duration {
	exponent := offense - 1
	if exponent < 0 {
		exponent = 0
	}
	d := float64(b.base) * math.Pow(BackoffFactor, float64(exponent))
	if d > float64(b.max) {
		return b.max
	}
	return time.Duration(d)
}
