package ratelimit

import (
	"fmt"
	"time"

	"github.com/backkem/trustlink/pkg/status"
)

// ErrRateLimited is the sentinel every LimitedError matches.
var ErrRateLimited = status.New(status.KindRateLimit, "ratelimit: too many attempts")

// LimitedError reports a rejected reservation and how long to wait.
type LimitedError struct {
	Source string
	Wait   time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("ratelimit: source %q blocked for %s", e.Source, e.Wait.Round(time.Millisecond))
}

// Kind classifies the error as a rate-limit failure.
func (e *LimitedError) Kind() status.Kind { return status.KindRateLimit }

// RetryAfter returns the suggested wait.
func (e *LimitedError) RetryAfter() time.Duration { return e.Wait }

// Is matches ErrRateLimited.
func (e *LimitedError) Is(target error) bool { return target == ErrRateLimited }
