package delivery

import (
	"math/rand"
	"time"
)

const (
	// DefaultBaseBackoff seeds the exponential retry schedule.
	DefaultBaseBackoff = 1 * time.Second
	// DefaultMaxBackoff caps the schedule so late retries stay bounded.
	DefaultMaxBackoff = 5 * time.Minute
)

// RetryPolicy computes how long a task waits before attempt N+1: the base
// delay doubled once per completed attempt, capped at Max. JitterPct spreads
// synchronized retries by adding up to that percentage on top; zero keeps the
// schedule exact.
type RetryPolicy struct {
	Base      time.Duration
	Max       time.Duration
	JitterPct int
}

// DefaultRetryPolicy returns the stock schedule: 1s, 2s, 4s, ... capped at 5m,
// no jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: DefaultBaseBackoff, Max: DefaultMaxBackoff}
}

// Delay returns the wait after `attempts` completed attempts (attempts >= 1).
func (p RetryPolicy) Delay(attempts int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max || delay < 0 { // overflow guard
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	if p.JitterPct > 0 {
		jitter := delay * time.Duration(p.JitterPct) / 100
		if jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(jitter)))
		}
		if delay > max {
			delay = max
		}
	}
	return delay
}
