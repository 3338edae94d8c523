package breaker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultThreshold is how many consecutive failures open a breaker.
	DefaultThreshold = 5
	// DefaultCooldown is how long an open breaker blocks before a trial.
	DefaultCooldown = 60 * time.Second
)

// State is the breaker position for one destination.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders states as their names so stats snapshots stay readable.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown breaker state %q", name)
	}
	return nil
}

// Breaker tracks consecutive delivery failures for a single destination.
// Reaching the threshold opens it; after the cooldown a single trial request
// is admitted, and that trial decides whether the breaker closes or re-opens
// for another full cooldown. Any success closes it and clears the count.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	state    State
	failures int
	openedAt time.Time
	trial    bool
}

// New builds a closed breaker. Non-positive arguments use the defaults.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether an attempt may proceed. While open it denies and
// returns the time left until the cooldown expires; once the cooldown has
// elapsed it admits exactly one trial and denies everything else until that
// trial is recorded.
func (b *Breaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, 0
	case StateOpen:
		remaining := b.cooldown - time.Since(b.openedAt)
		if remaining > 0 {
			return false, remaining
		}
		b.state = StateHalfOpen
		b.trial = true
		return true, 0
	case StateHalfOpen:
		if b.trial {
			return false, 0
		}
		b.trial = true
		return true, 0
	}
	return false, 0
}

// CancelTrial returns a half-open trial token that was admitted but never
// exercised. An attempt can be turned away by a gate after the breaker admits
// it, in which case no outcome will ever be recorded for the trial; without
// the refund the breaker would deny every later attempt while waiting on it.
func (b *Breaker) CancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trial = false
	}
}

// RecordSuccess closes the breaker and clears the consecutive failure count.
// It reports the resulting state and whether the state changed.
func (b *Breaker) RecordSuccess() (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := b.state != StateClosed
	b.state = StateClosed
	b.failures = 0
	b.trial = false
	return b.state, changed
}

// RecordFailure counts one more consecutive failure. Crossing the threshold
// opens the breaker; a failed half-open trial re-opens it for a fresh
// cooldown. Failures reported while already open (attempts that were in
// flight when it tripped) do not extend the cooldown.
func (b *Breaker) RecordFailure() (State, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = time.Now()
			return b.state, true
		}
		return b.state, false
	case StateHalfOpen:
		b.failures++
		b.state = StateOpen
		b.openedAt = time.Now()
		b.trial = false
		return b.state, true
	default:
		return b.state, false
	}
}

// Snapshot is a point-in-time view of one breaker for stats reporting.
type Snapshot struct {
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RetryAfter          time.Duration `json:"retry_after,omitempty"`
}

// Snapshot returns the breaker's current state without mutating it.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{State: b.state, ConsecutiveFailures: b.failures}
	if b.state == StateOpen {
		if remaining := b.cooldown - time.Since(b.openedAt); remaining > 0 {
			snap.RetryAfter = remaining
		}
	}
	return snap
}

// Service manages one breaker per destination key. Breakers are created on
// first use and share a threshold and cooldown. Map access is read-mostly;
// state transitions lock only the destination's own breaker.
type Service struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewService builds an empty breaker registry.
func NewService(threshold int, cooldown time.Duration) *Service {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Service{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// For returns the breaker for key, creating it closed if absent.
func (s *Service) For(key string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[key]; ok {
		return b
	}
	b = New(s.threshold, s.cooldown)
	s.breakers[key] = b
	return b
}

// Allow checks admission for key's breaker.
func (s *Service) Allow(key string) (bool, time.Duration) {
	return s.For(key).Allow()
}

// CancelTrial returns an unexercised half-open trial for key's breaker.
func (s *Service) CancelTrial(key string) {
	s.For(key).CancelTrial()
}

// RecordSuccess records a delivery success for key.
func (s *Service) RecordSuccess(key string) (State, bool) {
	return s.For(key).RecordSuccess()
}

// RecordFailure records a delivery failure for key.
func (s *Service) RecordFailure(key string) (State, bool) {
	return s.For(key).RecordFailure()
}

// Snapshots returns the current state of every tracked breaker keyed by
// destination.
func (s *Service) Snapshots() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Snapshot, len(s.breakers))
	for key, b := range s.breakers {
		out[key] = b.Snapshot()
	}
	return out
}
