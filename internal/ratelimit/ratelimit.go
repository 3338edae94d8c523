package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const (
	// DefaultWindow is the admission window per destination.
	DefaultWindow = 60 * time.Second
	// DefaultMax is the number of requests admitted per destination per window.
	DefaultMax = 20

	shardCount = 16
)

// Window is one destination's admission state: how many requests the current
// window has admitted and when the window rolls over. Reset happens lazily on
// the first admission check after ResetAt.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Store holds per-destination windows. Update must apply fn atomically with
// respect to other calls for the same key; unrelated keys must not contend.
// The in-memory store below is the default; the interface exists so a shared
// external store can back multi-instance deployments.
type Store interface {
	Update(key string, fn func(Window) Window) Window
	Get(key string) (Window, bool)
	Sweep(now time.Time) int
	Len() int
}

// Limiter applies fixed-window admission control per destination key.
type Limiter struct {
	store  Store
	window time.Duration
	max    int
}

// New builds a Limiter over store. A nil store gets a fresh in-memory one;
// non-positive window or max fall back to the defaults.
func New(window time.Duration, max int, store Store) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{store: store, window: window, max: max}
}

// Allow admits one request for key. The first call in a new window resets the
// counter and admits; subsequent calls admit until max is reached. Denials
// return how long until the window resets so callers can defer the attempt
// without polling.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	now := time.Now()
	allowed := false
	w := l.store.Update(key, func(w Window) Window {
		if w.ResetAt.IsZero() || !now.Before(w.ResetAt) {
			allowed = true
			return Window{Count: 1, ResetAt: now.Add(l.window)}
		}
		w.Count++
		allowed = w.Count <= l.max
		return w
	})
	if allowed {
		return true, 0
	}
	retryAfter := time.Until(w.ResetAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Remaining reports how many admissions key has left in its current window.
func (l *Limiter) Remaining(key string) int {
	w, ok := l.store.Get(key)
	if !ok || !time.Now().Before(w.ResetAt) {
		return l.max
	}
	left := l.max - w.Count
	if left < 0 {
		return 0
	}
	return left
}

// Max returns the configured per-window admission limit.
func (l *Limiter) Max() int { return l.max }

// Sweep drops expired windows to bound memory and returns how many were
// removed. Callers run it periodically; the limiter itself never needs the
// expired entries since Allow resets lazily.
func (l *Limiter) Sweep() int {
	return l.store.Sweep(time.Now())
}

// Tracked reports how many destination windows are currently held.
func (l *Limiter) Tracked() int { return l.store.Len() }

// MemoryStore is the default Store: a sharded mutex map so concurrent checks
// for unrelated destinations do not serialize on one lock.
type MemoryStore struct {
	shards [shardCount]memoryShard
}

type memoryShard struct {
	mu      sync.Mutex
	windows map[string]Window
}

// NewMemoryStore builds an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]Window)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Update(key string, fn func(Window) Window) Window {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	w := fn(sh.windows[key])
	sh.windows[key] = w
	return w
}

func (s *MemoryStore) Get(key string) (Window, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	w, ok := sh.windows[key]
	return w, ok
}

func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, w := range sh.windows {
			if !now.Before(w.ResetAt) {
				delete(sh.windows, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}
