// Package dlq provides dead-letter sinks for deliveries that exhausted their
// attempt budget or hit a non-retryable response. Sinks are composable: the
// relay keeps an in-process ring for inspection and optionally publishes each
// envelope to an NSQ topic for out-of-process consumers.
package dlq

import (
	"context"
	"errors"
	"sync"

	"github.com/austindbirch/thought_relay/internal/delivery"
)

// DefaultRingCap bounds the in-process ring of retained dead letters.
const DefaultRingCap = 256

// Ring retains the newest dead letters in memory. It is always wired so
// operators can inspect recent abandonments through the stats surface even
// when no external sink is configured.
type Ring struct {
	mu      sync.Mutex
	cap     int
	letters []delivery.DeadLetter
	total   uint64
}

func NewRing(cap int) *Ring {
	if cap <= 0 {
		cap = DefaultRingCap
	}
	return &Ring{cap: cap}
}

// Publish implements delivery.DeadLetterSink.
func (r *Ring) Publish(_ context.Context, dl delivery.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, dl)
	if len(r.letters) > r.cap {
		r.letters = r.letters[len(r.letters)-r.cap:]
	}
	r.total++
	return nil
}

// Letters returns the retained envelopes, oldest first.
func (r *Ring) Letters() []delivery.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.DeadLetter(nil), r.letters...)
}

// Total counts every dead letter ever published, including evicted ones.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Fanout publishes each dead letter to every sink. All sinks are attempted
// even when one fails; the combined error is returned so the caller can log
// it without losing a letter in the surviving sinks.
type Fanout []delivery.DeadLetterSink

func (f Fanout) Publish(ctx context.Context, dl delivery.DeadLetter) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, dl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
