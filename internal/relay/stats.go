package relay

import (
	"github.com/austindbirch/thought_relay/internal/breaker"
	"github.com/austindbirch/thought_relay/internal/metrics"
)

// Stats is the operational snapshot served to the status surface. It is
// read-only and assembled on demand; nothing in it blocks delivery.
type Stats struct {
	QueueReady     int    `json:"queue_ready"`
	QueueDelayed   int    `json:"queue_delayed"`
	QueueLength    int    `json:"queue_length"`
	ActiveWorkers  int    `json:"active_workers"`
	MaxConcurrency int    `json:"max_concurrency"`
	Signing        string `json:"signing"`

	EnqueuedByCategory map[string]uint64           `json:"enqueued_by_category"`
	DeadLetters        uint64                      `json:"dead_letters"`
	PerDestination     map[string]DestinationStats `json:"per_destination"`
	Window             metrics.WindowStats         `json:"window"`
}

// DestinationStats pairs a destination's circuit snapshot with how many
// requests its current rate window still admits.
type DestinationStats struct {
	Circuit       breaker.Snapshot `json:"circuit"`
	RateRemaining int              `json:"rate_remaining"`
}

// Stats assembles the current pipeline snapshot.
func (s *Service) Stats() Stats {
	ready, delayed := s.queue.Depth()

	snaps := s.breakers.Snapshots()
	perDest := make(map[string]DestinationStats, len(s.cfg.Destinations))
	for _, dest := range s.cfg.Destinations {
		if dest.URL == "" {
			continue
		}
		snap, ok := snaps[dest.URL]
		if !ok {
			snap = s.breakers.For(dest.URL).Snapshot()
		}
		perDest[dest.URL] = DestinationStats{
			Circuit:       snap,
			RateRemaining: s.limiter.Remaining(dest.URL),
		}
	}

	s.mu.Lock()
	byCategory := make(map[string]uint64, len(s.enqueued))
	for cat, n := range s.enqueued {
		byCategory[cat.String()] = n
	}
	s.mu.Unlock()

	return Stats{
		QueueReady:         ready,
		QueueDelayed:       delayed,
		QueueLength:        ready + delayed,
		ActiveWorkers:      s.dispatch.Active(),
		MaxConcurrency:     s.dispatch.Workers(),
		Signing:            s.signing,
		EnqueuedByCategory: byCategory,
		DeadLetters:        s.ring.Total(),
		PerDestination:     perDest,
		Window:             s.window.Snapshot(),
	}
}
