package metrics

import (
	"sync"
	"time"
)

// DefaultWindowSpan is how far back the rolling delivery stats look.
const DefaultWindowSpan = 5 * time.Minute

// Health labels derived from the rolling success rate.
const (
	HealthHealthy   = "healthy"   // success rate >= 0.90
	HealthDegraded  = "degraded"  // success rate >= 0.70
	HealthUnhealthy = "unhealthy" // anything below
)

const windowBuckets = 60

// WindowStats is a point-in-time summary of the rolling window.
type WindowStats struct {
	Span        time.Duration `json:"span"`
	Attempts    int           `json:"attempts"`
	Successes   int           `json:"successes"`
	Failures    int           `json:"failures"`
	SuccessRate float64       `json:"success_rate"` // 1.0 when idle
	AvgDuration time.Duration `json:"avg_duration"`
	Health      string        `json:"health"`
}

type bucket struct {
	start     int64 // unix time of the bucket's slot, for staleness checks
	attempts  int
	successes int
	durSum    time.Duration
}

// RollingWindow aggregates delivery attempts over a sliding span using a ring
// of time buckets. Observations land in the current bucket; snapshots sum the
// buckets still inside the span. An idle window reports a 1.0 success rate so
// a quiet system reads healthy rather than broken.
type RollingWindow struct {
	mu        sync.Mutex
	span      time.Duration
	bucketDur time.Duration
	buckets   [windowBuckets]bucket
	now       func() time.Time
}

// NewRollingWindow builds a window covering span. Non-positive spans use the
// default.
func NewRollingWindow(span time.Duration) *RollingWindow {
	if span <= 0 {
		span = DefaultWindowSpan
	}
	bucketDur := span / windowBuckets
	if bucketDur < time.Second {
		bucketDur = time.Second
	}
	return &RollingWindow{span: span, bucketDur: bucketDur, now: time.Now}
}

// Observe records one delivery attempt.
func (w *RollingWindow) Observe(success bool, duration time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.currentBucket()
	b.attempts++
	if success {
		b.successes++
	}
	b.durSum += duration
}

// Snapshot sums the live buckets into a WindowStats.
func (w *RollingWindow) Snapshot() WindowStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	oldest := w.now().Add(-w.span).Unix()
	stats := WindowStats{Span: w.span}
	var durSum time.Duration
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.start == 0 || b.start < oldest {
			continue
		}
		stats.Attempts += b.attempts
		stats.Successes += b.successes
		durSum += b.durSum
	}
	stats.Failures = stats.Attempts - stats.Successes

	stats.SuccessRate = 1.0
	if stats.Attempts > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Attempts)
		stats.AvgDuration = durSum / time.Duration(stats.Attempts)
	}
	stats.Health = healthFor(stats.SuccessRate)
	return stats
}

// currentBucket returns the live bucket for now, resetting it if the slot
// last held an older interval. Callers hold w.mu.
func (w *RollingWindow) currentBucket() *bucket {
	now := w.now()
	slotStart := now.Truncate(w.bucketDur)
	idx := int(slotStart.UnixNano()/int64(w.bucketDur)) % windowBuckets
	if idx < 0 {
		idx += windowBuckets
	}
	b := &w.buckets[idx]
	if b.start != slotStart.Unix() {
		*b = bucket{start: slotStart.Unix()}
	}
	return b
}

func healthFor(successRate float64) string {
	switch {
	case successRate >= 0.90:
		return HealthHealthy
	case successRate >= 0.70:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}
