package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/austindbirch/thought_relay/internal/breaker"
)

var (
	ThoughtsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoughtrelay_thoughts_enqueued_total",
			Help: "Total number of thoughts accepted into the delivery queue.",
		},
		[]string{"category", "priority"},
	)

	EnqueueRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoughtrelay_enqueue_rejected_total",
			Help: "Total number of thoughts rejected at enqueue by reason.",
		},
		[]string{"reason"}, // e.g. queue_full, invalid_category, oversize_input
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoughtrelay_deliveries_total",
			Help: "Total number of delivery attempts by terminal status.",
		},
		[]string{"status", "category", "destination"},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thoughtrelay_delivery_latency_seconds",
			Help:    "Observed latency of delivery attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoughtrelay_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoughtrelay_dlq_total",
			Help: "Total number of tasks dead-lettered by reason.",
		},
		[]string{"reason"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoughtrelay_rate_limited_total",
			Help: "Total number of attempts deferred by the per-destination rate limit.",
		},
		[]string{"destination"},
	)

	BreakerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoughtrelay_breaker_rejections_total",
			Help: "Total number of attempts skipped because a circuit was open.",
		},
		[]string{"destination"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thoughtrelay_breaker_state",
			Help: "Circuit state per destination: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"destination"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thoughtrelay_queue_depth",
			Help: "Tasks currently queued, by state.",
		},
		[]string{"state"}, // ready | delayed
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		ThoughtsEnqueuedTotal,
		EnqueueRejectedTotal,
		DeliveriesTotal,
		DeliveryLatencySeconds,
		RetriesTotal,
		DLQTotal,
		RateLimitedTotal,
		BreakerRejectionsTotal,
		BreakerState,
		QueueDepth,
	)
}

// RecordEnqueued counts one accepted thought.
func RecordEnqueued(category, priority string) {
	ThoughtsEnqueuedTotal.WithLabelValues(category, priority).Inc()
}

// RecordEnqueueRejected counts one rejected enqueue.
func RecordEnqueueRejected(reason string) {
	EnqueueRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordDelivery counts one attempt outcome and observes its latency.
func RecordDelivery(status, category, destination string, duration time.Duration) {
	DeliveriesTotal.WithLabelValues(status, category, destination).Inc()
	if duration > 0 {
		DeliveryLatencySeconds.WithLabelValues(category).Observe(duration.Seconds())
	}
}

// RecordRetry counts one scheduled retry.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ counts one dead-lettered task.
func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimited counts one rate-limit deferral.
func RecordRateLimited(destination string) {
	RateLimitedTotal.WithLabelValues(destination).Inc()
}

// RecordBreakerRejection counts one open-circuit skip.
func RecordBreakerRejection(destination string) {
	BreakerRejectionsTotal.WithLabelValues(destination).Inc()
}

// UpdateBreakerState publishes a destination's circuit position.
func UpdateBreakerState(destination string, state breaker.State) {
	var v float64
	switch state {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	BreakerState.WithLabelValues(destination).Set(v)
}

// UpdateQueueDepth publishes the current queue split.
func UpdateQueueDepth(ready, delayed int) {
	QueueDepth.WithLabelValues("ready").Set(float64(ready))
	QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
}
