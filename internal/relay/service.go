// Package relay wires the delivery pipeline together behind a small facade:
// producers enqueue thoughts, the dispatcher drains them to per-category
// destinations, and operators read one stats snapshot for the whole pipeline.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/austindbirch/thought_relay/internal/breaker"
	"github.com/austindbirch/thought_relay/internal/category"
	"github.com/austindbirch/thought_relay/internal/delivery"
	"github.com/austindbirch/thought_relay/internal/dlq"
	"github.com/austindbirch/thought_relay/internal/logging"
	"github.com/austindbirch/thought_relay/internal/metrics"
	"github.com/austindbirch/thought_relay/internal/ratelimit"
	"github.com/austindbirch/thought_relay/internal/signing"
	"github.com/austindbirch/thought_relay/internal/tracing"
)

const (
	// DefaultSweepInterval is how often expired rate windows are reclaimed.
	DefaultSweepInterval = 5 * time.Minute

	// gaugeInterval is how often queue depth and breaker state gauges refresh.
	gaugeInterval = 10 * time.Second
)

// ValidationError rejects a thought at enqueue time, before it is queued.
// Reason is a stable machine token (also the rejection metric label).
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

// Config assembles every pipeline knob. Zero values fall back to the
// component defaults.
type Config struct {
	Destinations map[category.Category]delivery.Destination
	Secrets      map[category.Category]string
	Profiles     map[category.Category]category.Profile

	Workers       int
	QueueCapacity int
	Retry         delivery.RetryPolicy

	RateWindow    time.Duration
	RateMax       int
	SweepInterval time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration

	MetricsWindow time.Duration

	// GlobalRate caps total egress in requests per second across every
	// destination. Zero means unlimited.
	GlobalRate float64

	Executor   delivery.ExecutorConfig
	HTTPClient *http.Client
}

// Sinks are the optional terminal-outcome consumers. The service always keeps
// its own in-process dead-letter ring; these add durable or external copies.
type Sinks struct {
	Recorder   delivery.Recorder
	DeadLetter []delivery.DeadLetterSink
}

// EnqueueRequest is one thought handed to the relay by a producer.
type EnqueueRequest struct {
	Category    string `json:"category"`
	Input       string `json:"input"`
	Expanded    string `json:"expanded,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`
}

// Service is the delivery pipeline facade.
type Service struct {
	cfg Config
	log *logging.Logger

	queue    *delivery.Queue
	limiter  *ratelimit.Limiter
	breakers *breaker.Service
	dispatch *delivery.Dispatcher
	window   *metrics.RollingWindow
	ring     *dlq.Ring

	signing string // enabled | partial | disabled

	mu       sync.Mutex
	enqueued map[category.Category]uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	maintWG  sync.WaitGroup
}

// New builds a stopped service; call Start to launch the workers.
func New(cfg Config, sinks Sinks, log *logging.Logger) *Service {
	if cfg.Profiles == nil {
		cfg.Profiles = category.DefaultProfiles()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if log == nil {
		log = logging.New("thought-relay")
	}

	s := &Service{
		cfg:      cfg,
		log:      log,
		queue:    delivery.NewQueue(cfg.QueueCapacity),
		limiter:  ratelimit.New(cfg.RateWindow, cfg.RateMax, nil),
		breakers: breaker.NewService(cfg.BreakerThreshold, cfg.BreakerCooldown),
		window:   metrics.NewRollingWindow(cfg.MetricsWindow),
		ring:     dlq.NewRing(0),
		signing:  signingMode(cfg.Destinations, cfg.Secrets),
		enqueued: make(map[category.Category]uint64),
		stopCh:   make(chan struct{}),
	}

	var globalRate *rate.Limiter
	if cfg.GlobalRate > 0 {
		burst := int(cfg.GlobalRate)
		if burst < 1 {
			burst = 1
		}
		globalRate = rate.NewLimiter(rate.Limit(cfg.GlobalRate), burst)
	}

	fan := dlq.Fanout{s.ring}
	for _, sink := range sinks.DeadLetter {
		if sink != nil {
			fan = append(fan, sink)
		}
	}

	s.dispatch = delivery.NewDispatcher(delivery.DispatcherConfig{
		Workers:    cfg.Workers,
		Retry:      cfg.Retry,
		Profiles:   cfg.Profiles,
		GlobalRate: globalRate,
	}, delivery.Deps{
		Queue:    s.queue,
		Limiter:  s.limiter,
		Breakers: s.breakers,
		Executor: delivery.NewExecutor(cfg.HTTPClient, cfg.Executor),
		DLQ:      fan,
		Recorder: sinks.Recorder,
		Window:   s.window,
		Log:      log,
	})
	return s
}

// Start launches the dispatch pool and the maintenance loop. ctx bounds
// in-flight HTTP attempts at shutdown.
func (s *Service) Start(ctx context.Context) {
	s.dispatch.Start(ctx)
	s.maintWG.Add(1)
	go s.maintain()
	s.log.Plain().WithFields(map[string]any{
		"workers":      s.dispatch.Workers(),
		"destinations": len(s.cfg.Destinations),
		"signing":      s.signing,
	}).Info("relay service started")
}

// Stop shuts the pipeline down: no new admissions, in-flight deliveries run
// to completion, queued tasks are dropped and counted.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.queue.Close()
		s.dispatch.Wait()
		if abandoned := s.queue.Drain(); len(abandoned) > 0 {
			s.log.Plain().WithField("abandoned", len(abandoned)).Warn("shutdown dropped queued tasks")
		}
		s.maintWG.Wait()
		s.log.Plain().Info("relay service stopped")
	})
}

// Enqueue validates, signs and queues one thought. It returns the task ID
// immediately; delivery happens in the background and failures there never
// reach the producer. Validation failures and queue saturation are the only
// synchronous errors.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	cat, err := category.Parse(req.Category)
	if err != nil {
		return "", s.reject(ctx, "unknown_category", err.Error())
	}
	prio, err := category.ParsePriority(req.Priority)
	if err != nil {
		return "", s.reject(ctx, "invalid_priority", err.Error())
	}
	if strings.TrimSpace(req.Input) == "" {
		return "", s.reject(ctx, "input_required", "input is required")
	}
	if utf8.RuneCountInString(req.Input) > signing.InputCap {
		return "", s.reject(ctx, "input_too_large",
			fmt.Sprintf("input exceeds %d characters", signing.InputCap))
	}
	dest, ok := s.cfg.Destinations[cat]
	if !ok || dest.URL == "" {
		return "", s.reject(ctx, "no_destination",
			fmt.Sprintf("no destination configured for category %q", cat))
	}

	sp, err := signing.Sign(signing.Input{
		Input:       req.Input,
		Category:    cat,
		Subcategory: req.Subcategory,
		Priority:    prio,
		Expanded:    req.Expanded,
	}, s.cfg.Secrets[cat])
	if err != nil {
		return "", s.reject(ctx, "signing_failed", err.Error())
	}

	t := delivery.NewTask(sp, dest, prio, s.cfg.Profiles[cat].MaxAttempts)
	t.TraceHeaders = tracing.PropagateTraceHeaders(ctx)

	if err := s.queue.Enqueue(t); err != nil {
		reason := "queue_full"
		if errors.Is(err, delivery.ErrQueueClosed) {
			reason = "shutting_down"
		}
		metrics.RecordEnqueueRejected(reason)
		s.log.WithContext(ctx).WithCategory(cat.String()).WithError(err).Warn("enqueue rejected")
		return "", err
	}

	metrics.RecordEnqueued(cat.String(), prio.String())
	s.mu.Lock()
	s.enqueued[cat]++
	s.mu.Unlock()

	s.log.WithContext(ctx).WithTask(t.ID).WithCategory(cat.String()).WithFields(map[string]any{
		"priority":    prio.String(),
		"destination": dest.URL,
	}).Info("thought enqueued")
	return t.ID, nil
}

func (s *Service) reject(ctx context.Context, reason, detail string) error {
	metrics.RecordEnqueueRejected(reason)
	s.log.WithContext(ctx).WithField("reason", reason).Debug("enqueue rejected")
	return &ValidationError{Reason: reason, Detail: detail}
}

// SigningMode reports enabled, partial or disabled depending on how many
// configured destinations have a secret.
func (s *Service) SigningMode() string { return s.signing }

// DeadLetters returns the most recent abandoned envelopes, oldest first.
func (s *Service) DeadLetters() []delivery.DeadLetter { return s.ring.Letters() }

// maintain periodically sweeps expired rate windows and refreshes the queue
// depth and breaker state gauges.
func (s *Service) maintain() {
	defer s.maintWG.Done()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	gauges := time.NewTicker(gaugeInterval)
	defer sweep.Stop()
	defer gauges.Stop()

	for {
		select {
		case <-sweep.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.log.Plain().WithField("swept", n).Debug("expired rate windows reclaimed")
			}
		case <-gauges.C:
			ready, delayed := s.queue.Depth()
			metrics.UpdateQueueDepth(ready, delayed)
			for dest, snap := range s.breakers.Snapshots() {
				metrics.UpdateBreakerState(dest, snap.State)
			}
		case <-s.stopCh:
			return
		}
	}
}

func signingMode(dests map[category.Category]delivery.Destination, secrets map[category.Category]string) string {
	total, signed := 0, 0
	for cat := range dests {
		total++
		if secrets[cat] != "" {
			signed++
		}
	}
	switch {
	case total == 0 || signed == 0:
		return "disabled"
	case signed == total:
		return "enabled"
	default:
		return "partial"
	}
}
