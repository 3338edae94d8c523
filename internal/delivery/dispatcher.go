package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/austindbirch/thought_relay/internal/breaker"
	"github.com/austindbirch/thought_relay/internal/category"
	"github.com/austindbirch/thought_relay/internal/logging"
	"github.com/austindbirch/thought_relay/internal/metrics"
	"github.com/austindbirch/thought_relay/internal/ratelimit"
	"github.com/austindbirch/thought_relay/internal/tracing"
)

// DefaultWorkers is the dispatch pool size when none is configured.
const DefaultWorkers = 5

// DispatcherConfig tunes the dispatch pool.
type DispatcherConfig struct {
	Workers  int
	Retry    RetryPolicy
	Profiles map[category.Category]category.Profile
	// GlobalRate throttles total egress across all destinations. Nil means
	// unlimited; per-destination windows still apply.
	GlobalRate *rate.Limiter
}

// Deps are the collaborators a dispatcher drives. DLQ, Recorder and Window
// may be nil; the dispatcher then skips those hooks.
type Deps struct {
	Queue    *Queue
	Limiter  *ratelimit.Limiter
	Breakers *breaker.Service
	Executor *Executor
	DLQ      DeadLetterSink
	Recorder Recorder
	Window   *metrics.RollingWindow
	Log      *logging.Logger
}

// Dispatcher pulls tasks off the queue with a fixed pool of workers and walks
// each through the delivery gates: circuit breaker, then rate limiter, then
// the HTTP attempt. Failures go back to the queue on the backoff schedule
// until the attempt budget runs out.
type Dispatcher struct {
	cfg DispatcherConfig

	queue    *Queue
	limiter  *ratelimit.Limiter
	breakers *breaker.Service
	exec     *Executor
	dlq      DeadLetterSink
	rec      Recorder
	window   *metrics.RollingWindow
	log      *logging.Logger

	wg     sync.WaitGroup
	active atomic.Int32
}

// NewDispatcher wires a dispatcher. Worker count defaults when non-positive.
func NewDispatcher(cfg DispatcherConfig, deps Deps) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Profiles == nil {
		cfg.Profiles = category.DefaultProfiles()
	}
	if deps.Log == nil {
		deps.Log = logging.New("thought-relay-dispatch")
	}
	return &Dispatcher{
		cfg:      cfg,
		queue:    deps.Queue,
		limiter:  deps.Limiter,
		breakers: deps.Breakers,
		exec:     deps.Executor,
		dlq:      deps.DLQ,
		rec:      deps.Recorder,
		window:   deps.Window,
		log:      deps.Log,
	}
}

// Start launches the worker pool. Workers exit when the queue closes; ctx
// bounds the HTTP attempts still in flight at that point.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.log.Plain().WithField("workers", d.cfg.Workers).Info("dispatch pool started")
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Active reports how many workers are mid-delivery right now.
func (d *Dispatcher) Active() int {
	return int(d.active.Load())
}

// Workers reports the configured pool size.
func (d *Dispatcher) Workers() int {
	return d.cfg.Workers
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		t, ok := d.queue.Pop()
		if !ok {
			d.log.Plain().WithField("worker", id).Debug("worker exiting")
			return
		}
		d.active.Add(1)
		d.process(ctx, t)
		d.active.Add(-1)
	}
}

func (d *Dispatcher) process(ctx context.Context, t *Task) {
	// Resume the producer's trace so enqueue and delivery share one trace.
	if len(t.TraceHeaders) > 0 {
		ctx = tracing.ExtractTraceHeaders(ctx, t.TraceHeaders)
	}
	ctx, span := tracing.StartSpan(ctx, "relay.deliver",
		attribute.String("task_id", t.ID),
		attribute.String("category", t.Category.String()),
		attribute.String("priority", t.Priority.String()),
		attribute.String("destination", t.Destination.URL),
		attribute.Int("attempt", t.Attempts+1),
	)
	defer span.End()

	profile := d.profileFor(t.Category)
	dest := t.Destination.URL

	// Gate 1: circuit breaker. Maximal-effort categories bypass it.
	if !profile.SkipBreaker {
		if allowed, wait := d.breakers.Allow(dest); !allowed {
			d.skipOpenCircuit(ctx, t, wait)
			return
		}
	}

	// Gate 2: per-destination rate limit. A denial consumes no attempt; the
	// task waits out the window and keeps its full retry budget. Any half-open
	// trial taken at gate 1 is refunded, otherwise the breaker would wait
	// forever on an outcome this attempt never produces.
	if allowed, retryAfter := d.limiter.Allow(dest); !allowed {
		if !profile.SkipBreaker {
			d.breakers.CancelTrial(dest)
		}
		metrics.RecordRateLimited(dest)
		tracing.AddSpanEvent(ctx, "delivery.rate_limited")
		d.log.WithContext(ctx).WithTask(t.ID).WithDestination(dest).
			WithField("retry_in", retryAfter.String()).Debug("rate limited, deferring")
		d.requeue(ctx, t, retryAfter)
		return
	}

	if d.cfg.GlobalRate != nil {
		if err := d.cfg.GlobalRate.Wait(ctx); err != nil {
			// Shutdown while throttled; put the task back for draining and
			// refund any trial this attempt was holding.
			if !profile.SkipBreaker {
				d.breakers.CancelTrial(dest)
			}
			d.requeue(ctx, t, 0)
			return
		}
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	out := d.exec.Do(ctx, t)
	t.Attempts++
	t.LastStatus = out.Status
	t.LastError = errString(out.Err)

	span.SetAttributes(
		attribute.Int("http.status_code", out.Status),
		attribute.Int64("http.latency_ms", out.Duration.Milliseconds()),
	)
	if out.Err != nil {
		span.SetAttributes(attribute.String("http.error", out.Err.Error()))
	}

	if out.Success() {
		if !profile.SkipBreaker {
			if state, changed := d.breakers.RecordSuccess(dest); changed {
				metrics.UpdateBreakerState(dest, state)
				d.log.WithContext(ctx).WithDestination(dest).Info("circuit closed")
			}
		}
		metrics.RecordDelivery("delivered", t.Category.String(), dest, out.Duration)
		if d.window != nil {
			d.window.Observe(true, out.Duration)
		}
		tracing.AddSpanEvent(ctx, "delivery.success")
		d.log.WithContext(ctx).WithTask(t.ID).WithCategory(t.Category.String()).WithFields(map[string]any{
			"status":     out.Status,
			"attempt":    t.Attempts,
			"latency_ms": out.Duration.Milliseconds(),
		}).Info("delivered")
		d.record(ctx, t, out, true, "")
		return
	}

	// Failure path.
	if !profile.SkipBreaker {
		if state, changed := d.breakers.RecordFailure(dest); changed {
			metrics.UpdateBreakerState(dest, state)
			d.log.WithContext(ctx).WithDestination(dest).
				WithField("consecutive_failures", d.breakers.For(dest).Snapshot().ConsecutiveFailures).
				Warn("circuit opened")
		}
	}
	metrics.RecordDelivery("failed", t.Category.String(), dest, out.Duration)
	if d.window != nil {
		d.window.Observe(false, out.Duration)
	}
	tracing.AddSpanEvent(ctx, "delivery.failed")
	span.SetAttributes(attribute.String("failure_reason", out.Reason))

	if out.Permanent() {
		d.deadLetter(ctx, t, out, ReasonNonRetryableStatus)
		return
	}
	if t.Exhausted() {
		d.deadLetter(ctx, t, out, ReasonAttemptsExhausted)
		return
	}

	delay := d.cfg.Retry.Delay(t.Attempts)
	if out.RetryAfter > delay {
		delay = out.RetryAfter
	}
	metrics.RecordRetry(out.Reason)
	tracing.AddSpanEvent(ctx, "delivery.requeue",
		attribute.Int("attempt", t.Attempts),
		attribute.String("delay", delay.String()),
	)
	d.log.WithContext(ctx).WithTask(t.ID).WithFields(map[string]any{
		"attempt": t.Attempts,
		"reason":  out.Reason,
		"delay":   delay.String(),
	}).Info("requeue delivery")
	d.requeue(ctx, t, delay)
}

// skipOpenCircuit handles a task that hit an open breaker: the attempt is
// skipped but still consumes retry budget, so a destination that stays down
// cannot pin tasks in the queue forever.
func (d *Dispatcher) skipOpenCircuit(ctx context.Context, t *Task, wait time.Duration) {
	t.Attempts++
	t.LastError = "circuit open: attempt skipped"
	metrics.RecordBreakerRejection(t.Destination.URL)
	tracing.AddSpanEvent(ctx, "delivery.circuit_open", attribute.Int("attempt", t.Attempts))

	if t.Exhausted() {
		d.deadLetter(ctx, t, Outcome{Reason: "circuit_open"}, ReasonAttemptsExhausted)
		return
	}

	delay := d.cfg.Retry.Delay(t.Attempts)
	if wait > delay {
		delay = wait
	}
	d.log.WithContext(ctx).WithTask(t.ID).WithDestination(t.Destination.URL).WithFields(map[string]any{
		"attempt": t.Attempts,
		"delay":   delay.String(),
	}).Info("circuit open, attempt skipped")
	d.requeue(ctx, t, delay)
}

func (d *Dispatcher) requeue(ctx context.Context, t *Task, delay time.Duration) {
	if err := d.queue.Defer(t, time.Now().Add(delay)); err != nil {
		d.log.WithContext(ctx).WithTask(t.ID).WithError(err).Error("requeue failed, task abandoned")
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, t *Task, out Outcome, reason string) {
	dl := NewDeadLetter(*t, t.Attempts, out.Status, errString(out.Err), reason)
	if d.dlq != nil {
		if err := d.dlq.Publish(ctx, dl); err != nil {
			d.log.WithContext(ctx).WithTask(t.ID).WithError(err).Error("dead letter publish failed")
			tracing.SetSpanError(ctx, err)
		} else {
			tracing.AddSpanEvent(ctx, "relay.dead_lettered", attribute.String("reason", reason))
		}
	}
	metrics.RecordDLQ(reason)
	d.log.WithContext(ctx).WithTask(t.ID).WithCategory(t.Category.String()).WithFields(map[string]any{
		"attempts": t.Attempts,
		"status":   out.Status,
		"reason":   reason,
		"error":    errString(out.Err),
	}).Error("delivery abandoned")
	d.record(ctx, t, out, false, reason)
}

func (d *Dispatcher) record(ctx context.Context, t *Task, out Outcome, delivered bool, reason string) {
	if d.rec == nil {
		return
	}
	r := Result{
		Task:       *t,
		Delivered:  delivered,
		Attempts:   t.Attempts,
		Status:     out.Status,
		Reason:     reason,
		Duration:   out.Duration,
		FinishedAt: time.Now().UTC(),
	}
	if err := d.rec.Record(ctx, r); err != nil {
		d.log.WithContext(ctx).WithTask(t.ID).WithError(err).Error("archive record failed")
	}
}

func (d *Dispatcher) profileFor(c category.Category) category.Profile {
	if p, ok := d.cfg.Profiles[c]; ok {
		return p
	}
	return category.Profile{HTTPTimeout: defaultAttemptTimeout, MaxAttempts: 3}
}
