package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/austindbirch/thought_relay/internal/category"
	"github.com/austindbirch/thought_relay/internal/tracing"
)

// Default wire header names. Overridable so endpoints migrating from other
// webhook providers can keep their existing verification code.
const (
	DefaultSignatureHeader = "X-Webhook-Signature" // sha256=<hex>
	DefaultTimestampHeader = "X-Webhook-Timestamp" // RFC3339, mirrors payload
	DefaultNonceHeader     = "X-Webhook-Nonce"

	DefaultUserAgent = "thought-relay"

	defaultAttemptTimeout = 10 * time.Second
)

// ExecutorConfig carries the wire conventions for outbound attempts.
type ExecutorConfig struct {
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	UserAgent       string
	Profiles        map[category.Category]category.Profile
}

// Executor performs single HTTP delivery attempts. It never retries; the
// dispatcher owns scheduling. The shared client carries no global timeout
// because each attempt gets its own deadline from the category profile.
type Executor struct {
	client *http.Client
	cfg    ExecutorConfig
}

// NewExecutor builds an executor around client. A nil client gets a fresh one
// with default transport settings; empty header names fall back to the
// defaults.
func NewExecutor(client *http.Client, cfg ExecutorConfig) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = DefaultSignatureHeader
	}
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = DefaultTimestampHeader
	}
	if cfg.NonceHeader == "" {
		cfg.NonceHeader = DefaultNonceHeader
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Profiles == nil {
		cfg.Profiles = category.DefaultProfiles()
	}
	return &Executor{client: client, cfg: cfg}
}

// Outcome is the result of one attempt.
type Outcome struct {
	Status     int
	Duration   time.Duration
	Err        error
	Reason     string        // failure classification for metrics labels
	RetryAfter time.Duration // parsed Retry-After hint, zero if absent
}

// Success reports a 2xx response with no transport error.
func (o Outcome) Success() bool {
	return o.Err == nil && o.Status >= 200 && o.Status < 300
}

// Permanent reports a response that will never succeed on retry: any 4xx
// except 429, which signals pressure rather than rejection.
func (o Outcome) Permanent() bool {
	return o.Err == nil && o.Status >= 400 && o.Status < 500 && o.Status != http.StatusTooManyRequests
}

// Do POSTs the task's signed body to its destination. The body bytes go on
// the wire verbatim; recomputing or re-marshaling here would invalidate the
// signature.
func (e *Executor) Do(ctx context.Context, t *Task) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.timeoutFor(t.Category))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Destination.URL, bytes.NewReader(t.Body))
	if err != nil {
		return Outcome{Err: err, Reason: "bad_destination"}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(e.cfg.TimestampHeader, t.Payload.Timestamp)
	req.Header.Set(e.cfg.NonceHeader, t.Payload.Nonce)
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	if t.Signature != "" {
		req.Header.Set(e.cfg.SignatureHeader, "sha256="+t.Signature)
	}
	if t.Destination.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Destination.Token)
	}
	// Trace ID travels as a plain header for correlation on the far side.
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, doErr := e.client.Do(req)
	out := Outcome{Duration: time.Since(start), Err: doErr}
	if doErr == nil {
		out.Status = resp.StatusCode
		out.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}
	if !out.Success() {
		out.Reason = classifyOutcome(doErr, out.Status)
	}
	return out
}

func (e *Executor) timeoutFor(c category.Category) time.Duration {
	if p, ok := e.cfg.Profiles[c]; ok && p.HTTPTimeout > 0 {
		return p.HTTPTimeout
	}
	return defaultAttemptTimeout
}

func classifyOutcome(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == http.StatusTooManyRequests {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}

// parseRetryAfter handles both forms the header allows: delay seconds and an
// HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
