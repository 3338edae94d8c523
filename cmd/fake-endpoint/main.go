package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/austindbirch/thought_relay/internal/config"
	"github.com/austindbirch/thought_relay/internal/signing"
)

// endpoint is a stand-in destination for exercising the relay end to end. It
// verifies deliveries the way a real consumer would (signature, timestamp,
// nonce) and can simulate flaky or slow behavior via FAIL_FIRST_N and
// RESPONSE_DELAY_MS.
type endpoint struct {
	secret     string
	tolerance  time.Duration
	failFirstN int
	delay      time.Duration

	sigHeader   string
	tsHeader    string
	nonceHeader string

	mu        sync.Mutex
	reqCount  int
	seen      map[string]time.Time // nonce -> first seen
	lastSweep time.Time
}

func newEndpoint(cfg config.Config) *endpoint {
	tolerance := cfg.FakeEndpoint.Tolerance
	if tolerance <= 0 {
		tolerance = signing.DefaultTolerance
	}
	return &endpoint{
		secret:      cfg.FakeEndpoint.Secret,
		tolerance:   tolerance,
		failFirstN:  cfg.FakeEndpoint.FailFirstN,
		delay:       time.Duration(cfg.FakeEndpoint.ResponseDelayMS) * time.Millisecond,
		sigHeader:   cfg.Webhook.SignatureHeader,
		tsHeader:    cfg.Webhook.TimestampHeader,
		nonceHeader: cfg.Webhook.NonceHeader,
		seen:        make(map[string]time.Time),
		lastSweep:   time.Now(),
	}
}

func main() {
	cfg := config.FromEnv()
	ep := newEndpoint(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", ep.handleHook)

	srv := &http.Server{
		Addr:         cfg.FakeEndpoint.Port,
		Handler:      mux,
		ReadTimeout:  cfg.FakeEndpoint.ReadTimeout,
		WriteTimeout: cfg.FakeEndpoint.WriteTimeout,
		IdleTimeout:  cfg.FakeEndpoint.IdleTimeout,
	}
	log.Printf("fake-endpoint listening on %s", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}

func (e *endpoint) handleHook(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if e.secret != "" {
		ok, msg := e.verify(b, r.Header.Get(e.sigHeader), r.Header.Get(e.tsHeader), r.Header.Get(e.nonceHeader))
		if !ok {
			log.Printf("fake-endpoint rejected request: %s", msg)
			http.Error(w, "verification failed: "+msg, http.StatusUnauthorized)
			return
		}
	}

	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	e.mu.Lock()
	e.reqCount++
	n := e.reqCount
	e.mu.Unlock()

	// Simulate flakiness: first N requests -> 500
	if n <= e.failFirstN {
		log.Printf("FAILING (%d/%d) %s body=%s", n, e.failFirstN, r.URL.Path, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-endpoint OK %s headers=%d body=%q", r.URL.Path, len(r.Header), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// verify checks the three webhook headers the relay sends: HMAC signature
// over the raw body, RFC3339 timestamp within tolerance, and a nonce not seen
// before.
func (e *endpoint) verify(body []byte, sig, ts, nonce string) (bool, string) {
	if sig == "" || ts == "" {
		return false, "missing headers"
	}
	if err := signing.ValidateTimestamp(ts, e.tolerance); err != nil {
		return false, err.Error()
	}
	if !signing.Verify(body, strings.TrimPrefix(sig, "sha256="), e.secret) {
		return false, "sig mismatch"
	}
	if nonce != "" && e.replayed(nonce) {
		return false, "nonce replayed"
	}
	return true, ""
}

// replayed records nonce and reports whether it was seen before. Entries
// older than twice the timestamp tolerance can no longer pass timestamp
// validation anyway, so they are swept.
func (e *endpoint) replayed(nonce string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if now.Sub(e.lastSweep) > e.tolerance {
		cutoff := now.Add(-2 * e.tolerance)
		for n, at := range e.seen {
			if at.Before(cutoff) {
				delete(e.seen, n)
			}
		}
		e.lastSweep = now
	}

	if _, dup := e.seen[nonce]; dup {
		return true
	}
	e.seen[nonce] = now
	return false
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
