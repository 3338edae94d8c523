package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/austindbirch/thought_relay/internal/category"
	"github.com/austindbirch/thought_relay/internal/delivery"
	"github.com/austindbirch/thought_relay/internal/relay"
)

func newTestMux(t *testing.T, queueCap int) (*http.ServeMux, *relay.Service) {
	t.Helper()
	svc := relay.New(relay.Config{
		Destinations: map[category.Category]delivery.Destination{
			category.Note: {URL: "https://hooks.example.com/notes"},
		},
		Secrets: map[category.Category]string{
			category.Note: "api-test-secret",
		},
		QueueCapacity: queueCap,
		Retry:         delivery.RetryPolicy{Base: 5 * time.Millisecond, Max: 50 * time.Millisecond},
	}, relay.Sinks{}, nil)
	// Deliberately not started: queued tasks stay visible in stats.

	mux := http.NewServeMux()
	NewServer(svc, nil).Routes(mux)
	return mux, svc
}

func postThought(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/thoughts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueEndpoint(t *testing.T) {
	mux, svc := newTestMux(t, 0)

	rec := postThought(t, mux, `{"category":"note","input":"buy milk","priority":"high"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["delivery_id"] == "" {
		t.Error("response missing delivery_id")
	}

	if st := svc.Stats(); st.QueueLength != 1 {
		t.Errorf("queue length = %d, want 1", st.QueueLength)
	}
}

func TestEnqueueValidationError(t *testing.T) {
	mux, _ := newTestMux(t, 0)

	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{name: "unknown category", body: `{"category":"daydream","input":"x"}`, reason: "unknown_category"},
		{name: "missing input", body: `{"category":"note"}`, reason: "input_required"},
		{name: "bad priority", body: `{"category":"note","input":"x","priority":"urgent"}`, reason: "invalid_priority"},
		{name: "invalid json", body: `{"category":`, reason: "invalid_json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postThought(t, mux, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body)
			}
			var resp errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if resp.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", resp.Reason, tt.reason)
			}
			if resp.Error == "" {
				t.Error("error body missing detail message")
			}
		})
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	mux, _ := newTestMux(t, 1)

	if rec := postThought(t, mux, `{"category":"note","input":"first"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("first enqueue status = %d, want 202", rec.Code)
	}
	rec := postThought(t, mux, `{"category":"note","input":"second"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", rec.Code, rec.Body)
	}
	var resp errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Reason != "queue_full" {
		t.Errorf("reason = %q, want queue_full", resp.Reason)
	}
}

func TestStatsEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, 0)
	postThought(t, mux, `{"category":"note","input":"remember this"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st relay.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.QueueLength != 1 {
		t.Errorf("queue_length = %d, want 1", st.QueueLength)
	}
	if st.Signing != "enabled" {
		t.Errorf("signing = %q, want enabled", st.Signing)
	}
	if _, ok := st.PerDestination["https://hooks.example.com/notes"]; !ok {
		t.Errorf("per_destination missing configured destination: %+v", st.PerDestination)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newTestMux(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/thoughts", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/thoughts status = %d, want 405", rec.Code)
	}
}
