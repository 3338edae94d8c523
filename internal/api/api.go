// Package api exposes the relay's producer-facing HTTP surface: thought
// submission and the operational stats snapshot.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/thought_relay/internal/delivery"
	"github.com/austindbirch/thought_relay/internal/logging"
	"github.com/austindbirch/thought_relay/internal/relay"
	"github.com/austindbirch/thought_relay/internal/tracing"
)

// maxBodyBytes bounds a thought submission. The payload caps are measured in
// runes, so leave headroom for multi-byte text plus envelope.
const maxBodyBytes = 1 << 20

type Server struct {
	svc *relay.Service
	log *logging.Logger
}

func NewServer(svc *relay.Service, log *logging.Logger) *Server {
	if log == nil {
		log = logging.New("thought-relay-api")
	}
	return &Server{svc: svc, log: log}
}

// Routes registers the v1 endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/thoughts", s.handleEnqueue)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "api.enqueue_thought")
	defer span.End()

	var req relay.EnqueueRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	span.SetAttributes(
		attribute.String("category", req.Category),
		attribute.String("priority", req.Priority),
	)

	id, err := s.svc.Enqueue(ctx, req)
	if err != nil {
		var ve *relay.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Reason, ve.Detail)
		case errors.Is(err, delivery.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "queue_full", "delivery queue is full, retry later")
		case errors.Is(err, delivery.ErrQueueClosed):
			writeError(w, http.StatusServiceUnavailable, "shutting_down", "service is shutting down")
		default:
			tracing.SetSpanError(ctx, err)
			s.log.WithContext(ctx).WithError(err).Error("enqueue failed")
			writeError(w, http.StatusInternalServerError, "internal", "enqueue failed")
		}
		return
	}

	span.SetAttributes(attribute.String("task_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"delivery_id": id})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeError(w http.ResponseWriter, status int, reason, detail string) {
	writeJSON(w, status, errorBody{Error: detail, Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
