package delivery

import (
	"context"
	"time"
)

const DLQType = "relay.dlq"

// Dead letter reasons. Free-form text is allowed but the dispatcher only
// emits these.
const (
	ReasonAttemptsExhausted  = "attempts_exhausted"
	ReasonNonRetryableStatus = "non_retryable_status"
)

type DeadLetter struct {
	Type       string `json:"type"`    // "relay.dlq"
	Version    string `json:"version"` // schema version
	At         string `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason     string `json:"reason"`  // why delivery was abandoned
	Attempt    int    `json:"attempt"` // attempt count when DLQ'd
	HTTPStatus int    `json:"http_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	Task       Task   `json:"task"` // full task snapshot
}

func NewDeadLetter(t Task, attempt, httpStatus int, lastErr, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempt:    attempt,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Task:       t,
	}
}

// DeadLetterSink receives tasks that will never be delivered. Implementations
// must tolerate concurrent publishes.
type DeadLetterSink interface {
	Publish(ctx context.Context, dl DeadLetter) error
}

// Result is the terminal record of one task: delivered or dead-lettered.
type Result struct {
	Task       Task          `json:"task"`
	Delivered  bool          `json:"delivered"`
	Attempts   int           `json:"attempts"`
	Status     int           `json:"status,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration"` // final attempt only
	FinishedAt time.Time     `json:"finished_at"`
}

// Recorder archives terminal results for later inspection.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}
