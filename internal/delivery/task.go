package delivery

import (
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/thought_relay/internal/category"
	"github.com/austindbirch/thought_relay/internal/signing"
)

// Destination is one automation endpoint: where a category's thoughts are
// POSTed and the bearer token that endpoint expects, if any.
type Destination struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// Task is one thought on its way to a destination. The payload is signed at
// enqueue time and the Body bytes travel verbatim through every attempt, so
// the signature stays valid across retries.
type Task struct {
	ID          string            `json:"id"`
	Category    category.Category `json:"category"`
	Priority    category.Priority `json:"priority"`
	Destination Destination       `json:"destination"`
	Payload     signing.Payload   `json:"payload"`
	Body        []byte            `json:"body"`
	Signature   string            `json:"signature,omitempty"` // hex HMAC-SHA256 of Body

	Attempts      int       `json:"attempts"` // completed (or breaker-consumed) attempts
	MaxAttempts   int       `json:"max_attempts"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
	LastStatus    int       `json:"last_status,omitempty"`
	LastError     string    `json:"last_error,omitempty"`

	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers

	// seq is the queue admission order. It survives retries so a deferred
	// task rejoins its priority tier in original enqueue position.
	seq uint64
}

// NewTask binds a signed payload to its destination with a fresh ID. The
// attempt budget comes from the category profile.
func NewTask(sp signing.SignedPayload, dest Destination, prio category.Priority, maxAttempts int) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Category:    category.Category(sp.Payload.Category),
		Priority:    prio,
		Destination: dest,
		Payload:     sp.Payload,
		Body:        sp.Body,
		Signature:   sp.Signature,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Exhausted reports whether the task has used its full attempt budget.
func (t *Task) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}
