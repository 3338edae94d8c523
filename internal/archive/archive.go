package archive

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/austindbirch/thought_relay/internal/delivery"
)

// DefaultMemoryCap bounds the in-memory driver's ring of retained records.
const DefaultMemoryCap = 1024

// Record is one terminal delivery outcome: the task either reached its
// destination or was abandoned. Exactly one record is written per task.
type Record struct {
	TaskID      string    `json:"task_id"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	Destination string    `json:"destination"`
	Delivered   bool      `json:"delivered"`
	Attempts    int       `json:"attempts"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	LatencyMS   int64     `json:"latency_ms"`
	Body        []byte    `json:"-"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Store persists terminal outcomes and dead letters. The archive is
// write-only from the pipeline's point of view; reads happen out of band.
type Store interface {
	SaveResult(ctx context.Context, r Record) error
	SaveDeadLetter(ctx context.Context, dl delivery.DeadLetter) error
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures the archive driver.
//
// Driver values:
//   - "memory" (or empty): bounded in-process ring, no external infra
//   - "postgres": pgx pool against DSN
//   - "sqlite": single database file at Path
//
// "none" disables archiving entirely.
type Config struct {
	Driver      string
	DSN         string        // postgres only
	Path        string        // sqlite only
	BusyTimeout time.Duration // sqlite only; 0 means default
	MemoryCap   int           // memory only; 0 means DefaultMemoryCap
}

// Open initializes the configured store. It returns (nil, nil) when the
// driver is "none"; callers treat a nil store as archiving disabled.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "none":
		return nil, nil
	case "", "memory":
		return newMemoryStore(cfg.MemoryCap), nil
	case "postgres":
		return openPostgres(ctx, cfg)
	case "sqlite", "sqlite3":
		return openSQLite(cfg)
	default:
		return nil, errors.New("unknown archive driver: " + cfg.Driver)
	}
}
