package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/austindbirch/thought_relay/internal/delivery"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config) (*sqliteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite archive path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) SaveResult(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO deliveries(task_id, category, priority, destination, delivered, attempts, http_status, reason, latency_ms, body, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TaskID, r.Category, r.Priority, r.Destination, r.Delivered,
		r.Attempts, r.HTTPStatus, r.Reason, r.LatencyMS, textOrNil(r.Body),
		r.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SaveDeadLetter(ctx context.Context, dl delivery.DeadLetter) error {
	envelope, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dead_letters(task_id, reason, attempt, http_status, envelope, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		dl.Task.ID, dl.Reason, dl.Attempt, dl.HTTPStatus, string(envelope),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func textOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
