package archive

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/austindbirch/thought_relay/internal/delivery"
)

//go:embed schema_postgres.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg Config) (*postgresStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pc.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}

	// Verify the connection before taking writes.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) SaveResult(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO thoughtrelay.deliveries(task_id, category, priority, destination, delivered, attempts, http_status, reason, latency_ms, body, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)
		ON CONFLICT (task_id) DO NOTHING`,
		r.TaskID, r.Category, r.Priority, r.Destination, r.Delivered,
		r.Attempts, r.HTTPStatus, r.Reason, r.LatencyMS, jsonOrNil(r.Body), r.FinishedAt,
	)
	return err
}

func (s *postgresStore) SaveDeadLetter(ctx context.Context, dl delivery.DeadLetter) error {
	envelope, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO thoughtrelay.dead_letters(task_id, reason, attempt, http_status, envelope)
		VALUES ($1, $2, $3, $4, $5::jsonb)`,
		dl.Task.ID, dl.Reason, dl.Attempt, dl.HTTPStatus, string(envelope),
	)
	return err
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

// jsonOrNil passes body as TEXT cast to ::jsonb in SQL, or NULL when empty.
// Marshaling once and casting avoids driver type ambiguity.
func jsonOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
