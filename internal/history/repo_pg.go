package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biobanking/blaze-sync/internal/sync"
)

// PGStore persists runs in PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_run (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_s  DOUBLE PRECISION NOT NULL,
	success     BOOLEAN NOT NULL,
	error_msg   TEXT NOT NULL DEFAULT '',
	summary     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS sync_run_started_at_idx ON sync_run (started_at DESC);
`

// EnsureSchema creates the run table if it does not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure sync_run schema: %w", err)
	}
	return nil
}

const runCols = `id, kind, started_at, duration_s, summary`

func scanRun(row pgx.Row) (Run, error) {
	var (
		r   Run
		raw []byte
	)
	if err := row.Scan(&r.ID, &r.Kind, &r.StartedAt, &r.Duration, &raw); err != nil {
		return Run{}, err
	}
	var summary sync.Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return Run{}, fmt.Errorf("decode run %s summary: %w", r.ID, err)
	}
	r.Summary = summary
	return r, nil
}

func (s *PGStore) Record(ctx context.Context, run Run) error {
	raw, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_run (id, kind, started_at, duration_s, success, error_msg, summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Kind, run.StartedAt, run.Duration,
		run.Summary.Success, run.Summary.ErrorMessage, raw)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PGStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	q := fmt.Sprintf("SELECT %s FROM sync_run ORDER BY started_at DESC LIMIT $1", runCols)
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
