package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const schemaLockID int64 = 2026101601

type IngestionRepository struct {
	db *sql.DB
}

func NewIngestionRepository(db *sql.DB) *IngestionRepository {
	return &IngestionRepository{db: db}
}

func (r *IngestionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api and ragctl startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	chunks INTEGER NOT NULL DEFAULT 0,
	duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started_at ON ingestion_runs(started_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *IngestionRepository) Create(ctx context.Context, run *domain.IngestionRun) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ingestion_runs (id, source, status, started_at)
VALUES ($1, $2, $3, $4)
`, run.ID, run.Source, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert ingestion run: %w", err)
	}
	return nil
}

func (r *IngestionRepository) Finish(ctx context.Context, run *domain.IngestionRun) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE ingestion_runs
SET status = $2, chunks = $3, duration_ms = $4, error_message = $5, finished_at = $6
WHERE id = $1
`, run.ID, string(run.Status), run.Chunks, durationMillis(run.Duration), run.Error, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("update ingestion run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ingestion run rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "finish ingestion run", fmt.Errorf("run %s", run.ID))
	}
	return nil
}

func (r *IngestionRepository) GetByID(ctx context.Context, id string) (*domain.IngestionRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, source, status, chunks, duration_ms, error_message, started_at, finished_at
FROM ingestion_runs
WHERE id = $1
`, id)

	var (
		run        domain.IngestionRun
		status     string
		durationMS float64
		finishedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.Source, &status, &run.Chunks, &durationMS, &run.Error, &run.StartedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", fmt.Errorf("run %s", id))
		}
		return nil, fmt.Errorf("scan ingestion run: %w", err)
	}
	run.Status = domain.IngestionStatus(status)
	run.Duration = time.Duration(durationMS * float64(time.Millisecond))
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return &run, nil
}

func durationMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
