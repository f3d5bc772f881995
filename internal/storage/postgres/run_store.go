package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/session-harvester/internal/store"
)

// RunStore implements store.RunRepository.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

const runSchema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id          UUID PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status      TEXT NOT NULL,
	note        TEXT
);
CREATE TABLE IF NOT EXISTS identity_stats (
	run_id          UUID NOT NULL REFERENCES harvest_runs (id),
	identity        TEXT NOT NULL,
	last_update     TIMESTAMPTZ NOT NULL,
	new             BIGINT NOT NULL DEFAULT 0,
	skipped         BIGINT NOT NULL DEFAULT 0,
	delivered       BIGINT NOT NULL DEFAULT 0,
	delivery_failed BIGINT NOT NULL DEFAULT 0,
	soft_errors     BIGINT NOT NULL DEFAULT 0,
	pauses          BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, identity)
);`

// EnsureSchema creates the ledger tables when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, runSchema); err != nil {
		return fmt.Errorf("create run ledger tables: %w", err)
	}
	return nil
}

// StartRun inserts the run row, or marks an existing one running again.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status;`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// FinishRun records the final status.
func (s *RunStore) FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, note *string) error {
	query := `UPDATE harvest_runs SET finished_at = $1, status = $2, note = $3 WHERE id = $4;`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, note, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ApplyIdentityDelta adds delta to the identity's counters.
func (s *RunStore) ApplyIdentityDelta(ctx context.Context, runID uuid.UUID, identity string, d store.IdentityDelta, at time.Time) error {
	query := `
		INSERT INTO identity_stats (run_id, identity, last_update, new, skipped, delivered, delivery_failed, soft_errors, pauses)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, identity) DO UPDATE SET
			last_update     = GREATEST(identity_stats.last_update, EXCLUDED.last_update),
			new             = identity_stats.new + EXCLUDED.new,
			skipped         = identity_stats.skipped + EXCLUDED.skipped,
			delivered       = identity_stats.delivered + EXCLUDED.delivered,
			delivery_failed = identity_stats.delivery_failed + EXCLUDED.delivery_failed,
			soft_errors     = identity_stats.soft_errors + EXCLUDED.soft_errors,
			pauses          = identity_stats.pauses + EXCLUDED.pauses;`
	_, err := s.pool.Exec(ctx, query, runID, identity, at,
		d.New, d.Skipped, d.Delivered, d.DeliveryFailed, d.SoftErrors, d.Pauses)
	if err != nil {
		return fmt.Errorf("upsert identity stats: %w", err)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT id, started_at, finished_at, status, note FROM harvest_runs WHERE id = $1;`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListIdentityStats returns the per-identity counters of a run.
func (s *RunStore) ListIdentityStats(ctx context.Context, runID uuid.UUID) ([]store.IdentityStats, error) {
	query := `
		SELECT run_id, identity, last_update, new, skipped, delivered, delivery_failed, soft_errors, pauses
		FROM identity_stats
		WHERE run_id = $1
		ORDER BY identity;`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list identity stats: %w", err)
	}
	defer rows.Close()

	var out []store.IdentityStats
	for rows.Next() {
		var st store.IdentityStats
		if err := rows.Scan(&st.RunID, &st.Identity, &st.LastUpdate,
			&st.New, &st.Skipped, &st.Delivered, &st.DeliveryFailed, &st.SoftErrors, &st.Pauses); err != nil {
			return nil, fmt.Errorf("scan identity stats row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity stats: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
