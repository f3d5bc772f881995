package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the harvest_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning     RunStatus = "running"
	RunSuccess     RunStatus = "success"
	RunInterrupted RunStatus = "interrupted"
)

// Run models one row of harvest_runs.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Note       *string
}

// IdentityDelta is a counter increment for one identity within a run.
type IdentityDelta struct {
	New            int64
	Skipped        int64
	Delivered      int64
	DeliveryFailed int64
	SoftErrors     int64
	Pauses         int64
}

// IsZero reports whether the delta carries no increments.
func (d IdentityDelta) IsZero() bool {
	return d == IdentityDelta{}
}

// IdentityStats is the persisted per-identity aggregate.
type IdentityStats struct {
	RunID      uuid.UUID
	Identity   string
	LastUpdate time.Time
	IdentityDelta
}

// RunRepository persists run lifecycle and per-identity counters.
type RunRepository interface {
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, note *string) error
	ApplyIdentityDelta(ctx context.Context, runID uuid.UUID, identity string, delta IdentityDelta, at time.Time) error
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	ListIdentityStats(ctx context.Context, runID uuid.UUID) ([]IdentityStats, error)
}
