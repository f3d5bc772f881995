package seed

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// Seeder receives the loaded identifiers.
type Seeder interface {
	Seed(ids []harvest.RecordID) error
}

// Loader fetches identifiers with retries and seeds the dedup store.
type Loader struct {
	source harvest.SeedSource
	store  Seeder
	policy RetryPolicy
	clock  harvest.Clock
	logger *zap.Logger
}

// NewLoader wires a loader.
func NewLoader(source harvest.SeedSource, store Seeder, policy RetryPolicy, clock harvest.Clock, logger *zap.Logger) (*Loader, error) {
	if source == nil {
		return nil, errors.New("seed: source is required")
	}
	if store == nil {
		return nil, errors.New("seed: store is required")
	}
	if clock == nil {
		return nil, errors.New("seed: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{source: source, store: store, policy: policy, clock: clock, logger: logger}, nil
}

// Result describes the outcome of Load.
type Result struct {
	Count    int
	Attempts int
	Degraded bool
}

// Load fetches and seeds. Exhausting the retries is not an error: the store
// is seeded empty and Result.Degraded is set. Errors are returned only for
// cancellation or a rejected Seed call.
func (l *Loader) Load(ctx context.Context) (Result, error) {
	var (
		ids     []harvest.RecordID
		lastErr error
		attempt int
	)
	for {
		attempt++
		l.logger.Info("loading seed identifiers", zap.Int("attempt", attempt))
		ids, lastErr = l.source.FetchIDs(ctx)
		if lastErr == nil {
			break
		}
		l.logger.Error("seed fetch failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		if ctx.Err() != nil {
			return Result{Attempts: attempt}, fmt.Errorf("load seed: %w", ctx.Err())
		}
		if !l.policy.ShouldRetry(lastErr, attempt) {
			break
		}
		wait := l.policy.Backoff(attempt)
		l.logger.Info("retrying seed fetch", zap.Duration("wait", wait))
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return Result{Attempts: attempt}, fmt.Errorf("load seed: %w", err)
		}
	}

	res := Result{Attempts: attempt}
	if lastErr != nil {
		l.logger.Warn("seed unavailable, continuing in degraded mode; duplicates possible",
			zap.Int("attempts", attempt), zap.Error(lastErr))
		ids = nil
		res.Degraded = true
	}
	if err := l.store.Seed(ids); err != nil {
		return res, fmt.Errorf("seed dedup store: %w", err)
	}
	res.Count = len(ids)
	l.logger.Info("seed loaded", zap.Int("ids", res.Count))
	return res, nil
}
