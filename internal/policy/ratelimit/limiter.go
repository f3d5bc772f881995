// Package ratelimit paces record processing per identity with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages one token bucket per identity.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	observe  func(identity string, delay time.Duration)
}

// Config holds rate limiter configuration.
type Config struct {
	// RecordsPerMinute caps how many records one identity processes per
	// minute. Zero or less disables pacing.
	RecordsPerMinute float64
	Burst            int
	// OnDelay, when set, is called with every wait longer than a millisecond.
	OnDelay func(identity string, delay time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RecordsPerMinute / 60)
	if cfg.RecordsPerMinute <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		observe:  cfg.OnDelay,
	}
}

// Enabled reports whether the limiter ever delays.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit != rate.Inf
}

// Wait blocks until identity may process another record, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, identity string) error {
	if !l.Enabled() {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.limiters[identity]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[identity] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && l.observe != nil {
		l.observe(identity, d)
	}
	return nil
}
