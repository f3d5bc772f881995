package seed

import (
	"context"
	"errors"
	"time"
)

// Default retry schedule: three retries waiting 2s, 4s and 8s.
const (
	DefaultRetries   = 3
	DefaultBaseDelay = 2 * time.Second
)

// RetryPolicy is a bounded exponential backoff without jitter.
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns the stock schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: DefaultRetries, BaseDelay: DefaultBaseDelay}
}

// ShouldRetry reports whether attempt (1-based count of failed attempts so
// far) may be followed by another.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt > p.Retries {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns the wait before retry number attempt (1-based):
// BaseDelay, 2*BaseDelay, 4*BaseDelay and so on.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay << (attempt - 1)
}
