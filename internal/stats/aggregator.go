// Package stats aggregates per-worker progress counters into run-wide
// totals and renders operator-facing reports.
package stats

import (
	"sync"
	"time"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// ActiveWindow is how recently a worker must have made progress to be shown
// as active.
const ActiveWindow = 30 * time.Second

// WorkerStats holds the counters of one identity.
type WorkerStats struct {
	Identity       string    `json:"identity"`
	New            int       `json:"new"`
	Skipped        int       `json:"skipped"`
	Delivered      int       `json:"delivered"`
	DeliveryFailed int       `json:"delivery_failed"`
	LastActivity   time.Time `json:"last_activity"`
}

// Active reports whether the worker made progress within ActiveWindow of now.
func (w WorkerStats) Active(now time.Time) bool {
	return !w.LastActivity.IsZero() && now.Sub(w.LastActivity) < ActiveWindow
}

// Totals are run-wide counters derived from every WorkerStats.
type Totals struct {
	New            int `json:"new"`
	Skipped        int `json:"skipped"`
	Delivered      int `json:"delivered"`
	DeliveryFailed int `json:"delivery_failed"`
}

// Snapshot is a consistent copy of the aggregator state.
type Snapshot struct {
	StartedAt time.Time     `json:"started_at"`
	TakenAt   time.Time     `json:"taken_at"`
	Workers   []WorkerStats `json:"workers"`
	Totals    Totals        `json:"totals"`
}

// Elapsed returns the wall time since the run started, or zero before start.
func (s Snapshot) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.TakenAt.Sub(s.StartedAt)
}

// Aggregator owns every WorkerStats. Workers only mutate their own entry
// through Record.
type Aggregator struct {
	mu      sync.Mutex
	clock   func() time.Time
	order   []string
	workers map[string]*WorkerStats
	started time.Time
}

// NewAggregator returns an empty aggregator. now defaults to time.Now.
func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{clock: now, workers: make(map[string]*WorkerStats)}
}

// Register adds an identity with zeroed counters. Registering twice is a
// no-op.
func (a *Aggregator) Register(identity string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registerLocked(identity)
}

func (a *Aggregator) registerLocked(identity string) *WorkerStats {
	ws, ok := a.workers[identity]
	if !ok {
		ws = &WorkerStats{Identity: identity}
		a.workers[identity] = ws
		a.order = append(a.order, identity)
	}
	return ws
}

// MarkStarted records the moment extraction began.
func (a *Aggregator) MarkStarted(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = t
}

// Record applies delta to identity's counters and returns the totals as of
// immediately after the update.
func (a *Aggregator) Record(identity string, delta harvest.Delta) Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	ws := a.registerLocked(identity)
	ws.New += delta.New
	ws.Skipped += delta.Skipped
	ws.Delivered += delta.Delivered
	ws.DeliveryFailed += delta.DeliveryFailed
	if !delta.IsZero() {
		ws.LastActivity = a.clock()
	}
	return a.totalsLocked()
}

// Totals returns the current run-wide counters.
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalsLocked()
}

func (a *Aggregator) totalsLocked() Totals {
	var t Totals
	for _, ws := range a.workers {
		t.New += ws.New
		t.Skipped += ws.Skipped
		t.Delivered += ws.Delivered
		t.DeliveryFailed += ws.DeliveryFailed
	}
	return t
}

// Snapshot returns a copy of every worker's stats in registration order.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	workers := make([]WorkerStats, 0, len(a.order))
	for _, id := range a.order {
		workers = append(workers, *a.workers[id])
	}
	return Snapshot{
		StartedAt: a.started,
		TakenAt:   a.clock(),
		Workers:   workers,
		Totals:    a.totalsLocked(),
	}
}
