// Package coordinator fans identities out to workers, walks the operator
// through the two startup barriers, and joins the workers on exit.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/barrier"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/progress"
	"github.com/JakeFAU/session-harvester/internal/stats"
	"github.com/JakeFAU/session-harvester/internal/worker"
)

// Operator prompts shown at each barrier.
const (
	LoginPrompt  = "Finish logging in (solve any challenge and submit) in every browser window"
	FilterPrompt = "Apply the listing filters in every browser window"
)

// ReasonAbandoned marks workers still running when the shutdown grace ran out.
const ReasonAbandoned worker.Reason = "abandoned"

// Runner is one worker ready to run.
type Runner interface {
	Run(ctx context.Context) worker.Summary
}

// Factory builds the runner for identity. It is called on the worker's own
// goroutine, so it may block while a browser starts.
type Factory func(ctx context.Context, identity harvest.Identity) (Runner, error)

// Config tunes the coordinator.
type Config struct {
	// StartStagger spaces out worker starts (3s).
	StartStagger time.Duration
	// ShutdownGrace bounds the wait for workers after an interrupt (10s).
	ShutdownGrace time.Duration
}

// Deps are the coordinator's collaborators. Events and Out are optional.
type Deps struct {
	Identities     []harvest.Identity
	Factory        Factory
	Confirmer      harvest.Confirmer
	LoginGate      *barrier.Gate
	ExtractionGate *barrier.Gate
	Stats          *stats.Aggregator
	Clock          harvest.Clock
	Events         progress.Emitter
	Out            io.Writer
	Logger         *zap.Logger
}

// Result is the outcome of a run.
type Result struct {
	Summaries   []worker.Summary
	Interrupted bool
	Elapsed     time.Duration
}

// Totals sums every worker summary.
func (r Result) Totals() worker.Summary {
	var t worker.Summary
	for _, s := range r.Summaries {
		t.New += s.New
		t.Skipped += s.Skipped
		t.Delivered += s.Delivered
		t.DeliveryFailed += s.DeliveryFailed
		t.SoftErrors += s.SoftErrors
		t.Pauses += s.Pauses
	}
	return t
}

// Coordinator owns one run.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu        sync.Mutex
	summaries []worker.Summary
}

// New validates deps and applies config defaults.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case len(deps.Identities) == 0:
		return nil, errors.New("at least one identity is required")
	case deps.Factory == nil:
		return nil, errors.New("worker factory is required")
	case deps.Confirmer == nil:
		return nil, errors.New("confirmer is required")
	case deps.LoginGate == nil || deps.ExtractionGate == nil:
		return nil, errors.New("login and extraction gates are required")
	case deps.Stats == nil:
		return nil, errors.New("stats aggregator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.StartStagger < 0 {
		return nil, fmt.Errorf("start stagger must be >= 0")
	}
	if cfg.StartStagger == 0 {
		cfg.StartStagger = 3 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	summaries := make([]worker.Summary, len(deps.Identities))
	for i, id := range deps.Identities {
		summaries[i] = worker.Summary{Identity: id.Name, Reason: ReasonAbandoned}
	}
	return &Coordinator{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger.Named("coordinator"),
		summaries: summaries,
	}, nil
}

// Run starts every worker, drives the barriers and blocks until the workers
// finish or, after ctx is canceled, until ShutdownGrace elapses.
func (c *Coordinator) Run(ctx context.Context) Result {
	start := c.deps.Clock.Now()
	c.emit(progress.Event{Stage: progress.StageRunStart, Note: fmt.Sprintf("%d identities", len(c.deps.Identities))})
	for _, id := range c.deps.Identities {
		c.deps.Stats.Register(id.Name)
	}

	var wg sync.WaitGroup
	allDone := make(chan struct{})
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, id := range c.deps.Identities {
			if i > 0 {
				if err := c.deps.Clock.Sleep(ctx, c.cfg.StartStagger); err != nil {
					c.logger.Warn("start interrupted", zap.Int("launched", i))
					return
				}
			}
			wg.Add(1)
			go func(i int, id harvest.Identity) {
				defer wg.Done()
				c.runOne(ctx, i, id)
			}(i, id)
		}
	}()
	go func() {
		<-launched
		wg.Wait()
		close(allDone)
	}()

	if c.phase(ctx, allDone, c.deps.LoginGate, LoginPrompt) {
		c.logger.Info("login confirmed; opening login gate")
		if c.phase(ctx, allDone, c.deps.ExtractionGate, FilterPrompt) {
			c.deps.Stats.MarkStarted(c.deps.Clock.Now())
			c.logger.Info("filters confirmed; extraction started")
		}
	}

	interrupted := c.join(ctx, allDone)
	res := Result{Summaries: c.snapshot(), Interrupted: interrupted, Elapsed: c.deps.Clock.Now().Sub(start)}
	c.report(res)
	note := ""
	if interrupted {
		note = "interrupted"
	}
	c.emit(progress.Event{Stage: progress.StageRunDone, Dur: res.Elapsed, Note: note})
	return res
}

func (c *Coordinator) runOne(ctx context.Context, i int, id harvest.Identity) {
	log := c.logger.With(zap.String("identity", id.Name))
	r, err := c.deps.Factory(ctx, id)
	if err != nil {
		log.Error("worker setup failed", zap.Error(err))
		c.finish(i, worker.Summary{Identity: id.Name, Reason: worker.ReasonSessionError, Err: err})
		return
	}
	log.Info("worker started")
	c.finish(i, r.Run(ctx))
}

// phase asks the operator to confirm prompt and opens gate. It gives up
// when every worker has already finished or ctx ends. The gate may also be
// opened from elsewhere, which ends the prompt early. It reports whether
// the gate is open.
func (c *Coordinator) phase(ctx context.Context, allDone <-chan struct{}, gate *barrier.Gate, prompt string) bool {
	if gate.IsOpen() {
		return true
	}
	confirmCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	confirmed := make(chan error, 1)
	go func() { confirmed <- c.deps.Confirmer.Confirm(confirmCtx, prompt) }()

	for {
		select {
		case err := <-confirmed:
			if err == nil {
				gate.Open()
				return true
			}
			c.logger.Warn("confirmation failed; waiting for the gate to open elsewhere",
				zap.String("gate", gate.Name()), zap.Error(err))
			confirmed = nil
		case <-gate.Done():
			return true
		case <-allDone:
			c.logger.Warn("all workers finished before confirmation", zap.String("gate", gate.Name()))
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// join waits for the workers. It reports whether ctx was canceled.
func (c *Coordinator) join(ctx context.Context, allDone <-chan struct{}) bool {
	select {
	case <-allDone:
		return ctx.Err() != nil
	case <-ctx.Done():
	}
	c.logger.Info("interrupt received; waiting for workers to drain", zap.Duration("grace", c.cfg.ShutdownGrace))
	timer := time.NewTimer(c.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-allDone:
	case <-timer.C:
		c.logger.Warn("shutdown grace elapsed; abandoning workers")
	}
	return true
}

func (c *Coordinator) finish(i int, s worker.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries[i] = s
}

func (c *Coordinator) snapshot() []worker.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]worker.Summary(nil), c.summaries...)
}

func (c *Coordinator) report(res Result) {
	outcomes := make(map[string]string, len(res.Summaries))
	for _, s := range res.Summaries {
		outcomes[s.Identity] = string(s.Reason)
	}
	if c.deps.Out != nil {
		fmt.Fprintln(c.deps.Out, stats.RenderSummary(c.deps.Stats.Snapshot(), outcomes))
	}
	t := res.Totals()
	c.logger.Info("run finished",
		zap.Int("new", t.New),
		zap.Int("skipped", t.Skipped),
		zap.Int("delivered", t.Delivered),
		zap.Int("delivery_failed", t.DeliveryFailed),
		zap.Int("pauses", t.Pauses),
		zap.Bool("interrupted", res.Interrupted),
		zap.Duration("elapsed", res.Elapsed))
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.deps.Events != nil {
		c.deps.Events.Emit(evt)
	}
}
