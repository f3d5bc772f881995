// Package worker runs the per-identity extraction state machine: log in,
// wait for the operator, then walk the listing record by record, skipping
// records already seen anywhere in the run, pausing on blocking conditions
// and draining pending deliveries on the way out.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/delivery"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/progress"
	"github.com/JakeFAU/session-harvester/internal/stats"
)

// State names a phase of the worker lifecycle.
type State string

// Worker states.
const (
	StateAuthenticating      State = "authenticating"
	StateAwaitingFilterSetup State = "awaiting_filter_setup"
	StateExtracting          State = "extracting"
	StatePaused              State = "paused"
	StateDraining            State = "draining"
	StateDone                State = "done"
)

// Reason explains why a worker stopped extracting.
type Reason string

// Stop reasons.
const (
	ReasonCapReached   Reason = "cap_reached"
	ReasonEndOfData    Reason = "end_of_data"
	ReasonErrorBudget  Reason = "error_budget_exhausted"
	ReasonNoRecords    Reason = "no_records_available"
	ReasonAuthFailed   Reason = "authentication_failed"
	ReasonSetupFailed  Reason = "setup_failed"
	ReasonInterrupted  Reason = "interrupted"
	ReasonSessionError Reason = "session_error"
)

// Config tunes a worker. Zero values take the defaults noted per field.
type Config struct {
	// MaxRecords caps accepted records; 0 means unlimited.
	MaxRecords int
	// MaxConsecutiveErrors ends the worker after this many soft errors in a
	// row (3).
	MaxConsecutiveErrors int
	// PeriodicCheckEvery re-classifies after this many accepted records (10).
	PeriodicCheckEvery int
	// BreakEvery takes a humanized break after this many accepted records
	// (30); negative disables breaks.
	BreakEvery int
	// FirstRecordTimeout bounds the wait for the first record (4s).
	FirstRecordTimeout time.Duration
	// FirstRecordPoll is the poll interval for the first record (250ms).
	FirstRecordPoll time.Duration
	// FlushTimeout bounds the final batch send during drain (30s).
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 3
	}
	if c.PeriodicCheckEvery <= 0 {
		c.PeriodicCheckEvery = 10
	}
	if c.BreakEvery == 0 {
		c.BreakEvery = 30
	}
	if c.FirstRecordTimeout <= 0 {
		c.FirstRecordTimeout = 4 * time.Second
	}
	if c.FirstRecordPoll <= 0 {
		c.FirstRecordPoll = 250 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	return c
}

// SeenSet is the shared deduplication state.
type SeenSet interface {
	Contains(id harvest.RecordID) bool
	TryAdd(id harvest.RecordID) bool
}

// StatsRecorder applies counter deltas and returns the run totals.
type StatsRecorder interface {
	Record(identity string, delta harvest.Delta) stats.Totals
}

// Observer is told about every applied delta.
type Observer interface {
	Observe(after stats.Totals, delta harvest.Delta) bool
}

// Deliverer forwards accepted records downstream.
type Deliverer interface {
	Accept(ctx context.Context, rec harvest.Record) delivery.Result
	Flush(ctx context.Context) delivery.Result
}

// Limiter paces record processing.
type Limiter interface {
	Wait(ctx context.Context, identity string) error
}

// Deps are the worker's collaborators. Archive, Limiter, Reporter and Events
// are optional.
type Deps struct {
	Session        harvest.Session
	Classifier     harvest.Classifier
	Behavior       harvest.MicroBehavior
	Skips          harvest.SkipStrategy
	Pacer          harvest.Pacer
	Pauser         harvest.Pauser
	Seen           SeenSet
	Stats          StatsRecorder
	Reporter       Observer
	Delivery       Deliverer
	Archive        harvest.Archive
	Limiter        Limiter
	LoginGate      harvest.Gate
	ExtractionGate harvest.Gate
	Clock          harvest.Clock
	Events         progress.Emitter
	Logger         *zap.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Session == nil:
		return errors.New("session is required")
	case d.Classifier == nil:
		return errors.New("classifier is required")
	case d.Behavior == nil:
		return errors.New("micro behavior is required")
	case d.Skips == nil:
		return errors.New("skip strategy is required")
	case d.Pacer == nil:
		return errors.New("pacer is required")
	case d.Pauser == nil:
		return errors.New("pauser is required")
	case d.Seen == nil:
		return errors.New("seen set is required")
	case d.Stats == nil:
		return errors.New("stats recorder is required")
	case d.Delivery == nil:
		return errors.New("delivery pipeline is required")
	case d.LoginGate == nil || d.ExtractionGate == nil:
		return errors.New("login and extraction gates are required")
	case d.Clock == nil:
		return errors.New("clock is required")
	}
	return nil
}

// Summary is the per-identity outcome of a run.
type Summary struct {
	Identity       string        `json:"identity"`
	New            int           `json:"new"`
	Skipped        int           `json:"skipped"`
	Delivered      int           `json:"delivered"`
	DeliveryFailed int           `json:"delivery_failed"`
	SoftErrors     int           `json:"soft_errors"`
	Pauses         int           `json:"pauses"`
	Reason         Reason        `json:"reason"`
	Err            error         `json:"-"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Worker drives one identity. It is single-use: call Run once.
type Worker struct {
	identity harvest.Identity
	cfg      Config
	deps     Deps
	logger   *zap.Logger

	stateMu     sync.Mutex
	state       State
	accepted    int
	consecutive int
	summary     Summary
}

// New validates deps and builds a worker for identity.
func New(identity harvest.Identity, cfg Config, deps Deps) (*Worker, error) {
	if identity.Name == "" {
		return nil, errors.New("identity name is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Worker{
		identity: identity,
		cfg:      cfg.withDefaults(),
		deps:     deps,
		logger:   deps.Logger.Named("worker").With(zap.String("identity", identity.Name)),
		summary:  Summary{Identity: identity.Name},
	}, nil
}

// Identity returns the worker's identity name.
func (w *Worker) Identity() string {
	return w.identity.Name
}

// Run executes the full lifecycle and always closes the session. Canceling
// ctx interrupts extraction; pending deliveries are still flushed.
func (w *Worker) Run(ctx context.Context) Summary {
	start := w.deps.Clock.Now()
	w.emit(progress.Event{Stage: progress.StageWorkerStart})

	reason, err := w.prepare(ctx)
	if reason == "" {
		reason, err = w.extract(ctx)
	}
	w.summary.Reason, w.summary.Err = reason, err

	w.drain(ctx)

	w.setState(StateDone)
	if cerr := w.deps.Session.Close(); cerr != nil {
		w.logger.Warn("close session", zap.Error(cerr))
	}
	w.summary.Elapsed = w.deps.Clock.Now().Sub(start)

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Int("new", w.summary.New),
		zap.Int("skipped", w.summary.Skipped),
		zap.Int("delivered", w.summary.Delivered),
		zap.Int("delivery_failed", w.summary.DeliveryFailed),
		zap.Int("soft_errors", w.summary.SoftErrors),
		zap.Int("pauses", w.summary.Pauses),
		zap.Duration("elapsed", w.summary.Elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	w.logger.Info("worker finished", fields...)
	w.emit(progress.Event{Stage: progress.StageWorkerDone, Dur: w.summary.Elapsed, Note: string(reason)})
	return w.summary
}

// prepare runs Authenticating and AwaitingFilterSetup. A non-empty reason
// means extraction must not start.
func (w *Worker) prepare(ctx context.Context) (Reason, error) {
	w.setState(StateAuthenticating)
	if err := w.deps.Session.Authenticate(ctx, w.identity); err != nil {
		if ctx.Err() != nil {
			return ReasonInterrupted, nil
		}
		w.logger.Error("authentication failed", zap.Error(err))
		return ReasonAuthFailed, fmt.Errorf("authenticate: %w", err)
	}
	w.logger.Info("credentials submitted; waiting for login confirmation")
	if err := w.deps.LoginGate.Wait(ctx); err != nil {
		return ReasonInterrupted, nil
	}

	w.setState(StateAwaitingFilterSetup)
	if err := w.deps.Session.OpenListing(ctx); err != nil {
		if ctx.Err() != nil {
			return ReasonInterrupted, nil
		}
		w.logger.Error("open listing failed", zap.Error(err))
		return ReasonSetupFailed, fmt.Errorf("open listing: %w", err)
	}
	w.suppressOverlays(ctx)
	if err := w.deps.ExtractionGate.Wait(ctx); err != nil {
		return ReasonInterrupted, nil
	}
	w.suppressOverlays(ctx)

	found, err := w.awaitFirstRecord(ctx)
	switch {
	case ctx.Err() != nil:
		return ReasonInterrupted, nil
	case err != nil:
		return ReasonSessionError, err
	case !found:
		w.logger.Warn("no records available")
		return ReasonNoRecords, nil
	}
	return "", nil
}

func (w *Worker) awaitFirstRecord(ctx context.Context) (bool, error) {
	deadline := w.deps.Clock.Now().Add(w.cfg.FirstRecordTimeout)
	var lastErr error
	for {
		body, next, err := w.deps.Session.EssentialContentPresent(ctx)
		if err == nil && body && next {
			return true, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			lastErr = err
		}
		if !w.deps.Clock.Now().Before(deadline) {
			if lastErr != nil {
				w.logger.Warn("first record check failed", zap.Error(lastErr))
			}
			return false, nil
		}
		if err := w.deps.Clock.Sleep(ctx, w.cfg.FirstRecordPoll); err != nil {
			return false, err
		}
	}
}

// extract is the Extracting state. It returns when extraction must stop.
func (w *Worker) extract(ctx context.Context) (Reason, error) {
	w.setState(StateExtracting)
	w.logger.Info("extraction started")
	for {
		if ctx.Err() != nil {
			return ReasonInterrupted, nil
		}
		if w.deps.Limiter != nil {
			if err := w.deps.Limiter.Wait(ctx, w.identity.Name); err != nil {
				return ReasonInterrupted, nil
			}
		}

		// Classifying here also covers the record just reached by advance.
		paused, err := w.checkBlock(ctx)
		if err != nil {
			return ReasonInterrupted, interruptErr(ctx, err)
		}
		if paused {
			continue
		}

		stop, reason, err := w.processRecord(ctx)
		if stop {
			return reason, err
		}

		adv, err := w.advance(ctx)
		switch adv {
		case advanced, resumed:
		case endOfData:
			w.logger.Info("no more records")
			return ReasonEndOfData, nil
		case budgetExhausted:
			return ReasonErrorBudget, err
		case interrupted:
			return ReasonInterrupted, err
		}
	}
}

// processRecord handles the record currently shown. stop is true when the
// worker must leave Extracting without advancing.
func (w *Worker) processRecord(ctx context.Context) (stop bool, reason Reason, err error) {
	id, ok, err := w.deps.Session.ReadQuickIdentifier(ctx)
	if ctx.Err() != nil {
		return true, ReasonInterrupted, nil
	}
	if err != nil || !ok {
		if w.softError(fmt.Errorf("read identifier: %w", orMissing(err, "identifier not found"))) {
			return true, ReasonErrorBudget, w.budgetErr()
		}
		return false, "", nil
	}

	if w.deps.Seen.Contains(id) {
		if err := w.skip(ctx, id); err != nil {
			return true, ReasonInterrupted, nil
		}
		return false, "", nil
	}

	rec, ok, err := w.deps.Session.ExtractFull(ctx)
	if ctx.Err() != nil {
		return true, ReasonInterrupted, nil
	}
	if err != nil || !ok || !rec.Valid() {
		if w.softError(fmt.Errorf("extract %s: %w", id, orMissing(err, "record incomplete"))) {
			return true, ReasonErrorBudget, w.budgetErr()
		}
		return false, "", nil
	}
	if !w.deps.Seen.TryAdd(rec.ID) {
		// Another worker accepted it between the check and the extraction.
		w.countSkip(rec.ID)
		return false, "", nil
	}

	w.accept(ctx, rec)

	if w.accepted%w.cfg.PeriodicCheckEvery == 0 {
		if _, err := w.checkBlock(ctx); err != nil {
			return true, ReasonInterrupted, interruptErr(ctx, err)
		}
	}
	if w.cfg.BreakEvery > 0 && w.accepted%w.cfg.BreakEvery == 0 {
		w.logger.Debug("taking a break", zap.Int("accepted", w.accepted))
		if err := w.deps.Pacer.Break(ctx); err != nil {
			return true, ReasonInterrupted, nil
		}
	}
	if w.cfg.MaxRecords > 0 && w.accepted >= w.cfg.MaxRecords {
		w.logger.Info("record cap reached", zap.Int("cap", w.cfg.MaxRecords))
		return true, ReasonCapReached, nil
	}
	return false, "", nil
}

func (w *Worker) skip(ctx context.Context, id harvest.RecordID) error {
	w.countSkip(id)
	profile := w.deps.Skips.Choose()
	w.logger.Debug("duplicate skipped", zap.String("record_id", string(id)), zap.String("profile", string(profile)))
	if err := w.deps.Behavior.PerformSkip(ctx, profile); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Debug("skip gesture failed", zap.Error(err))
	}
	return nil
}

func (w *Worker) countSkip(id harvest.RecordID) {
	w.summary.Skipped++
	w.consecutive = 0
	w.record(harvest.Delta{Skipped: 1})
	w.emit(progress.Event{Stage: progress.StageRecordSkipped, RecordID: string(id)})
}

func (w *Worker) accept(ctx context.Context, rec harvest.Record) {
	w.accepted++
	w.consecutive = 0
	w.summary.New++
	if w.deps.Archive != nil {
		if err := w.deps.Archive.Save(ctx, w.identity.Name, rec); err != nil {
			w.logger.Warn("archive record", zap.String("record_id", string(rec.ID)), zap.Error(err))
		}
	}
	w.emit(progress.Event{Stage: progress.StageRecordNew, RecordID: string(rec.ID)})
	w.logger.Info("record extracted", zap.String("record_id", string(rec.ID)), zap.Int("accepted", w.accepted))

	res := w.deps.Delivery.Accept(ctx, rec)
	w.summary.Delivered += res.Delivered
	w.summary.DeliveryFailed += res.Failed
	w.record(harvest.Delta{New: 1, Delivered: res.Delivered, DeliveryFailed: res.Failed})
}

type advanceOutcome int

const (
	advanced advanceOutcome = iota
	resumed
	endOfData
	budgetExhausted
	interrupted
)

// advance moves to the next record. A pause hands the page on screen back to
// the extraction loop, since the click may already have navigated; navigation
// errors count against the soft-error budget and retry.
func (w *Worker) advance(ctx context.Context) (advanceOutcome, error) {
	for {
		ok, err := w.deps.Session.AdvanceToNext(ctx)
		if ctx.Err() != nil {
			return interrupted, nil
		}
		if err == nil && ok {
			return advanced, nil
		}

		paused, cerr := w.checkBlock(ctx)
		if cerr != nil {
			return interrupted, interruptErr(ctx, cerr)
		}
		if paused {
			return resumed, nil
		}
		if err == nil {
			return endOfData, nil
		}
		if w.softError(fmt.Errorf("advance: %w", err)) {
			return budgetExhausted, w.budgetErr()
		}
	}
}

// checkBlock classifies the session and pauses while it is blocked. It
// reports whether a pause happened; errors only come from ctx.
func (w *Worker) checkBlock(ctx context.Context) (bool, error) {
	cond, err := w.deps.Classifier.Classify(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		w.logger.Debug("classify failed", zap.Error(err))
		return false, nil
	}
	if !cond.Blocked() {
		return false, nil
	}
	return true, w.pause(ctx, cond)
}

func (w *Worker) pause(ctx context.Context, cond harvest.BlockCondition) error {
	w.setState(StatePaused)
	w.summary.Pauses++
	w.emit(progress.Event{Stage: progress.StagePaused, Condition: cond.Key(), Note: cond.Detail})
	start := w.deps.Clock.Now()
	if err := w.deps.Pauser.Pause(ctx, w.identity.Name, cond); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	w.emit(progress.Event{Stage: progress.StageResumed, Condition: cond.Key(), Dur: w.deps.Clock.Now().Sub(start)})
	w.suppressOverlays(ctx)
	w.setState(StateExtracting)
	return nil
}

// softError counts a recoverable failure and reports whether the
// consecutive budget is now exhausted.
func (w *Worker) softError(err error) bool {
	w.consecutive++
	w.summary.SoftErrors++
	w.emit(progress.Event{Stage: progress.StageSoftError, Note: err.Error()})
	w.logger.Warn("soft error",
		zap.Int("consecutive", w.consecutive),
		zap.Int("budget", w.cfg.MaxConsecutiveErrors),
		zap.Error(err))
	return w.consecutive >= w.cfg.MaxConsecutiveErrors
}

func (w *Worker) budgetErr() error {
	return fmt.Errorf("%d consecutive soft errors", w.consecutive)
}

// drain flushes pending deliveries with a context detached from ctx so an
// interrupt still sends the final batch.
func (w *Worker) drain(ctx context.Context) {
	w.setState(StateDraining)
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FlushTimeout)
	defer cancel()
	res := w.deps.Delivery.Flush(flushCtx)
	if res == (delivery.Result{}) {
		return
	}
	w.summary.Delivered += res.Delivered
	w.summary.DeliveryFailed += res.Failed
	w.record(harvest.Delta{Delivered: res.Delivered, DeliveryFailed: res.Failed})
}

func (w *Worker) suppressOverlays(ctx context.Context) {
	if err := w.deps.Session.SuppressTransientOverlays(ctx); err != nil && ctx.Err() == nil {
		w.logger.Debug("suppress overlays", zap.Error(err))
	}
}

func (w *Worker) record(delta harvest.Delta) {
	totals := w.deps.Stats.Record(w.identity.Name, delta)
	if w.deps.Reporter != nil {
		w.deps.Reporter.Observe(totals, delta)
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.deps.Events == nil {
		return
	}
	evt.Identity = w.identity.Name
	w.deps.Events.Emit(evt)
}

func (w *Worker) setState(s State) {
	w.stateMu.Lock()
	prev := w.state
	w.state = s
	w.stateMu.Unlock()
	if prev != s {
		w.logger.Debug("state", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// State reports the current lifecycle phase. It is safe to call while Run
// is executing.
func (w *Worker) State() State {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

// interruptErr hides cancellation, which is a normal way to stop, and keeps
// anything else such as a closed operator channel.
func interruptErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func orMissing(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
