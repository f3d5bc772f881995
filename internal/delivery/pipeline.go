package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/progress"
)

// Mode selects how accepted records are sent.
type Mode string

// Delivery modes.
const (
	ModeRealtime Mode = "realtime"
	ModeBatched  Mode = "batched"
	ModeDisabled Mode = "disabled"
)

// DefaultBatchSize is the batched-mode batch length.
const DefaultBatchSize = 50

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeRealtime, ModeBatched, ModeDisabled:
		return m, nil
	case "":
		return ModeRealtime, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q", s)
	}
}

// Config is shared by every worker's pipeline.
type Config struct {
	Mode      Mode
	BatchSize int
	// SourceLabel prefixes the payload source, rendered "<label> - <identity>".
	SourceLabel string
	RunID       string
}

// Result counts the records whose delivery was attempted by one call.
type Result struct {
	Delivered int
	Failed    int
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.Delivered += other.Delivered
	r.Failed += other.Failed
}

// Pipeline delivers one worker's records. It is not safe for concurrent use.
type Pipeline struct {
	cfg      Config
	identity string
	sink     Sink
	now      func() time.Time
	emitter  progress.Emitter
	logger   *zap.Logger

	pending []harvest.Record
	seq     int
}

// NewPipeline builds a pipeline for identity. A nil sink disables delivery.
func NewPipeline(cfg Config, identity string, sink Sink, now func() time.Time, emitter progress.Emitter, logger *zap.Logger) *Pipeline {
	if cfg.Mode == "" {
		cfg.Mode = ModeRealtime
	}
	if sink == nil {
		cfg.Mode = ModeDisabled
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SourceLabel == "" {
		cfg.SourceLabel = "Harvester"
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		identity: identity,
		sink:     sink,
		now:      now,
		emitter:  emitter,
		logger:   logger.With(zap.String("identity", identity)),
	}
}

// Mode reports the effective mode.
func (p *Pipeline) Mode() Mode {
	return p.cfg.Mode
}

// Pending returns how many records wait for the next batch.
func (p *Pipeline) Pending() int {
	return len(p.pending)
}

// Accept hands over one accepted record. In realtime mode it is sent
// immediately; in batched mode a full batch is sent and the pending list is
// cleared whatever the outcome.
func (p *Pipeline) Accept(ctx context.Context, rec harvest.Record) Result {
	switch p.cfg.Mode {
	case ModeRealtime:
		return p.send(ctx, []harvest.Record{rec}, nil)
	case ModeBatched:
		p.pending = append(p.pending, rec)
		if len(p.pending) < p.cfg.BatchSize {
			return Result{}
		}
		p.seq++
		batch := p.pending
		p.pending = nil
		return p.send(ctx, batch, &BatchTag{Number: p.seq, Size: len(batch)})
	default:
		return Result{}
	}
}

// Flush sends any pending records tagged as the final batch.
func (p *Pipeline) Flush(ctx context.Context) Result {
	if p.cfg.Mode != ModeBatched || len(p.pending) == 0 {
		return Result{}
	}
	batch := p.pending
	p.pending = nil
	p.logger.Info("sending final batch", zap.Int("records", len(batch)))
	return p.send(ctx, batch, &BatchTag{Final: true, Size: len(batch)})
}

func (p *Pipeline) send(ctx context.Context, records []harvest.Record, tag *BatchTag) Result {
	payload := Payload{
		Timestamp: p.now(),
		Source:    p.cfg.SourceLabel + " - " + p.identity,
		Account:   p.identity,
		RunID:     p.cfg.RunID,
		Data:      records,
		Batch:     tag,
	}
	start := time.Now()
	err := p.sink.Send(ctx, payload)
	dur := time.Since(start)

	fields := []zap.Field{zap.Int("records", len(records)), zap.Duration("dur", dur)}
	if tag != nil {
		fields = append(fields, zap.String("batch", tag.Label()))
	}
	evt := progress.Event{Stage: progress.StageDelivery, Identity: p.identity, Count: len(records), Dur: dur}
	if err != nil {
		p.logger.Warn("delivery failed", append(fields, zap.Error(err))...)
		evt.Outcome, evt.Note = progress.OutcomeFailed, err.Error()
		p.emit(evt)
		return Result{Failed: len(records)}
	}
	p.logger.Debug("delivered", fields...)
	evt.Outcome = progress.OutcomeOK
	p.emit(evt)
	return Result{Delivered: len(records)}
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.emitter != nil {
		p.emitter.Emit(evt)
	}
}
