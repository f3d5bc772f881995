package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/progress"
	"github.com/JakeFAU/session-harvester/internal/store"
)

// StoreSink persists progress via a store.RunRepository. Counter events are
// collapsed per identity so each batch costs one write per identity.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies run lifecycle events in order and then the collapsed
// per-identity deltas.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[deltaKey]*pendingDelta)
	var finish []progress.Event

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, evt.RunUUID(), evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone:
			finish = append(finish, evt)
		default:
			collect(deltas, evt)
		}
	}

	for key, d := range deltas {
		if d.delta.IsZero() {
			continue
		}
		if err := s.repo.ApplyIdentityDelta(ctx, key.runID, key.identity, d.delta, d.at); err != nil {
			return fmt.Errorf("apply identity delta: %w", err)
		}
	}

	for _, evt := range finish {
		status := store.RunSuccess
		var note *string
		if evt.Note != "" {
			status = store.RunInterrupted
			n := evt.Note
			note = &n
		}
		if err := s.repo.FinishRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func collect(deltas map[deltaKey]*pendingDelta, evt progress.Event) {
	if evt.Identity == "" {
		return
	}
	key := deltaKey{runID: evt.RunUUID(), identity: evt.Identity}
	d := deltas[key]
	if d == nil {
		d = &pendingDelta{}
		deltas[key] = d
	}
	switch evt.Stage {
	case progress.StageRecordNew:
		d.delta.New++
	case progress.StageRecordSkipped:
		d.delta.Skipped++
	case progress.StageSoftError:
		d.delta.SoftErrors++
	case progress.StagePaused:
		d.delta.Pauses++
	case progress.StageDelivery:
		if evt.Outcome == progress.OutcomeOK {
			d.delta.Delivered += int64(evt.Count)
		} else {
			d.delta.DeliveryFailed += int64(evt.Count)
		}
	default:
		return
	}
	if evt.TS.After(d.at) {
		d.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type deltaKey struct {
	runID    uuid.UUID
	identity string
}

type pendingDelta struct {
	delta store.IdentityDelta
	at    time.Time
}
