package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/session-harvester/internal/progress"
	"github.com/JakeFAU/session-harvester/internal/store"
)

func TestStoreSinkCollapsesIdentityDeltas(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	ev := func(stage progress.Stage, identity string, offset time.Duration) progress.Event {
		return progress.Event{RunID: runID, Stage: stage, Identity: identity, TS: now.Add(offset)}
	}
	delivery := ev(progress.StageDelivery, "alice", 4*time.Second)
	delivery.Outcome, delivery.Count = progress.OutcomeOK, 2
	failed := ev(progress.StageDelivery, "alice", 5*time.Second)
	failed.Outcome, failed.Count = progress.OutcomeFailed, 1
	paused := ev(progress.StagePaused, "bob", time.Second)
	paused.Condition = "captcha"
	done := ev(progress.StageRunDone, "", 6*time.Second)

	batch := []progress.Event{
		ev(progress.StageRunStart, "", 0),
		ev(progress.StageRecordNew, "alice", time.Second),
		ev(progress.StageRecordNew, "alice", 2*time.Second),
		ev(progress.StageRecordSkipped, "alice", 3*time.Second),
		delivery, failed, paused,
		ev(progress.StageWorkerStart, "carol", 0),
		done,
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Len(t, repo.finishes, 1)
	require.Equal(t, store.RunSuccess, repo.finishes[0])

	require.Len(t, repo.deltas, 2)
	alice := repo.deltas["alice"]
	require.Equal(t, store.IdentityDelta{New: 2, Skipped: 1, Delivered: 2, DeliveryFailed: 1}, alice.delta)
	require.Equal(t, now.Add(5*time.Second), alice.at)
	require.Equal(t, store.IdentityDelta{Pauses: 1}, repo.deltas["bob"].delta)
}

func TestStoreSinkInterruptedRunCarriesNote(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	done := progress.Event{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunDone, Note: "interrupted"}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{done}))
	require.Equal(t, []store.RunStatus{store.RunInterrupted}, repo.finishes)
}

func TestStoreSinkSurfacesRepositoryErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{err: errors.New("db down")}
	sink := NewStoreSink(repo, nil)
	evt := progress.Event{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRecordNew, Identity: "alice"}
	require.ErrorContains(t, sink.Consume(context.Background(), []progress.Event{evt}), "db down")

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), []progress.Event{evt}))
}

type recordedDelta struct {
	delta store.IdentityDelta
	at    time.Time
}

type fakeRunRepo struct {
	starts   []uuid.UUID
	finishes []store.RunStatus
	deltas   map[string]recordedDelta
	err      error
}

func (f *fakeRunRepo) StartRun(_ context.Context, runID uuid.UUID, _ time.Time) error {
	f.starts = append(f.starts, runID)
	return f.err
}

func (f *fakeRunRepo) FinishRun(_ context.Context, _ uuid.UUID, _ time.Time, status store.RunStatus, _ *string) error {
	f.finishes = append(f.finishes, status)
	return f.err
}

func (f *fakeRunRepo) ApplyIdentityDelta(_ context.Context, _ uuid.UUID, identity string, delta store.IdentityDelta, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	if f.deltas == nil {
		f.deltas = map[string]recordedDelta{}
	}
	f.deltas[identity] = recordedDelta{delta: delta, at: at}
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListIdentityStats(context.Context, uuid.UUID) ([]store.IdentityStats, error) {
	return nil, nil
}
