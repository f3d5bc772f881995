package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRecordNew))
	hub.Emit(sampleEvent(StageRecordSkipped))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageWorkerStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{cfg: Config{}.withDefaults(), events: make(chan Event)}
	start := time.Now()
	hub.Emit(sampleEvent(StageRecordNew))
	hub.Emit(sampleEvent(StageRecordNew))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleEvent(StageRecordNew))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	// Emit after close is ignored.
	hub.Emit(sampleEvent(StageRecordNew))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{Logger: zap.NewNop()}, sink)
	hub.Emit(Event{Stage: StageRecordNew})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := sampleEvent(StageRecordNew)
	require.NoError(t, base.Validate())

	noIdentity := base
	noIdentity.Identity = ""
	require.Error(t, noIdentity.Validate())

	run := base
	run.Stage, run.Identity = StageRunStart, ""
	require.NoError(t, run.Validate())

	paused := base
	paused.Stage = StagePaused
	require.Error(t, paused.Validate())
	paused.Condition = "captcha"
	require.NoError(t, paused.Validate())

	delivery := base
	delivery.Stage = StageDelivery
	require.Error(t, delivery.Validate())
	delivery.Outcome, delivery.Count = OutcomeFailed, 3
	require.NoError(t, delivery.Validate())

	unknown := base
	unknown.Stage = "NOPE"
	require.Error(t, unknown.Validate())
}

func TestRecorderStampsEvents(t *testing.T) {
	t.Parallel()

	var got []Event
	capture := emitterFunc(func(evt Event) { got = append(got, evt) })
	id := uuid.New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := NewRecorder(capture, id, func() time.Time { return now })

	rec.Emit(Event{Stage: StageRecordNew, Identity: "alice"})
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].RunUUID())
	require.Equal(t, now, got[0].TS)

	var nilRecorder *Recorder
	nilRecorder.Emit(Event{})
	NewRecorder(nil, id, nil).Emit(Event{})
}

type emitterFunc func(Event)

func (f emitterFunc) Emit(evt Event) { f(evt) }

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func sampleEvent(stage Stage) Event {
	return Event{
		RunID:    UUIDToBytes(uuid.New()),
		TS:       time.Now(),
		Stage:    stage,
		Identity: "alice",
		RecordID: "101",
	}
}
