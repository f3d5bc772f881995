package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/session-harvester/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	ev := func(stage progress.Stage) progress.Event {
		return progress.Event{RunID: runID, TS: now, Stage: stage, Identity: "alice"}
	}
	paused := ev(progress.StagePaused)
	paused.Condition = "captcha"
	resumed := ev(progress.StageResumed)
	resumed.Condition, resumed.Dur = "captcha", 45*time.Second
	delivered := ev(progress.StageDelivery)
	delivered.Outcome, delivered.Count, delivered.Dur = progress.OutcomeOK, 3, 200*time.Millisecond
	failed := ev(progress.StageDelivery)
	failed.Outcome, failed.Count = progress.OutcomeFailed, 1
	done := ev(progress.StageWorkerDone)
	done.Dur = 10 * time.Minute

	batch := []progress.Event{
		ev(progress.StageWorkerStart),
		ev(progress.StageWorkerStart),
		ev(progress.StageRecordNew),
		ev(progress.StageRecordNew),
		ev(progress.StageRecordSkipped),
		ev(progress.StageSoftError),
		paused, resumed, delivered, failed,
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.workersRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{done}))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.records.WithLabelValues("alice", "new")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.records.WithLabelValues("alice", "skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.softErrors.WithLabelValues("alice")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pauses.WithLabelValues("alice", "captcha")))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.deliveries.WithLabelValues("alice", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.deliveries.WithLabelValues("alice", "failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.workersRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.pauseDuration, "harvester_pause_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.workerRuntime, "harvester_worker_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
