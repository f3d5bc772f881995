package delivery_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/session-harvester/internal/delivery"
	"github.com/JakeFAU/session-harvester/internal/delivery/memory"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/progress"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func rec(id string) harvest.Record {
	return harvest.Record{ID: harvest.RecordID(id), OptionCount: 4}
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestPipelineBatchedSendsFullBatchesThenFinal(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	emitter := &captureEmitter{}
	p := delivery.NewPipeline(delivery.Config{Mode: delivery.ModeBatched, BatchSize: 3}, "alice", sink, fixedNow, emitter, nil)

	var total delivery.Result
	for i := 0; i < 7; i++ {
		total.Add(p.Accept(context.Background(), rec(string(rune('a'+i)))))
	}
	require.Equal(t, 6, total.Delivered)
	require.Equal(t, 1, p.Pending())

	total.Add(p.Flush(context.Background()))
	require.Equal(t, 7, total.Delivered)
	require.Zero(t, p.Pending())

	payloads := sink.Payloads()
	require.Len(t, payloads, 3)
	require.Equal(t, "1", payloads[0].Batch.Label())
	require.Equal(t, "2", payloads[1].Batch.Label())
	require.Equal(t, "final", payloads[2].Batch.Label())
	require.Len(t, payloads[2].Data, 1)
	require.Equal(t, "Harvester - alice", payloads[0].Source)
	require.Len(t, emitter.events, 3)
	require.Equal(t, progress.StageDelivery, emitter.events[0].Stage)
	require.Equal(t, progress.OutcomeOK, emitter.events[0].Outcome)
	require.Equal(t, 3, emitter.events[0].Count)
}

func TestPipelineBatchedClearsPendingOnFailure(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	sink.FailWith(func(delivery.Payload) error { return errors.New("boom") })
	p := delivery.NewPipeline(delivery.Config{Mode: delivery.ModeBatched, BatchSize: 2}, "bob", sink, fixedNow, nil, nil)

	require.Equal(t, delivery.Result{}, p.Accept(context.Background(), rec("1")))
	res := p.Accept(context.Background(), rec("2"))
	require.Equal(t, delivery.Result{Failed: 2}, res)
	require.Zero(t, p.Pending())

	sink.FailWith(nil)
	p.Accept(context.Background(), rec("3"))
	p.Accept(context.Background(), rec("4"))
	require.Equal(t, "2", sink.Payloads()[1].Batch.Label())
}

func TestPipelineRealtimeCountsFailures(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	emitter := &captureEmitter{}
	p := delivery.NewPipeline(delivery.Config{Mode: delivery.ModeRealtime}, "carol", sink, fixedNow, emitter, nil)

	require.Equal(t, delivery.Result{Delivered: 1}, p.Accept(context.Background(), rec("101")))
	sink.FailWith(func(delivery.Payload) error { return errors.New("status 500") })
	require.Equal(t, delivery.Result{Failed: 1}, p.Accept(context.Background(), rec("102")))

	require.Equal(t, delivery.Result{}, p.Flush(context.Background()))
	require.Len(t, sink.Payloads(), 2)
	require.Nil(t, sink.Payloads()[0].Batch)
	require.Equal(t, progress.OutcomeFailed, emitter.events[1].Outcome)
	require.Equal(t, "status 500", emitter.events[1].Note)
}

func TestPipelineDisabled(t *testing.T) {
	t.Parallel()

	p := delivery.NewPipeline(delivery.Config{Mode: delivery.ModeRealtime}, "dave", nil, nil, nil, nil)
	require.Equal(t, delivery.ModeDisabled, p.Mode())
	require.Equal(t, delivery.Result{}, p.Accept(context.Background(), rec("1")))
	require.Equal(t, delivery.Result{}, p.Flush(context.Background()))
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := delivery.ParseMode("")
	require.NoError(t, err)
	require.Equal(t, delivery.ModeRealtime, m)

	m, err = delivery.ParseMode(" Batched ")
	require.NoError(t, err)
	require.Equal(t, delivery.ModeBatched, m)

	_, err = delivery.ParseMode("carrier-pigeon")
	require.Error(t, err)
}

func TestPayloadMarshalJSON(t *testing.T) {
	t.Parallel()

	payload := delivery.Payload{
		Timestamp: fixedNow(),
		Source:    "Harvester - alice",
		Account:   "alice",
		Data:      []harvest.Record{rec("101"), rec("102")},
		Batch:     &delivery.BatchTag{Final: true, Size: 2},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "2024-05-01T12:00:00Z", got["timestamp"])
	require.EqualValues(t, 2, got["total_questions"])
	require.Equal(t, "final", got["batch_number"])
	require.EqualValues(t, 2, got["batch_size"])
	require.NotContains(t, got, "run_id")

	payload.Batch = &delivery.BatchTag{Number: 4, Size: 2}
	raw, err = json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	require.EqualValues(t, 4, got["batch_number"])

	raw, err = json.Marshal(delivery.Payload{})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"data":[]`)
}
