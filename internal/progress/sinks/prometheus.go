package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/session-harvester/internal/progress"
)

// PrometheusSink exports harvest progress as Prometheus collectors,
// partitioned by identity.
type PrometheusSink struct {
	records        *prometheus.CounterVec
	softErrors     *prometheus.CounterVec
	pauses         *prometheus.CounterVec
	pauseDuration  *prometheus.HistogramVec
	deliveries     *prometheus.CounterVec
	deliveryLength *prometheus.HistogramVec
	workersRunning prometheus.Gauge
	workerRuntime  prometheus.Histogram

	tracker *workerTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Records processed partitioned by identity and result (new, skipped).",
		}, []string{"identity", "result"}),
		softErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_soft_errors_total",
			Help: "Per-record soft errors by identity.",
		}, []string{"identity"}),
		pauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_pauses_total",
			Help: "Operator pauses by identity and blocking condition.",
		}, []string{"identity", "condition"}),
		pauseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_pause_duration_seconds",
			Help:    "Time spent waiting for operator intervention.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"condition"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_delivered_records_total",
			Help: "Records handed to the delivery sink by identity and outcome.",
		}, []string{"identity", "outcome"}),
		deliveryLength: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_delivery_duration_seconds",
			Help:    "Delivery sink latency by outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		workersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_workers_running",
			Help: "Workers currently between start and done.",
		}),
		workerRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_worker_runtime_seconds",
			Help:    "Wall time per finished worker.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		tracker: newWorkerTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.records, s.softErrors, s.pauses, s.pauseDuration,
		s.deliveries, s.deliveryLength, s.workersRunning, s.workerRuntime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageWorkerStart:
		if s.tracker.start(evt.Identity) {
			s.workersRunning.Inc()
		}
	case progress.StageWorkerDone:
		if s.tracker.finish(evt.Identity) {
			s.workersRunning.Dec()
		}
		if evt.Dur > 0 {
			s.workerRuntime.Observe(evt.Dur.Seconds())
		}
	case progress.StageRecordNew:
		s.records.WithLabelValues(evt.Identity, "new").Inc()
	case progress.StageRecordSkipped:
		s.records.WithLabelValues(evt.Identity, "skipped").Inc()
	case progress.StageSoftError:
		s.softErrors.WithLabelValues(evt.Identity).Inc()
	case progress.StagePaused:
		s.pauses.WithLabelValues(evt.Identity, evt.Condition).Inc()
	case progress.StageResumed:
		if evt.Dur > 0 {
			s.pauseDuration.WithLabelValues(evt.Condition).Observe(evt.Dur.Seconds())
		}
	case progress.StageDelivery:
		s.deliveries.WithLabelValues(evt.Identity, string(evt.Outcome)).Add(float64(evt.Count))
		if evt.Dur > 0 {
			s.deliveryLength.WithLabelValues(string(evt.Outcome)).Observe(evt.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type workerTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newWorkerTracker() *workerTracker {
	return &workerTracker{running: make(map[string]struct{})}
}

func (t *workerTracker) start(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[identity]; ok {
		return false
	}
	t.running[identity] = struct{}{}
	return true
}

func (t *workerTracker) finish(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[identity]; !ok {
		return false
	}
	delete(t.running, identity)
	return true
}
