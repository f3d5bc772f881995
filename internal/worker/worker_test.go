package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/session-harvester/internal/barrier"
	"github.com/JakeFAU/session-harvester/internal/dedup"
	"github.com/JakeFAU/session-harvester/internal/delivery"
	"github.com/JakeFAU/session-harvester/internal/delivery/memory"
	"github.com/JakeFAU/session-harvester/internal/delivery/webhook"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/humanize"
	"github.com/JakeFAU/session-harvester/internal/progress"
	"github.com/JakeFAU/session-harvester/internal/stats"
)

type fakeRecord struct {
	id      string
	options int
}

func newRecords(ids ...string) []fakeRecord {
	out := make([]fakeRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, fakeRecord{id: id, options: 4})
	}
	return out
}

type fakeSession struct {
	mu          sync.Mutex
	records     []fakeRecord
	pos         int
	advanceErrs []error
	authErr     error
	onAdvance   func(pos int) error
	// unconfirmed queues advances that report no new content; true means
	// the page still moved on.
	unconfirmed []bool
	extracted   []string
	suppressed  int
	closed      bool
}

func (s *fakeSession) Authenticate(context.Context, harvest.Identity) error { return s.authErr }

func (s *fakeSession) OpenListing(context.Context) error { return nil }

func (s *fakeSession) EssentialContentPresent(context.Context) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	has := len(s.records) > 0
	return has, has, nil
}

func (s *fakeSession) ReadQuickIdentifier(context.Context) (harvest.RecordID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.records[s.pos].id
	return harvest.RecordID(id), id != "", nil
}

func (s *fakeSession) ExtractFull(context.Context) (harvest.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[s.pos]
	s.extracted = append(s.extracted, r.id)
	rec := harvest.Record{ID: harvest.RecordID(r.id), OptionCount: r.options}
	return rec, rec.Valid(), nil
}

func (s *fakeSession) AdvanceToNext(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onAdvance != nil {
		if err := s.onAdvance(s.pos); err != nil {
			return false, err
		}
	}
	if len(s.unconfirmed) > 0 {
		moved := s.unconfirmed[0]
		s.unconfirmed = s.unconfirmed[1:]
		if moved && s.pos+1 < len(s.records) {
			s.pos++
		}
		return false, nil
	}
	if len(s.advanceErrs) > 0 {
		err := s.advanceErrs[0]
		s.advanceErrs = s.advanceErrs[1:]
		if err != nil {
			return false, err
		}
	}
	if s.pos+1 < len(s.records) {
		s.pos++
		return true, nil
	}
	return false, nil
}

func (s *fakeSession) SuppressTransientOverlays(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Extracted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.extracted...)
}

type fakeClassifier struct {
	mu    sync.Mutex
	queue []harvest.BlockCondition
	calls int
}

func (c *fakeClassifier) Classify(ctx context.Context) (harvest.BlockCondition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.queue) == 0 {
		return harvest.NoBlock, nil
	}
	cond := c.queue[0]
	c.queue = c.queue[1:]
	return cond, nil
}

type fakeBehavior struct {
	mu       sync.Mutex
	profiles []harvest.SkipProfile
}

func (b *fakeBehavior) PerformSkip(_ context.Context, p harvest.SkipProfile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles = append(b.profiles, p)
	return nil
}

type fakePauser struct {
	mu      sync.Mutex
	conds   []harvest.BlockCondition
	release chan struct{}
}

func (p *fakePauser) Pause(ctx context.Context, _ string, cond harvest.BlockCondition) error {
	p.mu.Lock()
	p.conds = append(p.conds, cond)
	release := p.release
	p.mu.Unlock()
	if release == nil {
		return nil
	}
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePauser) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conds)
}

type fakePacer struct {
	mu     sync.Mutex
	breaks int
}

func (p *fakePacer) Break(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breaks++
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) Stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Stage)
	}
	return out
}

type harness struct {
	session    *fakeSession
	classifier *fakeClassifier
	behavior   *fakeBehavior
	pauser     *fakePauser
	pacer      *fakePacer
	seen       *dedup.Store
	agg        *stats.Aggregator
	sink       *memory.Sink
	events     *captureEmitter
	clock      *fakeClock
	deliveryFn func(identity string) Deliverer
}

func newHarness(t *testing.T, records []fakeRecord, seed ...string) *harness {
	t.Helper()
	seen := dedup.New()
	ids := make([]harvest.RecordID, 0, len(seed))
	for _, id := range seed {
		ids = append(ids, harvest.RecordID(id))
	}
	require.NoError(t, seen.Seed(ids))

	h := &harness{
		session:    &fakeSession{records: records},
		classifier: &fakeClassifier{},
		behavior:   &fakeBehavior{},
		pauser:     &fakePauser{},
		pacer:      &fakePacer{},
		seen:       seen,
		sink:       memory.New(),
		events:     &captureEmitter{},
		clock:      &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	h.agg = stats.NewAggregator(h.clock.Now)
	h.deliveryFn = func(identity string) Deliverer {
		return delivery.NewPipeline(delivery.Config{Mode: delivery.ModeRealtime}, identity, h.sink, h.clock.Now, h.events, nil)
	}
	return h
}

func openGate(name string) *barrier.Gate {
	g := barrier.New(name)
	g.Open()
	return g
}

func (h *harness) worker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	w, err := New(harvest.Identity{Name: "alice", Username: "u", Password: "p"}, cfg, Deps{
		Session:        h.session,
		Classifier:     h.classifier,
		Behavior:       h.behavior,
		Skips:          humanize.Fixed(harvest.SkipQuick),
		Pacer:          h.pacer,
		Pauser:         h.pauser,
		Seen:           h.seen,
		Stats:          h.agg,
		Delivery:       h.deliveryFn("alice"),
		LoginGate:      openGate("login"),
		ExtractionGate: openGate("extraction"),
		Clock:          h.clock,
		Events:         h.events,
	})
	require.NoError(t, err)
	return w
}

func TestWorkerSkipsSeededRecordsWithoutExtracting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("101", "103", "102"), "101", "102")
	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonEndOfData, sum.Reason)
	require.NoError(t, sum.Err)
	require.Equal(t, 1, sum.New)
	require.Equal(t, 2, sum.Skipped)
	require.Equal(t, 1, sum.Delivered)
	require.Equal(t, []string{"103"}, h.session.Extracted())
	require.Len(t, h.behavior.profiles, 2)
	require.Equal(t, 3, h.seen.Len())
	require.True(t, h.seen.Contains("103"))
	require.True(t, h.session.closed)

	totals := h.agg.Totals()
	require.Equal(t, 1, totals.New)
	require.Equal(t, 2, totals.Skipped)

	stages := h.events.Stages()
	require.Equal(t, progress.StageWorkerStart, stages[0])
	require.Equal(t, progress.StageWorkerDone, stages[len(stages)-1])
}

func TestWorkerRealtimeDeliveryFailureKeepsExtracting(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	sink, err := webhook.New(webhook.Config{URL: srv.URL}, srv.Client())
	require.NoError(t, err)

	h := newHarness(t, newRecords("201", "202"))
	h.deliveryFn = func(identity string) Deliverer {
		return delivery.NewPipeline(delivery.Config{Mode: delivery.ModeRealtime}, identity, sink, h.clock.Now, nil, nil)
	}
	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonEndOfData, sum.Reason)
	require.Equal(t, 2, sum.New)
	require.Equal(t, 0, sum.Delivered)
	require.Equal(t, 2, sum.DeliveryFailed)
	require.Equal(t, 2, h.agg.Totals().DeliveryFailed)
}

func TestWorkerRepeatedCaptchaPausesWithoutSoftErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("301"))
	captcha := harvest.HardBlock(harvest.KindCaptcha, "challenge widget visible")
	h.classifier.queue = []harvest.BlockCondition{captcha, captcha, captcha}

	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, 3, sum.Pauses)
	require.Equal(t, 0, sum.SoftErrors)
	require.Equal(t, 1, sum.New)
	require.Equal(t, 3, h.pauser.Count())
	for _, c := range h.pauser.conds {
		require.Equal(t, "captcha", c.Key())
	}
}

func TestWorkerStaysPausedUntilAcknowledged(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("350"))
	h.classifier.queue = []harvest.BlockCondition{harvest.HardBlock(harvest.KindRateLimit, "traffic filter page")}
	h.pauser.release = make(chan struct{})
	w := h.worker(t, Config{})

	done := make(chan Summary, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool { return w.State() == StatePaused }, time.Second, 5*time.Millisecond)
	require.Empty(t, h.session.Extracted())
	close(h.pauser.release)

	select {
	case sum := <-done:
		require.Equal(t, 1, sum.New)
		require.Equal(t, 1, sum.Pauses)
		require.Equal(t, StateDone, w.State())
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not resume")
	}
}

func TestWorkerSoftErrorBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []fakeRecord{{}, {}, {}, {id: "401", options: 4}, {}})
	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonErrorBudget, sum.Reason)
	require.Error(t, sum.Err)
	require.Equal(t, 3, sum.SoftErrors)
	require.Equal(t, 0, sum.New)
	require.Empty(t, h.session.Extracted())
}

func TestWorkerSuccessResetsSoftErrors(t *testing.T) {
	t.Parallel()

	records := []fakeRecord{
		{}, {}, {id: "411", options: 4},
		{}, {}, {id: "412", options: 4},
		{}, {}, {id: "413", options: 4},
		{id: "414", options: 0},
	}
	h := newHarness(t, records, "412")
	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonEndOfData, sum.Reason)
	require.Equal(t, 7, sum.SoftErrors)
	require.Equal(t, 2, sum.New)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, []string{"411", "413", "414"}, h.session.Extracted())
}

func TestWorkerBlockBetweenSoftErrorsDoesNotReset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []fakeRecord{{}, {}, {}, {id: "420", options: 4}})
	h.classifier.queue = []harvest.BlockCondition{
		harvest.NoBlock,
		{Class: harvest.ConditionLayoutChange, Detail: "record body missing"},
	}
	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonErrorBudget, sum.Reason)
	require.Equal(t, 3, sum.SoftErrors)
	require.Equal(t, 1, sum.Pauses)
	require.Equal(t, 0, sum.New)
}

func TestWorkerAdvanceErrorIsSoftAndRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("501", "502"))
	h.session.advanceErrs = []error{errors.New("click intercepted")}
	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonEndOfData, sum.Reason)
	require.Equal(t, 1, sum.SoftErrors)
	require.Equal(t, 2, sum.New)
}

func TestWorkerBlockAfterNavigationKeepsRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("701", "702", "703"))
	h.session.unconfirmed = []bool{true}
	captcha := harvest.HardBlock(harvest.KindCaptcha, "challenge widget visible")
	h.classifier.queue = []harvest.BlockCondition{harvest.NoBlock, captcha}

	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonEndOfData, sum.Reason)
	require.Equal(t, 1, sum.Pauses)
	require.Equal(t, 0, sum.SoftErrors)
	require.Equal(t, 3, sum.New)
	require.Equal(t, 0, sum.Skipped)
	require.Equal(t, []string{"701", "702", "703"}, h.session.Extracted())
}

func TestWorkerBlockBeforeNavigationSkipsCurrentRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("711", "712"))
	h.session.unconfirmed = []bool{false}
	captcha := harvest.HardBlock(harvest.KindCaptcha, "challenge widget visible")
	h.classifier.queue = []harvest.BlockCondition{harvest.NoBlock, captcha}

	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonEndOfData, sum.Reason)
	require.Equal(t, 1, sum.Pauses)
	require.Equal(t, 0, sum.SoftErrors)
	require.Equal(t, 2, sum.New)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, []string{"711", "712"}, h.session.Extracted())
}

func TestWorkerStopsAtRecordCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("601", "602", "603", "604"))
	sum := h.worker(t, Config{MaxRecords: 2}).Run(context.Background())

	require.Equal(t, ReasonCapReached, sum.Reason)
	require.Equal(t, 2, sum.New)
	require.Equal(t, []string{"601", "602"}, h.session.Extracted())
}

func TestWorkerBatchedDeliveryFlushesFinalBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("n1", "n2", "n3", "n4", "n5", "n6", "n7"))
	h.deliveryFn = func(identity string) Deliverer {
		return delivery.NewPipeline(delivery.Config{Mode: delivery.ModeBatched, BatchSize: 3}, identity, h.sink, h.clock.Now, nil, nil)
	}
	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, 7, sum.New)
	require.Equal(t, 7, sum.Delivered)
	payloads := h.sink.Payloads()
	require.Len(t, payloads, 3)
	require.Equal(t, "1", payloads[0].Batch.Label())
	require.Equal(t, "2", payloads[1].Batch.Label())
	require.Equal(t, "final", payloads[2].Batch.Label())
	require.Equal(t, harvest.RecordID("n7"), payloads[2].Data[0].ID)
}

func TestWorkerInterruptStillFlushes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, newRecords("701", "702", "703", "704", "705"))
	h.session.onAdvance = func(pos int) error {
		if pos == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	h.deliveryFn = func(identity string) Deliverer {
		return delivery.NewPipeline(delivery.Config{Mode: delivery.ModeBatched, BatchSize: 10}, identity, h.sink, h.clock.Now, nil, nil)
	}
	sum := h.worker(t, Config{}).Run(ctx)

	require.Equal(t, ReasonInterrupted, sum.Reason)
	require.NoError(t, sum.Err)
	require.Equal(t, 3, sum.New)
	require.Equal(t, 3, sum.Delivered)
	payloads := h.sink.Payloads()
	require.Len(t, payloads, 1)
	require.Equal(t, "final", payloads[0].Batch.Label())
	require.True(t, h.session.closed)
}

func TestWorkerLostRaceCountsAsSkip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("801"))
	w := h.worker(t, Config{})
	w.deps.Seen = racingSeen{}
	sum := w.Run(context.Background())

	require.Equal(t, 0, sum.New)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, []string{"801"}, h.session.Extracted())
	require.Empty(t, h.sink.Payloads())
}

type racingSeen struct{}

func (racingSeen) Contains(harvest.RecordID) bool { return false }
func (racingSeen) TryAdd(harvest.RecordID) bool   { return false }

func TestWorkerBreaksAndPeriodicChecks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("901", "902", "903", "904"))
	sum := h.worker(t, Config{PeriodicCheckEvery: 2, BreakEvery: 2}).Run(context.Background())

	require.Equal(t, 4, sum.New)
	require.Equal(t, 2, h.pacer.breaks)
	// One check per record, two periodic checks and one at end of data.
	require.Equal(t, 7, h.classifier.calls)
}

func TestWorkerAuthenticationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("1"))
	h.session.authErr = errors.New("login form not found")
	sum := h.worker(t, Config{}).Run(context.Background())

	require.Equal(t, ReasonAuthFailed, sum.Reason)
	require.Error(t, sum.Err)
	require.Empty(t, h.session.Extracted())
	require.True(t, h.session.closed)
}

func TestWorkerNoRecordsAvailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	sum := h.worker(t, Config{FirstRecordTimeout: time.Second}).Run(context.Background())

	require.Equal(t, ReasonNoRecords, sum.Reason)
	require.Equal(t, 0, sum.New)
}

func TestWorkerWaitsForGates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newRecords("1"))
	login := barrier.New("login")
	w := h.worker(t, Config{})
	w.deps.LoginGate = login

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.State() == StateAuthenticating }, time.Second, 5*time.Millisecond)
	cancel()
	sum := <-done
	require.Equal(t, ReasonInterrupted, sum.Reason)
	require.Empty(t, h.session.Extracted())
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(harvest.Identity{Name: "alice"}, Config{}, Deps{})
	require.Error(t, err)
	_, err = New(harvest.Identity{}, Config{}, Deps{})
	require.Error(t, err)
}
