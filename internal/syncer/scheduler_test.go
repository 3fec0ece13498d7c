package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/incident-etl/internal/config"
	"github.com/roadwatch/incident-etl/internal/domain"
	"github.com/roadwatch/incident-etl/internal/observability"
)

type fakeFetcher struct {
	docs map[string][]byte
	errs map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	doc, ok := f.docs[url]
	if !ok {
		return nil, errors.New("no such feed")
	}
	return doc, nil
}

type fakeEngine struct {
	runs int
	err  error
}

func (f *fakeEngine) Run(context.Context) error {
	f.runs++
	return f.err
}

type fakeLifecyclePublisher struct {
	entries []domain.HistoryEntry
	err     error
}

func (f *fakeLifecyclePublisher) PublishTransitions(_ context.Context, entries []domain.HistoryEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entries...)
	return nil
}

func feedDoc(ids ...string) []byte {
	doc := `<feed><publicationTime>2026-03-14T08:00:00Z</publicationTime>`
	for _, id := range ids {
		doc += `<situation id="` + id + `"><situationRecord id="` + id + `" version="1">` +
			`<causeType>accident</causeType></situationRecord></situation>`
	}
	return []byte(doc + `</feed>`)
}

type schedulerFixture struct {
	scheduler *Scheduler
	store     *fakeStore
	fetcher   *fakeFetcher
	engine    *fakeEngine
	publisher *fakeLifecyclePublisher
	clock     *clockwork.FakeClock
	metrics   *observability.Metrics
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	cfg := &config.Config{
		Sources: []config.Source{
			{Name: "nacional", URL: "http://feeds/nacional", Schema: config.SchemaDatexV36},
			{Name: "pais_vasco", URL: "http://feeds/pais_vasco", Schema: config.SchemaDatexV10},
		},
		SyncInterval: time.Minute,
		CycleTimeout: 55 * time.Second,
		StaleAfter:   15 * time.Hour,
	}

	store := newFakeStore()
	fetcher := &fakeFetcher{
		docs: map[string][]byte{
			"http://feeds/nacional":   feedDoc("N-1", "N-2"),
			"http://feeds/pais_vasco": feedDoc("PV-1"),
		},
		errs: map[string]error{},
	}
	engine := &fakeEngine{}
	publisher := &fakeLifecyclePublisher{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))
	metrics := observability.NewMetricsForTesting()

	sched, err := NewScheduler(
		cfg,
		fetcher,
		NewReconciler(store, slog.New(slog.DiscardHandler), metrics),
		store,
		engine,
		publisher,
		clock,
		slog.New(slog.DiscardHandler),
		metrics,
	)
	require.NoError(t, err)

	return &schedulerFixture{
		scheduler: sched,
		store:     store,
		fetcher:   fetcher,
		engine:    engine,
		publisher: publisher,
		clock:     clock,
		metrics:   metrics,
	}
}

func TestRunCycle_SyncsAllSources(t *testing.T) {
	fx := newSchedulerFixture(t)

	fx.scheduler.runCycle(context.Background())

	assert.Len(t, fx.store.open["nacional"], 2)
	assert.Len(t, fx.store.open["pais_vasco"], 1)

	require.Len(t, fx.store.statuses, 2)
	for _, st := range fx.store.statuses {
		assert.False(t, st.Degraded)
		assert.NotNil(t, st.LastSuccessAt)
	}
	require.Len(t, fx.store.logs, 2)
	for _, log := range fx.store.logs {
		assert.True(t, log.Success)
	}

	assert.Len(t, fx.publisher.entries, 3)
	assert.Equal(t, 1, fx.engine.runs)
	require.Len(t, fx.store.staleCutoffs, 1)
	assert.Equal(t, fx.clock.Now().Add(-15*time.Hour), fx.store.staleCutoffs[0])

	assert.NoError(t, fx.scheduler.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(fx.metrics.CyclesCompleted), 0.001)
}

func TestRunCycle_SourceFailureIsIsolated(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.fetcher.errs["http://feeds/nacional"] = errors.New("connection timed out")

	fx.scheduler.runCycle(context.Background())

	// The healthy source still syncs and the cycle completes.
	assert.Empty(t, fx.store.open["nacional"])
	assert.Len(t, fx.store.open["pais_vasco"], 1)
	assert.Equal(t, 1, fx.engine.runs)
	assert.NoError(t, fx.scheduler.CheckReadiness(context.Background()))

	var nacional domain.SourceStatus
	for _, st := range fx.store.statuses {
		if st.Source == "nacional" {
			nacional = st
		}
	}
	assert.True(t, nacional.Degraded)
	require.NotNil(t, nacional.LastError)
	assert.Nil(t, nacional.LastSuccessAt)
}

func TestRunCycle_FeedFailureDoesNotCloseIncidents(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.scheduler.runCycle(context.Background())
	require.Len(t, fx.store.open["nacional"], 2)

	// The feed goes dark. Its stored incidents must stay open.
	fx.fetcher.errs["http://feeds/nacional"] = errors.New("503")
	fx.scheduler.runCycle(context.Background())

	assert.Len(t, fx.store.open["nacional"], 2)
}

func TestRunCycle_StoreOutagePausesScheduler(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.store.openErr = errors.New("database down")

	fx.scheduler.runCycle(context.Background())

	// Paused: the next tick is skipped without touching the store.
	fx.scheduler.tryRunCycle(context.Background())
	assert.InDelta(t, 1, testutil.ToFloat64(fx.metrics.CyclesSkipped), 0.001)
	assert.Equal(t, 0, fx.engine.runs)
	assert.Error(t, fx.scheduler.CheckReadiness(context.Background()))

	// Outage over, pause elapsed: the cycle runs and the pause resets.
	fx.store.openErr = nil
	fx.clock.Advance(pauseMax)
	fx.scheduler.runCycle(context.Background())

	assert.Len(t, fx.store.open["nacional"], 2)
	assert.Equal(t, 1, fx.engine.runs)
	assert.NoError(t, fx.scheduler.CheckReadiness(context.Background()))

	fx.scheduler.mu.Lock()
	defer fx.scheduler.mu.Unlock()
	assert.Zero(t, fx.scheduler.pause)
}

func TestRunCycle_PauseBackoffDoubles(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.store.openErr = errors.New("database down")

	expected := []time.Duration{
		pauseInitial, 2 * pauseInitial, 4 * pauseInitial, 8 * pauseInitial, pauseMax, pauseMax,
	}
	for _, want := range expected {
		fx.scheduler.runCycle(context.Background())
		fx.scheduler.mu.Lock()
		assert.Equal(t, want, fx.scheduler.pause)
		fx.scheduler.mu.Unlock()
		fx.clock.Advance(pauseMax)
	}
}

func TestTryRunCycle_SkipsWhileRunning(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.scheduler.running.Store(true)

	fx.scheduler.tryRunCycle(context.Background())

	assert.InDelta(t, 1, testutil.ToFloat64(fx.metrics.CyclesSkipped), 0.001)
	assert.Equal(t, 0, fx.engine.runs)
}

// blockingFetcher holds every fetch until released, so a cycle can be kept
// in flight across a shutdown.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.once.Do(func() { close(f.started) })
	<-f.release
	return feedDoc("B-1"), nil
}

func TestRun_WaitsForInFlightCycleOnShutdown(t *testing.T) {
	fx := newSchedulerFixture(t)
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	fx.scheduler.fetcher = fetcher

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.scheduler.Run(ctx) }()

	<-fetcher.started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a cycle was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(fetcher.release)
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the cycle finished")
	}
}

func TestCheckReadiness(t *testing.T) {
	fx := newSchedulerFixture(t)

	assert.Error(t, fx.scheduler.CheckReadiness(context.Background()), "not ready before first cycle")

	fx.scheduler.runCycle(context.Background())
	assert.NoError(t, fx.scheduler.CheckReadiness(context.Background()))

	fx.store.pingErr = errors.New("connection refused")
	assert.Error(t, fx.scheduler.CheckReadiness(context.Background()))
}

func TestRunCycle_PublisherFailureDoesNotFailCycle(t *testing.T) {
	fx := newSchedulerFixture(t)
	fx.publisher.err = errors.New("broker unavailable")

	fx.scheduler.runCycle(context.Background())

	assert.Len(t, fx.store.open["nacional"], 2)
	assert.NoError(t, fx.scheduler.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(fx.metrics.PublishErrors), 0.001)
}

func TestNewScheduler_RejectsUnknownSchema(t *testing.T) {
	cfg := &config.Config{
		Sources: []config.Source{{Name: "broken", URL: "http://x", Schema: "datex-v99"}},
	}
	metrics := observability.NewMetricsForTesting()
	store := newFakeStore()

	_, err := NewScheduler(
		cfg, &fakeFetcher{}, NewReconciler(store, slog.New(slog.DiscardHandler), metrics),
		store, &fakeEngine{}, nil,
		clockwork.NewFakeClock(), slog.New(slog.DiscardHandler), metrics,
	)
	assert.Error(t, err)
}
