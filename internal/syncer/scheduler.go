package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/roadwatch/incident-etl/internal/adapter/datex"
	"github.com/roadwatch/incident-etl/internal/config"
	"github.com/roadwatch/incident-etl/internal/domain"
	"github.com/roadwatch/incident-etl/internal/observability"
)

const (
	pauseInitial = 30 * time.Second
	pauseMax     = 5 * time.Minute
)

// Fetcher downloads one feed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ScoringEngine runs one vulnerability scoring pass.
type ScoringEngine interface {
	Run(ctx context.Context) error
}

// LifecyclePublisher receives accepted lifecycle transitions. A nil
// publisher disables outbound events.
type LifecyclePublisher interface {
	PublishTransitions(ctx context.Context, entries []domain.HistoryEntry) error
}

// Scheduler runs the sync cycle on a fixed interval. Cycles never overlap:
// a tick arriving while the previous cycle still runs is skipped. When the
// store is unreachable the scheduler pauses with growing backoff instead of
// exiting; the feeds keep their state and a later cycle catches up.
type Scheduler struct {
	cfg        *config.Config
	fetcher    Fetcher
	parsers    map[string]datex.Parser
	reconciler *Reconciler
	store      Store
	engine     ScoringEngine
	publisher  LifecyclePublisher
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	running atomic.Bool
	ready   atomic.Bool
	cycles  sync.WaitGroup

	mu          sync.Mutex
	pausedUntil time.Time
	pause       time.Duration
}

func NewScheduler(
	cfg *config.Config,
	fetcher Fetcher,
	reconciler *Reconciler,
	store Store,
	engine ScoringEngine,
	publisher LifecyclePublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) (*Scheduler, error) {
	parsers := make(map[string]datex.Parser, len(cfg.Sources))
	for _, src := range cfg.Sources {
		p, err := datex.ForSchema(src.Schema)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		parsers[src.Schema] = p
	}
	return &Scheduler{
		cfg:        cfg,
		fetcher:    fetcher,
		parsers:    parsers,
		reconciler: reconciler,
		store:      store,
		engine:     engine,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Run executes cycles until the context is canceled. The first cycle starts
// immediately; later ones follow the configured interval. Run returns only
// after any in-flight cycle finishes, so the caller can safely tear down
// the store behind it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.tryRunCycle(ctx)

	ticker := s.clock.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.cycles.Wait()
			return ctx.Err()
		case <-ticker.Chan():
			s.tryRunCycle(ctx)
		}
	}
}

// tryRunCycle starts a cycle in the background unless one is already
// running or the scheduler is paused after a store outage.
func (s *Scheduler) tryRunCycle(ctx context.Context) {
	s.mu.Lock()
	paused := s.clock.Now().Before(s.pausedUntil)
	until := s.pausedUntil
	s.mu.Unlock()
	if paused {
		s.logger.Warn("cycle skipped, paused after store failure", "until", until)
		s.metrics.CyclesSkipped.Inc()
		return
	}

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("cycle skipped, previous cycle still running")
		s.metrics.CyclesSkipped.Inc()
		return
	}
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.running.Store(false)
		s.runCycle(ctx)
	}()
}

type sourceResult struct {
	status      domain.SourceStatus
	log         domain.SyncLog
	transitions []domain.HistoryEntry
	storeErr    error
}

// runCycle executes one full cycle synchronously.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := s.clock.Now()
	s.metrics.CycleRunning.Set(1)
	defer func() {
		s.metrics.CycleRunning.Set(0)
		s.metrics.CycleDuration.Observe(s.clock.Since(start).Seconds())
	}()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	// Sources sync concurrently and independently: a failure in one never
	// cancels the others, so errors stay inside each result.
	results := make([]sourceResult, len(s.cfg.Sources))
	g, gctx := errgroup.WithContext(cctx)
	for i, src := range s.cfg.Sources {
		g.Go(func() error {
			results[i] = s.syncSource(gctx, src)
			return nil
		})
	}
	_ = g.Wait()

	storeFailed := false
	for i, src := range s.cfg.Sources {
		res := results[i]
		if res.storeErr != nil {
			storeFailed = true
			s.logger.Error("source sync hit store failure",
				"source", src.Name, "error", res.storeErr)
		}
		if err := s.store.RecordSourceStatus(cctx, res.status); err != nil {
			storeFailed = true
			s.logger.Error("recording source status", "source", src.Name, "error", err)
		}
		if err := s.store.AppendSyncLog(cctx, res.log); err != nil {
			storeFailed = true
			s.logger.Error("appending sync log", "source", src.Name, "error", err)
		}
		s.publishTransitions(cctx, res.transitions)
	}

	if count, err := s.store.MarkStale(cctx, s.clock.Now().Add(-s.cfg.StaleAfter)); err != nil {
		storeFailed = true
		s.logger.Error("marking stale incidents", "error", err)
	} else {
		s.metrics.StaleIncidents.Set(float64(count))
	}

	if storeFailed {
		s.enterPause()
		return
	}
	s.resetPause()

	if err := s.engine.Run(cctx); err != nil {
		s.logger.Error("scoring pass failed", "error", err)
	}

	s.metrics.CyclesCompleted.Inc()
	s.ready.Store(true)
}

func (s *Scheduler) syncSource(ctx context.Context, src config.Source) sourceResult {
	attempt := s.clock.Now()
	res := sourceResult{
		status: domain.SourceStatus{Source: src.Name, LastAttemptAt: attempt},
		log:    domain.SyncLog{Source: src.Name, CycleStartedAt: attempt},
	}

	s.metrics.FetchAttempts.WithLabelValues(src.Name).Inc()
	body, err := s.fetcher.Fetch(ctx, src.URL)
	s.metrics.FetchDuration.WithLabelValues(src.Name).Observe(s.clock.Since(attempt).Seconds())
	if err != nil {
		return s.sourceFailed(res, src, fmt.Errorf("fetch: %w", err))
	}

	batch, err := s.parsers[src.Schema].Parse(body)
	if err != nil {
		return s.sourceFailed(res, src, fmt.Errorf("parse: %w", err))
	}
	s.metrics.RecordsParsed.WithLabelValues(src.Name).Add(float64(len(batch.Incidents)))
	s.metrics.RecordsSkipped.WithLabelValues(src.Name).Add(float64(batch.Skipped))
	res.log.PublicationTime = batch.PublicationTime
	res.log.RecordsInFeed = len(batch.Incidents)
	res.log.RecordsSkipped = batch.Skipped

	summary, err := s.reconciler.Reconcile(ctx, src.Name, batch, s.clock.Now())
	if err != nil {
		res.storeErr = err
		return s.sourceFailed(res, src, err)
	}

	done := s.clock.Now()
	res.status.LastSuccessAt = &done
	res.log.CycleCompletedAt = &done
	res.log.Created = summary.Created
	res.log.Updated = summary.Updated
	res.log.Closed = summary.Closed
	res.log.Errors = summary.Errors
	res.log.Success = true
	res.transitions = summary.Transitions
	s.metrics.SourceUp.WithLabelValues(src.Name).Set(1)

	s.logger.Info("source synced",
		"source", src.Name,
		"records", res.log.RecordsInFeed,
		"skipped", res.log.RecordsSkipped,
		"created", summary.Created,
		"updated", summary.Updated,
		"closed", summary.Closed,
		"errors", summary.Errors,
	)
	return res
}

// sourceFailed marks one source attempt degraded. Stored incidents are left
// untouched: absence of a feed is not absence of incidents.
func (s *Scheduler) sourceFailed(res sourceResult, src config.Source, err error) sourceResult {
	msg := err.Error()
	res.status.Degraded = true
	res.status.LastError = &msg
	res.log.Success = false
	res.log.ErrorMessage = &msg
	s.metrics.FetchErrors.WithLabelValues(src.Name).Inc()
	s.metrics.SourceUp.WithLabelValues(src.Name).Set(0)
	s.logger.Error("source sync failed", "source", src.Name, "error", err)
	return res
}

func (s *Scheduler) publishTransitions(ctx context.Context, entries []domain.HistoryEntry) {
	if s.publisher == nil || len(entries) == 0 {
		return
	}
	if err := s.publisher.PublishTransitions(ctx, entries); err != nil {
		s.metrics.PublishErrors.Inc()
		s.logger.Error("publishing lifecycle events", "error", err)
	}
}

func (s *Scheduler) enterPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pause == 0 {
		s.pause = pauseInitial
	} else {
		s.pause *= 2
		if s.pause > pauseMax {
			s.pause = pauseMax
		}
	}
	s.pausedUntil = s.clock.Now().Add(s.pause)
	s.logger.Warn("pausing sync after store failure",
		"pause", s.pause, "until", s.pausedUntil)
}

func (s *Scheduler) resetPause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pause = 0
	s.pausedUntil = time.Time{}
}

// CheckReadiness reports healthy once at least one cycle completed and the
// database answers.
func (s *Scheduler) CheckReadiness(ctx context.Context) error {
	if !s.ready.Load() {
		return errors.New("no sync cycle completed yet")
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}
