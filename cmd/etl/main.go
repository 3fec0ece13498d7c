// Command etl runs the roadside incident pipeline: it polls the DGT traffic
// feeds, reconciles them into PostgreSQL, scores stopped-vehicle incidents
// for occupant vulnerability and publishes lifecycle events and alerts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/roadwatch/incident-etl/internal/adapter/fetch"
	httpadapter "github.com/roadwatch/incident-etl/internal/adapter/http"
	"github.com/roadwatch/incident-etl/internal/adapter/kafka"
	"github.com/roadwatch/incident-etl/internal/config"
	"github.com/roadwatch/incident-etl/internal/observability"
	"github.com/roadwatch/incident-etl/internal/scoring"
	"github.com/roadwatch/incident-etl/internal/store"
	"github.com/roadwatch/incident-etl/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	st, err := store.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	centers, err := scoring.LoadCenters(cfg.UrbanCentersPath)
	if err != nil {
		return fmt.Errorf("loading urban centers: %w", err)
	}
	logger.Info("urban centers loaded", "count", len(centers))

	var publisher *kafka.Publisher
	if cfg.KafkaEnabled() {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaLifecycleTopic, cfg.KafkaAlertTopic, logger)
		defer publisher.Close()
		logger.Info("kafka publishing enabled",
			"brokers", cfg.KafkaBrokers,
			"lifecycle_topic", cfg.KafkaLifecycleTopic,
			"alert_topic", cfg.KafkaAlertTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	clock := clockwork.NewRealClock()
	adapted := storeAdapter{st}

	engine := scoring.NewEngine(
		st,
		scoring.NewScorer(cfg.Scoring, centers),
		alertPublisher(publisher),
		clock,
		logger,
		metrics,
	)

	fetcher := fetch.NewClient(cfg.FetchTimeout, cfg.FetchRetries, logger)
	reconciler := syncer.NewReconciler(adapted, logger, metrics)

	scheduler, err := syncer.NewScheduler(
		cfg,
		fetcher,
		reconciler,
		adapted,
		engine,
		lifecyclePublisher(publisher),
		clock,
		logger,
		metrics,
	)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	server := httpadapter.NewServer(cfg.HTTPAddr, scheduler, metrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe()
	})
	g.Go(func() error {
		err := scheduler.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("incident etl started",
		"sources", len(cfg.Sources),
		"interval", cfg.SyncInterval,
		"addr", cfg.HTTPAddr)
	return g.Wait()
}

// storeAdapter narrows *store.Tx to the scheduler's transaction interface.
type storeAdapter struct {
	*store.Store
}

func (a storeAdapter) WithSourceTx(ctx context.Context, fn func(tx syncer.Tx) error) error {
	return a.Store.WithSourceTx(ctx, func(tx *store.Tx) error {
		return fn(tx)
	})
}

// alertPublisher and lifecyclePublisher convert a possibly-nil *kafka.Publisher
// into the consumer interfaces without smuggling a typed nil past the checks.
func alertPublisher(p *kafka.Publisher) scoring.AlertPublisher {
	if p == nil {
		return nil
	}
	return p
}

func lifecyclePublisher(p *kafka.Publisher) syncer.LifecyclePublisher {
	if p == nil {
		return nil
	}
	return p
}
