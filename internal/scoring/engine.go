package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/roadwatch/incident-etl/internal/domain"
	"github.com/roadwatch/incident-etl/internal/observability"
)

// ScoreStore is the persistence surface the engine needs.
type ScoreStore interface {
	QualifyingIncidents(ctx context.Context) ([]domain.Incident, error)
	UpsertScore(ctx context.Context, score domain.VulnerabilityScore) error
	PruneScores(ctx context.Context, keep []domain.Incident) (int, error)
}

// AlertPublisher receives high and critical assessments. A nil publisher
// disables alerting.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, score domain.VulnerabilityScore, inc domain.Incident) error
}

// Engine runs one scoring pass per sync cycle: score every qualifying
// incident, publish alerts for the dangerous ones, prune scores for
// incidents that left the working set.
type Engine struct {
	store     ScoreStore
	scorer    *Scorer
	publisher AlertPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

func NewEngine(
	store ScoreStore,
	scorer *Scorer,
	publisher AlertPublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		store:     store,
		scorer:    scorer,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes one scoring pass. Per-incident failures are logged and
// counted but do not stop the pass.
func (e *Engine) Run(ctx context.Context) error {
	incidents, err := e.store.QualifyingIncidents(ctx)
	if err != nil {
		return fmt.Errorf("loading qualifying incidents: %w", err)
	}

	now := e.clock.Now()
	for _, inc := range incidents {
		score := e.scorer.Score(inc, now)
		if err := e.store.UpsertScore(ctx, score); err != nil {
			e.metrics.ScoreErrors.Inc()
			e.logger.Error("writing vulnerability score",
				"source", inc.Source, "external_id", inc.ExternalID, "error", err)
			continue
		}
		e.metrics.ScoresComputed.Inc()

		if e.publisher == nil {
			continue
		}
		if score.RiskLevel != domain.RiskCritical && score.RiskLevel != domain.RiskHigh {
			continue
		}
		if err := e.publisher.PublishAlert(ctx, score, inc); err != nil {
			e.metrics.PublishErrors.Inc()
			e.logger.Error("publishing vulnerability alert",
				"source", inc.Source, "external_id", inc.ExternalID, "error", err)
			continue
		}
		e.metrics.AlertsPublished.Inc()
	}

	pruned, err := e.store.PruneScores(ctx, incidents)
	if err != nil {
		return fmt.Errorf("pruning scores: %w", err)
	}
	if pruned > 0 {
		e.logger.Debug("pruned vulnerability scores", "count", pruned)
	}
	return nil
}
