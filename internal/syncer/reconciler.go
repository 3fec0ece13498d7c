// Package syncer drives the periodic fetch, reconcile and scoring cycle.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roadwatch/incident-etl/internal/adapter/datex"
	"github.com/roadwatch/incident-etl/internal/domain"
	"github.com/roadwatch/incident-etl/internal/observability"
)

// Tx is the per-source transaction surface. Implementations isolate each
// operation so one bad record never poisons the batch.
type Tx interface {
	CreateIncident(ctx context.Context, inc domain.Incident, entry domain.HistoryEntry) error
	UpdateIncident(ctx context.Context, inc domain.Incident, entry domain.HistoryEntry) error
	CloseIncident(ctx context.Context, source, externalID string, closedAt time.Time, entry domain.HistoryEntry) error
	TouchIncident(ctx context.Context, source, externalID string, seenAt time.Time) error
}

// Store is the persistence surface the sync cycle needs.
type Store interface {
	OpenIncidents(ctx context.Context, source string) (map[string]domain.Incident, error)
	WithSourceTx(ctx context.Context, fn func(tx Tx) error) error
	MarkStale(ctx context.Context, cutoff time.Time) (int, error)
	RecordSourceStatus(ctx context.Context, st domain.SourceStatus) error
	AppendSyncLog(ctx context.Context, log domain.SyncLog) error
	Ping(ctx context.Context) error
}

// Summary is the outcome of reconciling one source batch.
type Summary struct {
	Created int
	Updated int
	Closed  int
	Errors  int

	// Transitions carries the accepted lifecycle changes, in order, for
	// outbound publishing.
	Transitions []domain.HistoryEntry
}

// Reconciler converges the stored open set for one source onto a feed batch.
type Reconciler struct {
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewReconciler(store Store, logger *slog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{store: store, logger: logger, metrics: metrics}
}

// Reconcile applies one batch. Creates, version-accepted updates and closes
// are recorded in history; records whose version did not advance only touch
// liveness, so replaying the same feed is a no-op apart from timestamps.
// The whole batch commits in one transaction per source.
func (r *Reconciler) Reconcile(ctx context.Context, source string, batch datex.Batch, now time.Time) (Summary, error) {
	open, err := r.store.OpenIncidents(ctx, source)
	if err != nil {
		return Summary{}, fmt.Errorf("loading open set for %s: %w", source, err)
	}

	records := dedupe(batch.Incidents)

	var summary Summary
	err = r.store.WithSourceTx(ctx, func(tx Tx) error {
		seen := make(map[string]bool, len(records))
		for _, rec := range records {
			seen[rec.ExternalID] = true
			r.applyRecord(ctx, tx, source, rec, open, now, &summary)
		}
		for externalID, existing := range open {
			if seen[externalID] {
				continue
			}
			r.closeMissing(ctx, tx, existing, now, &summary)
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("reconciling %s: %w", source, err)
	}

	r.metrics.ReconcileCreated.WithLabelValues(source).Add(float64(summary.Created))
	r.metrics.ReconcileUpdated.WithLabelValues(source).Add(float64(summary.Updated))
	r.metrics.ReconcileClosed.WithLabelValues(source).Add(float64(summary.Closed))
	r.metrics.ReconcileErrors.WithLabelValues(source).Add(float64(summary.Errors))

	return summary, nil
}

func (r *Reconciler) applyRecord(
	ctx context.Context,
	tx Tx,
	source string,
	rec domain.ParsedIncident,
	open map[string]domain.Incident,
	now time.Time,
	summary *Summary,
) {
	existing, exists := open[rec.ExternalID]

	switch {
	case !exists:
		inc := domain.NewIncident(source, rec, now)
		entry := domain.NewHistoryEntry(inc, domain.TransitionCreated, now)
		if err := tx.CreateIncident(ctx, inc, entry); err != nil {
			summary.Errors++
			r.logger.Error("creating incident",
				"source", source, "external_id", rec.ExternalID, "error", err)
			return
		}
		summary.Created++
		summary.Transitions = append(summary.Transitions, entry)

	case rec.Version > existing.Version:
		updated := existing.ApplyUpdate(rec, now)
		entry := domain.NewHistoryEntry(updated, domain.TransitionUpdated, now)
		if err := tx.UpdateIncident(ctx, updated, entry); err != nil {
			summary.Errors++
			r.logger.Error("updating incident",
				"source", source, "external_id", rec.ExternalID, "error", err)
			return
		}
		summary.Updated++
		summary.Transitions = append(summary.Transitions, entry)

	default:
		// Same or older version: liveness only, no history.
		if err := tx.TouchIncident(ctx, source, rec.ExternalID, now); err != nil {
			summary.Errors++
			r.logger.Error("touching incident",
				"source", source, "external_id", rec.ExternalID, "error", err)
		}
	}
}

func (r *Reconciler) closeMissing(
	ctx context.Context,
	tx Tx,
	existing domain.Incident,
	now time.Time,
	summary *Summary,
) {
	closed := existing
	closed.ClosedAt = &now
	entry := domain.NewHistoryEntry(closed, domain.TransitionClosed, now)
	if err := tx.CloseIncident(ctx, existing.Source, existing.ExternalID, now, entry); err != nil {
		summary.Errors++
		r.logger.Error("closing incident",
			"source", existing.Source, "external_id", existing.ExternalID, "error", err)
		return
	}
	summary.Closed++
	summary.Transitions = append(summary.Transitions, entry)
}

// dedupe collapses repeated external ids within one batch, keeping the
// highest version. Feed order is otherwise preserved.
func dedupe(records []domain.ParsedIncident) []domain.ParsedIncident {
	index := make(map[string]int, len(records))
	out := make([]domain.ParsedIncident, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.ExternalID]; ok {
			if rec.Version > out[i].Version {
				out[i] = rec
			}
			continue
		}
		index[rec.ExternalID] = len(out)
		out = append(out, rec)
	}
	return out
}
