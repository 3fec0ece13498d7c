package store

import (
	"context"
	"fmt"

	"github.com/roadwatch/incident-etl/internal/domain"
)

// RecordSourceStatus upserts the per-source freshness row after each sync
// attempt. A failed attempt keeps the previous success timestamp.
func (s *Store) RecordSourceStatus(ctx context.Context, st domain.SourceStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_status (
			source, last_attempt_at, last_success_at, degraded, last_error
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source) DO UPDATE SET
			last_attempt_at = EXCLUDED.last_attempt_at,
			last_success_at = COALESCE(EXCLUDED.last_success_at, source_status.last_success_at),
			degraded = EXCLUDED.degraded,
			last_error = EXCLUDED.last_error`,
		st.Source, st.LastAttemptAt, st.LastSuccessAt, st.Degraded, st.LastError)
	if err != nil {
		return fmt.Errorf("recording status for %s: %w", st.Source, err)
	}
	return nil
}

// AppendSyncLog writes one per-source, per-cycle accounting row.
func (s *Store) AppendSyncLog(ctx context.Context, log domain.SyncLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_logs (
			source, cycle_started_at, cycle_completed_at, publication_time,
			records_in_feed, records_skipped,
			created, updated, closed, errors, success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		log.Source, log.CycleStartedAt, log.CycleCompletedAt, log.PublicationTime,
		log.RecordsInFeed, log.RecordsSkipped,
		log.Created, log.Updated, log.Closed, log.Errors,
		log.Success, log.ErrorMessage)
	if err != nil {
		return fmt.Errorf("appending sync log for %s: %w", log.Source, err)
	}
	return nil
}
