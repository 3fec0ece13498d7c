package store

import (
	"context"
	"fmt"

	"github.com/roadwatch/incident-etl/internal/domain"
)

// QualifyingIncidents returns the open, non-stale incidents the scorer
// considers: stopped or obstructing vehicles. Lifecycle filtering happens
// in SQL; the qualifying predicate itself is domain.Incident.Qualifies so
// it cannot drift between Go and SQL.
func (s *Store) QualifyingIncidents(ctx context.Context) ([]domain.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE closed_at IS NULL AND NOT is_stale
		 ORDER BY source, external_id`)
	if err != nil {
		return nil, fmt.Errorf("querying qualifying incidents: %w", err)
	}
	defer rows.Close()

	var out []domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		if !inc.Qualifies() {
			continue
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading qualifying incidents: %w", err)
	}
	return out, nil
}

// UpsertScore writes the latest vulnerability score for one incident,
// replacing any previous value. Scores carry no history.
func (s *Store) UpsertScore(ctx context.Context, score domain.VulnerabilityScore) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vulnerability_scores (
			source, external_id, isolation_score, exposure_score,
			nighttime_score, road_type_score, total_score, risk_level,
			risk_factors, minutes_active, nearest_center, distance_km,
			computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source, external_id) DO UPDATE SET
			isolation_score = EXCLUDED.isolation_score,
			exposure_score = EXCLUDED.exposure_score,
			nighttime_score = EXCLUDED.nighttime_score,
			road_type_score = EXCLUDED.road_type_score,
			total_score = EXCLUDED.total_score,
			risk_level = EXCLUDED.risk_level,
			risk_factors = EXCLUDED.risk_factors,
			minutes_active = EXCLUDED.minutes_active,
			nearest_center = EXCLUDED.nearest_center,
			distance_km = EXCLUDED.distance_km,
			computed_at = EXCLUDED.computed_at`,
		score.Source, score.ExternalID, score.IsolationScore, score.ExposureScore,
		score.NighttimeScore, score.RoadTypeScore, score.TotalScore,
		string(score.RiskLevel), score.RiskFactors, score.MinutesActive,
		score.NearestCenter, score.DistanceKm, score.ComputedAt)
	if err != nil {
		return fmt.Errorf("upserting score for %s/%s: %w", score.Source, score.ExternalID, err)
	}
	return nil
}

// PruneScores removes scores for incidents outside the current qualifying
// set, so the scores table mirrors the working set the engine just scored.
// An empty keep set clears the table.
func (s *Store) PruneScores(ctx context.Context, keep []domain.Incident) (int, error) {
	sources := make([]string, len(keep))
	ids := make([]string, len(keep))
	for i, inc := range keep {
		sources[i] = inc.Source
		ids[i] = inc.ExternalID
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM vulnerability_scores vs
		WHERE NOT EXISTS (
			SELECT 1 FROM unnest($1::text[], $2::text[]) AS keep(source, external_id)
			WHERE keep.source = vs.source AND keep.external_id = vs.external_id
		)`,
		sources, ids)
	if err != nil {
		return 0, fmt.Errorf("pruning vulnerability scores: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
