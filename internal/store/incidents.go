package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roadwatch/incident-etl/internal/domain"
)

const incidentColumns = `
	id, source, external_id, version, incident_type, detailed_cause, severity,
	road_name, road_type, km_marker, direction,
	municipality, province, autonomous_community,
	ST_Y(geom::geometry), ST_X(geom::geometry),
	ST_Y(end_geom::geometry), ST_X(end_geom::geometry),
	activation_time, first_seen_at, last_seen_at, closed_at, is_stale`

// OpenIncidents returns every open incident for one source, keyed by
// external id. This is the reconciler's working set.
func (s *Store) OpenIncidents(ctx context.Context, source string) (map[string]domain.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE source = $1 AND closed_at IS NULL`, source)
	if err != nil {
		return nil, fmt.Errorf("querying open incidents for %s: %w", source, err)
	}
	defer rows.Close()

	out := make(map[string]domain.Incident)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		out[inc.ExternalID] = inc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading open incidents for %s: %w", source, err)
	}
	return out, nil
}

func scanIncident(row pgx.Row) (domain.Incident, error) {
	var (
		inc                      domain.Incident
		incidentType             string
		roadType                 *string
		lat, lon, endLat, endLon *float64
	)
	err := row.Scan(
		&inc.ID, &inc.Source, &inc.ExternalID, &inc.Version, &incidentType,
		&inc.DetailedCause, &inc.Severity,
		&inc.RoadName, &roadType, &inc.KmMarker, &inc.Direction,
		&inc.Municipality, &inc.Province, &inc.AutonomousCommunity,
		&lat, &lon, &endLat, &endLon,
		&inc.ActivationTime, &inc.FirstSeenAt, &inc.LastSeenAt,
		&inc.ClosedAt, &inc.IsStale,
	)
	if err != nil {
		return domain.Incident{}, err
	}
	inc.IncidentType = domain.IncidentType(incidentType)
	if roadType != nil {
		rt := domain.RoadType(*roadType)
		inc.RoadType = &rt
	}
	if lat != nil && lon != nil {
		inc.Geometry = &domain.Geometry{Lat: *lat, Lon: *lon, EndLat: endLat, EndLon: endLon}
	}
	return inc, nil
}

// Tx is one per-source reconciliation transaction. Each operation runs in
// its own savepoint, so a single bad record rolls back alone while the rest
// of the batch commits.
type Tx struct {
	tx pgx.Tx
}

// WithSourceTx runs fn inside one transaction. The transaction commits only
// if fn returns nil.
func (s *Store) WithSourceTx(ctx context.Context, fn func(tx *Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

// savepoint runs op in a nested transaction so its failure does not poison
// the outer one.
func (t *Tx) savepoint(ctx context.Context, op func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, t.tx, op)
}

// CreateIncident inserts a new incident together with its created history
// entry.
func (t *Tx) CreateIncident(ctx context.Context, inc domain.Incident, entry domain.HistoryEntry) error {
	return t.savepoint(ctx, func(tx pgx.Tx) error {
		var lat, lon, endLat, endLon *float64
		if g := inc.Geometry; g != nil {
			lat, lon = &g.Lat, &g.Lon
			endLat, endLon = g.EndLat, g.EndLon
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO incidents (
				id, source, external_id, version, incident_type, detailed_cause,
				severity, road_name, road_type, km_marker, direction,
				municipality, province, autonomous_community,
				geom, end_geom, activation_time, first_seen_at, last_seen_at,
				closed_at, is_stale
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				CASE WHEN $15::float8 IS NULL THEN NULL
				     ELSE ST_SetSRID(ST_MakePoint($16::float8, $15::float8), 4326) END,
				CASE WHEN $17::float8 IS NULL THEN NULL
				     ELSE ST_SetSRID(ST_MakePoint($18::float8, $17::float8), 4326) END,
				$19, $20, $21, NULL, FALSE
			)`,
			inc.ID, inc.Source, inc.ExternalID, inc.Version, string(inc.IncidentType),
			inc.DetailedCause, inc.Severity, inc.RoadName, roadTypeText(inc.RoadType),
			inc.KmMarker, inc.Direction,
			inc.Municipality, inc.Province, inc.AutonomousCommunity,
			lat, lon, endLat, endLon,
			inc.ActivationTime, inc.FirstSeenAt, inc.LastSeenAt,
		)
		if err != nil {
			return fmt.Errorf("inserting incident %s/%s: %w", inc.Source, inc.ExternalID, err)
		}
		return insertHistory(ctx, tx, entry)
	})
}

// UpdateIncident applies a version-accepted update to the open row and
// appends its history entry.
func (t *Tx) UpdateIncident(ctx context.Context, inc domain.Incident, entry domain.HistoryEntry) error {
	return t.savepoint(ctx, func(tx pgx.Tx) error {
		var lat, lon, endLat, endLon *float64
		if g := inc.Geometry; g != nil {
			lat, lon = &g.Lat, &g.Lon
			endLat, endLon = g.EndLat, g.EndLon
		}
		tag, err := tx.Exec(ctx, `
			UPDATE incidents SET
				version = $3, incident_type = $4, detailed_cause = $5,
				severity = $6, road_name = $7, road_type = $8, km_marker = $9,
				direction = $10, municipality = $11, province = $12,
				autonomous_community = $13,
				geom = CASE WHEN $14::float8 IS NULL THEN NULL
				       ELSE ST_SetSRID(ST_MakePoint($15::float8, $14::float8), 4326) END,
				end_geom = CASE WHEN $16::float8 IS NULL THEN NULL
				           ELSE ST_SetSRID(ST_MakePoint($17::float8, $16::float8), 4326) END,
				activation_time = $18, last_seen_at = $19
			WHERE source = $1 AND external_id = $2 AND closed_at IS NULL`,
			inc.Source, inc.ExternalID, inc.Version, string(inc.IncidentType),
			inc.DetailedCause, inc.Severity, inc.RoadName, roadTypeText(inc.RoadType),
			inc.KmMarker, inc.Direction,
			inc.Municipality, inc.Province, inc.AutonomousCommunity,
			lat, lon, endLat, endLon,
			inc.ActivationTime, inc.LastSeenAt,
		)
		if err != nil {
			return fmt.Errorf("updating incident %s/%s: %w", inc.Source, inc.ExternalID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("incident %s/%s is not open", inc.Source, inc.ExternalID)
		}
		return insertHistory(ctx, tx, entry)
	})
}

// CloseIncident closes the open row for an identity and appends the closed
// history entry.
func (t *Tx) CloseIncident(ctx context.Context, source, externalID string, closedAt time.Time, entry domain.HistoryEntry) error {
	return t.savepoint(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE incidents SET closed_at = $3
			WHERE source = $1 AND external_id = $2 AND closed_at IS NULL`,
			source, externalID, closedAt)
		if err != nil {
			return fmt.Errorf("closing incident %s/%s: %w", source, externalID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("incident %s/%s is not open", source, externalID)
		}
		return insertHistory(ctx, tx, entry)
	})
}

// TouchIncident advances liveness for an identity whose record carried no
// version increase. No history is written.
func (t *Tx) TouchIncident(ctx context.Context, source, externalID string, seenAt time.Time) error {
	return t.savepoint(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE incidents SET last_seen_at = $3
			WHERE source = $1 AND external_id = $2 AND closed_at IS NULL`,
			source, externalID, seenAt)
		if err != nil {
			return fmt.Errorf("touching incident %s/%s: %w", source, externalID, err)
		}
		return nil
	})
}

func insertHistory(ctx context.Context, tx pgx.Tx, entry domain.HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO incident_history (
			source, external_id, transition, version, snapshot, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Source, entry.ExternalID, string(entry.Transition),
		entry.Version, entry.Snapshot, entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("appending history for %s/%s: %w", entry.Source, entry.ExternalID, err)
	}
	return nil
}

// MarkStale recomputes the staleness flag for open incidents: an incident
// active since before the cutoff is stale regardless of liveness. Returns
// how many open rows are currently flagged.
func (s *Store) MarkStale(ctx context.Context, cutoff time.Time) (int, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE incidents
		SET is_stale = (COALESCE(activation_time, first_seen_at) < $1)
		WHERE closed_at IS NULL
		  AND is_stale <> (COALESCE(activation_time, first_seen_at) < $1)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("marking stale incidents: %w", err)
	}

	var total int
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM incidents
		WHERE closed_at IS NULL AND is_stale`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("counting stale incidents: %w", err)
	}
	return total, nil
}

func roadTypeText(rt *domain.RoadType) *string {
	if rt == nil {
		return nil
	}
	s := string(*rt)
	return &s
}
