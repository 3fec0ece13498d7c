package domain

import (
	"time"

	"github.com/google/uuid"
)

// IncidentType is the canonical classification shared by all sources.
// Source-specific cause vocabularies are mapped into it by the adapters;
// codes with no mapping become TypeUnknown, never an error.
type IncidentType string

const (
	TypeVehicleObstruction IncidentType = "vehicle_obstruction"
	TypeAccident           IncidentType = "accident"
	TypeRoadworks          IncidentType = "roadworks"
	TypeWeather            IncidentType = "weather"
	TypeCongestion         IncidentType = "congestion"
	TypeObstruction        IncidentType = "obstruction"
	TypeRestriction        IncidentType = "restriction"
	TypeUnknown            IncidentType = "unknown"
)

// DetailedCauseVehicleStuck is the DATEX II subcause emitted when a V16
// roadside beacon is activated by a stopped vehicle.
const DetailedCauseVehicleStuck = "vehicleStuck"

// Transition labels one accepted lifecycle change, recorded in history.
type Transition string

const (
	TransitionCreated Transition = "created"
	TransitionUpdated Transition = "updated"
	TransitionClosed  Transition = "closed"
)

// Geometry is a WGS-84 point, optionally extended to a line segment when the
// source reports both endpoints.
type Geometry struct {
	Lat    float64  `json:"lat"`
	Lon    float64  `json:"lon"`
	EndLat *float64 `json:"end_lat,omitempty"`
	EndLon *float64 `json:"end_lon,omitempty"`
}

// ParsedIncident is one record translated out of a source document, before
// reconciliation assigns identity and lifecycle timestamps.
type ParsedIncident struct {
	ExternalID          string
	Version             int
	IncidentType        IncidentType
	DetailedCause       *string
	Severity            *string
	Geometry            *Geometry
	RoadName            *string
	KmMarker            *string
	Direction           *string
	Municipality        *string
	Province            *string
	AutonomousCommunity *string
	ActivationTime      *time.Time
}

// Incident is the canonical persistent record of one roadside situation.
// Identity is (Source, ExternalID); at most one open row exists per identity.
type Incident struct {
	ID                  uuid.UUID    `json:"id"`
	Source              string       `json:"source"`
	ExternalID          string       `json:"external_id"`
	Version             int          `json:"version"`
	IncidentType        IncidentType `json:"incident_type"`
	DetailedCause       *string      `json:"detailed_cause,omitempty"`
	Severity            *string      `json:"severity,omitempty"`
	Geometry            *Geometry    `json:"geometry,omitempty"`
	RoadName            *string      `json:"road_name,omitempty"`
	RoadType            *RoadType    `json:"road_type,omitempty"`
	KmMarker            *string      `json:"km_marker,omitempty"`
	Direction           *string      `json:"direction,omitempty"`
	Municipality        *string      `json:"municipality,omitempty"`
	Province            *string      `json:"province,omitempty"`
	AutonomousCommunity *string      `json:"autonomous_community,omitempty"`
	ActivationTime      *time.Time   `json:"activation_time,omitempty"`
	FirstSeenAt         time.Time    `json:"first_seen_at"`
	LastSeenAt          time.Time    `json:"last_seen_at"`
	ClosedAt            *time.Time   `json:"closed_at,omitempty"`
	IsStale             bool         `json:"is_stale"`
}

// NewIncident builds a fresh incident from a parsed record first seen at now.
func NewIncident(source string, p ParsedIncident, now time.Time) Incident {
	inc := Incident{
		ID:           uuid.New(),
		Source:       source,
		ExternalID:   p.ExternalID,
		Version:      p.Version,
		IncidentType: p.IncidentType,
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}
	inc.applyFields(p)
	return inc
}

// ApplyUpdate returns a copy with the parsed record's fields and version
// applied and LastSeenAt advanced. Identity and FirstSeenAt are preserved.
func (i Incident) ApplyUpdate(p ParsedIncident, now time.Time) Incident {
	i.Version = p.Version
	i.IncidentType = p.IncidentType
	i.applyFields(p)
	i.LastSeenAt = now
	return i
}

func (i *Incident) applyFields(p ParsedIncident) {
	i.DetailedCause = p.DetailedCause
	i.Severity = p.Severity
	i.Geometry = p.Geometry
	i.RoadName = p.RoadName
	i.RoadType = ClassifyRoadType(p.RoadName)
	i.KmMarker = p.KmMarker
	i.Direction = p.Direction
	i.Municipality = p.Municipality
	i.Province = p.Province
	i.AutonomousCommunity = p.AutonomousCommunity
	i.ActivationTime = p.ActivationTime
}

// ActiveSince is the reference instant for duration math: the
// authority-reported activation time when present, else first observation.
func (i Incident) ActiveSince() time.Time {
	if i.ActivationTime != nil {
		return *i.ActivationTime
	}
	return i.FirstSeenAt
}

// MinutesActive reports how long the incident has been active as of now.
// Derived on demand, never stored.
func (i Incident) MinutesActive(now time.Time) int {
	d := now.Sub(i.ActiveSince())
	if d < 0 {
		return 0
	}
	return int(d.Minutes())
}

// Qualifies reports whether the incident is a stopped/obstructing vehicle,
// the only type the vulnerability scorer considers.
func (i Incident) Qualifies() bool {
	if i.IncidentType == TypeVehicleObstruction {
		return true
	}
	return i.DetailedCause != nil && *i.DetailedCause == DetailedCauseVehicleStuck
}

// HistoryEntry is one append-only lifecycle log row. Entries are never
// mutated or deleted; Snapshot carries the full incident as accepted.
type HistoryEntry struct {
	ID         int64      `json:"id,omitempty"`
	Source     string     `json:"source"`
	ExternalID string     `json:"external_id"`
	Transition Transition `json:"transition"`
	Version    int        `json:"version"`
	Snapshot   Incident   `json:"snapshot"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// NewHistoryEntry snapshots an incident at an accepted transition.
func NewHistoryEntry(inc Incident, tr Transition, now time.Time) HistoryEntry {
	return HistoryEntry{
		Source:     inc.Source,
		ExternalID: inc.ExternalID,
		Transition: tr,
		Version:    inc.Version,
		Snapshot:   inc,
		RecordedAt: now,
	}
}

// UrbanCenter is one entry of the static populated-places reference set used
// for isolation scoring. Loaded once at startup, read-only afterwards.
type UrbanCenter struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// RiskLevel buckets a total vulnerability score. Tier boundaries are
// configuration, not constants.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// VulnerabilityScore is the derived, recomputable risk assessment for one
// qualifying incident. Keyed by incident identity; only the latest value is
// kept, no history.
type VulnerabilityScore struct {
	Source         string    `json:"source"`
	ExternalID     string    `json:"external_id"`
	IsolationScore float64   `json:"isolation_score"`
	ExposureScore  float64   `json:"exposure_score"`
	NighttimeScore float64   `json:"nighttime_score"`
	RoadTypeScore  float64   `json:"road_type_score"`
	TotalScore     float64   `json:"total_score"`
	RiskLevel      RiskLevel `json:"risk_level"`
	RiskFactors    []string  `json:"risk_factors"`
	MinutesActive  int       `json:"minutes_active"`
	NearestCenter  *string   `json:"nearest_center,omitempty"`
	DistanceKm     *float64  `json:"distance_km,omitempty"`
	ComputedAt     time.Time `json:"computed_at"`
}

// SourceStatus is the per-source freshness indicator the serving layer reads
// to detect degraded feeds.
type SourceStatus struct {
	Source        string     `json:"source"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	Degraded      bool       `json:"degraded"`
	LastError     *string    `json:"last_error,omitempty"`
}

// SyncLog is one append-only per-source, per-cycle accounting row.
type SyncLog struct {
	Source           string     `json:"source"`
	CycleStartedAt   time.Time  `json:"cycle_started_at"`
	CycleCompletedAt *time.Time `json:"cycle_completed_at,omitempty"`
	PublicationTime  *time.Time `json:"publication_time,omitempty"`
	RecordsInFeed    int        `json:"records_in_feed"`
	RecordsSkipped   int        `json:"records_skipped"`
	Created          int        `json:"created"`
	Updated          int        `json:"updated"`
	Closed           int        `json:"closed"`
	Errors           int        `json:"errors"`
	Success          bool       `json:"success"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
}
