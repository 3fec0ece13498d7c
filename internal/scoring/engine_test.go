package scoring

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/incident-etl/internal/domain"
	"github.com/roadwatch/incident-etl/internal/observability"
)

type fakeScoreStore struct {
	incidents []domain.Incident
	loadErr   error

	upserts    []domain.VulnerabilityScore
	upsertErrs map[string]error
	kept       []domain.Incident
	pruned     int
}

func (f *fakeScoreStore) QualifyingIncidents(context.Context) ([]domain.Incident, error) {
	return f.incidents, f.loadErr
}

func (f *fakeScoreStore) UpsertScore(_ context.Context, score domain.VulnerabilityScore) error {
	if err := f.upsertErrs[score.ExternalID]; err != nil {
		return err
	}
	f.upserts = append(f.upserts, score)
	return nil
}

func (f *fakeScoreStore) PruneScores(_ context.Context, keep []domain.Incident) (int, error) {
	f.kept = keep
	return f.pruned, nil
}

type fakePublisher struct {
	alerts []domain.VulnerabilityScore
	err    error
}

func (f *fakePublisher) PublishAlert(_ context.Context, score domain.VulnerabilityScore, _ domain.Incident) error {
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, score)
	return nil
}

func testIncident(externalID string, km float64, activeFor time.Duration, now time.Time) domain.Incident {
	road := "AP-2"
	activation := now.Add(-activeFor)
	return domain.NewIncident("nacional", domain.ParsedIncident{
		ExternalID:     externalID,
		Version:        1,
		IncidentType:   domain.TypeVehicleObstruction,
		RoadName:       &road,
		Geometry:       &domain.Geometry{Lat: 40.0 + km/kmPerDegreeLat, Lon: -3.0},
		ActivationTime: &activation,
	}, now)
}

func newTestEngine(t *testing.T, store ScoreStore, pub AlertPublisher, now time.Time) *Engine {
	t.Helper()
	cfg := testScoringConfig(t)
	centers := []domain.UrbanCenter{{Name: "Testville", Lat: 40.0, Lon: -3.0}}
	return NewEngine(
		store,
		NewScorer(cfg, centers),
		pub,
		clockwork.NewFakeClockAt(now),
		slog.New(slog.DiscardHandler),
		observability.NewMetricsForTesting(),
	)
}

func TestEngineRun_ScoresAndAlerts(t *testing.T) {
	now := mustMadrid(t, 2026, 3, 14, 23, 30)
	store := &fakeScoreStore{
		incidents: []domain.Incident{
			testIncident("DANGEROUS", 28, 5*time.Hour, now),
			testIncident("CALM", 0.5, 5*time.Minute, now),
		},
		pruned: 2,
	}
	pub := &fakePublisher{}

	err := newTestEngine(t, store, pub, now).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, store.upserts, 2)
	assert.Equal(t, "DANGEROUS", store.upserts[0].ExternalID)
	assert.Equal(t, domain.RiskCritical, store.upserts[0].RiskLevel)

	// Only the critical incident alerts.
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, "DANGEROUS", pub.alerts[0].ExternalID)

	// Pruning keeps exactly the set that was just scored.
	assert.Equal(t, store.incidents, store.kept)
}

func TestEngineRun_NilPublisherDisablesAlerting(t *testing.T) {
	now := mustMadrid(t, 2026, 3, 14, 23, 30)
	store := &fakeScoreStore{
		incidents: []domain.Incident{testIncident("DANGEROUS", 28, 5*time.Hour, now)},
	}

	err := newTestEngine(t, store, nil, now).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.upserts, 1)
}

func TestEngineRun_UpsertFailureDoesNotStopPass(t *testing.T) {
	now := mustMadrid(t, 2026, 3, 14, 12, 0)
	store := &fakeScoreStore{
		incidents: []domain.Incident{
			testIncident("BROKEN", 5, time.Hour, now),
			testIncident("FINE", 5, time.Hour, now),
		},
		upsertErrs: map[string]error{"BROKEN": errors.New("connection reset")},
	}

	err := newTestEngine(t, store, nil, now).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "FINE", store.upserts[0].ExternalID)

	// A failed upsert still counts as part of the working set for pruning.
	assert.Len(t, store.kept, 2)
}

func TestEngineRun_PublishFailureDoesNotStopPass(t *testing.T) {
	now := mustMadrid(t, 2026, 3, 14, 23, 30)
	store := &fakeScoreStore{
		incidents: []domain.Incident{
			testIncident("FIRST", 28, 5*time.Hour, now),
			testIncident("SECOND", 28, 5*time.Hour, now),
		},
	}
	pub := &fakePublisher{err: errors.New("broker unavailable")}

	err := newTestEngine(t, store, pub, now).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.upserts, 2)
	assert.Empty(t, pub.alerts)
}

func TestEngineRun_LoadFailure(t *testing.T) {
	now := mustMadrid(t, 2026, 3, 14, 12, 0)
	store := &fakeScoreStore{loadErr: errors.New("database down")}

	err := newTestEngine(t, store, nil, now).Run(context.Background())
	assert.Error(t, err)
}

func mustMadrid(t *testing.T, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}
