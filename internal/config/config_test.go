package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.SyncInterval)
	assert.Equal(t, 55*time.Second, cfg.CycleTimeout)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 2, cfg.FetchRetries)
	assert.Equal(t, 15*time.Hour, cfg.StaleAfter)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.KafkaEnabled())

	require.Len(t, cfg.Sources, 3)
	assert.Equal(t, "nacional", cfg.Sources[0].Name)
	assert.Equal(t, SchemaDatexV36, cfg.Sources[0].Schema)
	assert.Equal(t, "pais_vasco", cfg.Sources[1].Name)
	assert.Equal(t, SchemaDatexV10, cfg.Sources[1].Schema)
	assert.Equal(t, "cataluna", cfg.Sources[2].Name)
	assert.Equal(t, SchemaDatexV10, cfg.Sources[2].Schema)

	assert.InDelta(t, 30.0, cfg.Scoring.WeightIsolation, 0.001)
	assert.InDelta(t, 75.0, cfg.Scoring.CriticalMin, 0.001)
	assert.Equal(t, "Europe/Madrid", cfg.Scoring.Timezone.String())
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/incidents")
	t.Setenv("SYNC_INTERVAL", "2m")
	t.Setenv("CYCLE_TIMEOUT", "90s")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("SCORE_WEIGHT_ISOLATION", "35")
	t.Setenv("SCORE_WEIGHT_EXPOSURE", "30")
	t.Setenv("SCORE_WEIGHT_NIGHTTIME", "20")
	t.Setenv("SCORE_WEIGHT_ROAD_TYPE", "15")
	t.Setenv("SOURCE_NACIONAL_URL", "http://localhost:9000/nacional.xml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/incidents", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Minute, cfg.SyncInterval)
	assert.Equal(t, 90*time.Second, cfg.CycleTimeout)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.InDelta(t, 35.0, cfg.Scoring.WeightIsolation, 0.001)
	assert.InDelta(t, 15.0, cfg.Scoring.WeightRoadType, 0.001)
	assert.Equal(t, "http://localhost:9000/nacional.xml", cfg.Sources[0].URL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad sync interval", key: "SYNC_INTERVAL", value: "soon"},
		{name: "cycle timeout exceeds interval", key: "CYCLE_TIMEOUT", value: "5m"},
		{name: "negative retries", key: "FETCH_RETRIES", value: "-1"},
		{name: "negative weight", key: "SCORE_WEIGHT_EXPOSURE", value: "-5"},
		{name: "bad float", key: "ISOLATION_MAX_KM", value: "far"},
		{name: "zero isolation radius", key: "ISOLATION_MAX_KM", value: "0"},
		{name: "unknown timezone", key: "SCORE_TIMEZONE", value: "Mars/Olympus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_TierOrdering(t *testing.T) {
	t.Setenv("RISK_HIGH_MIN", "80")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly decreasing")
}

func TestLoad_AllZeroWeights(t *testing.T) {
	t.Setenv("SCORE_WEIGHT_ISOLATION", "0")
	t.Setenv("SCORE_WEIGHT_EXPOSURE", "0")
	t.Setenv("SCORE_WEIGHT_NIGHTTIME", "0")
	t.Setenv("SCORE_WEIGHT_ROAD_TYPE", "0")

	_, err := Load()
	assert.Error(t, err)
}
