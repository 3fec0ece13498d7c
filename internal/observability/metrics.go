package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "incident_etl"

// Metrics holds every Prometheus collector the service exports.
type Metrics struct {
	Registry *prometheus.Registry

	FetchAttempts *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	RecordsParsed  *prometheus.CounterVec
	RecordsSkipped *prometheus.CounterVec

	ReconcileCreated *prometheus.CounterVec
	ReconcileUpdated *prometheus.CounterVec
	ReconcileClosed  *prometheus.CounterVec
	ReconcileErrors  *prometheus.CounterVec

	ScoresComputed  prometheus.Counter
	ScoreErrors     prometheus.Counter
	AlertsPublished prometheus.Counter
	PublishErrors   prometheus.Counter

	CyclesCompleted prometheus.Counter
	CyclesSkipped   prometheus.Counter
	CycleDuration   prometheus.Histogram
	CycleRunning    prometheus.Gauge
	SourceUp        *prometheus.GaugeVec
	StaleIncidents  prometheus.Gauge
}

// NewMetrics builds the production metric set, including the standard Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := newMetrics()
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// NewMetricsForTesting builds a metric set on a fresh registry without the
// runtime collectors, so tests never collide on registration.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Feed fetch attempts by source.",
		}, []string{"source"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Feed fetches that failed after retries, by source.",
		}, []string{"source"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Feed fetch latency by source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		RecordsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_parsed_total",
			Help:      "Situation records successfully normalized, by source.",
		}, []string{"source"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Malformed situation records dropped during parsing, by source.",
		}, []string{"source"}),

		ReconcileCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Incidents created during reconciliation, by source.",
		}, []string{"source"}),
		ReconcileUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_updated_total",
			Help:      "Incidents updated during reconciliation, by source.",
		}, []string{"source"}),
		ReconcileClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_closed_total",
			Help:      "Incidents closed during reconciliation, by source.",
		}, []string{"source"}),
		ReconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Records that failed to persist during reconciliation, by source.",
		}, []string{"source"}),

		ScoresComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_computed_total",
			Help:      "Vulnerability scores computed.",
		}),
		ScoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_errors_total",
			Help:      "Vulnerability score computations or writes that failed.",
		}),
		AlertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_published_total",
			Help:      "High and critical vulnerability alerts published.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Outbound event publishes that failed.",
		}),

		CyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_completed_total",
			Help:      "Sync cycles that ran to completion.",
		}),
		CyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Sync ticks skipped because the previous cycle was still running.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "End to end sync cycle duration.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60},
		}),
		CycleRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_running",
			Help:      "1 while a sync cycle is in progress.",
		}),
		SourceUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_up",
			Help:      "1 if the last sync attempt for the source succeeded.",
		}, []string{"source"}),
		StaleIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_incidents",
			Help:      "Open incidents currently flagged stale.",
		}),
	}

	reg.MustRegister(
		m.FetchAttempts, m.FetchErrors, m.FetchDuration,
		m.RecordsParsed, m.RecordsSkipped,
		m.ReconcileCreated, m.ReconcileUpdated, m.ReconcileClosed, m.ReconcileErrors,
		m.ScoresComputed, m.ScoreErrors, m.AlertsPublished, m.PublishErrors,
		m.CyclesCompleted, m.CyclesSkipped, m.CycleDuration, m.CycleRunning,
		m.SourceUp, m.StaleIncidents,
	)

	return m
}
