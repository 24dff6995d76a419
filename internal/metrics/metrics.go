// Package metrics exposes Prometheus instrumentation for training, scoring
// and artifact handling. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the segmentation pipeline.
type Metrics struct {
	// Training
	TrainDuration prometheus.Histogram
	TrainRuns     *prometheus.CounterVec
	TrainInertia  prometheus.Gauge

	// Scoring
	ScoreDuration   prometheus.Histogram
	ScoreRequests   *prometheus.CounterVec
	CustomersScored *prometheus.CounterVec
	IngestRows      *prometheus.CounterVec

	// Artifacts
	ArtifactLoads   *prometheus.CounterVec
	ArtifactCurrent *prometheus.GaugeVec
}

// New registers all pipeline metrics on reg. A nil reg means the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		TrainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "segment_train_duration_seconds",
			Help:    "Duration of model training including all k-means restarts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		TrainRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_train_runs_total",
			Help: "Training runs by outcome",
		}, []string{"outcome"}), // outcome: "ok", "error"

		TrainInertia: f.NewGauge(prometheus.GaugeOpts{
			Name: "segment_train_inertia",
			Help: "Inertia of the most recently trained model in standardized space",
		}),

		ScoreDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "segment_score_duration_seconds",
			Help:    "Duration of one batch scoring call",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		ScoreRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_score_requests_total",
			Help: "Batch scoring calls by outcome",
		}, []string{"outcome"}), // outcome: "ok", "empty", "schema_mismatch", "error"

		CustomersScored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_customers_scored_total",
			Help: "Customers assigned to each segment",
		}, []string{"segment"}),

		IngestRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_ingest_rows_total",
			Help: "Transaction rows read by result",
		}, []string{"result"}), // result: "kept", "filtered", "skipped"

		ArtifactLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_artifact_loads_total",
			Help: "Artifact loads by outcome",
		}, []string{"outcome"}), // outcome: "ok", "not_found", "corrupt", "error"

		ArtifactCurrent: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "segment_artifact_current_info",
			Help: "Set to 1 for the artifact version currently served",
		}, []string{"version"}),
	}
}

// ObserveTrain records a finished training run.
func (m *Metrics) ObserveTrain(d time.Duration, inertia float64, err error) {
	if m == nil {
		return
	}
	m.TrainDuration.Observe(d.Seconds())
	if err != nil {
		m.TrainRuns.WithLabelValues("error").Inc()
		return
	}
	m.TrainRuns.WithLabelValues("ok").Inc()
	m.TrainInertia.Set(inertia)
}

// ObserveScore records one scoring call.
func (m *Metrics) ObserveScore(d time.Duration, outcome string) {
	if m != nil {
		m.ScoreDuration.Observe(d.Seconds())
		m.ScoreRequests.WithLabelValues(outcome).Inc()
	}
}

// AddScored counts customers assigned to segment.
func (m *Metrics) AddScored(segment string, n int) {
	if m != nil && n > 0 {
		m.CustomersScored.WithLabelValues(segment).Add(float64(n))
	}
}

// AddIngestRows counts ingested rows by result.
func (m *Metrics) AddIngestRows(result string, n int) {
	if m != nil && n > 0 {
		m.IngestRows.WithLabelValues(result).Add(float64(n))
	}
}

// IncArtifactLoad records an artifact load.
func (m *Metrics) IncArtifactLoad(outcome string) {
	if m != nil {
		m.ArtifactLoads.WithLabelValues(outcome).Inc()
	}
}

// SetCurrentArtifact marks version as served and clears any previous one.
func (m *Metrics) SetCurrentArtifact(version string) {
	if m != nil {
		m.ArtifactCurrent.Reset()
		m.ArtifactCurrent.WithLabelValues(version).Set(1)
	}
}
