package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for pipeline runs.
type Metrics struct {
	Runs                *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	BatchDuration       prometheus.Histogram
	Verifications       *prometheus.CounterVec
	Failures            *prometheus.CounterVec
	IngestedActions     prometheus.Counter
	RescoredPoliticians prometheus.Counter
	Watermark           prometheus.Gauge
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "politikcred_pipeline_runs_total",
			Help: "Pipeline runs by final status",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "politikcred_pipeline_run_duration_seconds",
			Help:    "Duration of a full pipeline run",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "politikcred_pipeline_batch_duration_seconds",
			Help:    "Duration of one politician batch",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "politikcred_pipeline_verifications_total",
			Help: "Verifications written by the pipeline",
		}, []string{"outcome"}), // outcome: "created", "updated"
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "politikcred_pipeline_failures_total",
			Help: "Recorded run failures by kind",
		}, []string{"kind"}),
		IngestedActions: f.NewCounter(prometheus.CounterOpts{
			Name: "politikcred_pipeline_ingested_actions_total",
			Help: "Actions persisted by ingestion",
		}),
		RescoredPoliticians: f.NewCounter(prometheus.CounterOpts{
			Name: "politikcred_pipeline_rescored_politicians_total",
			Help: "Politician score recomputations",
		}),
		Watermark: f.NewGauge(prometheus.GaugeOpts{
			Name: "politikcred_pipeline_watermark_timestamp_seconds",
			Help: "Ingest watermark stored by the last completed run",
		}),
	}
}

func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m != nil {
		m.Runs.WithLabelValues(status).Inc()
		m.RunDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m != nil {
		m.BatchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) AddVerifications(created, updated int) {
	if m != nil {
		m.Verifications.WithLabelValues("created").Add(float64(created))
		m.Verifications.WithLabelValues("updated").Add(float64(updated))
	}
}

func (m *Metrics) IncrementFailure(kind string) {
	if m != nil {
		m.Failures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) AddIngested(n int) {
	if m != nil {
		m.IngestedActions.Add(float64(n))
	}
}

func (m *Metrics) IncrementRescored() {
	if m != nil {
		m.RescoredPoliticians.Inc()
	}
}

func (m *Metrics) SetWatermark(t time.Time) {
	if m != nil && !t.IsZero() {
		m.Watermark.Set(float64(t.Unix()))
	}
}
