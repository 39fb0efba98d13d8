// Package metrics provides Prometheus metrics for the clinical analysis engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	AnalysesCompleted     prometheus.Counter
	AnalysesFailed        prometheus.Counter
	AnalysesSkipped       prometheus.Counter
	AnalysisDuration      prometheus.Histogram
	ResultsBySeverity     *prometheus.CounterVec
	FacilityRunsCompleted prometheus.Counter
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		AnalysesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyses_completed_total",
			Help: "Total patient analyses completed",
		}),
		AnalysesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyses_failed_total",
			Help: "Total patient analyses that failed",
		}),
		AnalysesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyses_skipped_total",
			Help: "Total patient analyses skipped (budget or context failures)",
		}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "analysis_duration_seconds",
			Help:    "Per-patient analysis duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		ResultsBySeverity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_results_total",
			Help: "Analysis results by type and severity",
		}, []string{"analysis_type", "severity"}),
		FacilityRunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facility_runs_completed_total",
			Help: "Total facility-wide analysis runs completed",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
	}

	prometheus.MustRegister(
		m.AnalysesCompleted,
		m.AnalysesFailed,
		m.AnalysesSkipped,
		m.AnalysisDuration,
		m.ResultsBySeverity,
		m.FacilityRunsCompleted,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
