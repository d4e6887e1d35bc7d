package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the analyzer.
type Metrics struct {
	Registry *prometheus.Registry

	JobsTotal        *prometheus.CounterVec
	PhaseDuration    *prometheus.HistogramVec
	JobDuration      *prometheus.HistogramVec
	OracleCalls      *prometheus.CounterVec
	OracleFallbacks  prometheus.Counter
	ActiveSandboxes  prometheus.Gauge
	ActiveJobs       prometheus.Gauge
	AlertsTotal      *prometheus.CounterVec
	RiskScore        *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Name:      "jobs_total",
				Help:      "Total number of analysis jobs by category and terminal status.",
			},
			[]string{"category", "status"},
		),

		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Name:      "phase_duration_seconds",
				Help:      "Duration of individual pipeline phases in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"phase"},
		),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Name:      "job_duration_seconds",
				Help:      "End-to-end analysis duration in seconds.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"category"},
		),

		OracleCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Name:      "oracle_calls_total",
				Help:      "Total threat oracle consultations by outcome.",
			},
			[]string{"outcome"},
		),

		OracleFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Name:      "oracle_fallbacks_total",
				Help:      "Total verdicts synthesized locally because the oracle gave no usable answer.",
			},
		),

		ActiveSandboxes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentinel",
				Name:      "active_sandboxes",
				Help:      "Number of currently provisioned analysis sandboxes.",
			},
		),

		ActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentinel",
				Name:      "active_jobs",
				Help:      "Number of jobs currently in a non-terminal state.",
			},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sentinel",
				Name:      "alerts_total",
				Help:      "Total alerts raised by severity.",
			},
			[]string{"severity"},
		),

		RiskScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sentinel",
				Name:      "risk_score",
				Help:      "Final risk scores of completed jobs.",
				Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"category"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sentinel",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
	}

	reg.MustRegister(
		m.JobsTotal,
		m.PhaseDuration,
		m.JobDuration,
		m.OracleCalls,
		m.OracleFallbacks,
		m.ActiveSandboxes,
		m.ActiveJobs,
		m.AlertsTotal,
		m.RiskScore,
		m.RequestsInFlight,
	)

	return m
}

// RecordJob records a finished job's terminal status and duration.
func (m *Metrics) RecordJob(category, status string, durationSec float64) {
	m.JobsTotal.WithLabelValues(category, status).Inc()
	m.JobDuration.WithLabelValues(category).Observe(durationSec)
}

// RecordOracleCall records one oracle consultation by outcome.
func (m *Metrics) RecordOracleCall(outcome string) {
	m.OracleCalls.WithLabelValues(outcome).Inc()
	if outcome != "verdict" {
		m.OracleFallbacks.Inc()
	}
}

// RecordAlert records one raised alert.
func (m *Metrics) RecordAlert(severity string) {
	m.AlertsTotal.WithLabelValues(severity).Inc()
}
