// Package metrics provides custom Prometheus metrics for bubblenet.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Solve outcome labels.
const (
	StatusConverged    = "converged"
	StatusNotConverged = "not_converged"
	StatusInvalid      = "invalid_input"
)

// LocalizationMetrics contains all Prometheus metrics related to bubble localization.
type LocalizationMetrics struct {
	SolvesTotal       *prometheus.CounterVec
	SolveDuration     prometheus.Histogram
	SolveIterations   prometheus.Histogram
	ResidualNorm      prometheus.Histogram
	BatchesInProgress prometheus.Gauge
}

// NewLocalizationMetrics creates and registers localization metrics.
func NewLocalizationMetrics(registry *prometheus.Registry) (*LocalizationMetrics, error) {
	m := &LocalizationMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register localization metrics: %w", err)
	}
	return m, nil
}

func (m *LocalizationMetrics) initMetrics() {
	m.SolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bubblenet_localization_solves_total",
			Help: "Total number of position solves partitioned by outcome.",
		},
		[]string{"status"},
	)
	m.SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bubblenet_localization_solve_duration_seconds",
			Help:    "Time taken by a single position solve",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		},
	)
	m.SolveIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bubblenet_localization_solve_iterations",
			Help:    "Major optimizer iterations used per solve",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1 to 1024
		},
	)
	m.ResidualNorm = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bubblenet_localization_residual_norm",
			Help:    "Timing residual norm at the returned position",
			Buckets: prometheus.ExponentialBuckets(1e-12, 10, 13),
		},
	)
	m.BatchesInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bubblenet_localization_batches_in_progress",
			Help: "Number of batch localizations currently running",
		},
	)
}

// RecordSolve records the outcome of one solve.
func (m *LocalizationMetrics) RecordSolve(status string, iterations int, residual float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SolvesTotal.WithLabelValues(status).Inc()
	m.SolveDuration.Observe(elapsed.Seconds())
	if status == StatusInvalid {
		return
	}
	m.SolveIterations.Observe(float64(iterations))
	m.ResidualNorm.Observe(residual)
}

// BatchStarted marks a batch as running. The returned func marks it done.
func (m *LocalizationMetrics) BatchStarted() func() {
	if m == nil {
		return func() {}
	}
	m.BatchesInProgress.Inc()
	return m.BatchesInProgress.Dec
}

// Describe implements the prometheus.Collector interface.
func (m *LocalizationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.SolvesTotal.Describe(ch)
	ch <- m.SolveDuration.Desc()
	ch <- m.SolveIterations.Desc()
	ch <- m.ResidualNorm.Desc()
	ch <- m.BatchesInProgress.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *LocalizationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.SolvesTotal.Collect(ch)
	ch <- m.SolveDuration
	ch <- m.SolveIterations
	ch <- m.ResidualNorm
	ch <- m.BatchesInProgress
}
