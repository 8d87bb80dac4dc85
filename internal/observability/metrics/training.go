package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TrainingMetrics tracks progress of the training loops, labelled by loop name.
type TrainingMetrics struct {
	EpochsTotal      *prometheus.CounterVec
	Loss             *prometheus.GaugeVec
	Accuracy         *prometheus.GaugeVec
	ValidationLoss   *prometheus.GaugeVec
	TrainingExamples *prometheus.GaugeVec
	ResultsSaved     *prometheus.CounterVec
}

// NewTrainingMetrics creates and registers training metrics.
func NewTrainingMetrics(registry *prometheus.Registry) (*TrainingMetrics, error) {
	m := &TrainingMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register training metrics: %w", err)
	}
	return m, nil
}

func (m *TrainingMetrics) initMetrics() {
	labels := []string{"loop"}
	m.EpochsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bubblenet_training_epochs_total",
		Help: "Completed training epochs.",
	}, labels)
	m.Loss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bubblenet_training_loss",
		Help: "Training loss of the most recent epoch.",
	}, labels)
	m.Accuracy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bubblenet_training_accuracy",
		Help: "Training binary accuracy of the most recent epoch.",
	}, labels)
	m.ValidationLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bubblenet_training_validation_loss",
		Help: "Validation loss of the most recent epoch.",
	}, labels)
	m.TrainingExamples = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bubblenet_training_examples",
		Help: "Number of examples in the current training set.",
	}, labels)
	m.ResultsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bubblenet_training_results_saved_total",
		Help: "Result files written by training loops.",
	}, labels)
}

// RecordEpoch records the metrics of one finished epoch.
func (m *TrainingMetrics) RecordEpoch(loop string, loss, accuracy, validationLoss float64) {
	if m == nil {
		return
	}
	m.EpochsTotal.WithLabelValues(loop).Inc()
	m.Loss.WithLabelValues(loop).Set(loss)
	m.Accuracy.WithLabelValues(loop).Set(accuracy)
	m.ValidationLoss.WithLabelValues(loop).Set(validationLoss)
}

// SetTrainingExamples sets the current training set size.
func (m *TrainingMetrics) SetTrainingExamples(loop string, n int) {
	if m == nil {
		return
	}
	m.TrainingExamples.WithLabelValues(loop).Set(float64(n))
}

// RecordResultSaved counts a written result file.
func (m *TrainingMetrics) RecordResultSaved(loop string) {
	if m == nil {
		return
	}
	m.ResultsSaved.WithLabelValues(loop).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *TrainingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.EpochsTotal.Describe(ch)
	m.Loss.Describe(ch)
	m.Accuracy.Describe(ch)
	m.ValidationLoss.Describe(ch)
	m.TrainingExamples.Describe(ch)
	m.ResultsSaved.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *TrainingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.EpochsTotal.Collect(ch)
	m.Loss.Collect(ch)
	m.Accuracy.Collect(ch)
	m.ValidationLoss.Collect(ch)
	m.TrainingExamples.Collect(ch)
	m.ResultsSaved.Collect(ch)
}
