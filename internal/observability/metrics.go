// Package observability bundles the application's metric collectors.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bubblelab/bubblenet/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	Localization *metrics.LocalizationMetrics
	Training     *metrics.TrainingMetrics
	Datastore    *metrics.DatastoreMetrics
}

// NewMetrics creates a registry and every collector on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	localizationMetrics, err := metrics.NewLocalizationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create localization metrics: %w", err)
	}

	trainingMetrics, err := metrics.NewTrainingMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create training metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	return &Metrics{
		registry:     registry,
		Localization: localizationMetrics,
		Training:     trainingMetrics,
		Datastore:    datastoreMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format, suitable
// for the node_exporter textfile collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
