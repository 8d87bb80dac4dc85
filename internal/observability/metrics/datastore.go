package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Datastore operation labels.
const (
	OpSaveSchema  = "save_schema"
	OpSaveRecords = "save_records"
	OpLoadSchema  = "load_schema"
	OpLoadRecords = "load_records"
)

// DatastoreMetrics contains Prometheus metrics for the event store.
type DatastoreMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RecordsWritten    prometheus.Counter
}

// NewDatastoreMetrics creates and registers event store metrics.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bubblenet_datastore_operations_total",
			Help: "Event store operations partitioned by operation and status.",
		}, []string{"operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bubblenet_datastore_operation_duration_seconds",
			Help:    "Duration of event store operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bubblenet_datastore_records_written_total",
			Help: "Event records written to the store.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

// RecordOperation records one store operation.
func (m *DatastoreMetrics) RecordOperation(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// AddRecordsWritten counts written records.
func (m *DatastoreMetrics) AddRecordsWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsWritten.Add(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	ch <- m.RecordsWritten.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	ch <- m.RecordsWritten
}
