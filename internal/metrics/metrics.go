package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/kenneth/chunkvault/internal/storage"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

// Outcomes recorded for sessions.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all application metrics.
type Metrics struct {
	registry *prometheus.Registry

	chunkOperations   *prometheus.CounterVec
	chunkDuration     *prometheus.HistogramVec
	chunkBytes        *prometheus.CounterVec
	chunkErrors       *prometheus.CounterVec
	storageOperations *prometheus.CounterVec
	storageDuration   *prometheus.HistogramVec
	storageErrors     *prometheus.CounterVec
	sessions          *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec
	goroutines        prometheus.Gauge
	memoryAllocBytes  prometheus.Gauge
	memorySysBytes    prometheus.Gauge
}

// NewMetrics creates a metrics instance on a private registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates a metrics instance registered on reg.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		chunkOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkvault_chunk_operations_total",
				Help: "Total number of chunk encrypt/decrypt operations",
			},
			[]string{"operation"}, // "encrypt" or "decrypt"
		),
		chunkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chunkvault_chunk_duration_seconds",
				Help:    "Chunk encrypt/decrypt duration in seconds, including storage",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"operation"},
		),
		chunkBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkvault_chunk_bytes_total",
				Help: "Total plaintext bytes encrypted/decrypted",
			},
			[]string{"operation"},
		),
		chunkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkvault_chunk_errors_total",
				Help: "Total number of chunk encrypt/decrypt errors",
			},
			[]string{"operation", "error_type"},
		),
		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkvault_storage_operations_total",
				Help: "Total number of storage backend operations",
			},
			[]string{"operation", "backend"},
		),
		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chunkvault_storage_operation_duration_seconds",
				Help:    "Storage backend operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		storageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkvault_storage_operation_errors_total",
				Help: "Total number of storage backend operation errors",
			},
			[]string{"operation", "backend", "error_type"},
		),
		sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunkvault_sessions_total",
				Help: "Total number of encrypt/decrypt/cleanup sessions",
			},
			[]string{"operation", "outcome"},
		),
		sessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chunkvault_session_duration_seconds",
				Help:    "Session duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"operation"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chunkvault_goroutines",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chunkvault_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chunkvault_memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordChunkOperation records one processed chunk.
func (m *Metrics) RecordChunkOperation(operation string, duration time.Duration, bytes int) {
	m.chunkOperations.WithLabelValues(operation).Inc()
	m.chunkDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.chunkBytes.WithLabelValues(operation).Add(float64(bytes))
}

// RecordChunkError records a failed chunk, labelled with its error kind.
func (m *Metrics) RecordChunkError(operation string, err error) {
	m.chunkErrors.WithLabelValues(operation, errorType(err)).Inc()
}

// RecordStorageOperation records a backend call. It satisfies
// storage.Recorder.
func (m *Metrics) RecordStorageOperation(operation, backend string, duration time.Duration, err error) {
	m.storageOperations.WithLabelValues(operation, backend).Inc()
	m.storageDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
	if err != nil {
		m.storageErrors.WithLabelValues(operation, backend, storageErrorType(err)).Inc()
	}
}

// RecordSession records a finished session.
func (m *Metrics) RecordSession(operation string, duration time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.sessions.WithLabelValues(operation, outcome).Inc()
	m.sessionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// WriteTextfile atomically writes the registry to path in the text
// exposition format read by the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	m.UpdateSystemMetrics()
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// WriteText renders the registry in the text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func errorType(err error) string {
	if kind := vaulterr.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Canceled"
	}
	return "Unknown"
}

func storageErrorType(err error) string {
	if errors.Is(err, storage.ErrNotFound) {
		return "NotFound"
	}
	return errorType(err)
}
