/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsProvider is what the server and handlers record into
type MetricsProvider interface {
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
	IncHTTPRequestsInFlight()
	DecHTTPRequestsInFlight()
	RecordImport(outcome, format string, sizeBytes int64, duration time.Duration)
	RecordConflictRetry(scope string)
	RecordRead(operation, outcome string, duration time.Duration)
	RecordError(component, errorCode string)
	Handler() http.Handler
}

// Metrics holds all Prometheus metrics on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Import metrics
	ImportsTotal          *prometheus.CounterVec
	ImportDuration        *prometheus.HistogramVec
	ImportSizeBytes       *prometheus.HistogramVec
	ImportConflictRetries *prometheus.CounterVec

	// Read metrics
	ReadsTotal   *prometheus.CounterVec
	ReadDuration *prometheus.HistogramVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics, including the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schemavault_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schemavault_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "schemavault_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		ImportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schemavault_imports_total",
				Help: "Total number of schema imports by outcome",
			},
			[]string{"outcome", "format"},
		),
		ImportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schemavault_import_duration_seconds",
				Help:    "Schema import duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"outcome", "format"},
		),
		ImportSizeBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schemavault_import_size_bytes",
				Help:    "Imported document size in bytes",
				Buckets: []float64{1024, 10240, 102400, 1048576, 10485760, 33554432}, // 1KB to 32MB
			},
			[]string{"format"},
		),
		ImportConflictRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schemavault_import_conflict_retries_total",
				Help: "Total number of imports retried after losing a version race",
			},
			[]string{"scope"},
		),

		ReadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schemavault_reads_total",
				Help: "Total number of schema reads by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ReadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schemavault_read_duration_seconds",
				Help:    "Schema read duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schemavault_errors_total",
				Help: "Total number of errors",
			},
			[]string{"component", "error_code"},
		),
	}
}

// NewMetricsProvider returns the default metrics provider
func NewMetricsProvider() MetricsProvider {
	return NewMetrics()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// IncHTTPRequestsInFlight increments in-flight HTTP requests
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements in-flight HTTP requests
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordImport records one finished import. outcome is "created",
// "replaced", "deduplicated" or an error code.
func (m *Metrics) RecordImport(outcome, format string, sizeBytes int64, duration time.Duration) {
	m.ImportsTotal.WithLabelValues(outcome, format).Inc()
	m.ImportDuration.WithLabelValues(outcome, format).Observe(duration.Seconds())

	if sizeBytes > 0 {
		m.ImportSizeBytes.WithLabelValues(format).Observe(float64(sizeBytes))
	}
}

// RecordConflictRetry counts a retry after a VersionConflict
func (m *Metrics) RecordConflictRetry(scope string) {
	m.ImportConflictRetries.WithLabelValues(scope).Inc()
}

// RecordRead records a read operation
func (m *Metrics) RecordRead(operation, outcome string, duration time.Duration) {
	m.ReadsTotal.WithLabelValues(operation, outcome).Inc()
	m.ReadDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorCode string) {
	m.ErrorsTotal.WithLabelValues(component, errorCode).Inc()
}

// Timer provides a convenient way to time operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveHistogram observes the elapsed time in a histogram
func (t *Timer) ObserveHistogram(histogram prometheus.Observer) {
	histogram.Observe(t.Duration().Seconds())
}
