// Package metrics provides Prometheus metrics for the wellness ingestion service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// defaultLatencyBuckets are in milliseconds.
var defaultLatencyBuckets = []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000} //nolint:gochecknoglobals // read-only defaults

// Manager manages all Prometheus metrics for the wellness service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	constLabels    map[string]string
	metricPrefix   string
	registry       prometheus.Registerer

	// Webhook intake
	signatureOutcomes   *prometheus.CounterVec
	signatureEnabled    prometheus.Gauge
	rawEventsStored     prometheus.Counter
	rawEventsFailed     prometheus.Counter
	webhookRateLimited  prometheus.Counter
	wrappersProcessed   *prometheus.CounterVec
	wrappersSkipped     *prometheus.CounterVec
	observationsFound   *prometheus.CounterVec
	observationsWritten *prometheus.CounterVec
	unresolvedAccounts  prometheus.Counter
	resolverLookups     *prometheus.CounterVec

	// Store
	storeLatency *prometheus.HistogramVec

	// Backfill
	backfillEventsProcessed prometheus.Counter
	backfillEventErrors     prometheus.Counter
	backfillProgress        prometheus.Gauge
	backfillRunning         prometheus.Gauge

	// Calculators
	assessmentsComputed *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Enhanced Error Metrics - Detailed error tracking
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "wellness",
		subsystem:      "ingest",
		latencyBuckets: defaultLatencyBuckets,
		registry:       prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(base string) string {
	if m.metricPrefix == "" {
		return base
	}
	return m.metricPrefix + "_" + base
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.constLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	histogramVec := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: constLabels,
		}, labels)
	}

	m.signatureOutcomes = counterVec("webhook_signature_total",
		"Webhook signature verification outcomes (valid, invalid, missing, skipped)", "outcome")
	m.signatureEnabled = gauge("webhook_signature_enabled",
		"1 when a consumer secret is configured and signatures are enforced")
	m.rawEventsStored = counter("raw_events_stored_total", "Raw webhook payloads persisted")
	m.rawEventsFailed = counter("raw_events_failed_total", "Raw webhook payloads that could not be persisted")
	m.webhookRateLimited = counter("webhook_rate_limited_total", "Webhook deliveries rejected by the rate limiter")
	m.wrappersProcessed = counterVec("event_wrappers_total", "Event wrappers extracted from payloads", "category")
	m.wrappersSkipped = counterVec("event_wrappers_skipped_total", "Event wrappers skipped during normalization", "reason")
	m.observationsFound = counterVec("observations_extracted_total", "Metric observations produced by the normalizer", "source")
	m.observationsWritten = counterVec("observations_written_total", "Metric observation writes by outcome", "source", "result")
	m.unresolvedAccounts = counter("unresolved_accounts_total", "External accounts without a linked connection")
	m.resolverLookups = counterVec("resolver_lookups_total", "Connection resolver lookups by result", "result")

	m.storeLatency = histogramVec("store_latency_milliseconds", "Store operation latency in milliseconds",
		m.latencyBuckets, "operation")

	m.backfillEventsProcessed = counter("backfill_events_processed_total", "Raw events replayed by the backfill driver")
	m.backfillEventErrors = counter("backfill_event_errors_total", "Raw events that failed during backfill")
	m.backfillProgress = gauge("backfill_progress_ratio", "Fraction of matching raw events replayed in the current run")
	m.backfillRunning = gauge("backfill_running", "1 while a backfill run is in progress")

	m.assessmentsComputed = counterVec("assessments_total", "Derived assessments computed by kind and status", "kind", "status")

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.latencyBuckets, "endpoint", "method", "status_code")

	m.errorRateByComponent = counterVec("errors_by_component_total", "Total errors by component", "component", "error_type")
	m.errorRateByType = counterVec("errors_by_type_total", "Total errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "Total errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors",
		m.latencyBuckets, "component", "error_type")

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("system_gc_pause_time_milliseconds"),
		Help:        "GC pause time in milliseconds",
		Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: constLabels,
	})
}

// Webhook Metrics Functions.

// RecordSignatureOutcome counts a signature verification result.
func RecordSignatureOutcome(outcome string) {
	globalManager.signatureOutcomes.WithLabelValues(outcome).Inc()
}

// SetSignatureEnforced reports whether webhook signatures are enforced.
func SetSignatureEnforced(enforced bool) {
	v := 0.0
	if enforced {
		v = 1
	}
	globalManager.signatureEnabled.Set(v)
}

// RecordRawEventStored increments the raw event counter.
func RecordRawEventStored() {
	globalManager.rawEventsStored.Inc()
}

// RecordRawEventFailed increments the raw event failure counter.
func RecordRawEventFailed() {
	globalManager.rawEventsFailed.Inc()
}

// RecordRateLimited increments the rate limited counter.
func RecordRateLimited() {
	globalManager.webhookRateLimited.Inc()
}

// RecordWrapper counts an event wrapper of the given category.
func RecordWrapper(category string) {
	globalManager.wrappersProcessed.WithLabelValues(category).Inc()
}

// RecordWrapperSkipped counts a skipped wrapper.
func RecordWrapperSkipped(reason string) {
	globalManager.wrappersSkipped.WithLabelValues(reason).Inc()
}

// RecordObservationsExtracted adds n extracted observations for a source.
func RecordObservationsExtracted(source string, n int) {
	globalManager.observationsFound.WithLabelValues(source).Add(float64(n))
}

// RecordObservationWrite counts one observation write with its result.
func RecordObservationWrite(source, result string) {
	globalManager.observationsWritten.WithLabelValues(source, result).Inc()
}

// RecordUnresolvedAccount counts an external account with no connection.
func RecordUnresolvedAccount() {
	globalManager.unresolvedAccounts.Inc()
}

// RecordResolverLookup counts a resolver lookup result.
func RecordResolverLookup(result string) {
	globalManager.resolverLookups.WithLabelValues(result).Inc()
}

// Store Metrics Functions.

// RecordStoreLatency records a store operation latency in milliseconds.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// Backfill Metrics Functions.

// RecordBackfillEvent counts a replayed raw event.
func RecordBackfillEvent() {
	globalManager.backfillEventsProcessed.Inc()
}

// RecordBackfillEventError counts a raw event that failed during replay.
func RecordBackfillEventError() {
	globalManager.backfillEventErrors.Inc()
}

// UpdateBackfillProgress sets the progress ratio of the current run.
func UpdateBackfillProgress(ratio float64) {
	globalManager.backfillProgress.Set(ratio)
}

// SetBackfillRunning flags whether a run is active.
func SetBackfillRunning(running bool) {
	v := 0.0
	if running {
		v = 1
	}
	globalManager.backfillRunning.Set(v)
}

// Calculator Metrics Functions.

// RecordAssessment counts a computed assessment.
func RecordAssessment(kind, status string) {
	globalManager.assessmentsComputed.WithLabelValues(kind, status).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Enhanced Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
