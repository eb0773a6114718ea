// Package metrics provides Prometheus metrics for the CogniCare assessment service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Pipeline Metrics - one run per submission
	pipelineRuns     *prometheus.CounterVec
	stageLatency     *prometheus.HistogramVec
	recordsPersisted prometheus.Counter

	// Evidence Metrics - what the frame reducer and form adapter saw
	framesExamined      prometheus.Counter
	framesUsable        prometheus.Counter
	eyeGaze             prometheus.Histogram
	formUnmappedValues  *prometheus.CounterVec
	inferenceLatency    prometheus.Histogram
	inferenceErrors     *prometheus.CounterVec
	inferenceQueueDepth prometheus.Gauge
	workerCount         prometheus.Gauge
	workerBusy          prometheus.Gauge

	// Report Metrics
	reportLatency prometheus.Histogram
	reportErrors  *prometheus.CounterVec

	// Notification Metrics
	notificationsDelivered prometheus.Counter
	notificationsFailed    prometheus.Counter
	notificationsDropped   prometheus.Counter
	activeSessions         prometheus.Gauge
	subscribedSubjects     prometheus.Gauge

	// Repository Metrics
	repositoryErrors *prometheus.CounterVec

	// Queue Metrics - notification handoff queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
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
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// latencyBucketsMs covers fast form predictions up to multi-second video inference.
var latencyBucketsMs = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000} //nolint:gochecknoglobals // bucket layout

// percentBuckets spans the eye-gaze percentage range.
var percentBuckets = prometheus.LinearBuckets(0, 10, 11) //nolint:gochecknoglobals // bucket layout

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "cognicare",
		subsystem:        "pipeline",
		histogramBuckets: latencyBucketsMs,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	b := m.histogramBuckets

	m.pipelineRuns = m.counterVec("runs_total", "Pipeline runs by prediction kind and outcome", "kind", "outcome")
	m.stageLatency = m.histogramVec("stage_latency_milliseconds", "Latency of each pipeline stage in milliseconds", b, "stage")
	m.recordsPersisted = m.counter("records_persisted_total", "Assessment records written")

	m.framesExamined = m.counter("frames_examined_total", "Decoded frames scored for sharpness")
	m.framesUsable = m.counter("frames_usable_total", "Frames at or above the sharpness threshold")
	m.eyeGaze = m.histogram("eye_gaze_percentage", "Eye-gaze stability per analysed video", percentBuckets)
	m.formUnmappedValues = m.counterVec("form_unmapped_values_total", "Categorical answers with no model column", "field")
	m.inferenceLatency = m.histogram("inference_latency_milliseconds", "Offloaded video inference latency in milliseconds", b)
	m.inferenceErrors = m.counterVec("inference_errors_total", "Offloaded inference failures by kind", "kind")
	m.inferenceQueueDepth = m.gauge("inference_queue_depth", "Inference jobs waiting for a worker")
	m.workerCount = m.gauge("inference_workers", "Inference workers in the offload pool")
	m.workerBusy = m.gauge("inference_workers_busy", "Inference workers currently running a job")

	m.reportLatency = m.histogram("report_latency_milliseconds", "Report generation latency in milliseconds", b)
	m.reportErrors = m.counterVec("report_errors_total", "Report generation failures by kind", "kind")

	m.notificationsDelivered = m.counter("notifications_delivered_total", "Completion events delivered to live sessions")
	m.notificationsFailed = m.counter("notifications_failed_total", "Session sends that failed and evicted the session")
	m.notificationsDropped = m.counter("notifications_dropped_total", "Completion events dropped before fan-out")
	m.activeSessions = m.gauge("active_sessions", "Open live notification sessions")
	m.subscribedSubjects = m.gauge("subscribed_subjects", "Subjects with at least one live session")

	m.repositoryErrors = m.counterVec("repository_errors_total", "Record store failures by operation", "op")

	m.queueSize = m.gauge("queue_size", "Current size of the notification queue (backlog indicator)")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the notification queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Notification queue utilization (0.0 to 1.0)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Events enqueued for notification")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Events dequeued for notification")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Notification events that could not be enqueued")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", b)

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", b, "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by HTTP endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of failed operations in milliseconds", b, "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds", prometheus.ExponentialBuckets(0.01, 2, 12))
}

// Pipeline

// RecordPipelineRun counts a finished run by kind (video, form, combined, none)
// and outcome (ok, or the failure kind).
func RecordPipelineRun(kind, outcome string) {
	globalManager.pipelineRuns.WithLabelValues(kind, outcome).Inc()
}

// RecordStageLatency records the latency of a named stage.
func RecordStageLatency(stage string, latencyMs float64) {
	globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
}

// RecordRecordPersisted counts a written assessment record.
func RecordRecordPersisted() {
	globalManager.recordsPersisted.Inc()
}

// Evidence

// RecordFrames adds the examined and usable frame counts of one reduction.
func RecordFrames(examined, usable int) {
	globalManager.framesExamined.Add(float64(examined))
	globalManager.framesUsable.Add(float64(usable))
}

// RecordEyeGaze records one eye-gaze stability percentage.
func RecordEyeGaze(percent float64) {
	globalManager.eyeGaze.Observe(percent)
}

// RecordFormUnmappedValue counts an ignored categorical answer.
func RecordFormUnmappedValue(field string) {
	globalManager.formUnmappedValues.WithLabelValues(field).Inc()
}

// RecordInferenceLatency records offloaded inference latency.
func RecordInferenceLatency(latencyMs float64) {
	globalManager.inferenceLatency.Observe(latencyMs)
}

// RecordInferenceError counts an inference failure by kind.
func RecordInferenceError(kind string) {
	globalManager.inferenceErrors.WithLabelValues(kind).Inc()
}

// UpdateInferenceQueueDepth sets the number of waiting inference jobs.
func UpdateInferenceQueueDepth(depth int) {
	globalManager.inferenceQueueDepth.Set(float64(depth))
}

// UpdateWorkerCount sets the number of inference workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerBusy adjusts the busy worker gauge by delta.
func AddWorkerBusy(delta int) {
	globalManager.workerBusy.Add(float64(delta))
}

// Report

// RecordReportLatency records report generation latency.
func RecordReportLatency(latencyMs float64) {
	globalManager.reportLatency.Observe(latencyMs)
}

// RecordReportError counts a report failure by kind.
func RecordReportError(kind string) {
	globalManager.reportErrors.WithLabelValues(kind).Inc()
}

// Notifications

// RecordNotificationDelivered counts a successful session send.
func RecordNotificationDelivered() {
	globalManager.notificationsDelivered.Inc()
}

// RecordNotificationFailed counts a failed session send.
func RecordNotificationFailed() {
	globalManager.notificationsFailed.Inc()
}

// RecordNotificationDropped counts an event that never reached fan-out.
func RecordNotificationDropped() {
	globalManager.notificationsDropped.Inc()
}

// UpdateActiveSessions sets the open session gauge.
func UpdateActiveSessions(count int) {
	globalManager.activeSessions.Set(float64(count))
}

// UpdateSubscribedSubjects sets the subscribed subject gauge.
func UpdateSubscribedSubjects(count int) {
	globalManager.subscribedSubjects.Set(float64(count))
}

// Repository

// RecordRepositoryError counts a store failure for op.
func RecordRepositoryError(op string) {
	globalManager.repositoryErrors.WithLabelValues(op).Inc()
}

// Queue

// UpdateQueueSize updates the current queue size metric.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity updates the queue capacity metric.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization updates the queue utilization metric.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the queue enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the queue dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the queue enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// HTTP

// RecordHTTPRequest increments the HTTP requests counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors

// RecordErrorByComponent records errors by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records errors by type and severity.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records errors by HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records error latency.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System

// UpdateSystemMemoryUsage updates the system memory usage metric.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates the system goroutine count metric.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records system GC pause time.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
