// Package metrics provides Prometheus metrics for the readyroom service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Readiness resources reported through RecordReadinessLatency and RecordResourceFailure.
const (
	ResourceCamera     = "camera"
	ResourceModel      = "model"
	ResourceCredential = "credential"
)

// latencyBuckets are tuned for millisecond latencies from a few ms up to ~30s.
var latencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Manager manages all Prometheus metrics for the readyroom service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Session lifecycle
	sessionsOpened   prometheus.Counter
	sessionsActive   prometheus.Gauge
	phaseTransitions *prometheus.CounterVec
	handoffs         prometheus.Counter

	// Capture
	captureAttempts *prometheus.CounterVec
	captureDuration prometheus.Histogram
	framesReceived  prometheus.Counter

	// Resources
	readinessDuration *prometheus.HistogramVec
	resourceFailures  *prometheus.CounterVec
	credentialFetches *prometheus.CounterVec
	roomReleases      *prometheus.CounterVec

	// Notices
	noticesEmitted *prometheus.CounterVec
	noticesDropped prometheus.Counter

	// Release queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Release workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// Outbound circuit breakers
	breakerState    *prometheus.GaugeVec
	breakerRequests *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "readyroom",
		subsystem:        "interview",
		histogramBuckets: latencyBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	m.sessionsOpened = m.counter("sessions_opened_total", "Total number of interview-ready sessions opened")
	m.sessionsActive = m.gauge("sessions_active", "Sessions currently registered (not yet reaped)")
	m.phaseTransitions = m.counterVec("phase_transitions_total", "Orchestrator phase transitions", "from", "to")
	m.handoffs = m.counter("handoffs_published_total", "Session handoffs published to the live interview")

	m.captureAttempts = m.counterVec("capture_attempts_total", "Face capture attempts by outcome", "outcome")
	m.captureDuration = m.histogram("capture_duration_milliseconds", "Duration of a single bounded capture attempt")
	m.framesReceived = m.counter("frames_received_total", "Camera frames pushed by clients")

	m.readinessDuration = m.histogramVec("readiness_duration_milliseconds", "Time for a resource to become ready", "resource")
	m.resourceFailures = m.counterVec("resource_failures_total", "Resource acquisition failures", "resource", "reason")
	m.credentialFetches = m.counterVec("credential_fetches_total", "Speech credential fetches by outcome", "outcome")
	m.roomReleases = m.counterVec("room_releases_total", "Room release requests by outcome", "outcome")

	m.noticesEmitted = m.counterVec("notices_emitted_total", "User-visible notices by kind", "kind")
	m.noticesDropped = m.counter("notices_dropped_total", "Notices dropped because a subscriber was slow")

	m.queueSize = m.gauge("release_queue_size", "Current size of the room release queue")
	m.queueCapacity = m.gauge("release_queue_capacity", "Capacity of the room release queue")
	m.queueUtilization = m.gauge("release_queue_utilization", "Room release queue utilization (0-1)")
	m.queueEnqueued = m.counter("release_queue_enqueued_total", "Room release jobs enqueued")
	m.queueDequeued = m.counter("release_queue_dequeued_total", "Room release jobs dequeued")
	m.queueEnqueueErrors = m.counter("release_queue_enqueue_errors_total", "Room release jobs rejected by the queue")

	m.workerCount = m.gauge("release_worker_count", "Room release workers")
	m.workerProcessingLatency = m.histogram("release_worker_latency_milliseconds", "Room release job latency")
	m.workerErrors = m.counter("release_worker_errors_total", "Room release jobs that failed")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.breakerState = m.gaugeVec("breaker_state", "Circuit breaker state (0 closed, 1 half-open, 2 open)", "name")
	m.breakerRequests = m.counterVec("breaker_requests_total", "Calls through a circuit breaker by outcome", "name", "outcome")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause")
}

// Session lifecycle.

func RecordSessionOpened()      { globalManager.sessionsOpened.Inc() }
func UpdateSessionsActive(n int) { globalManager.sessionsActive.Set(float64(n)) }
func RecordHandoffPublished()   { globalManager.handoffs.Inc() }

// RecordPhaseTransition counts an orchestrator phase change.
func RecordPhaseTransition(from, to string) {
	globalManager.phaseTransitions.WithLabelValues(from, to).Inc()
}

// Capture.

// RecordCaptureAttempt records one capture attempt; outcome is face, no_face, cancelled or error.
func RecordCaptureAttempt(outcome string, durationMs float64) {
	globalManager.captureAttempts.WithLabelValues(outcome).Inc()
	globalManager.captureDuration.Observe(durationMs)
}

func RecordFrameReceived() { globalManager.framesReceived.Inc() }

// Resources.

// RecordReadinessLatency observes how long resource took to become ready.
func RecordReadinessLatency(resource string, durationMs float64) error {
	if err := checkResource(resource); err != nil {
		return err
	}
	globalManager.readinessDuration.WithLabelValues(resource).Observe(durationMs)
	return nil
}

// RecordResourceFailure counts an acquisition failure for resource.
func RecordResourceFailure(resource, reason string) error {
	if err := checkResource(resource); err != nil {
		return err
	}
	globalManager.resourceFailures.WithLabelValues(resource, reason).Inc()
	return nil
}

func RecordCredentialFetch(outcome string) {
	globalManager.credentialFetches.WithLabelValues(outcome).Inc()
}

func RecordRoomRelease(outcome string) {
	globalManager.roomReleases.WithLabelValues(outcome).Inc()
}

func checkResource(resource string) error {
	switch resource {
	case ResourceCamera, ResourceModel, ResourceCredential:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
}

// Notices.

func RecordNotice(kind string) { globalManager.noticesEmitted.WithLabelValues(kind).Inc() }
func RecordNoticeDropped()     { globalManager.noticesDropped.Inc() }

// Release queue.

func UpdateQueueSize(size int)                { globalManager.queueSize.Set(float64(size)) }
func UpdateQueueCapacity(capacity int)        { globalManager.queueCapacity.Set(float64(capacity)) }
func UpdateQueueUtilization(u float64)        { globalManager.queueUtilization.Set(u) }
func RecordQueueEnqueue()                     { globalManager.queueEnqueued.Inc() }
func RecordQueueDequeue()                     { globalManager.queueDequeued.Inc() }
func RecordQueueEnqueueError()                { globalManager.queueEnqueueErrors.Inc() }
func UpdateWorkerCount(count int)             { globalManager.workerCount.Set(float64(count)) }
func RecordWorkerProcessingLatency(ms float64) { globalManager.workerProcessingLatency.Observe(ms) }
func RecordWorkerError()                      { globalManager.workerErrors.Inc() }

// HTTP.

func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// Errors.

func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

func UpdateSystemMemoryUsage(bytes uint64)    { globalManager.systemMemoryUsage.Set(float64(bytes)) }
func UpdateSystemGoroutineCount(count int)    { globalManager.systemGoroutineCount.Set(float64(count)) }
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// UpdateBreakerState records the state of the named breaker.
func UpdateBreakerState(name string, state float64) {
	globalManager.breakerState.WithLabelValues(name).Set(state)
}

// RecordBreakerRequest counts a call through the named breaker.
func RecordBreakerRequest(name, outcome string) {
	globalManager.breakerRequests.WithLabelValues(name, outcome).Inc()
}

// GetRegistry returns the registry all global metrics are registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
