package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session states reported by the session_state gauge.
var sessionStates = []string{"idle", "previewing", "streaming", "finalizing"} //nolint:gochecknoglobals // fixed label set

// Manager manages all Prometheus metrics for the courtside service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Live session metrics
	sessionsStarted      *prometheus.CounterVec
	sessionState         *prometheus.GaugeVec
	framesSent           prometheus.Counter
	framesDropped        prometheus.Counter
	audioChunks          prometheus.Counter
	eventsLogged         *prometheus.CounterVec
	ackFailures          prometheus.Counter
	connectionErrors     *prometheus.CounterVec
	unrecognizedMessages prometheus.Counter
	recoveryInvocations  prometheus.Counter

	// Batch analysis metrics
	analysisRequests  *prometheus.CounterVec
	analysisRetries   prometheus.Counter
	analysisLatency   prometheus.Histogram
	analysisDuplicate prometheus.Counter

	// Queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerErrors            prometheus.Counter
	workerProcessingLatency prometheus.Histogram

	// Storage metrics
	storedResults prometheus.Gauge
	persistSaves  *prometheus.CounterVec
	persistErrors *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager. Without WithPrometheusRegistry
// the metrics land on the default registerer, so tests should always pass a
// fresh registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "courtside",
		subsystem:        "judge",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
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
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.sessionsStarted = m.counterVec("sessions_started_total", "Total number of live sessions that reached streaming", "mode")
	m.sessionState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "session_state",
		Help:        "Current live session state (1 for the active state)",
		ConstLabels: m.customLabels,
	}, []string{"state"})
	m.framesSent = m.counter("frames_sent_total", "Total number of camera frames sent to the live model")
	m.framesDropped = m.counter("frames_dropped_total", "Total number of camera frames dropped on send failure")
	m.audioChunks = m.counter("audio_chunks_sent_total", "Total number of microphone chunks sent to the live model")
	m.eventsLogged = m.counterVec("events_logged_total", "Total number of performance events logged by the live model", "type")
	m.ackFailures = m.counter("ack_failures_total", "Total number of tool acknowledgements that failed to send")
	m.connectionErrors = m.counterVec("connection_errors_total", "Total number of live connection errors by kind", "kind")
	m.unrecognizedMessages = m.counter("unrecognized_messages_total", "Total number of inbound messages rejected as unrecognized")
	m.recoveryInvocations = m.counter("recovery_invocations_total", "Total number of credential recovery hook invocations")

	m.analysisRequests = m.counterVec("analysis_requests_total", "Total number of batch analysis requests by outcome", "status")
	m.analysisRetries = m.counter("analysis_retries_total", "Total number of retried remote analysis calls")
	m.analysisLatency = m.histogram("analysis_latency_milliseconds", "Histogram of remote analysis latency in milliseconds")
	m.analysisDuplicate = m.counter("analysis_duplicate_total", "Total number of duplicate uploads detected")

	m.queueSize = m.gauge("queue_size", "Current size of the analysis queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the analysis queue")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Total number of tasks enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Total number of tasks dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue rejections")

	m.workerCount = m.gauge("worker_count", "Configured number of analysis workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Number of workers currently processing a task")
	m.workerErrors = m.counter("worker_errors_total", "Total number of failed analysis tasks")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Histogram of task processing latency in milliseconds")

	m.storedResults = m.gauge("stored_results", "Number of analysis results held in memory")
	m.persistSaves = m.counterVec("persist_saves_total", "Total number of results persisted by backend", "backend")
	m.persistErrors = m.counterVec("persist_errors_total", "Total number of persistence failures by backend", "backend")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})
}

// Live Session Metrics Functions.

// RecordSessionStarted increments the started sessions counter for a mode.
func RecordSessionStarted(mode string) {
	globalManager.sessionsStarted.WithLabelValues(mode).Inc()
}

// UpdateSessionState marks state as the current session state.
func UpdateSessionState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		globalManager.sessionState.WithLabelValues(s).Set(v)
	}
}

// RecordFrameSent increments the sent frames counter.
func RecordFrameSent() {
	globalManager.framesSent.Inc()
}

// RecordFrameDropped increments the dropped frames counter.
func RecordFrameDropped() {
	globalManager.framesDropped.Inc()
}

// RecordAudioChunk increments the sent audio chunks counter.
func RecordAudioChunk() {
	globalManager.audioChunks.Inc()
}

// RecordEventLogged increments the logged events counter for an event type.
func RecordEventLogged(eventType string) {
	globalManager.eventsLogged.WithLabelValues(eventType).Inc()
}

// RecordAckFailure increments the failed acknowledgements counter.
func RecordAckFailure() {
	globalManager.ackFailures.Inc()
}

// RecordConnectionError increments the connection errors counter.
func RecordConnectionError(kind string) {
	globalManager.connectionErrors.WithLabelValues(kind).Inc()
}

// RecordUnrecognizedMessage increments the rejected inbound messages counter.
func RecordUnrecognizedMessage() {
	globalManager.unrecognizedMessages.Inc()
}

// RecordRecoveryInvocation increments the recovery hook counter.
func RecordRecoveryInvocation() {
	globalManager.recoveryInvocations.Inc()
}

// Analysis Metrics Functions.

// RecordAnalysisRequest increments the analysis requests counter for an outcome.
func RecordAnalysisRequest(status string) {
	globalManager.analysisRequests.WithLabelValues(status).Inc()
}

// RecordAnalysisRetry increments the retried calls counter.
func RecordAnalysisRetry() {
	globalManager.analysisRetries.Inc()
}

// RecordAnalysisLatency records remote analysis latency.
func RecordAnalysisLatency(latencyMs float64) {
	globalManager.analysisLatency.Observe(latencyMs)
}

// RecordAnalysisDuplicate increments the duplicate uploads counter.
func RecordAnalysisDuplicate() {
	globalManager.analysisDuplicate.Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// Storage Metrics Functions.

// UpdateStoredResults sets the in-memory result count.
func UpdateStoredResults(count int) {
	globalManager.storedResults.Set(float64(count))
}

// RecordPersistSave increments the persisted results counter for a backend.
func RecordPersistSave(backend string) {
	globalManager.persistSaves.WithLabelValues(backend).Inc()
}

// RecordPersistError increments the persistence failures counter for a backend.
func RecordPersistError(backend string) {
	globalManager.persistErrors.WithLabelValues(backend).Inc()
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

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

var runtimeOnce sync.Once //nolint:gochecknoglobals // guards collector registration

// RegisterRuntimeCollectors adds Go runtime and process metrics to the
// custom registry. It is safe to call more than once.
func RegisterRuntimeCollectors() error {
	var err error
	runtimeOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			if rerr := customRegistry.Register(c); rerr != nil {
				var dup prometheus.AlreadyRegisteredError
				if !errors.As(rerr, &dup) {
					err = rerr
				}
			}
		}
	})
	return err
}
