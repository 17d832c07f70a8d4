// Package metrics provides Prometheus metrics for the evalbench service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every metric the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	scoreBuckets     []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Lease
	leaseAcquisitions *prometheus.CounterVec
	leaseRecoveries   prometheus.Counter
	leaseReleases     *prometheus.CounterVec
	leaseHeld         prometheus.Gauge

	// Bulk runs
	runsTotal            *prometheus.CounterVec
	runDuration          prometheus.Histogram
	submissionsEvaluated prometheus.Counter
	submissionsSkipped   prometheus.Counter
	submissionsUnscored  prometheus.Counter
	runProgressRatio     prometheus.Gauge

	// Scoring backends
	backendLatency  *prometheus.HistogramVec
	backendAttempts *prometheus.CounterVec
	backendFailures *prometheus.CounterVec
	backendsValid   prometheus.Histogram
	aggregateScore  prometheus.Histogram

	// Ranking
	leaderboardGenerations *prometheus.CounterVec
	leaderboardEntries     *prometheus.GaugeVec

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry keeps the default Go collectors out of /healthz.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "evalbench",
		subsystem:        "orchestrator",
		histogramBuckets: prometheus.DefBuckets,
		scoreBuckets:     prometheus.LinearBuckets(0, 10, 11),
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.leaseAcquisitions = auto.NewCounterVec(
		m.counterOpts("lease_acquisitions_total", "Lease acquisition attempts by outcome (acquired, recovered, busy, error)"),
		[]string{"outcome"},
	)
	m.leaseRecoveries = auto.NewCounter(
		m.counterOpts("lease_recoveries_total", "Stale leases reclaimed from crashed runs"),
	)
	m.leaseReleases = auto.NewCounterVec(
		m.counterOpts("lease_releases_total", "Lease releases by outcome (released, mismatch, error)"),
		[]string{"outcome"},
	)
	m.leaseHeld = auto.NewGauge(
		m.gaugeOpts("lease_held", "1 while this process owns the global lease"),
	)

	m.runsTotal = auto.NewCounterVec(
		m.counterOpts("runs_total", "Bulk evaluation runs by final state"),
		[]string{"state"},
	)
	m.runDuration = auto.NewHistogram(
		m.histogramOpts("run_duration_seconds", "Wall time of bulk evaluation runs", prometheus.ExponentialBuckets(1, 2, 14)),
	)
	m.submissionsEvaluated = auto.NewCounter(
		m.counterOpts("submissions_evaluated_total", "Submissions passed through the scoring panel"),
	)
	m.submissionsSkipped = auto.NewCounter(
		m.counterOpts("submissions_skipped_total", "Submissions skipped for missing rubric or brief"),
	)
	m.submissionsUnscored = auto.NewCounter(
		m.counterOpts("submissions_unscored_total", "Submissions where every backend failed"),
	)
	m.runProgressRatio = auto.NewGauge(
		m.gaugeOpts("run_progress_ratio", "evaluated/total of the run owned by this process"),
	)

	m.backendLatency = auto.NewHistogramVec(
		m.histogramOpts("backend_call_duration_milliseconds", "Scoring backend call latency", m.histogramBuckets),
		[]string{"backend"},
	)
	m.backendAttempts = auto.NewCounterVec(
		m.counterOpts("backend_attempts_total", "Scoring backend attempts"),
		[]string{"backend"},
	)
	m.backendFailures = auto.NewCounterVec(
		m.counterOpts("backend_failures_total", "Scoring backend failures by reason (transport, invalid_response)"),
		[]string{"backend", "reason"},
	)
	m.backendsValid = auto.NewHistogram(
		m.histogramOpts("backends_valid_per_submission", "Number of backends that returned a valid verdict", prometheus.LinearBuckets(0, 1, 8)),
	)
	m.aggregateScore = auto.NewHistogram(
		m.histogramOpts("aggregate_score", "Distribution of aggregate submission scores", m.scoreBuckets),
	)

	m.leaderboardGenerations = auto.NewCounterVec(
		m.counterOpts("leaderboard_generations_total", "Final leaderboard generations by track and outcome"),
		[]string{"track", "outcome"},
	)
	m.leaderboardEntries = auto.NewGaugeVec(
		m.gaugeOpts("leaderboard_entries", "Entries written by the last generation"),
		[]string{"track"},
	)

	m.storeLatency = auto.NewHistogramVec(
		m.histogramOpts("store_operation_duration_milliseconds", "Document store operation latency", m.histogramBuckets),
		[]string{"store", "operation"},
	)
	m.storeErrors = auto.NewCounterVec(
		m.counterOpts("store_errors_total", "Document store operation errors"),
		[]string{"store", "operation"},
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component"),
		[]string{"component", "error_type"},
	)
	m.errorRateByType = auto.NewCounterVec(
		m.counterOpts("errors_by_type_total", "Errors by type and severity"),
		[]string{"error_type", "severity"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "Errors by endpoint"),
		[]string{"endpoint", "method", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap bytes in use"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogramOpts("system_gc_pause_time_milliseconds", "Average GC pause in milliseconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}),
	)
}

// Lease.

// RecordLeaseAcquisition counts an acquisition attempt with its outcome.
func RecordLeaseAcquisition(outcome string) {
	globalManager.leaseAcquisitions.WithLabelValues(outcome).Inc()
}

// RecordLeaseRecovery counts a stale lease reclaimed from a crashed run.
func RecordLeaseRecovery() {
	globalManager.leaseRecoveries.Inc()
}

// RecordLeaseRelease counts a release with its outcome.
func RecordLeaseRelease(outcome string) {
	globalManager.leaseReleases.WithLabelValues(outcome).Inc()
}

// UpdateLeaseHeld flips the lease_held gauge.
func UpdateLeaseHeld(held bool) {
	if held {
		globalManager.leaseHeld.Set(1)
		return
	}
	globalManager.leaseHeld.Set(0)
}

// Bulk runs.

// RecordRun counts a finished run by its terminal state and observes its duration.
func RecordRun(state string, seconds float64) {
	globalManager.runsTotal.WithLabelValues(state).Inc()
	globalManager.runDuration.Observe(seconds)
}

// RecordSubmissionEvaluated counts a submission that went through the panel.
func RecordSubmissionEvaluated() {
	globalManager.submissionsEvaluated.Inc()
}

// RecordSubmissionSkipped counts a submission skipped for missing rubric or brief.
func RecordSubmissionSkipped() {
	globalManager.submissionsSkipped.Inc()
}

// RecordSubmissionUnscored counts a submission where no backend validated.
func RecordSubmissionUnscored() {
	globalManager.submissionsUnscored.Inc()
}

// UpdateRunProgress sets the progress ratio of the locally owned run.
func UpdateRunProgress(evaluated, total int) {
	if total <= 0 {
		globalManager.runProgressRatio.Set(0)
		return
	}
	globalManager.runProgressRatio.Set(float64(evaluated) / float64(total))
}

// Scoring backends.

// RecordBackendAttempt counts an attempt and its latency.
func RecordBackendAttempt(backend string, latencyMs float64) {
	globalManager.backendAttempts.WithLabelValues(backend).Inc()
	globalManager.backendLatency.WithLabelValues(backend).Observe(latencyMs)
}

// RecordBackendFailure counts a failed attempt.
func RecordBackendFailure(backend, reason string) {
	globalManager.backendFailures.WithLabelValues(backend, reason).Inc()
}

// RecordPanelResult observes how many backends validated and the aggregate, if any.
func RecordPanelResult(valid int, aggregate *float64) {
	globalManager.backendsValid.Observe(float64(valid))
	if aggregate != nil {
		globalManager.aggregateScore.Observe(*aggregate)
	}
}

// Ranking.

// RecordLeaderboardGeneration counts a generation and records how many entries it wrote.
func RecordLeaderboardGeneration(track, outcome string, entries int) {
	globalManager.leaderboardGenerations.WithLabelValues(track, outcome).Inc()
	if outcome == "ok" {
		globalManager.leaderboardEntries.WithLabelValues(track).Set(float64(entries))
	}
}

// Store.

// RecordStoreOperation observes latency of a store call and counts failures.
func RecordStoreOperation(store, operation string, latencyMs float64, err error) {
	globalManager.storeLatency.WithLabelValues(store, operation).Observe(latencyMs)
	if err != nil {
		globalManager.storeErrors.WithLabelValues(store, operation).Inc()
	}
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

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

// System.

// UpdateSystemMemoryUsage sets the memory usage in bytes.
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
