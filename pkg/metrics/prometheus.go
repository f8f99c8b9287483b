// Package metrics provides Prometheus metrics for the harbinger risk service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the harbinger service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Scoring metrics - per-vehicle pipeline outcomes
	vehiclesScored    prometheus.Counter
	vehiclesSkipped   *prometheus.CounterVec
	cohortFallbacks   prometheus.Counter
	severityBuckets   *prometheus.CounterVec
	scoringLatency    prometheus.Histogram
	dataQualityAlerts prometheus.Counter

	// Catalog metrics - snapshot lifecycle
	catalogReloads        prometheus.Counter
	catalogReloadFailures prometheus.Counter
	catalogVersion        prometheus.Gauge
	catalogCohorts        prometheus.Gauge

	// Job metrics - batch run lifecycle
	jobsByState           *prometheus.CounterVec
	jobProgress           prometheus.Gauge
	jobDuration           prometheus.Histogram
	changedVINs           prometheus.Gauge
	detectorShardFailures prometheus.Counter

	// Queue metrics - work unit queue
	queueDepth       prometheus.Gauge
	queueCapacity    prometheus.Gauge
	unitsEnqueued    prometheus.Counter
	unitsDequeued    prometheus.Counter
	unitQueueLatency prometheus.Histogram

	// Worker metrics - pool behavior
	workersActive     prometheus.Gauge
	workersDesired    prometheus.Gauge
	unitLatency       prometheus.Histogram
	unitRetries       prometheus.Counter
	unitsDeadLettered prometheus.Counter
	workerErrors      prometheus.Counter

	// Checkpoint metrics
	checkpointsWritten prometheus.Counter
	checkpointLatency  prometheus.Histogram
	checkpointLastUnix prometheus.Gauge

	// SLA metrics
	slaAlerts       *prometheus.CounterVec
	slaDeadlineRisk prometheus.Gauge
	slaETASeconds   prometheus.Gauge

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByComponent   *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "harbinger",
		subsystem:        "risk",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // metric registration is naturally long
	auto := promauto.With(m.registry)

	// Scoring metrics
	m.vehiclesScored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "vehicles_scored_total",
		Help:      "Total number of vehicles scored successfully",
	})

	m.vehiclesSkipped = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "vehicles_skipped_total",
			Help:      "Total number of vehicles excluded from a run, by reason",
		},
		[]string{"reason"},
	)

	m.cohortFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cohort_fallbacks_total",
		Help:      "Total number of vehicles matched to the fleet default cohort",
	})

	m.severityBuckets = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "severity_bucket_total",
			Help:      "Total number of scored vehicles per severity bucket",
		},
		[]string{"bucket"},
	)

	m.scoringLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "scoring_latency_milliseconds",
		Help:      "Histogram of per-vehicle scoring latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.dataQualityAlerts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "data_quality_alerts_total",
		Help:      "Total number of calculation invariant violations (should be zero)",
	})

	// Catalog metrics
	m.catalogReloads = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "catalog_reloads_total",
		Help:      "Total number of successful cohort catalog reloads",
	})

	m.catalogReloadFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "catalog_reload_failures_total",
		Help:      "Total number of rejected cohort catalog reloads",
	})

	m.catalogVersion = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "catalog_version",
		Help:      "Version of the active cohort catalog snapshot",
	})

	m.catalogCohorts = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "catalog_cohorts",
		Help:      "Number of cohorts in the active catalog snapshot",
	})

	// Job metrics
	m.jobsByState = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "jobs_total",
			Help:      "Total number of batch jobs per terminal state",
		},
		[]string{"state"},
	)

	m.jobProgress = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "job_progress_ratio",
		Help:      "Processed/total ratio of the running batch job",
	})

	m.jobDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "job_duration_seconds",
		Help:      "Histogram of batch job wall-clock duration in seconds",
		Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 10800, 14400, 21600},
	})

	m.changedVINs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "changed_vins",
		Help:      "Number of VINs selected by the change detector for the current job",
	})

	m.detectorShardFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "detector_shard_failures_total",
		Help:      "Total number of upstream shards that failed during change detection",
	})

	// Queue metrics
	m.queueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_depth",
		Help:      "Current number of work units waiting in the queue",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum capacity of the work unit queue",
	})

	m.unitsEnqueued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "units_enqueued_total",
		Help:      "Total number of work units enqueued",
	})

	m.unitsDequeued = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "units_dequeued_total",
		Help:      "Total number of work units dequeued by workers",
	})

	m.unitQueueLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "unit_queue_latency_milliseconds",
		Help:      "Histogram of time a work unit spends queued, in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// Worker metrics
	m.workersActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "workers_active",
		Help:      "Current number of running workers",
	})

	m.workersDesired = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "workers_desired",
		Help:      "Worker count requested by the autoscaler",
	})

	m.unitLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "unit_processing_latency_milliseconds",
		Help:      "Histogram of work unit processing latency in milliseconds",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	m.unitRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "unit_retries_total",
		Help:      "Total number of work unit retry attempts",
	})

	m.unitsDeadLettered = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "units_dead_lettered_total",
		Help:      "Total number of work units routed to the dead-letter set",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of worker-level processing errors",
	})

	// Checkpoint metrics
	m.checkpointsWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoints_written_total",
		Help:      "Total number of checkpoints persisted",
	})

	m.checkpointLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoint_write_latency_milliseconds",
		Help:      "Histogram of checkpoint persistence latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.checkpointLastUnix = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoint_last_unix_seconds",
		Help:      "Unix timestamp of the most recent checkpoint",
	})

	// SLA metrics
	m.slaAlerts = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "sla_alerts_total",
			Help:      "Total number of SLA alerts raised, by escalation level",
		},
		[]string{"level"},
	)

	m.slaDeadlineRisk = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sla_deadline_risk",
		Help:      "Estimated risk of missing the batch deadline (0-1)",
	})

	m.slaETASeconds = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sla_eta_seconds",
		Help:      "Estimated seconds until batch job completion",
	})

	// HTTP metrics
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "Histogram of HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	m.errorsByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_component_total",
			Help:      "Total number of errors by component and type",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})
}

// Scoring metrics functions.

// RecordVehicleScored increments the scored vehicles counter.
func RecordVehicleScored() {
	globalManager.vehiclesScored.Inc()
}

// RecordVehicleSkipped increments the skipped vehicles counter for a reason.
func RecordVehicleSkipped(reason string) {
	globalManager.vehiclesSkipped.WithLabelValues(reason).Inc()
}

// RecordCohortFallback increments the fleet-default cohort fallback counter.
func RecordCohortFallback() {
	globalManager.cohortFallbacks.Inc()
}

// RecordSeverityBucket increments the per-bucket scored vehicle counter.
func RecordSeverityBucket(bucket string) {
	globalManager.severityBuckets.WithLabelValues(bucket).Inc()
}

// RecordScoringLatency records per-vehicle scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) {
	globalManager.scoringLatency.Observe(latencyMs)
}

// RecordDataQualityAlert increments the calculation invariant violation counter.
func RecordDataQualityAlert() {
	globalManager.dataQualityAlerts.Inc()
}

// Catalog metrics functions.

// RecordCatalogReload increments the successful reload counter.
func RecordCatalogReload() {
	globalManager.catalogReloads.Inc()
}

// RecordCatalogReloadFailure increments the rejected reload counter.
func RecordCatalogReloadFailure() {
	globalManager.catalogReloadFailures.Inc()
}

// UpdateCatalogVersion sets the active catalog snapshot version.
func UpdateCatalogVersion(version int) {
	globalManager.catalogVersion.Set(float64(version))
}

// UpdateCatalogCohorts sets the number of cohorts in the active snapshot.
func UpdateCatalogCohorts(count int) {
	globalManager.catalogCohorts.Set(float64(count))
}

// Job metrics functions.

// RecordJobState increments the job counter for a terminal state.
func RecordJobState(state string) {
	globalManager.jobsByState.WithLabelValues(state).Inc()
}

// UpdateJobProgress sets the processed/total ratio of the running job.
func UpdateJobProgress(ratio float64) {
	globalManager.jobProgress.Set(ratio)
}

// RecordJobDuration records batch job duration in seconds.
func RecordJobDuration(seconds float64) {
	globalManager.jobDuration.Observe(seconds)
}

// UpdateChangedVINs sets the change detector output size.
func UpdateChangedVINs(count int) {
	globalManager.changedVINs.Set(float64(count))
}

// RecordDetectorShardFailure increments the failed detector shard counter.
func RecordDetectorShardFailure() {
	globalManager.detectorShardFailures.Inc()
}

// Queue metrics functions.

// UpdateQueueDepth sets the current queue depth.
func UpdateQueueDepth(depth int) {
	globalManager.queueDepth.Set(float64(depth))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordUnitEnqueued increments the enqueue counter.
func RecordUnitEnqueued() {
	globalManager.unitsEnqueued.Inc()
}

// RecordUnitDequeued increments the dequeue counter.
func RecordUnitDequeued() {
	globalManager.unitsDequeued.Inc()
}

// RecordUnitQueueLatency records queued time of a unit in milliseconds.
func RecordUnitQueueLatency(latencyMs float64) {
	globalManager.unitQueueLatency.Observe(latencyMs)
}

// Worker metrics functions.

// UpdateWorkersActive sets the number of running workers.
func UpdateWorkersActive(count int) {
	globalManager.workersActive.Set(float64(count))
}

// UpdateWorkersDesired sets the autoscaler's requested worker count.
func UpdateWorkersDesired(count int) {
	globalManager.workersDesired.Set(float64(count))
}

// RecordUnitLatency records work unit processing latency in milliseconds.
func RecordUnitLatency(latencyMs float64) {
	globalManager.unitLatency.Observe(latencyMs)
}

// RecordUnitRetry increments the retry counter.
func RecordUnitRetry() {
	globalManager.unitRetries.Inc()
}

// RecordUnitDeadLettered increments the dead-letter counter.
func RecordUnitDeadLettered() {
	globalManager.unitsDeadLettered.Inc()
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// Checkpoint metrics functions.

// RecordCheckpointWritten increments the checkpoint counter.
func RecordCheckpointWritten() {
	globalManager.checkpointsWritten.Inc()
}

// RecordCheckpointLatency records checkpoint write latency in milliseconds.
func RecordCheckpointLatency(latencyMs float64) {
	globalManager.checkpointLatency.Observe(latencyMs)
}

// UpdateCheckpointLastUnix sets the timestamp of the most recent checkpoint.
func UpdateCheckpointLastUnix(ts int64) {
	globalManager.checkpointLastUnix.Set(float64(ts))
}

// SLA metrics functions.

// RecordSLAAlert increments the SLA alert counter for an escalation level.
func RecordSLAAlert(level string) {
	globalManager.slaAlerts.WithLabelValues(level).Inc()
}

// UpdateSLADeadlineRisk sets the estimated deadline-miss risk.
func UpdateSLADeadlineRisk(risk float64) {
	globalManager.slaDeadlineRisk.Set(risk)
}

// UpdateSLAETA sets the estimated seconds until completion.
func UpdateSLAETA(seconds float64) {
	globalManager.slaETASeconds.Set(seconds)
}

// HTTP metrics functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System metrics functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
