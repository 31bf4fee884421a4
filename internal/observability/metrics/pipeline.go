// Package metrics provides ingestion pipeline metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the ingestion pipeline
type PipelineMetrics struct {
	registry *prometheus.Registry

	// Discovery metrics
	filesDiscoveredTotal prometheus.Counter
	filesSkippedTotal    *prometheus.CounterVec

	// Stage metrics
	stageProcessedTotal *prometheus.CounterVec
	stageDuration       *prometheus.HistogramVec
	stageRetriesTotal   *prometheus.CounterVec

	// Queue metrics
	queueDepthGauge    *prometheus.GaugeVec
	queueCapacityGauge *prometheus.GaugeVec
	inFlightGauge      *prometheus.GaugeVec

	// Scan run metrics
	scanRunsTotal   *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	barrierDuration *prometheus.HistogramVec

	// Artifact metrics
	artifactsWrittenTotal *prometheus.CounterVec
	artifactBytesTotal    *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewPipelineMetrics creates and registers new pipeline metrics
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *PipelineMetrics) initMetrics() {
	m.filesDiscoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_files_discovered_total",
		Help: "Total number of files discovered by scans",
	})

	m.filesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_files_skipped_total",
			Help: "Total number of files skipped during discovery",
		},
		[]string{"reason"}, // reason: unchanged, unsupported, hidden
	)

	m.stageProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_processed_total",
			Help: "Total number of ledger items processed per stage",
		},
		[]string{"stage", "status"}, // status: done, failed, skipped
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time taken to process one item in a stage",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount20), // 1ms to ~9min
		},
		[]string{"stage"},
	)

	m.stageRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_retries_total",
			Help: "Total number of retries per stage",
		},
		[]string{"stage"},
	)

	m.queueDepthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Current number of items waiting in a stage queue",
	}, []string{"stage"})

	m.queueCapacityGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_capacity",
		Help: "Configured capacity of a stage queue",
	}, []string{"stage"})

	m.inFlightGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_stage_in_flight",
		Help: "Current number of items being processed by a stage",
	}, []string{"stage"})

	m.scanRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_scan_runs_total",
			Help: "Total number of scan runs",
		},
		[]string{"status"}, // status: completed, cancelled, failed
	)

	m.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_scan_duration_seconds",
		Help:    "Wall-clock duration of completed scan runs",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount20), // 100ms to ~29h
	})

	m.barrierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_barrier_duration_seconds",
			Help:    "Time taken by batch recomputation passes",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount15), // 10ms to ~5min
		},
		[]string{"kind"}, // kind: events, duplicates, recluster
	)

	m.artifactsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_artifacts_written_total",
			Help: "Total number of derived artifacts written",
		},
		[]string{"kind"}, // kind: thumbnail, face_crop, motion_video
	)

	m.artifactBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_artifact_bytes_total",
			Help: "Total bytes of derived artifacts written",
		},
		[]string{"kind"},
	)

	m.collectors = []prometheus.Collector{
		m.filesDiscoveredTotal,
		m.filesSkippedTotal,
		m.stageProcessedTotal,
		m.stageDuration,
		m.stageRetriesTotal,
		m.queueDepthGauge,
		m.queueCapacityGauge,
		m.inFlightGauge,
		m.scanRunsTotal,
		m.scanDuration,
		m.barrierDuration,
		m.artifactsWrittenTotal,
		m.artifactBytesTotal,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordFileDiscovered increments the discovered files counter
func (m *PipelineMetrics) RecordFileDiscovered() {
	m.filesDiscoveredTotal.Inc()
}

// RecordFileSkipped records a file skipped during discovery
func (m *PipelineMetrics) RecordFileSkipped(reason string) {
	m.filesSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordStageProcessed records a ledger item finishing a stage
func (m *PipelineMetrics) RecordStageProcessed(stage, status string) {
	m.stageProcessedTotal.WithLabelValues(stage, status).Inc()
}

// RecordStageDuration records how long one item took in a stage
func (m *PipelineMetrics) RecordStageDuration(stage string, seconds float64) {
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordStageRetry records a retry in a stage
func (m *PipelineMetrics) RecordStageRetry(stage string) {
	m.stageRetriesTotal.WithLabelValues(stage).Inc()
}

// UpdateQueueDepth sets the current depth of a stage queue
func (m *PipelineMetrics) UpdateQueueDepth(stage string, depth int) {
	m.queueDepthGauge.WithLabelValues(stage).Set(float64(depth))
}

// UpdateQueueCapacity sets the configured capacity of a stage queue
func (m *PipelineMetrics) UpdateQueueCapacity(stage string, capacity int) {
	m.queueCapacityGauge.WithLabelValues(stage).Set(float64(capacity))
}

// UpdateInFlight sets the number of items a stage is currently processing
func (m *PipelineMetrics) UpdateInFlight(stage string, count int) {
	m.inFlightGauge.WithLabelValues(stage).Set(float64(count))
}

// RecordScanRun records a finished scan run
func (m *PipelineMetrics) RecordScanRun(status string, durationSeconds float64) {
	m.scanRunsTotal.WithLabelValues(status).Inc()
	if status == "completed" {
		m.scanDuration.Observe(durationSeconds)
	}
}

// RecordBarrierDuration records the duration of a barrier computation
func (m *PipelineMetrics) RecordBarrierDuration(kind string, seconds float64) {
	m.barrierDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordArtifactWritten records a derived artifact write
func (m *PipelineMetrics) RecordArtifactWritten(kind string, sizeBytes int64) {
	m.artifactsWrittenTotal.WithLabelValues(kind).Inc()
	m.artifactBytesTotal.WithLabelValues(kind).Add(float64(sizeBytes))
}
