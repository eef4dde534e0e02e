// Package metrics wires Prometheus collectors for upload, chunk-write,
// autoscale, download, and cleanup events. Grounded on
// pkg/metrics/prometheus/{badger,cache,s3}.go: promauto.With(reg).New*Vec
// constructors returning nil-safe wrapper structs so a caller can pass a
// nil *Metrics when the registry is not initialized and pay zero overhead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the full set of collectors for the transfer service. A nil
// *Metrics is valid everywhere: every method below guards on it and is a
// no-op when the registry was never initialized.
type Metrics struct {
	uploadsTotal     *prometheus.CounterVec
	uploadDuration   *prometheus.HistogramVec
	chunkWritesTotal *prometheus.CounterVec
	chunkWriteBytes  *prometheus.HistogramVec
	chunkRetries     prometheus.Counter

	admissionRefusals *prometheus.CounterVec
	globalInflight    prometheus.Gauge
	perUploadInflight *prometheus.GaugeVec

	workerCount      prometheus.Gauge
	autoscaleEvents  *prometheus.CounterVec
	queueDepth       prometheus.Gauge

	downloadRequestsTotal *prometheus.CounterVec
	downloadBytes         prometheus.Counter

	cleanupRunsTotal   *prometheus.CounterVec
	cleanupAbortedRows prometheus.Counter
	cleanupGCKeys      prometheus.Counter
	cleanupGCBlobs     prometheus.Counter
}

// New builds a Metrics instance registered against reg. Pass nil to get a
// Metrics that is safe to use but records nothing, instead of a nil
// pointer, so callers that always hold an instance (rather than an
// optional one threaded through constructors) don't need their own guard.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		uploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "haulfs_uploads_total",
			Help: "Total uploads by terminal outcome (completed, failed, aborted).",
		}, []string{"outcome"}),
		uploadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haulfs_upload_duration_seconds",
			Help:    "Wall-clock duration from init to terminal status.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"outcome"}),
		chunkWritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "haulfs_chunk_writes_total",
			Help: "Total chunk write attempts by outcome (success, retry, failed).",
		}, []string{"outcome"}),
		chunkWriteBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "haulfs_chunk_write_bytes",
			Help:    "Distribution of chunk sizes written to the storage backend.",
			Buckets: prometheus.ExponentialBuckets(4096, 4, 10),
		}, []string{"backend"}),
		chunkRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "haulfs_chunk_retries_total",
			Help: "Total chunk write retries issued by the worker pool.",
		}),

		admissionRefusals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "haulfs_admission_refusals_total",
			Help: "Total admission refusals by stage (global-full, per-upload-full, fair-share-full).",
		}, []string{"stage"}),
		globalInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "haulfs_global_inflight",
			Help: "Current globally inflight chunk-write tasks.",
		}),
		perUploadInflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "haulfs_per_upload_inflight",
			Help: "Current inflight chunk-write tasks for one upload.",
		}, []string{"upload_id"}),

		workerCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "haulfs_worker_count",
			Help: "Current size of the chunk-write worker pool.",
		}),
		autoscaleEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "haulfs_autoscale_events_total",
			Help: "Total autoscaler resize decisions by direction (up, down).",
		}, []string{"direction"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "haulfs_queue_depth",
			Help: "Approximate depth of the durable chunk-write queue.",
		}),

		downloadRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "haulfs_download_requests_total",
			Help: "Total download requests by outcome (full, range, error).",
		}, []string{"outcome"}),
		downloadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "haulfs_download_bytes_total",
			Help: "Total bytes streamed to download clients.",
		}),

		cleanupRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "haulfs_cleanup_runs_total",
			Help: "Total maintenance sweep runs by outcome (success, error).",
		}, []string{"outcome"}),
		cleanupAbortedRows: f.NewCounter(prometheus.CounterOpts{
			Name: "haulfs_cleanup_aborted_uploads_total",
			Help: "Total stale uploads transitioned to ABORTED by the sweep.",
		}),
		cleanupGCKeys: f.NewCounter(prometheus.CounterOpts{
			Name: "haulfs_cleanup_gc_idempotency_keys_total",
			Help: "Total expired idempotency records deleted by GC.",
		}),
		cleanupGCBlobs: f.NewCounter(prometheus.CounterOpts{
			Name: "haulfs_cleanup_gc_orphan_blobs_total",
			Help: "Total orphaned blobs deleted by GC.",
		}),
	}
}

func (m *Metrics) RecordUploadOutcome(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	m.uploadDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordChunkWrite(outcome, backend string, bytes int64) {
	if m == nil {
		return
	}
	m.chunkWritesTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.chunkWriteBytes.WithLabelValues(backend).Observe(float64(bytes))
	}
}

func (m *Metrics) RecordChunkRetry() {
	if m == nil {
		return
	}
	m.chunkRetries.Inc()
}

func (m *Metrics) RecordAdmissionRefusal(stage string) {
	if m == nil {
		return
	}
	m.admissionRefusals.WithLabelValues(stage).Inc()
}

func (m *Metrics) SetGlobalInflight(n int) {
	if m == nil {
		return
	}
	m.globalInflight.Set(float64(n))
}

func (m *Metrics) SetPerUploadInflight(uploadID string, n int) {
	if m == nil {
		return
	}
	m.perUploadInflight.WithLabelValues(uploadID).Set(float64(n))
}

func (m *Metrics) SetWorkerCount(n int) {
	if m == nil {
		return
	}
	m.workerCount.Set(float64(n))
}

func (m *Metrics) RecordAutoscaleEvent(direction string) {
	if m == nil {
		return
	}
	m.autoscaleEvents.WithLabelValues(direction).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) RecordDownload(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.downloadRequestsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.downloadBytes.Add(float64(bytes))
	}
}

func (m *Metrics) RecordCleanupRun(outcome string, abortedUploads, gcKeys, gcBlobs int) {
	if m == nil {
		return
	}
	m.cleanupRunsTotal.WithLabelValues(outcome).Inc()
	m.cleanupAbortedRows.Add(float64(abortedUploads))
	m.cleanupGCKeys.Add(float64(gcKeys))
	m.cleanupGCBlobs.Add(float64(gcBlobs))
}
