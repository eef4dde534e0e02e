// Package maintenance implements a periodic sweep: stale upload abort,
// idempotency GC, and an optional orphan-blob scan.
// Grounded on two teacher shapes: the ticker-plus-cancel-context lifecycle
// of BackgroundFlusher (pkg/cache/flusher/flusher.go), reused for the
// overall Start/Stop/run loop, and CollectGarbage's scan-then-report
// structure (pkg/payload/transfer/gc.go), generalized from "block has no
// metadata row" to "blob key has no chunk row referencing it".
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/pkg/blobstore"
	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/upload"
)

// Config holds the sweep's thresholds and behavior knobs.
type Config struct {
	TickInterval         time.Duration
	StaleUploadTTL       time.Duration
	IdempotencyGCBatch   int
	StaleUploadBatch     int
	ScanOrphanBlobs      bool
	OrphanScanDryRun     bool
	OrphanScanMaxPerRun  int
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.StaleUploadTTL <= 0 {
		c.StaleUploadTTL = 24 * time.Hour
	}
	if c.IdempotencyGCBatch <= 0 {
		c.IdempotencyGCBatch = 500
	}
	if c.StaleUploadBatch <= 0 {
		c.StaleUploadBatch = 100
	}
	if c.OrphanScanMaxPerRun <= 0 {
		c.OrphanScanMaxPerRun = 10000
	}
}

// Report summarizes one sweep run, returned to both the ticker loop (for
// logging/metrics) and the admin trigger endpoint (as the response body).
type Report struct {
	AbortedUploads int  `json:"aborted_uploads"`
	GCIdempotency  int  `json:"gc_idempotency"`
	BlobsScanned   int  `json:"blobs_scanned"`
	OrphanBlobs    int  `json:"orphan_blobs"`
	OrphanDryRun   bool `json:"orphan_dry_run"`
	Errors         int  `json:"errors"`
}

// Job runs the sweep against a metastore and blobstore.
type Job struct {
	meta    metastore.Store
	blobs   blobstore.Store
	metrics *metrics.Metrics
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Job. It will not run until Start is called.
func New(meta metastore.Store, blobs blobstore.Store, m *metrics.Metrics, cfg Config) *Job {
	cfg.ApplyDefaults()
	return &Job{meta: meta, blobs: blobs, metrics: m, cfg: cfg}
}

// Start begins the periodic sweep loop. It does not block.
func (j *Job) Start(ctx context.Context) {
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go j.run()
}

// Stop cancels the loop, runs one final sweep synchronously (mirroring
// BackgroundFlusher's final-flush-on-shutdown behavior), and waits for the
// loop goroutine to exit.
func (j *Job) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	j.RunOnce(context.Background())
}

func (j *Job) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(j.ctx)
		}
	}
}

// RunOnce executes the sweep synchronously: the same logic the ticker
// loop calls, and what the admin cleanup endpoint invokes directly.
func (j *Job) RunOnce(ctx context.Context) *Report {
	report := &Report{OrphanDryRun: j.cfg.OrphanScanDryRun}

	aborted, err := j.sweepStaleUploads(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "maintenance: stale upload sweep failed", "error", err)
		report.Errors++
	}
	report.AbortedUploads = aborted

	gced, err := j.gcIdempotency(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "maintenance: idempotency GC failed", "error", err)
		report.Errors++
	}
	report.GCIdempotency = gced

	if j.cfg.ScanOrphanBlobs {
		scanned, orphans, err := j.scanOrphanBlobs(ctx)
		if err != nil {
			logger.ErrorCtx(ctx, "maintenance: orphan blob scan failed", "error", err)
			report.Errors++
		}
		report.BlobsScanned = scanned
		report.OrphanBlobs = orphans
	}

	outcome := "success"
	if report.Errors > 0 {
		outcome = "error"
	}
	if j.metrics != nil {
		j.metrics.RecordCleanupRun(outcome, report.AbortedUploads, report.GCIdempotency, report.OrphanBlobs)
	}
	logger.InfoCtx(ctx, "maintenance sweep complete",
		"aborted_uploads", report.AbortedUploads,
		"gc_idempotency", report.GCIdempotency,
		"blobs_scanned", report.BlobsScanned,
		"orphan_blobs", report.OrphanBlobs,
		"dry_run", report.OrphanDryRun,
		"errors", report.Errors)
	return report
}

// sweepStaleUploads transitions INITIATED/IN_PROGRESS uploads idle past
// StaleUploadTTL to ABORTED and best-effort deletes their chunk blobs and
// rows.
func (j *Job) sweepStaleUploads(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.cfg.StaleUploadTTL)
	aged, err := j.meta.ListAgedUploads(ctx, []upload.Status{upload.StatusInitiated, upload.StatusInProgress}, cutoff, j.cfg.StaleUploadBatch)
	if err != nil {
		return 0, fmt.Errorf("maintenance: list aged uploads: %w", err)
	}

	count := 0
	for _, u := range aged {
		var ok bool
		var chunks []*upload.Chunk
		err := j.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
			var err error
			ok, err = tx.CASUploadStatus(ctx, u.ID, []upload.Status{upload.StatusInitiated, upload.StatusInProgress}, upload.StatusAborted)
			if err != nil || !ok {
				return err
			}
			chunks, err = tx.ListChunks(ctx, u.ID)
			return err
		})
		if err != nil {
			logger.WarnCtx(ctx, "maintenance: failed to abort stale upload", "upload_id", u.ID, "error", err)
			continue
		}
		if !ok {
			continue // raced with a concurrent completer/aborter
		}

		for _, c := range chunks {
			if c.StorageKey != "" {
				if err := j.blobs.Delete(ctx, c.StorageKey); err != nil {
					logger.WarnCtx(ctx, "maintenance: failed to delete chunk blob for stale upload", "upload_id", u.ID, "chunk_index", c.Index, "error", err)
				}
			}
		}
		_ = j.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
			return tx.DeleteUpload(ctx, u.ID)
		})
		count++
	}
	return count, nil
}

// gcIdempotency deletes idempotency records past their TTL.
func (j *Job) gcIdempotency(ctx context.Context) (int, error) {
	now := time.Now()
	expired, err := j.meta.ListExpiredIdempotencyKeys(ctx, now, j.cfg.IdempotencyGCBatch)
	if err != nil {
		return 0, fmt.Errorf("maintenance: list expired idempotency keys: %w", err)
	}
	count := 0
	for _, rec := range expired {
		if err := j.meta.DeleteIdempotencyKey(ctx, rec.Kind, rec.Key); err != nil {
			logger.WarnCtx(ctx, "maintenance: failed to delete idempotency record", "kind", rec.Kind, "key", rec.Key, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// scanOrphanBlobs lists every key in the store and deletes (unless
// DryRun) any not referenced by a chunk row. Only runs when the
// configured blobstore.Store also implements blobstore.Lister; skipped
// otherwise, since key enumeration is not part of the core Store contract.
func (j *Job) scanOrphanBlobs(ctx context.Context) (scanned, orphans int, err error) {
	lister, ok := j.blobs.(blobstore.Lister)
	if !ok {
		logger.DebugCtx(ctx, "maintenance: blobstore does not support listing, skipping orphan scan")
		return 0, 0, nil
	}

	keys, err := lister.ListKeys(ctx, "")
	if err != nil {
		return 0, 0, fmt.Errorf("maintenance: list blob keys: %w", err)
	}
	if len(keys) > j.cfg.OrphanScanMaxPerRun {
		logger.WarnCtx(ctx, "maintenance: orphan scan truncated", "total_keys", len(keys), "scanned", j.cfg.OrphanScanMaxPerRun)
		keys = keys[:j.cfg.OrphanScanMaxPerRun]
	}

	for _, key := range keys {
		scanned++
		uploadID, index, ok := parseChunkKey(key)
		if !ok {
			continue
		}
		var c *upload.Chunk
		getErr := j.meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
			var err error
			c, err = tx.GetChunk(ctx, uploadID, index)
			return err
		})
		if getErr == nil && c != nil && c.StorageKey == key {
			continue // referenced
		}
		if getErr != nil && getErr != metastore.ErrNotFound {
			logger.WarnCtx(ctx, "maintenance: orphan check failed", "key", key, "error", getErr)
			continue
		}

		orphans++
		if j.cfg.OrphanScanDryRun {
			continue
		}
		if err := j.blobs.Delete(ctx, key); err != nil {
			logger.WarnCtx(ctx, "maintenance: failed to delete orphan blob", "key", key, "error", err)
		}
	}
	return scanned, orphans, nil
}

// parseChunkKey reverses the "<upload_id>/<index>" key format the worker
// executor writes (pkg/worker/worker.go).
func parseChunkKey(key string) (uploadID string, index int32, ok bool) {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "", 0, false
	}
	uploadID = key[:i]
	var n int
	if _, err := fmt.Sscanf(key[i+1:], "%d", &n); err != nil {
		return "", 0, false
	}
	return uploadID, int32(n), true
}
