package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/config"
	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/pkg/maintenance"
	"github.com/haulfs/haulfs/pkg/metrics"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one maintenance sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		ctx, cancel := appContext()
		defer cancel()

		meta, err := buildMetastore(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("build metastore: %w", err)
		}
		blobs, _, err := buildBlobstore(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("build blobstore: %w", err)
		}

		m := metrics.New(nil)
		job := maintenance.New(meta, blobs, m, maintenance.Config{
			TickInterval:        cfg.Maintenance.TickInterval,
			StaleUploadTTL:      cfg.Maintenance.StaleUploadTTL,
			IdempotencyGCBatch:  cfg.Maintenance.IdempotencyGCBatch,
			StaleUploadBatch:    cfg.Maintenance.StaleUploadBatch,
			ScanOrphanBlobs:     cfg.Maintenance.ScanOrphanBlobs,
			OrphanScanDryRun:    cfg.Maintenance.OrphanScanDryRun,
			OrphanScanMaxPerRun: cfg.Maintenance.OrphanScanMaxPerRun,
		})

		report := job.RunOnce(ctx)
		fmt.Printf("aborted_uploads=%d gc_idempotency=%d blobs_scanned=%d orphan_blobs=%d errors=%d\n",
			report.AbortedUploads, report.GCIdempotency, report.BlobsScanned, report.OrphanBlobs, report.Errors)
		return nil
	},
}
