package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/api"
	"github.com/haulfs/haulfs/internal/api/middleware"
	"github.com/haulfs/haulfs/internal/buildinfo"
	"github.com/haulfs/haulfs/internal/config"
	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/internal/telemetry"
	"github.com/haulfs/haulfs/pkg/autoscaler"
	"github.com/haulfs/haulfs/pkg/download"
	"github.com/haulfs/haulfs/pkg/limiter"
	"github.com/haulfs/haulfs/pkg/maintenance"
	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/queue"
	"github.com/haulfs/haulfs/pkg/service"
	"github.com/haulfs/haulfs/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the haulfsd HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.With("component", "serve")

	ctx, cancel := appContext()
	defer cancel()

	info := buildinfo.Get()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "haulfsd",
		ServiceVersion: info.Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(ctx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	shutdownProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "haulfsd",
		ServiceVersion: info.Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("init profiling: %w", err)
	}
	defer func() {
		if err := shutdownProfiling(); err != nil {
			log.Error("profiling shutdown failed", "error", err)
		}
	}()

	meta, err := buildMetastore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("build metastore: %w", err)
	}
	blobs, multipart, err := buildBlobstore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("build blobstore: %w", err)
	}
	q, err := buildQueue(ctx, cfg.Queue)
	if err != nil {
		return fmt.Errorf("build queue: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	lim := limiter.New(limiter.Config{
		MaxGlobalInflight:    cfg.Limiter.MaxGlobalInflight,
		MaxInflightPerUpload: cfg.Limiter.MaxInflightPerUpload,
		MaxFairShareInflight: cfg.Limiter.MaxFairShareInflight,
	}, cfg.Worker.InitialCount)

	executor := &worker.Executor{Meta: meta, Blobs: blobs, Multipart: multipart}
	completion := worker.NewCompletionRegistry()

	var pool *worker.Pool
	durable := q != nil
	if durable {
		pool = worker.NewDurable(executor, q, completion, m, cfg.Worker.MaxRetries)
	} else {
		pool = worker.NewDirect(executor, completion, m, cfg.Queue.MaxSize, cfg.Worker.MaxRetries)
	}
	pool.Start(ctx, cfg.Worker.InitialCount)

	enqueueFn := buildEnqueue(pool, q, durable)

	var asc *autoscaler.Autoscaler
	if cfg.Autoscaler.Enabled {
		asc = autoscaler.New(pool, autoscaler.Config{
			TickInterval:                  cfg.Autoscaler.TickInterval,
			MinWorkers:                    cfg.Autoscaler.MinWorkers,
			MaxWorkers:                    cfg.Autoscaler.MaxWorkers,
			Step:                          cfg.Autoscaler.Step,
			ScaleUpQueueThreshold:         cfg.Autoscaler.ScaleUpQueueThreshold,
			ScaleUpUtilizationThreshold:   cfg.Autoscaler.ScaleUpUtilizationThreshold,
			ScaleDownUtilizationThreshold: cfg.Autoscaler.ScaleDownUtilizationThreshold,
			CooldownSeconds:               cfg.Autoscaler.CooldownSeconds,
		}, m)
		asc.Start(ctx)
	}

	maintJob := maintenance.New(meta, blobs, m, maintenance.Config{
		TickInterval:        cfg.Maintenance.TickInterval,
		StaleUploadTTL:      cfg.Maintenance.StaleUploadTTL,
		IdempotencyGCBatch:  cfg.Maintenance.IdempotencyGCBatch,
		StaleUploadBatch:    cfg.Maintenance.StaleUploadBatch,
		ScanOrphanBlobs:     cfg.Maintenance.ScanOrphanBlobs,
		OrphanScanDryRun:    cfg.Maintenance.OrphanScanDryRun,
		OrphanScanMaxPerRun: cfg.Maintenance.OrphanScanMaxPerRun,
	})
	maintJob.Start(ctx)

	svc := service.New(meta, blobs, multipart, lim, pool, completion, enqueueFn, m, service.Config{
		DefaultChunkSizeBytes: cfg.Upload.DefaultChunkSizeBytes,
		MaxChunkSizeBytes:     cfg.Upload.MaxChunkSizeBytes,
		MaxRetries:            cfg.Worker.MaxRetries,
		QueueTaskTimeout:      cfg.Worker.QueueTaskTimeout,
		IdempotencyTTL:        cfg.Upload.IdempotencyTTL,
		StagingDir:            cfg.Worker.StagingDir,
		Durable:               durable,
	})

	assembler := &download.Assembler{Meta: meta, Blobs: blobs}
	auth := middleware.NewAuthenticator(cfg.Auth.JWTSigningKey, cfg.Auth.AdminPrincipals)

	srv := api.NewServer(cfg.Server.Addr, api.Deps{
		Service:     svc,
		Assembler:   assembler,
		Maintenance: maintJob,
		Meta:        meta,
		Metrics:     m,
		Auth:        auth,
	})

	log.Info("starting haulfsd", "addr", cfg.Server.Addr, "version", info.Version, "database", cfg.Database.Driver, "storage", cfg.Storage.Backend, "queue", cfg.Queue.Backend)

	serveErr := srv.Start(ctx, cfg.Server.ShutdownTimeout)

	maintJob.Stop()
	if asc != nil {
		asc.Stop()
	}

	if serveErr != nil {
		return fmt.Errorf("server: %w", serveErr)
	}
	return nil
}

// buildEnqueue returns the callback service.New uses to hand off an
// admitted chunk task: a direct in-process Submit when no queue backend is
// configured, or q.Enqueue against the durable queue's wire shape
// otherwise.
func buildEnqueue(pool *worker.Pool, q queue.Queue, durable bool) func(ctx context.Context, t worker.Task) error {
	return func(ctx context.Context, t worker.Task) error {
		if !durable {
			return pool.Submit(t)
		}
		return q.Enqueue(ctx, t.ToQueueTask())
	}
}
