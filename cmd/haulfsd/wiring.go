package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	goredis "github.com/redis/go-redis/v9"

	"github.com/haulfs/haulfs/internal/config"
	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/pkg/blobstore"
	blobfs "github.com/haulfs/haulfs/pkg/blobstore/fs"
	blobmemory "github.com/haulfs/haulfs/pkg/blobstore/memory"
	blobs3 "github.com/haulfs/haulfs/pkg/blobstore/s3"
	"github.com/haulfs/haulfs/pkg/metastore"
	metamemory "github.com/haulfs/haulfs/pkg/metastore/memory"
	metapostgres "github.com/haulfs/haulfs/pkg/metastore/postgres"
	"github.com/haulfs/haulfs/pkg/queue"
	queueredis "github.com/haulfs/haulfs/pkg/queue/redis"
	queuesqs "github.com/haulfs/haulfs/pkg/queue/sqs"
)

// buildMetastore selects the metastore backend named by cfg.Driver,
// grounded on pkg/metadata/store's driver-selection switch.
func buildMetastore(ctx context.Context, cfg config.DatabaseConfig) (metastore.Store, error) {
	switch cfg.Driver {
	case "memory":
		return metamemory.New(), nil
	case "postgres":
		pgCfg := &metapostgres.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			Database:    cfg.Database,
			User:        cfg.User,
			Password:    cfg.Password,
			SSLMode:     cfg.SSLMode,
			MaxConns:    cfg.MaxConns,
			MinConns:    cfg.MinConns,
			QueryTimeout: cfg.QueryTimeout,
			AutoMigrate: cfg.AutoMigrate,
		}
		return metapostgres.New(ctx, pgCfg, logger.With("component", "metastore"))
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// buildBlobstore selects the blobstore backend named by cfg.Backend. The
// returned Multipart is non-nil only for s3; memory and fs are used
// without a multipart session.
func buildBlobstore(ctx context.Context, cfg config.StorageConfig) (blobstore.Store, blobstore.Multipart, error) {
	switch cfg.Backend {
	case "memory":
		// No Multipart: the in-memory store's per-chunk object keys would
		// never get written otherwise, since Commit only populates the
		// single handle-keyed object (see pkg/blobstore/memory).
		return blobmemory.New(), nil, nil
	case "fs":
		s, err := blobfs.New(blobfs.DefaultConfig(cfg.FSBasePath))
		if err != nil {
			return nil, nil, fmt.Errorf("blobstore/fs: %w", err)
		}
		return s, nil, nil
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return nil, nil, fmt.Errorf("blobstore/s3: load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		s := blobs3.New(client, cfg.S3Bucket, cfg.S3Prefix, blobs3.RetryConfig{})
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildQueue selects the durable queue backend named by cfg.Backend, nil
// when Backend is "memory" (the direct in-process worker pool is used
// instead; see pkg/worker.NewDirect).
func buildQueue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, error) {
	switch cfg.Backend {
	case "memory":
		return nil, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		key := cfg.RedisKey
		if key == "" {
			key = "haulfs:chunk-tasks"
		}
		return queueredis.New(client, key), nil
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue/sqs: load AWS config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg)
		return queuesqs.New(client, cfg.SQSQueueURL, int32(cfg.SQSVisibilityTimeout.Seconds())), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
