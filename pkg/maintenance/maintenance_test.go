package maintenance_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	blobmemory "github.com/haulfs/haulfs/pkg/blobstore/memory"
	"github.com/haulfs/haulfs/pkg/idempotency"
	"github.com/haulfs/haulfs/pkg/maintenance"
	"github.com/haulfs/haulfs/pkg/metastore"
	metamemory "github.com/haulfs/haulfs/pkg/metastore/memory"
	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/upload"
)

func TestRunOnceAbortsStaleUploadsAndRemovesTheirRow(t *testing.T) {
	meta := metamemory.New()
	blobs := blobmemory.New()
	ctx := context.Background()

	require.NoError(t, meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		if err := tx.CreateUpload(ctx, &upload.Upload{
			ID: "stale-1", Owner: "alice", Status: upload.StatusInProgress,
			TotalChunks: 1, UpdatedAt: time.Now().Add(-48 * time.Hour),
		}); err != nil {
			return err
		}
		_, err := tx.UpsertChunkPending(ctx, "stale-1", 0, 4)
		return err
	}))

	job := maintenance.New(meta, blobs, metrics.New(nil), maintenance.Config{
		StaleUploadTTL: time.Hour,
	})

	report := job.RunOnce(ctx)
	require.Equal(t, 1, report.AbortedUploads)
	require.Equal(t, 0, report.Errors)

	getErr := meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		_, err := tx.GetUpload(ctx, "stale-1")
		return err
	})
	require.ErrorIs(t, getErr, metastore.ErrNotFound, "stale upload row should be deleted after abort sweep")
}

func TestRunOnceSkipsFreshUploads(t *testing.T) {
	meta := metamemory.New()
	blobs := blobmemory.New()
	ctx := context.Background()

	require.NoError(t, meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		return tx.CreateUpload(ctx, &upload.Upload{
			ID: "fresh-1", Owner: "alice", Status: upload.StatusInProgress,
			TotalChunks: 1, UpdatedAt: time.Now(),
		})
	}))

	job := maintenance.New(meta, blobs, metrics.New(nil), maintenance.Config{
		StaleUploadTTL: time.Hour,
	})

	report := job.RunOnce(ctx)
	require.Equal(t, 0, report.AbortedUploads)
}

func TestRunOnceGCsExpiredIdempotencyKeys(t *testing.T) {
	meta := metamemory.New()
	blobs := blobmemory.New()
	ctx := context.Background()

	require.NoError(t, meta.WithTransaction(ctx, func(tx metastore.Transaction) error {
		_, _, err := tx.ReserveIdempotency(ctx, idempotency.KindInit, "key-1", idempotency.Fingerprint{}, -time.Hour)
		return err
	}))

	job := maintenance.New(meta, blobs, metrics.New(nil), maintenance.Config{})
	report := job.RunOnce(ctx)
	require.Equal(t, 1, report.GCIdempotency)
}
