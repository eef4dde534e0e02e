package memory

import (
	"context"
	"testing"
	"time"

	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/upload"
)

func TestCreateAndGetUpload(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := &upload.Upload{ID: "u1", Owner: "alice", FileName: "a.bin", Status: upload.StatusInitiated, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	err := s.WithTransaction(ctx, func(tx metastore.Transaction) error {
		return tx.CreateUpload(ctx, u)
	})
	if err != nil {
		t.Fatal(err)
	}

	var got *upload.Upload
	err = s.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		got, err = tx.GetUpload(ctx, "u1")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Owner != "alice" {
		t.Fatalf("owner = %q, want alice", got.Owner)
	}
}

func TestCASUploadStatusRejectsWrongFrom(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := &upload.Upload{ID: "u1", Status: upload.StatusInitiated, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	_ = s.WithTransaction(ctx, func(tx metastore.Transaction) error { return tx.CreateUpload(ctx, u) })

	var ok bool
	_ = s.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		ok, err = tx.CASUploadStatus(ctx, "u1", []upload.Status{upload.StatusCompleted}, upload.StatusFailed)
		return err
	})
	if ok {
		t.Fatal("CAS should not succeed from a status the row isn't in")
	}

	_ = s.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		ok, err = tx.CASUploadStatus(ctx, "u1", []upload.Status{upload.StatusInitiated}, upload.StatusInProgress)
		return err
	})
	if !ok {
		t.Fatal("CAS should succeed from the row's actual status")
	}
}

func TestMissingChunkIndices(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithTransaction(ctx, func(tx metastore.Transaction) error {
		if _, err := tx.UpsertChunkPending(ctx, "u1", 0, 4); err != nil {
			return err
		}
		ok, err := tx.CASChunkStatus(ctx, "u1", 0, []upload.ChunkStatus{upload.ChunkStatusPending}, upload.ChunkStatusUploaded, &metastore.ChunkUpdate{SizeBytes: 4})
		if err != nil || !ok {
			t.Fatalf("CAS to uploaded failed: ok=%v err=%v", ok, err)
		}
		if _, err := tx.UpsertChunkPending(ctx, "u1", 2, 2); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var missing []int32
	err = s.WithTransaction(ctx, func(tx metastore.Transaction) error {
		var err error
		missing, err = tx.MissingChunkIndices(ctx, "u1", 3)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	// Chunk 2 has a row but is only PENDING, so it still counts as missing.
	if len(missing) != 2 || missing[0] != 1 || missing[1] != 2 {
		t.Fatalf("missing = %v, want [1 2]", missing)
	}
}

func TestListAgedUploads(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := &upload.Upload{ID: "u1", Status: upload.StatusInitiated, CreatedAt: time.Now(), UpdatedAt: time.Now().Add(-time.Hour)}
	fresh := &upload.Upload{ID: "u2", Status: upload.StatusInitiated, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	_ = s.WithTransaction(ctx, func(tx metastore.Transaction) error {
		_ = tx.CreateUpload(ctx, old)
		return tx.CreateUpload(ctx, fresh)
	})

	aged, err := s.ListAgedUploads(ctx, []upload.Status{upload.StatusInitiated}, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(aged) != 1 || aged[0].ID != "u1" {
		t.Fatalf("aged = %v, want [u1]", aged)
	}
}
