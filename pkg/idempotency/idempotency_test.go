package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestReserveFreshThenReplay(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	fp := FingerprintInit("owner", "a.bin", 100, 4, nil)

	outcome, _, err := r.Reserve(ctx, KindInit, "key-1", fp, time.Hour)
	if err != nil || outcome != Fresh {
		t.Fatalf("first reserve = %v, %v, want Fresh", outcome, err)
	}

	if err := r.StoreResult(ctx, KindInit, "key-1", "upload-123"); err != nil {
		t.Fatal(err)
	}

	outcome, rec, err := r.Reserve(ctx, KindInit, "key-1", fp, time.Hour)
	if err != nil || outcome != Replay {
		t.Fatalf("second reserve = %v, %v, want Replay", outcome, err)
	}
	if rec.Result != "upload-123" {
		t.Fatalf("replay result = %q, want upload-123", rec.Result)
	}
}

func TestReserveConflictOnMismatchedFingerprint(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	fp1 := FingerprintInit("owner", "a.bin", 100, 4, nil)
	fp2 := FingerprintInit("owner", "a.bin", 200, 4, nil)

	if _, _, err := r.Reserve(ctx, KindInit, "key-1", fp1, time.Hour); err != nil {
		t.Fatal(err)
	}

	outcome, _, err := r.Reserve(ctx, KindInit, "key-1", fp2, time.Hour)
	if err != nil || outcome != Conflict {
		t.Fatalf("reserve with mismatched fingerprint = %v, %v, want Conflict", outcome, err)
	}
}

func TestReserveNoKeyBypasses(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	fp := FingerprintInit("owner", "a.bin", 100, 4, nil)

	outcome, _, err := r.Reserve(ctx, KindInit, "", fp, time.Hour)
	if err != nil || outcome != Fresh {
		t.Fatalf("empty key reserve = %v, %v, want Fresh", outcome, err)
	}
	outcome, _, err = r.Reserve(ctx, KindInit, "", fp, time.Hour)
	if err != nil || outcome != Fresh {
		t.Fatalf("second empty key reserve = %v, %v, want Fresh every time", outcome, err)
	}
}

func TestGCRemovesExpired(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	fp := FingerprintChunk("upload-1", 0, []byte("hash"))

	if _, _, err := r.Reserve(ctx, KindChunk, "c0", fp, time.Nanosecond); err != nil {
		t.Fatal(err)
	}

	removed, err := r.GC(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("GC removed %d, want 1", removed)
	}
}
