package limiter

import (
	"sync"
	"testing"

	"github.com/haulfs/haulfs/pkg/apierr"
)

func TestGlobalCapRefusesExtra(t *testing.T) {
	a := New(Config{MaxGlobalInflight: 2, MaxInflightPerUpload: 10}, 4)

	tok1, err := a.Acquire("u1")
	if err != nil {
		t.Fatal(err)
	}
	tok2, err := a.Acquire("u2")
	if err != nil {
		t.Fatal(err)
	}

	_, err = a.Acquire("u3")
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Code != apierr.Backpressure || apiErr.Reason != "global-full" {
		t.Fatalf("expected global-full backpressure, got %v", err)
	}

	tok1.Release()
	tok2.Release()
	if a.GlobalInflight() != 0 {
		t.Fatalf("expected 0 inflight after release, got %d", a.GlobalInflight())
	}
}

func TestPerUploadCap(t *testing.T) {
	a := New(Config{MaxGlobalInflight: 100, MaxInflightPerUpload: 1}, 4)

	tok, err := a.Acquire("u1")
	if err != nil {
		t.Fatal(err)
	}

	_, err = a.Acquire("u1")
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Reason != "per-upload-full" {
		t.Fatalf("expected per-upload-full backpressure, got %v", err)
	}

	tok.Release()
	if _, err := a.Acquire("u1"); err != nil {
		t.Fatalf("expected admission after release, got %v", err)
	}
}

func TestFairShareOnlyAppliesUnderContention(t *testing.T) {
	// global cap of 10, per-upload cap generous, fair-share of 1: with
	// headroom in the global pool, a single upload may still take 2 slots.
	a := New(Config{MaxGlobalInflight: 10, MaxInflightPerUpload: 10, MaxFairShareInflight: 1}, 4)

	tok1, err := a.Acquire("u1")
	if err != nil {
		t.Fatalf("expected first admission with global headroom, got %v", err)
	}
	tok2, err := a.Acquire("u1")
	if err != nil {
		t.Fatalf("fair-share must not refuse while global has headroom, got %v", err)
	}
	tok1.Release()
	tok2.Release()
}

func TestFairShareRefusesUnderContention(t *testing.T) {
	a := New(Config{MaxGlobalInflight: 3, MaxInflightPerUpload: 10, MaxFairShareInflight: 1}, 4)

	tok1, err := a.Acquire("u1")
	if err != nil {
		t.Fatal(err)
	}
	// A different upload holds one global slot throughout.
	tok2, err := a.Acquire("u2")
	if err != nil {
		t.Fatal(err)
	}
	tok1.Release()

	// Global now holds 1 of 3. The first u1 acquire leaves headroom, so
	// fair-share does not apply; the second would take the last global
	// slot while u1 already holds its fair share of 1, so it is refused.
	tokA, err := a.Acquire("u1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Acquire("u1")
	apiErr := apierr.As(err)
	if apiErr == nil || apiErr.Reason != "fair-share-full" {
		t.Fatalf("expected fair-share-full under contention, got %v", err)
	}

	tokA.Release()
	tok2.Release()
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	a := New(Config{MaxGlobalInflight: 1, MaxInflightPerUpload: 1}, 2)
	tok, err := a.Acquire("u1")
	if err != nil {
		t.Fatal(err)
	}
	tok.Release()
	tok.Release()
	if a.GlobalInflight() != 0 {
		t.Fatalf("double release must not go negative or double-decrement, got %d", a.GlobalInflight())
	}
}

func TestConcurrentAcquireReleaseNeverNegative(t *testing.T) {
	a := New(Config{MaxGlobalInflight: 8, MaxInflightPerUpload: 4, MaxFairShareInflight: 2}, 8)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uploadID := "u1"
			if i%2 == 0 {
				uploadID = "u2"
			}
			tok, err := a.Acquire(uploadID)
			if err != nil {
				return
			}
			tok.Release()
		}(i)
	}
	wg.Wait()

	if a.GlobalInflight() < 0 {
		t.Fatalf("global inflight went negative: %d", a.GlobalInflight())
	}
	if a.GlobalInflight() != 0 {
		t.Fatalf("expected 0 inflight once all goroutines finished, got %d", a.GlobalInflight())
	}
}
