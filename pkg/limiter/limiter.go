// Package limiter implements three-tier admission control: a global
// inflight cap, a per-upload inflight cap, and a fair-share cap applied
// only while the global pool is under contention.
//
// It is grounded on the buffered-channel admission semaphore
// (TransferManager.uploadSem) and the per-file state map guarded by its own
// mutex (fileUploadState / uploadsMu) in
// pkg/payload/transfer/manager.go, generalized from a single global
// semaphore into the three independent, strictly-ordered counters §4.4
// requires.
package limiter

import (
	"sync"

	"github.com/haulfs/haulfs/pkg/apierr"
)

// Config holds the three caps. FairShare of 0 means "auto":
// max(1, workerCount/2), computed from the workerCount given to New and
// recomputed only when SetWorkerCount is called.
type Config struct {
	MaxGlobalInflight       int
	MaxInflightPerUpload    int
	MaxFairShareInflight    int // 0 = auto
}

// Admission tracks inflight chunk-write tasks and decides whether a new
// one may be admitted.
type Admission struct {
	mu sync.Mutex

	maxGlobal    int
	maxPerUpload int
	fairShare    int // resolved value (never 0 once set)
	fairShareSet bool

	globalInflight int
	perUpload      map[string]int
}

// New constructs an Admission controller. workerCount seeds the "auto"
// fair-share resolution when cfg.MaxFairShareInflight is 0.
func New(cfg Config, workerCount int) *Admission {
	a := &Admission{
		maxGlobal:    cfg.MaxGlobalInflight,
		maxPerUpload: cfg.MaxInflightPerUpload,
		perUpload:    make(map[string]int),
	}
	a.setFairShare(cfg.MaxFairShareInflight, workerCount)
	return a
}

func (a *Admission) setFairShare(configured, workerCount int) {
	if configured > 0 {
		a.fairShare = configured
		return
	}
	fs := workerCount / 2
	if fs < 1 {
		fs = 1
	}
	a.fairShare = fs
}

// SetWorkerCount recomputes the auto fair-share cap for a new pool size.
// The autoscaler does not call it, so pool resizes leave the cap as it
// was. It is a no-op if the fair-share cap was explicitly configured.
func (a *Admission) SetWorkerCount(workerCount int, explicitFairShare int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setFairShare(explicitFairShare, workerCount)
}

// Token represents one admitted slot. Release must be called exactly once,
// on every terminal outcome (success, permanent failure, or cancellation);
// double-release is a programming error and is guarded against.
type Token struct {
	a        *Admission
	uploadID string
	released bool
	mu       sync.Mutex
}

// Acquire attempts to admit one task for uploadID, in the strict order
// global -> per-upload -> fair-share. On refusal at any stage, slots
// acquired in earlier stages are released in reverse order before
// returning a typed Backpressure error naming the refusing stage.
func (a *Admission) Acquire(uploadID string) (*Token, error) {
	a.mu.Lock()

	if a.globalInflight >= a.maxGlobal {
		a.mu.Unlock()
		return nil, apierr.New(apierr.Backpressure, "global inflight cap reached").WithReason("global-full")
	}
	a.globalInflight++

	if a.perUpload[uploadID] >= a.maxPerUpload {
		a.globalInflight--
		a.mu.Unlock()
		return nil, apierr.New(apierr.Backpressure, "per-upload inflight cap reached").WithReason("per-upload-full")
	}
	a.perUpload[uploadID]++

	// Fair-share only applies under global contention: if the global pool
	// still has headroom after this admission, fair-share never refuses.
	underContention := a.globalInflight >= a.maxGlobal
	if underContention && a.perUpload[uploadID] > a.fairShare {
		a.perUpload[uploadID]--
		a.globalInflight--
		a.mu.Unlock()
		return nil, apierr.New(apierr.Backpressure, "fair-share cap reached for this upload").WithReason("fair-share-full")
	}

	a.mu.Unlock()
	return &Token{a: a, uploadID: uploadID}, nil
}

// Release returns the token's slot to the pool. Safe to call concurrently;
// calling it more than once on the same token is a no-op after the first.
func (t *Token) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.released = true

	t.a.mu.Lock()
	defer t.a.mu.Unlock()

	if t.a.perUpload[t.uploadID] > 0 {
		t.a.perUpload[t.uploadID]--
		if t.a.perUpload[t.uploadID] == 0 {
			delete(t.a.perUpload, t.uploadID)
		}
	}
	if t.a.globalInflight > 0 {
		t.a.globalInflight--
	}
}

// GlobalInflight returns the current global inflight count, for metrics.
func (a *Admission) GlobalInflight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.globalInflight
}

// PerUploadInflight returns the current inflight count for uploadID.
func (a *Admission) PerUploadInflight(uploadID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perUpload[uploadID]
}
