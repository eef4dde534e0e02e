package autoscaler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePool struct {
	count  int
	busy   int
	depth  int
	target int
}

func (f *fakePool) Count() int      { return f.count }
func (f *fakePool) Busy() int       { return f.busy }
func (f *fakePool) QueueDepth() int { return f.depth }
func (f *fakePool) Resize(_ context.Context, target int) {
	f.target = target
	f.count = target
}

func TestTickScalesUpOnHighUtilization(t *testing.T) {
	pool := &fakePool{count: 2, busy: 2, depth: 0}
	a := New(pool, Config{MinWorkers: 1, MaxWorkers: 8, Step: 1, ScaleUpUtilizationThreshold: 0.5}, nil)
	a.ctx = context.Background()

	a.tick()

	require.Equal(t, 3, pool.target)
}

func TestTickScalesDownOnLowUtilization(t *testing.T) {
	pool := &fakePool{count: 4, busy: 0, depth: 0}
	a := New(pool, Config{MinWorkers: 1, MaxWorkers: 8, ScaleDownUtilizationThreshold: 0.2}, nil)
	a.ctx = context.Background()

	a.tick()

	require.Equal(t, 3, pool.target)
}

func TestTickRespectsCooldown(t *testing.T) {
	pool := &fakePool{count: 2, busy: 2, depth: 0}
	a := New(pool, Config{MinWorkers: 1, MaxWorkers: 8, Step: 1, ScaleUpUtilizationThreshold: 0.5, CooldownSeconds: time.Hour}, nil)
	a.ctx = context.Background()
	a.lastScale = time.Now()

	a.tick()

	require.Equal(t, 0, pool.target, "cooldown should suppress the scale event")
}

func TestTickNeverExceedsMaxWorkers(t *testing.T) {
	pool := &fakePool{count: 8, busy: 8, depth: 0}
	a := New(pool, Config{MinWorkers: 1, MaxWorkers: 8, Step: 4, ScaleUpUtilizationThreshold: 0.5}, nil)
	a.ctx = context.Background()

	a.tick()

	require.Equal(t, 0, pool.target, "already at max, no resize should fire")
}
