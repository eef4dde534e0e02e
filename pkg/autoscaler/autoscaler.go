// Package autoscaler implements a periodic-tick worker pool resize
// policy, grounded on BackgroundFlusher's ticker lifecycle
// (pkg/cache/flusher/flusher.go: Start/Stop/run/sweep), generalized from
// "flush idle cache entries on a timer" to "resize a worker pool on a
// timer" — the same ticker-plus-cancel-context shape, a different sweep
// body.
package autoscaler

import (
	"context"
	"sync"
	"time"

	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/pkg/metrics"
)

// Pool is the subset of worker.Pool the autoscaler needs, kept narrow so
// this package doesn't import worker directly (avoids a cycle risk if the
// worker package ever wants autoscaler-derived config).
type Pool interface {
	Count() int
	Busy() int
	QueueDepth() int
	Resize(ctx context.Context, target int)
}

// Config holds the scale-up/scale-down thresholds and cooldown.
type Config struct {
	TickInterval time.Duration

	MinWorkers int
	MaxWorkers int
	Step       int // workers added per scale-up event; default 1 (scale-down always removes one)

	ScaleUpQueueThreshold       int
	ScaleUpUtilizationThreshold float64
	ScaleDownUtilizationThreshold float64

	CooldownSeconds time.Duration
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.Step <= 0 {
		c.Step = 1
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = 1
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 16
	}
	if c.ScaleUpQueueThreshold <= 0 {
		c.ScaleUpQueueThreshold = 10
	}
	if c.ScaleUpUtilizationThreshold <= 0 {
		c.ScaleUpUtilizationThreshold = 0.8
	}
	if c.ScaleDownUtilizationThreshold <= 0 {
		c.ScaleDownUtilizationThreshold = 0.2
	}
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = 30 * time.Second
	}
}

// Autoscaler runs a ticker that resizes pool according to Config. Start
// does not block; Stop waits for the loop goroutine to exit.
type Autoscaler struct {
	pool    Pool
	cfg     Config
	metrics *metrics.Metrics

	mu        sync.Mutex
	lastScale time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Autoscaler. It will not run until Start is called.
func New(pool Pool, cfg Config, m *metrics.Metrics) *Autoscaler {
	cfg.ApplyDefaults()
	return &Autoscaler{pool: pool, cfg: cfg, metrics: m}
}

// Start begins the periodic resize loop.
func (a *Autoscaler) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.run()
}

// Stop cancels the loop and waits for it to exit. It never interrupts an
// in-flight task — Resize shrinking only retires idle workers.
func (a *Autoscaler) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Autoscaler) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Autoscaler) tick() {
	count := a.pool.Count()
	busy := a.pool.Busy()
	depth := a.pool.QueueDepth()

	utilization := 0.0
	if count > 0 {
		utilization = float64(busy) / float64(count)
	}

	a.mu.Lock()
	sinceLastScale := time.Since(a.lastScale)
	a.mu.Unlock()

	switch {
	case (depth >= a.cfg.ScaleUpQueueThreshold || utilization >= a.cfg.ScaleUpUtilizationThreshold) &&
		sinceLastScale >= a.cfg.CooldownSeconds && count < a.cfg.MaxWorkers:
		target := count + a.cfg.Step
		if target > a.cfg.MaxWorkers {
			target = a.cfg.MaxWorkers
		}
		a.resize(target, "up")

	case utilization <= a.cfg.ScaleDownUtilizationThreshold && depth == 0 &&
		sinceLastScale >= a.cfg.CooldownSeconds && count > a.cfg.MinWorkers:
		target := count - 1
		if target < a.cfg.MinWorkers {
			target = a.cfg.MinWorkers
		}
		a.resize(target, "down")

	default:
		// no-op
	}
}

func (a *Autoscaler) resize(target int, direction string) {
	a.pool.Resize(a.ctx, target)
	a.mu.Lock()
	a.lastScale = time.Now()
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.RecordAutoscaleEvent(direction)
	}
	logger.Info("autoscaler: resized worker pool", "direction", direction, "target", target)
}
