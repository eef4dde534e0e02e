package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/queue"
)

// pollTimeout bounds how long a single worker iteration waits for a task
// before re-checking its stop channel, so Resize shrinking is responsive.
const pollTimeout = 2 * time.Second

// Pool is a resizable set of executors. In direct mode it drains an
// internal buffered channel that Submit feeds; in durable mode each
// worker polls a queue.Queue and Ack/Nacks based on the executor's
// verdict. Both modes funnel into the same Executor.Execute, so external-
// queue consumer loops re-inject into the same execution path as
// in-process submission.
type Pool struct {
	executor   *Executor
	completion *CompletionRegistry
	metrics    *metrics.Metrics
	maxRetries int32

	q     queue.Queue  // nil in direct mode
	tasks chan Task    // nil in durable mode

	mu      sync.Mutex
	stopChs []chan struct{}
	busy    int32
}

// NewDirect constructs a Pool that executes tasks submitted in-process via
// Submit, bounded by queueSize.
func NewDirect(executor *Executor, completion *CompletionRegistry, m *metrics.Metrics, queueSize int, maxRetries int32) *Pool {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Pool{
		executor:   executor,
		completion: completion,
		metrics:    m,
		maxRetries: maxRetries,
		tasks:      make(chan Task, queueSize),
	}
}

// NewDurable constructs a Pool whose workers consume from q instead of an
// internal channel.
func NewDurable(executor *Executor, q queue.Queue, completion *CompletionRegistry, m *metrics.Metrics, maxRetries int32) *Pool {
	return &Pool{
		executor:   executor,
		completion: completion,
		metrics:    m,
		maxRetries: maxRetries,
		q:          q,
	}
}

// Submit hands a task to the pool's internal channel. Only valid in direct
// mode; returns queue.ErrFull if the buffer has no room (the acceptance
// path's "queue-full" refusal).
func (p *Pool) Submit(task Task) error {
	select {
	case p.tasks <- task:
		return nil
	default:
		return queue.ErrFull
	}
}

// Start launches n workers.
func (p *Pool) Start(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		p.addWorker(ctx)
	}
}

// Resize grows or shrinks the pool to target workers, called by the
// autoscaler. Shrinking closes the newest worker's stop channel, which it
// observes between tasks — an in-flight Execute call always runs to
// completion and is never canceled mid-task.
func (p *Pool) Resize(ctx context.Context, target int) {
	p.mu.Lock()
	current := len(p.stopChs)
	p.mu.Unlock()

	for current < target {
		p.addWorker(ctx)
		current++
	}
	for current > target {
		p.removeWorker()
		current--
	}
	if p.metrics != nil {
		p.metrics.SetWorkerCount(target)
	}
}

// Count returns the current worker count.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stopChs)
}

// Busy returns the current number of workers mid-Execute, for the
// autoscaler's utilization calculation.
func (p *Pool) Busy() int {
	return int(atomic.LoadInt32(&p.busy))
}

// QueueDepth reports the pool's own notion of backlog: the direct-mode
// channel length, or 0 in durable mode (where depth is read from the
// queue backend directly by the caller).
func (p *Pool) QueueDepth() int {
	if p.tasks == nil {
		return 0
	}
	return len(p.tasks)
}

func (p *Pool) addWorker(ctx context.Context) {
	stop := make(chan struct{})
	p.mu.Lock()
	p.stopChs = append(p.stopChs, stop)
	p.mu.Unlock()
	go p.run(ctx, stop)
}

func (p *Pool) removeWorker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stopChs) == 0 {
		return
	}
	last := p.stopChs[len(p.stopChs)-1]
	p.stopChs = p.stopChs[:len(p.stopChs)-1]
	close(last)
}

func (p *Pool) run(ctx context.Context, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, ok := p.next(ctx)
		if !ok {
			continue
		}

		atomic.AddInt32(&p.busy, 1)
		result := p.executor.Execute(ctx, task)
		atomic.AddInt32(&p.busy, -1)

		p.handleResult(ctx, task, result)
	}
}

func (p *Pool) next(ctx context.Context) (Task, bool) {
	if p.q != nil {
		qt, err := p.q.Dequeue(ctx, pollTimeout)
		if err != nil {
			return Task{}, false
		}
		return fromQueueTask(qt), true
	}

	select {
	case t := <-p.tasks:
		return t, true
	case <-time.After(pollTimeout):
		return Task{}, false
	case <-ctx.Done():
		return Task{}, false
	}
}

func (p *Pool) handleResult(ctx context.Context, task Task, result Result) {
	switch result.Outcome {
	case Success:
		if task.Token != nil {
			task.Token.Release()
		}
		if p.q != nil {
			_ = p.q.Ack(ctx, task.toQueueTask())
		}
		p.metrics.RecordChunkWrite("success", "", 0)
		p.completion.Complete(task.ID, result)

	case TransientFailure:
		if task.RetryCount < p.maxRetries {
			task.RetryCount++
			p.metrics.RecordChunkRetry()
			p.resubmit(ctx, task)
			return
		}
		p.executor.MarkFailed(ctx, task)
		p.terminalFailure(ctx, task, result)

	case PermanentFailure:
		p.terminalFailure(ctx, task, result)
	}
}

// resubmit re-injects a task for another attempt: re-enqueue via nack in
// durable mode, or push back onto the local channel in direct mode.
// Re-submission happens immediately, with no backoff delay.
func (p *Pool) resubmit(ctx context.Context, task Task) {
	if p.q != nil {
		_ = p.q.Nack(ctx, task.toQueueTask())
		return
	}
	if err := p.Submit(task); err != nil {
		// Local queue has no room for the retry; treat as exhausted rather
		// than silently dropping the task.
		p.executor.MarkFailed(ctx, task)
		p.terminalFailure(ctx, task, Result{Outcome: PermanentFailure, Err: err})
	}
}

func (p *Pool) terminalFailure(ctx context.Context, task Task, result Result) {
	if task.Token != nil {
		task.Token.Release()
	}
	if p.q != nil {
		_ = p.q.Ack(ctx, task.toQueueTask()) // terminal: no redelivery
	}
	p.metrics.RecordChunkWrite("failed", "", 0)
	p.completion.Complete(task.ID, result)
}

// FromQueueTask converts a durable queue.Task back into a worker.Task.
func FromQueueTask(t queue.Task) Task {
	return fromQueueTask(t)
}

func fromQueueTask(t queue.Task) Task {
	return Task{
		ID:            t.ID,
		UploadID:      t.UploadID,
		ChunkIndex:    t.ChunkIndex,
		StagingPath:   t.StagingPath,
		ExpectedSHA256: t.Checksum,
		RetryCount:    t.RetryCount,
		ReceiptHandle: t.ReceiptHandle,
	}
}

// ToQueueTask converts a worker.Task into the durable queue's wire shape.
func (t Task) ToQueueTask() queue.Task {
	return t.toQueueTask()
}

func (t Task) toQueueTask() queue.Task {
	return queue.Task{
		ID:            t.ID,
		UploadID:      t.UploadID,
		ChunkIndex:    t.ChunkIndex,
		StagingPath:   t.StagingPath,
		Checksum:      t.ExpectedSHA256,
		RetryCount:    t.RetryCount,
		ReceiptHandle: t.ReceiptHandle,
	}
}
