package pool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when work is submitted after Close.
	ErrClosed = errors.New("pool: closed")
	// ErrPanicked is reported through OnError when a job panics.
	ErrPanicked = errors.New("pool: job panicked")
)

// Job is one unit of work scheduled on the shared pool.
type Job struct {
	// Name identifies the job in logs.
	Name    string
	Execute func(ctx context.Context) error
	// OnError is invoked on the worker goroutine when Execute fails.
	OnError func(error)
}

// Pool bounds the goroutines doing gather and persist work across every
// concurrent run. A caller waiting in Submit holds no worker, so a run
// queued behind a saturated pool suspends instead of stealing capacity.
type Pool struct {
	workers int
	jobs    chan *Job
	log     *zap.Logger

	// mu guards submission against the jobs channel closing underneath
	// a blocked sender during Close.
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running atomic.Bool
	closed  atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates a pool with the given worker count. Non-positive values
// fall back to 20 workers and a queue of four jobs per worker.
func New(workers int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		jobs:    make(chan *Job, workers*4),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Close rejects further submissions, drains queued jobs, and waits for
// the workers to finish.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return ErrClosed
	}
	p.mu.Lock()
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
	p.running.Store(false)
	return nil
}

// Submit queues the job, blocking until a slot frees up or ctx ends.
func (p *Pool) Submit(ctx context.Context, job *Job) error {
	if job == nil || job.Execute == nil {
		return errors.New("pool: job without Execute")
	}
	if !p.running.Load() || p.closed.Load() {
		p.rejected.Inc()
		return ErrClosed
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		p.rejected.Inc()
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		p.submitted.Inc()
		return nil
	case <-ctx.Done():
		p.rejected.Inc()
		return ctx.Err()
	}
}

// TrySubmit queues the job without blocking and reports whether it was
// accepted.
func (p *Pool) TrySubmit(job *Job) bool {
	if job == nil || job.Execute == nil {
		return false
	}
	if !p.running.Load() || p.closed.Load() {
		p.rejected.Inc()
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		p.rejected.Inc()
		return false
	}
	select {
	case p.jobs <- job:
		p.submitted.Inc()
		return true
	default:
		p.rejected.Inc()
		return false
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if job == nil {
			continue
		}
		p.run(p.ctx, job)
	}
}

func (p *Pool) run(ctx context.Context, job *Job) {
	if err := p.invoke(ctx, job); err != nil {
		p.failed.Inc()
		if job.OnError != nil {
			job.OnError(err)
		}
		return
	}
	p.completed.Inc()
}

func (p *Pool) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pool job panicked",
				zap.String("job", job.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = ErrPanicked
		}
	}()
	return job.Execute(ctx)
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Workers   int
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
	Rejected  int64
}

// Stats returns current counters. Queued is approximate under load.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.jobs),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
