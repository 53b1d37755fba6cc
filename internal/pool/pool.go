// Package pool runs job tasks on a bounded set of goroutines.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tendant/simple-compressor/internal/job"
)

var ErrClosed = errors.New("pool closed")

// Pool is a job.Scheduler. At most the configured number of tasks run at
// once; the rest wait for a slot and can be cancelled while waiting.
type Pool struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	tasks  map[*task]struct{}
}

// New returns a pool running up to workers tasks concurrently. A
// non-positive count uses runtime.NumCPU.
func New(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[*task]struct{}),
	}
}

// Submit implements job.Scheduler. The task is cancelled when ctx is, when
// its handle is cancelled, or when the pool is closed.
func (p *Pool) Submit(ctx context.Context, id string, fn job.TaskFunc) (job.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	taskCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	t := &task{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  job.TaskEnqueued,
	}
	p.tasks[t] = struct{}{}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer stop()
		defer cancel()
		p.run(taskCtx, t, fn)
	}()
	return t, nil
}

func (p *Pool) run(ctx context.Context, t *task, fn job.TaskFunc) {
	logger := p.logger.With("job_id", t.id)
	defer p.forget(t)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		logger.Debug("task cancelled while queued", "err", err)
		t.finish(job.Outcome{State: job.TaskCancelled, Err: err})
		return
	}
	defer p.sem.Release(1)

	if err := ctx.Err(); err != nil {
		t.finish(job.Outcome{State: job.TaskCancelled, Err: err})
		return
	}

	t.setState(job.TaskRunning)
	logger.Debug("task running")
	out, err := safeRun(ctx, fn)

	switch {
	case err == nil:
		t.finish(job.Outcome{State: job.TaskSucceeded, Output: out})
	case ctx.Err() != nil:
		t.finish(job.Outcome{State: job.TaskCancelled, Err: err})
	default:
		t.finish(job.Outcome{State: job.TaskFailed, Err: err})
	}
	logger.Debug("task done", "state", t.State())
}

func safeRun(ctx context.Context, fn job.TaskFunc) (out job.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (p *Pool) forget(t *task) {
	p.mu.Lock()
	delete(p.tasks, t)
	p.mu.Unlock()
}

// Len returns the number of tasks queued or running.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Close stops accepting tasks, cancels the pending and running ones and waits
// for them to return or for ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for tasks: %w", ctx.Err())
	}
}

type task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   job.TaskState
	outcome job.Outcome
}

func (t *task) ID() string            { return t.id }
func (t *task) Cancel()               { t.cancel() }
func (t *task) Done() <-chan struct{} { return t.done }

func (t *task) Outcome() job.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// State returns the current lifecycle state.
func (t *task) State() job.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) setState(s job.TaskState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *task) finish(out job.Outcome) {
	t.mu.Lock()
	t.state = out.State
	t.outcome = out
	t.mu.Unlock()
	close(t.done)
}
