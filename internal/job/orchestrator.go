package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tendant/simple-compressor/internal/content"
)

// Orchestrator runs at most one compression job at a time on a Scheduler and
// reports its progress as a stream of Status values. Instances are
// independent; share the Scheduler, not the Orchestrator.
type Orchestrator struct {
	sched  Scheduler
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	live     *liveJob
	current  Status
	disposed bool
}

type liveJob struct {
	req    Request
	handle Handle
	out    chan Status
	stop   chan struct{}
	closed bool
}

// NewOrchestrator returns an Idle orchestrator submitting tasks built from
// deps to sched.
func NewOrchestrator(sched Scheduler, deps Deps) *Orchestrator {
	return &Orchestrator{
		sched:   sched,
		deps:    deps,
		logger:  deps.logger(),
		current: Idle{},
	}
}

// Submit starts a job for req and returns its status stream. The stream
// yields Compressing, then at most one terminal status, and is then closed.
// It is closed without a terminal status when a later Submit supersedes the
// job or Dispose is called. Cancelling ctx cancels the job.
//
// An error is returned only for an invalid request or a disposed
// orchestrator; every other failure arrives as a Failed status.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (<-chan Status, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.disposed {
		return nil, ErrDisposed
	}
	if prev := o.live; prev != nil {
		o.logger.Info("superseding job", "job_id", prev.req.ID, "next_job_id", req.ID)
		o.deps.Metrics.superseded()
		o.closeLocked(prev)
		o.live = nil
	}

	j := &liveJob{
		req:  req,
		out:  make(chan Status, 2),
		stop: make(chan struct{}),
	}
	o.live = j
	o.deps.Metrics.submitted()
	o.emitLocked(j, Compressing{JobID: req.ID, Source: req.Source})

	h, err := o.sched.Submit(ctx, req.ID, NewTask(req, o.deps))
	if err != nil {
		o.finishLocked(j, Failed{
			JobID:  req.ID,
			Source: req.Source,
			Reason: ReasonUnknown,
			Err:    fmt.Errorf("schedule: %w", err),
		})
		return j.out, nil
	}
	j.handle = h

	go o.observe(j, h)
	return j.out, nil
}

// Cancel abandons the live job if its id matches. The job then ends with a
// Failed status carrying ReasonCancelled.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	j := o.live
	if j == nil || j.req.ID != id || j.handle == nil {
		o.mu.Unlock()
		return false
	}
	h := j.handle
	o.mu.Unlock()

	o.logger.Info("cancelling job", "job_id", id)
	h.Cancel()
	return true
}

// Dispose cancels the live job and closes its stream without a terminal
// status. Later Submit calls return ErrDisposed. Dispose is idempotent.
func (o *Orchestrator) Dispose() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.disposed = true
	j := o.live
	o.live = nil
	var h Handle
	if j != nil {
		h = j.handle
		o.closeLocked(j)
	}
	o.mu.Unlock()

	if h != nil {
		o.logger.Info("disposing live job", "job_id", j.req.ID)
		h.Cancel()
	}
}

// Current returns the most recent status emitted, or Idle.
func (o *Orchestrator) Current() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) observe(j *liveJob, h Handle) {
	select {
	case <-h.Done():
	case <-j.stop:
		return
	}

	s := MapOutcome(j.req, h.Outcome())

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.live != j || j.closed {
		return
	}
	o.finishLocked(j, s)
}

// MapOutcome turns a terminal task outcome into the status reported for req.
// Every outcome maps to exactly one terminal status.
func MapOutcome(req Request, out Outcome) Status {
	failed := Failed{JobID: req.ID, Source: req.Source, Err: out.Err}

	switch out.State {
	case TaskSucceeded:
		if out.Output.Location == "" {
			failed.Reason = ReasonMissingOutput
			return failed
		}
		return Finished{
			JobID:   req.ID,
			Source:  req.Source,
			Result:  out.Output.Location,
			Quality: out.Output.Quality,
			Size:    out.Output.Size,
		}
	case TaskFailed:
		failed.Reason = ReasonCompressionFailed
		if errors.Is(out.Err, content.ErrMissingOutput) {
			failed.Reason = ReasonMissingOutput
		}
	case TaskCancelled:
		failed.Reason = ReasonCancelled
	default:
		failed.Reason = ReasonUnknown
		if failed.Err == nil {
			failed.Err = fmt.Errorf("unexpected task state %q", out.State)
		}
	}
	return failed
}

func (o *Orchestrator) finishLocked(j *liveJob, s Status) {
	o.deps.Metrics.completed(s)
	o.emitLocked(j, s)
	o.closeLocked(j)
	if o.live == j {
		o.live = nil
	}

	attrs := []any{"job_id", j.req.ID, "status", s.Kind()}
	if f, ok := s.(Failed); ok {
		attrs = append(attrs, "reason", f.Reason.String(), "err", f.Err)
		o.logger.Warn("job failed", attrs...)
		return
	}
	o.logger.Info("job finished", attrs...)
}

// emitLocked never blocks: a stream carries at most two values and is
// buffered for both.
func (o *Orchestrator) emitLocked(j *liveJob, s Status) {
	if j.closed {
		return
	}
	j.out <- s
	o.current = s
}

func (o *Orchestrator) closeLocked(j *liveJob) {
	if j.closed {
		return
	}
	j.closed = true
	close(j.stop)
	close(j.out)
}
