// Package worker bridges compression jobs to NATS: requests arrive on one
// subject and every status of every job is published on another.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-compressor/internal/bus"
	"github.com/tendant/simple-compressor/internal/content"
	"github.com/tendant/simple-compressor/internal/job"
	"github.com/tendant/simple-compressor/pkg/schema"
)

var ErrRelayClosed = errors.New("relay closed")

type Config struct {
	RequestSubject string
	StatusSubject  string
	CancelSubject  string
	// Queue groups request subscribers so each request reaches one worker.
	Queue            string
	DefaultThreshold int64
}

// Relay runs one Orchestrator per in-flight request on a shared Scheduler.
type Relay struct {
	client *bus.Client
	sched  job.Scheduler
	deps   job.Deps
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[string]*job.Orchestrator
	subs   []*nats.Subscription
	closed bool
	wg     sync.WaitGroup
}

func New(client *bus.Client, sched job.Scheduler, deps job.Deps, cfg Config) *Relay {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = job.DefaultThreshold
	}
	return &Relay{
		client: client,
		sched:  sched,
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		jobs:   make(map[string]*job.Orchestrator),
	}
}

// Start subscribes to the request and cancel subjects. Cancels are not
// queue-grouped: only the worker that owns the job acts on one.
func (r *Relay) Start() error {
	reqSub, err := r.client.QueueSubscribeJSON(r.cfg.RequestSubject, r.cfg.Queue, r.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.cfg.RequestSubject, err)
	}
	subs := []*nats.Subscription{reqSub}

	if r.cfg.CancelSubject != "" {
		cancelSub, err := r.client.SubscribeJSON(r.cfg.CancelSubject, r.handleCancel)
		if err != nil {
			_ = reqSub.Unsubscribe()
			return fmt.Errorf("subscribe %s: %w", r.cfg.CancelSubject, err)
		}
		subs = append(subs, cancelSub)
	}

	r.mu.Lock()
	r.subs = append(r.subs, subs...)
	r.mu.Unlock()
	r.logger.Info("listening for compression requests",
		"subject", r.cfg.RequestSubject, "queue", r.cfg.Queue, "cancel_subject", r.cfg.CancelSubject)
	return nil
}

func (r *Relay) handleRequest(_ context.Context, data []byte) {
	var evt schema.CompressRequested
	if err := json.Unmarshal(data, &evt); err != nil {
		r.logger.Warn("discarding malformed request", "err", err)
		return
	}
	if err := r.Submit(evt); err != nil && !errors.Is(err, job.ErrInvalidRequest) {
		r.logger.Warn("request not accepted", "job_id", evt.ID, "err", err)
	}
}

func (r *Relay) handleCancel(_ context.Context, data []byte) {
	var evt schema.CompressCancel
	if err := json.Unmarshal(data, &evt); err != nil {
		r.logger.Warn("discarding malformed cancel", "err", err)
		return
	}
	r.Cancel(evt.ID)
}

// RequestFromEvent applies the relay defaults to evt. A missing id is
// generated.
func (r *Relay) RequestFromEvent(evt schema.CompressRequested) job.Request {
	req := job.Request{
		ID:        evt.ID,
		Source:    content.Handle(evt.Source),
		Threshold: r.cfg.DefaultThreshold,
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if evt.ThresholdBytes != nil {
		req.Threshold = *evt.ThresholdBytes
	}
	return req
}

// Submit starts the job described by evt and publishes its statuses. An
// invalid request is answered with a single failed status event.
func (r *Relay) Submit(evt schema.CompressRequested) error {
	req := r.RequestFromEvent(evt)
	logger := r.logger.With("job_id", req.ID)

	if err := req.Validate(); err != nil {
		logger.Warn("invalid request", "err", err)
		r.publish(req, job.Failed{JobID: req.ID, Source: req.Source, Reason: job.ReasonCompressionFailed, Err: err})
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRelayClosed
	}
	if _, dup := r.jobs[req.ID]; dup {
		r.mu.Unlock()
		return fmt.Errorf("job %s already running", req.ID)
	}
	orch := job.NewOrchestrator(r.sched, r.deps)
	ch, err := orch.Submit(context.Background(), req)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.jobs[req.ID] = orch
	r.wg.Add(1)
	r.mu.Unlock()

	logger.Info("accepted request", "source", req.Source.String(), "threshold", req.Threshold)
	go r.forward(req, orch, ch)
	return nil
}

func (r *Relay) forward(req job.Request, orch *job.Orchestrator, ch <-chan job.Status) {
	defer r.wg.Done()
	for s := range ch {
		r.publish(req, s)
	}

	orch.Dispose()
	r.mu.Lock()
	if r.jobs[req.ID] == orch {
		delete(r.jobs, req.ID)
	}
	r.mu.Unlock()
}

func (r *Relay) publish(req job.Request, s job.Status) {
	evt := StatusEvent(req, s)
	if err := r.client.PublishJSON(r.cfg.StatusSubject, evt); err != nil {
		r.logger.Error("publish status failed", "job_id", req.ID, "stage", evt.Stage, "err", err)
	}
}

// Cancel cancels the job with the given id if this relay runs it.
func (r *Relay) Cancel(id string) bool {
	r.mu.Lock()
	orch, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return orch.Cancel(id)
}

// Running returns the number of jobs in flight.
func (r *Relay) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Close unsubscribes, disposes every live job and waits for their streams to
// drain or for ctx to end.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = nil
	orchs := make([]*job.Orchestrator, 0, len(r.jobs))
	for _, o := range r.jobs {
		orchs = append(orchs, o)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	for _, o := range orchs {
		o.Dispose()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

// StatusEvent converts a job status into its wire form.
func StatusEvent(req job.Request, s job.Status) schema.CompressStatusEvent {
	evt := schema.CompressStatusEvent{
		JobID:          req.ID,
		Source:         req.Source.String(),
		ThresholdBytes: req.Threshold,
		HappenedAt:     time.Now().Unix(),
	}

	switch v := s.(type) {
	case job.Compressing:
		evt.Stage = schema.StageCompressing
	case job.Finished:
		evt.Stage = schema.StageFinished
		evt.Result = v.Result.String()
		evt.Quality = v.Quality
		evt.SizeBytes = v.Size
		evt.OverThreshold = v.Size > req.Threshold
	case job.Failed:
		evt.Stage = schema.StageFailed
		evt.Reason = v.Reason.Code()
		if v.Err != nil {
			evt.Error = v.Err.Error()
		}
		evt.FailureType = job.Classify(v.Err)
		if evt.FailureType == "" {
			evt.FailureType = schema.FailureTypePermanent
		}
	}
	return evt
}
