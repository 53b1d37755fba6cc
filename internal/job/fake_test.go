package job

import (
	"context"
	"sync"
	"testing"
	"time"
)

// manualHandle completes only when the test says so, or when cancelled.
type manualHandle struct {
	id   string
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	outcome   Outcome
	cancelled bool
}

func newManualHandle(id string) *manualHandle {
	return &manualHandle{id: id, done: make(chan struct{})}
}

func (h *manualHandle) ID() string            { return h.id }
func (h *manualHandle) Done() <-chan struct{} { return h.done }

func (h *manualHandle) Outcome() Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

func (h *manualHandle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.complete(Outcome{State: TaskCancelled, Err: context.Canceled})
}

func (h *manualHandle) wasCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *manualHandle) complete(out Outcome) {
	h.once.Do(func() {
		h.mu.Lock()
		h.outcome = out
		h.mu.Unlock()
		close(h.done)
	})
}

// manualScheduler records submissions and never runs the task.
type manualScheduler struct {
	mu      sync.Mutex
	handles []*manualHandle
	err     error
}

func (s *manualScheduler) Submit(_ context.Context, id string, _ TaskFunc) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	h := newManualHandle(id)
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *manualScheduler) handle(t *testing.T, i int) *manualHandle {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.handles) {
		t.Fatalf("no handle %d, only %d submitted", i, len(s.handles))
	}
	return s.handles[i]
}

// inlineScheduler runs the task synchronously inside Submit.
type inlineScheduler struct{}

func (inlineScheduler) Submit(ctx context.Context, id string, fn TaskFunc) (Handle, error) {
	h := newManualHandle(id)
	out, err := fn(ctx)
	switch {
	case err == nil:
		h.complete(Outcome{State: TaskSucceeded, Output: out})
	case ctx.Err() != nil:
		h.complete(Outcome{State: TaskCancelled, Err: err})
	default:
		h.complete(Outcome{State: TaskFailed, Err: err})
	}
	return h, nil
}

func next(t *testing.T, ch <-chan Status) (Status, bool) {
	t.Helper()
	select {
	case s, ok := <-ch:
		return s, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
		return nil, false
	}
}

func collect(t *testing.T, ch <-chan Status) []Status {
	t.Helper()
	var out []Status
	for {
		s, ok := next(t, ch)
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

func kinds(statuses []Status) []StatusKind {
	out := make([]StatusKind, len(statuses))
	for i, s := range statuses {
		out[i] = s.Kind()
	}
	return out
}
