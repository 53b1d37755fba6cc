package job

import (
	"context"

	"github.com/tendant/simple-compressor/internal/content"
)

// TaskState is the lifecycle state of a scheduled task.
type TaskState string

const (
	TaskEnqueued  TaskState = "enqueued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Output is what a successful task hands back to the orchestrator.
type Output struct {
	Location content.Location
	Quality  int
	Size     int64
}

// Outcome is the terminal result of a task.
type Outcome struct {
	State  TaskState
	Output Output
	Err    error
}

// TaskFunc is one unit of schedulable work. It must return promptly once ctx
// is cancelled.
type TaskFunc func(ctx context.Context) (Output, error)

// Handle tracks one submitted task.
type Handle interface {
	ID() string
	// Cancel asks the scheduler to abandon the task. It is safe to call more
	// than once and after completion.
	Cancel()
	// Done is closed once the task reached a terminal state.
	Done() <-chan struct{}
	// Outcome is valid after Done is closed.
	Outcome() Outcome
}

// Scheduler runs tasks off the caller's goroutine. Cancelling ctx cancels the
// task.
type Scheduler interface {
	Submit(ctx context.Context, id string, fn TaskFunc) (Handle, error)
}
