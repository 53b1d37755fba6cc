// internal/job/status.go
package job

import (
	"fmt"

	"github.com/tendant/simple-compressor/internal/content"
)

// StatusKind names the case of a Status.
type StatusKind string

const (
	KindIdle        StatusKind = "idle"
	KindCompressing StatusKind = "compressing"
	KindFinished    StatusKind = "finished"
	KindFailed      StatusKind = "failed"
)

// Status is the caller-facing state of a job. It is one of Idle, Compressing,
// Finished or Failed; switch on the concrete type.
type Status interface {
	Kind() StatusKind
	// Terminal reports whether no status follows this one for the same job.
	Terminal() bool
	status()
}

// Idle is the state of an orchestrator that has not emitted anything yet.
type Idle struct{}

// Compressing is emitted once when a job is submitted.
type Compressing struct {
	JobID  string
	Source content.Handle
}

// Finished carries the stored output of a successful job. Size may exceed the
// requested threshold when the quality floor was reached first.
type Finished struct {
	JobID   string
	Source  content.Handle
	Result  content.Location
	Quality int
	Size    int64
}

// Failed ends a job that produced no usable output.
type Failed struct {
	JobID  string
	Source content.Handle
	Reason FailureReason
	Err    error
}

func (Idle) Kind() StatusKind        { return KindIdle }
func (Compressing) Kind() StatusKind { return KindCompressing }
func (Finished) Kind() StatusKind    { return KindFinished }
func (Failed) Kind() StatusKind      { return KindFailed }

func (Idle) Terminal() bool        { return false }
func (Compressing) Terminal() bool { return false }
func (Finished) Terminal() bool    { return true }
func (Failed) Terminal() bool      { return true }

func (Idle) status()        {}
func (Compressing) status() {}
func (Finished) status()    {}
func (Failed) status()      {}

func (f Failed) String() string {
	if f.Err != nil {
		return fmt.Sprintf("failed: %s: %v", f.Reason, f.Err)
	}
	return "failed: " + f.Reason.String()
}

// FailureReason classifies why a job ended in Failed.
type FailureReason int

const (
	ReasonUnknown FailureReason = iota
	ReasonCompressionFailed
	ReasonMissingOutput
	ReasonCancelled
)

func (r FailureReason) String() string {
	switch r {
	case ReasonCompressionFailed:
		return "compression failed"
	case ReasonMissingOutput:
		return "missing output"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown error"
	}
}

// Code is a stable identifier for the reason, used in events and metrics.
func (r FailureReason) Code() string {
	switch r {
	case ReasonCompressionFailed:
		return "compression_failed"
	case ReasonMissingOutput:
		return "missing_output"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
