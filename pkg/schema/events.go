// pkg/schema/events.go
package schema

// CompressRequested asks a worker to compress one image. A nil
// ThresholdBytes means the worker default.
type CompressRequested struct {
	ID             string `json:"id,omitempty"`
	Source         string `json:"source"`
	ThresholdBytes *int64 `json:"threshold_bytes,omitempty"`
	HappenedAt     int64  `json:"happened_at"`
}

// CompressCancel asks the worker owning job ID to abandon it.
type CompressCancel struct {
	ID         string `json:"id"`
	HappenedAt int64  `json:"happened_at"`
}

type ProcessingStage string

const (
	StageCompressing ProcessingStage = "compressing"
	StageFinished    ProcessingStage = "finished"
	StageFailed      ProcessingStage = "failed"
)

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

// CompressStatusEvent mirrors one status value of a job.
type CompressStatusEvent struct {
	JobID          string          `json:"job_id"`
	Source         string          `json:"source"`
	Stage          ProcessingStage `json:"stage"`
	ThresholdBytes int64           `json:"threshold_bytes"`
	Result         string          `json:"result,omitempty"`
	Quality        int             `json:"quality,omitempty"`
	SizeBytes      int64           `json:"size_bytes,omitempty"`
	OverThreshold  bool            `json:"over_threshold,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Error          string          `json:"error,omitempty"`
	FailureType    FailureType     `json:"failure_type,omitempty"`
	HappenedAt     int64           `json:"happened_at"`
}
