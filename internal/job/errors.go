package job

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/simple-compressor/internal/content"
	"github.com/tendant/simple-compressor/internal/img"
	"github.com/tendant/simple-compressor/pkg/schema"
)

var ErrDisposed = errors.New("orchestrator disposed")

// Task steps outside the engine.
const (
	StepResolve = "resolve"
	StepStore   = "store"
	StepVerify  = "verify"
)

// StepError wraps a resolve, store or verify fault of a job task.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Classify tells a consumer whether resubmitting the same request could
// succeed. Nothing in this package retries on its own.
func Classify(err error) schema.FailureType {
	if err == nil {
		return ""
	}

	var decodeErr *img.DecodeError
	if errors.As(err, &decodeErr) || errors.Is(err, ErrInvalidRequest) {
		return schema.FailureTypeValidation
	}

	var encodeErr *img.EncodeError
	if errors.As(err, &encodeErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, content.ErrNotFound) ||
		errors.Is(err, content.ErrPermissionDenied) ||
		errors.Is(err, content.ErrUnsupportedHandle) ||
		errors.Is(err, content.ErrTooLarge) ||
		errors.Is(err, content.ErrInvalidJobID) {
		return schema.FailureTypePermanent
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, content.ErrMissingOutput) {
		return schema.FailureTypeRetryable
	}

	errStr := err.Error()
	if strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "permission denied") {
		return schema.FailureTypePermanent
	}

	// Default to retryable for unknown errors
	return schema.FailureTypeRetryable
}
