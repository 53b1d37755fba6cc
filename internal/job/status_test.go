package job

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/tendant/simple-compressor/internal/content"
	"github.com/tendant/simple-compressor/internal/img"
	"github.com/tendant/simple-compressor/pkg/schema"
)

func TestStatusKindsAndTerminality(t *testing.T) {
	tests := []struct {
		status   Status
		kind     StatusKind
		terminal bool
	}{
		{Idle{}, KindIdle, false},
		{Compressing{Source: "/a.jpg"}, KindCompressing, false},
		{Finished{Result: "/out.jpg"}, KindFinished, true},
		{Failed{Reason: ReasonCancelled}, KindFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if tt.status.Kind() != tt.kind {
				t.Fatalf("Kind() = %s, want %s", tt.status.Kind(), tt.kind)
			}
			if tt.status.Terminal() != tt.terminal {
				t.Fatalf("Terminal() = %v, want %v", tt.status.Terminal(), tt.terminal)
			}
		})
	}
}

func TestFailureReasonStrings(t *testing.T) {
	tests := []struct {
		reason FailureReason
		text   string
		code   string
	}{
		{ReasonUnknown, "unknown error", "unknown"},
		{ReasonCompressionFailed, "compression failed", "compression_failed"},
		{ReasonMissingOutput, "missing output", "missing_output"},
		{ReasonCancelled, "cancelled", "cancelled"},
		{FailureReason(99), "unknown error", "unknown"},
	}

	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.text {
			t.Errorf("String() = %q, want %q", got, tt.text)
		}
		if got := tt.reason.Code(); got != tt.code {
			t.Errorf("Code() = %q, want %q", got, tt.code)
		}
	}
}

func TestFailedStringIncludesCause(t *testing.T) {
	f := Failed{Reason: ReasonCompressionFailed, Err: errors.New("boom")}
	if !strings.Contains(f.String(), "boom") {
		t.Fatalf("cause missing from %q", f.String())
	}
	if (Failed{Reason: ReasonCancelled}).String() != "failed: cancelled" {
		t.Fatalf("unexpected string %q", Failed{Reason: ReasonCancelled}.String())
	}
}

func TestNewRequestAssignsUniqueIDs(t *testing.T) {
	a := NewDefaultRequest("/a.jpg")
	b := NewDefaultRequest("/a.jpg")

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Threshold != DefaultThreshold || DefaultThreshold != 20480 {
		t.Fatalf("unexpected default threshold %d", a.Threshold)
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"valid", Request{ID: "1", Source: "/a.jpg", Threshold: 0}, false},
		{"missing id", Request{Source: "/a.jpg"}, true},
		{"missing source", Request{ID: "1"}, true},
		{"negative threshold", Request{ID: "1", Source: "/a.jpg", Threshold: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want schema.FailureType
	}{
		{"nil", nil, ""},
		{"decode", &img.DecodeError{Err: errors.New("bad")}, schema.FailureTypeValidation},
		{"encode", &img.EncodeError{Quality: 50, Err: errors.New("bad")}, schema.FailureTypePermanent},
		{"missing source", &StepError{Step: StepResolve, Err: content.ErrNotFound}, schema.FailureTypePermanent},
		{"store", &StepError{Step: StepStore, Err: errors.New("disk full")}, schema.FailureTypeRetryable},
		{"output vanished", &StepError{Step: StepVerify, Err: fmt.Errorf("%w: %w", content.ErrMissingOutput, os.ErrNotExist)}, schema.FailureTypeRetryable},
		{"too many pixels", &img.DecodeError{Err: img.ErrTooManyPixels}, schema.FailureTypeValidation},
		{"unknown", errors.New("something odd"), schema.FailureTypeRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
