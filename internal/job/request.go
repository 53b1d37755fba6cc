package job

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tendant/simple-compressor/internal/content"
)

// DefaultThreshold is the output budget used when the caller gives none.
const DefaultThreshold int64 = 20 * 1024

var ErrInvalidRequest = errors.New("invalid compression request")

// Request identifies one compression job end to end.
type Request struct {
	ID        string
	Source    content.Handle
	Threshold int64
}

// NewRequest returns a request with a fresh id.
func NewRequest(source content.Handle, threshold int64) Request {
	return Request{
		ID:        uuid.NewString(),
		Source:    source,
		Threshold: threshold,
	}
}

// NewDefaultRequest returns a request using DefaultThreshold.
func NewDefaultRequest(source content.Handle) Request {
	return NewRequest(source, DefaultThreshold)
}

func (r Request) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRequest)
	case r.Source == "":
		return fmt.Errorf("%w: missing source", ErrInvalidRequest)
	case r.Threshold < 0:
		return fmt.Errorf("%w: negative threshold %d", ErrInvalidRequest, r.Threshold)
	}
	return nil
}
