package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputExt is the extension of every stored file.
const OutputExt = ".jpg"

var (
	ErrInvalidJobID  = errors.New("invalid job id")
	ErrMissingOutput = errors.New("stored output missing")
)

// Location identifies a stored artifact. For FileSink it is an absolute path.
type Location string

func (l Location) String() string { return string(l) }

// Sink persists compressed output keyed by job id.
type Sink interface {
	Store(ctx context.Context, data []byte, jobID string) (Location, error)
}

// Stater is implemented by sinks that can confirm an artifact they stored.
type Stater interface {
	Stat(ctx context.Context, loc Location) (int64, error)
}

// FileSink writes <dir>/<jobID>.jpg.
type FileSink struct {
	dir string
}

// NewFileSink ensures dir exists and returns a sink writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileSink{dir: abs}, nil
}

// Dir returns the absolute output directory.
func (s *FileSink) Dir() string { return s.dir }

// PathFor returns where the output of jobID is written.
func (s *FileSink) PathFor(jobID string) string {
	return filepath.Join(s.dir, jobID+OutputExt)
}

// Store writes data through a temp file and renames it into place, so a
// reader never observes a partial file.
func (s *FileSink) Store(ctx context.Context, data []byte, jobID string) (Location, error) {
	if jobID == "" || jobID != filepath.Base(jobID) || strings.HasPrefix(jobID, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, jobID+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	dst := s.PathFor(jobID)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("rename to %s: %w", dst, err)
	}
	committed = true
	return Location(dst), nil
}

// Stat returns the size of the file at loc. A missing or non-regular file
// wraps ErrMissingOutput.
func (s *FileSink) Stat(ctx context.Context, loc Location) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(loc.String())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMissingOutput, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrMissingOutput, loc)
	}
	return info.Size(), nil
}
