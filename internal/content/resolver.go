// Package content resolves image handles into bytes and stores compressed
// output.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
)

// DefaultMaxSourceBytes bounds how much ReadAll will buffer for one source.
const DefaultMaxSourceBytes int64 = 64 << 20

var (
	ErrNotFound          = errors.New("source not found")
	ErrPermissionDenied  = errors.New("source permission denied")
	ErrUnsupportedHandle = errors.New("unsupported image handle")
	ErrTooLarge          = errors.New("source exceeds size limit")
)

// Handle locates a source image: a filesystem path, a file:// URI or a
// content://<uuid> reference.
type Handle string

func (h Handle) String() string { return string(h) }

// Scheme returns the lower-cased URI scheme of h, or "file" for plain paths.
func (h Handle) Scheme() string {
	s := string(h)
	i := strings.Index(s, ":")
	// Single letters are Windows drive names, not schemes.
	if i <= 1 || strings.ContainsAny(s[:i], `/\`) {
		return "file"
	}
	return strings.ToLower(s[:i])
}

// Resolver opens the bytes behind a Handle. Callers must close the reader.
type Resolver interface {
	Open(ctx context.Context, h Handle) (io.ReadCloser, error)
}

// ReadAll opens h with r and reads at most limit bytes. The reader is closed
// on every path. A non-positive limit uses DefaultMaxSourceBytes.
func ReadAll(ctx context.Context, r Resolver, h Handle, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}

	rc, err := r.Open(ctx, h)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(ctxReader{ctx: ctx, r: rc}, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("read %s: %w (%d bytes)", h, ErrTooLarge, limit)
	}
	return data, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// FileResolver opens local files.
type FileResolver struct{}

// Open implements Resolver for plain paths and file:// URIs.
func (FileResolver) Open(ctx context.Context, h Handle) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := filePath(h)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, classifyFSError(path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: %w: is a directory", path, ErrNotFound)
	}
	return f, nil
}

func filePath(h Handle) (string, error) {
	s := string(h)
	if s == "" {
		return "", fmt.Errorf("%w: empty handle", ErrUnsupportedHandle)
	}
	if h.Scheme() != "file" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedHandle, s)
	}
	if !strings.HasPrefix(strings.ToLower(s), "file:") {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedHandle, err)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("%w: remote file host %q", ErrUnsupportedHandle, u.Host)
	}
	if u.Path == "" {
		return u.Opaque, nil
	}
	return u.Path, nil
}

func classifyFSError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("open %s: %w", path, errors.Join(ErrNotFound, err))
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("open %s: %w", path, errors.Join(ErrPermissionDenied, err))
	default:
		return fmt.Errorf("open %s: %w", path, err)
	}
}

// Mux routes handles to resolvers by scheme.
type Mux struct {
	resolvers map[string]Resolver
}

// NewMux returns a Mux with FileResolver registered for "file".
func NewMux() *Mux {
	return &Mux{resolvers: map[string]Resolver{"file": FileResolver{}}}
}

// Handle registers r for scheme, replacing any previous resolver.
func (m *Mux) Handle(scheme string, r Resolver) {
	m.resolvers[strings.ToLower(scheme)] = r
}

// Open implements Resolver.
func (m *Mux) Open(ctx context.Context, h Handle) (io.ReadCloser, error) {
	r, ok := m.resolvers[h.Scheme()]
	if !ok {
		return nil, fmt.Errorf("%w: no resolver for scheme %q", ErrUnsupportedHandle, h.Scheme())
	}
	return r.Open(ctx, h)
}
