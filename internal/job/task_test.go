package job

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tendant/simple-compressor/internal/content"
	"github.com/tendant/simple-compressor/internal/img"
)

func writeSource(t *testing.T, dir string, w, h int) string {
	t.Helper()

	pic := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			pic.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x ^ y), A: 255})
		}
	}

	path := filepath.Join(dir, "source.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := png.Encode(f, pic); err != nil {
		_ = f.Close()
		t.Fatalf("encode png: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

type failingSink struct{ err error }

func (s failingSink) Store(context.Context, []byte, string) (content.Location, error) {
	return "", s.err
}

// vanishingSink reports a location it never wrote.
type vanishingSink struct{ *content.FileSink }

func (s vanishingSink) Store(_ context.Context, _ []byte, jobID string) (content.Location, error) {
	return content.Location(s.PathFor(jobID)), nil
}

// truncatingSink stores fewer bytes than it was given.
type truncatingSink struct{ *content.FileSink }

func (s truncatingSink) Store(ctx context.Context, data []byte, jobID string) (content.Location, error) {
	return s.FileSink.Store(ctx, data[:len(data)/2], jobID)
}

type stubEngine struct {
	out *img.Encoded
	err error
}

func (e stubEngine) Compress(context.Context, []byte, int64) (*img.Encoded, error) {
	return e.out, e.err
}

func TestTaskStoresCompressedOutput(t *testing.T) {
	tmp := t.TempDir()
	src := writeSource(t, tmp, 48, 32)
	sink, err := content.NewFileSink(filepath.Join(tmp, "out"))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	req := NewRequest(content.Handle(src), 0)
	out, err := NewTask(req, Deps{Resolver: content.FileResolver{}, Sink: sink})(context.Background())
	if err != nil {
		t.Fatalf("task returned error: %v", err)
	}

	if out.Quality != img.MinQuality {
		t.Fatalf("quality = %d, want %d for a zero threshold", out.Quality, img.MinQuality)
	}
	info, err := os.Stat(out.Location.String())
	if err != nil {
		t.Fatalf("output not stored: %v", err)
	}
	if info.Size() != out.Size {
		t.Fatalf("stored %d bytes, output reports %d", info.Size(), out.Size)
	}
}

func TestTaskResolveFailure(t *testing.T) {
	req := NewRequest(content.Handle(filepath.Join(t.TempDir(), "missing.png")), 10)

	_, err := NewTask(req, Deps{Resolver: content.FileResolver{}, Sink: failingSink{}})(context.Background())
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepResolve {
		t.Fatalf("expected resolve StepError, got %v", err)
	}
	if !errors.Is(err, content.ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain, got %v", err)
	}
}

func TestTaskDecodeFailure(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "garbage.jpg")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := NewTask(NewRequest(content.Handle(path), 10), Deps{Resolver: content.FileResolver{}, Sink: failingSink{}})(context.Background())
	var decodeErr *img.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestTaskStoreFailure(t *testing.T) {
	src := writeSource(t, t.TempDir(), 8, 8)
	diskFull := errors.New("disk full")

	_, err := NewTask(NewRequest(content.Handle(src), 1<<20), Deps{
		Resolver: content.FileResolver{},
		Sink:     failingSink{err: diskFull},
	})(context.Background())

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepStore {
		t.Fatalf("expected store StepError, got %v", err)
	}
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected wrapped sink error, got %v", err)
	}
}

func TestTaskUsesInjectedEngine(t *testing.T) {
	src := writeSource(t, t.TempDir(), 8, 8)
	sink, err := content.NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	engine := stubEngine{out: &img.Encoded{Data: []byte("jpeg"), Quality: 42, Iterations: 9}}

	out, err := NewTask(NewRequest(content.Handle(src), 1), Deps{
		Resolver: content.FileResolver{},
		Sink:     sink,
		Engine:   engine,
		Metrics:  NewMetrics(),
	})(context.Background())
	if err != nil {
		t.Fatalf("task returned error: %v", err)
	}
	if out.Quality != 42 || out.Size != 4 {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestTaskCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTask(NewRequest("/whatever.png", 10), Deps{})(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTaskVerifiesStoredOutput(t *testing.T) {
	src := writeSource(t, t.TempDir(), 8, 8)
	sink, err := content.NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	engine := stubEngine{out: &img.Encoded{Data: []byte("jpegdata"), Quality: 90, Iterations: 1}}

	for name, s := range map[string]content.Sink{
		"missing":   vanishingSink{sink},
		"truncated": truncatingSink{sink},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewTask(NewRequest(content.Handle(src), 1<<20), Deps{
				Resolver: content.FileResolver{},
				Sink:     s,
				Engine:   engine,
			})(context.Background())

			var stepErr *StepError
			if !errors.As(err, &stepErr) || stepErr.Step != StepVerify {
				t.Fatalf("expected verify StepError, got %v", err)
			}
			if !errors.Is(err, content.ErrMissingOutput) {
				t.Fatalf("expected ErrMissingOutput in chain, got %v", err)
			}

			status := MapOutcome(Request{ID: "job"}, Outcome{State: TaskFailed, Err: err})
			if f, ok := status.(Failed); !ok || f.Reason != ReasonMissingOutput {
				t.Fatalf("expected missing output failure, got %#v", status)
			}
		})
	}
}
