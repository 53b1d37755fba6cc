// internal/img/engine.go
package img

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// MaxQuality is the quality of the first encode attempt.
	MaxQuality = 100
	// MinQuality is the floor of the quality search.
	MinQuality = 5
	// DecayFactor is the fraction of the current quality removed after each
	// encode that is still over the threshold.
	DecayFactor = 0.1

	// DefaultMaxPixels caps the declared raster area accepted for decode.
	DefaultMaxPixels = 50_000_000
)

// ErrTooManyPixels reports an image header declaring a raster larger than
// the engine accepts.
var ErrTooManyPixels = errors.New("image exceeds pixel limit")

// EncodeFunc writes img to w as a lossy raster at the given quality.
type EncodeFunc func(w io.Writer, img image.Image, quality int) error

// EncodeJPEG is the default EncodeFunc.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// Encoded is the result of one compression run.
type Encoded struct {
	Data       []byte
	Quality    int
	Iterations int
	Width      int
	Height     int
}

// Size returns the encoded length in bytes.
func (e *Encoded) Size() int64 { return int64(len(e.Data)) }

// Options tunes an Engine. The zero value is valid.
type Options struct {
	// MaxWidth and MaxHeight bound the decoded raster before the quality
	// search. Zero disables the bound on that axis.
	MaxWidth  int
	MaxHeight int

	// MaxPixels rejects inputs whose header declares more pixels. Zero
	// means DefaultMaxPixels.
	MaxPixels int64

	// Encode replaces the JPEG encoder.
	Encode EncodeFunc

	// OnEncode is called after every encode attempt.
	OnEncode func(quality int, size int)
}

// Engine runs the adaptive quality search.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine using opts.
func NewEngine(opts Options) *Engine {
	if opts.Encode == nil {
		opts.Encode = EncodeJPEG
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Engine{opts: opts}
}

// Compress decodes data with the default engine and searches for the highest
// quality whose encoding fits threshold bytes.
func Compress(data []byte, threshold int64) (*Encoded, error) {
	return NewEngine(Options{}).Compress(context.Background(), data, threshold)
}

// Compress decodes data once, then re-encodes it at decreasing quality until
// the output is at most threshold bytes or the quality floor is reached. The
// last encoding is returned even when it is still over threshold.
//
// ctx is checked before each encode; an in-progress encode is not interrupted.
func (e *Engine) Compress(ctx context.Context, data []byte, threshold int64) (*Encoded, error) {
	if err := e.checkPixels(data); err != nil {
		return nil, &DecodeError{Err: err}
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	src = e.bound(src)

	b := src.Bounds()
	out := &Encoded{Width: b.Dx(), Height: b.Dy()}

	var buf bytes.Buffer
	quality := MaxQuality
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("compress at quality %d: %w", quality, err)
		}

		buf.Reset()
		if err := e.opts.Encode(&buf, src, quality); err != nil {
			return nil, &EncodeError{Quality: quality, Err: err}
		}
		out.Iterations++
		if e.opts.OnEncode != nil {
			e.opts.OnEncode(quality, buf.Len())
		}

		if int64(buf.Len()) <= threshold || quality <= MinQuality {
			break
		}
		quality = nextQuality(quality)
	}

	out.Data = bytes.Clone(buf.Bytes())
	out.Quality = quality
	return out, nil
}

// checkPixels reads only the image header so oversized rasters are refused
// before any pixel buffer is allocated.
func (e *Engine) checkPixels(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > e.opts.MaxPixels {
		return fmt.Errorf("%dx%d: %w (limit %d)", cfg.Width, cfg.Height, ErrTooManyPixels, e.opts.MaxPixels)
	}
	return nil
}

func (e *Engine) bound(src image.Image) image.Image {
	if e.opts.MaxWidth <= 0 && e.opts.MaxHeight <= 0 {
		return src
	}
	return FitWithin(src, e.opts.MaxWidth, e.opts.MaxHeight)
}

// nextQuality applies one multiplicative decay step.
func nextQuality(q int) int {
	return q - int(math.Round(float64(q)*DecayFactor))
}
