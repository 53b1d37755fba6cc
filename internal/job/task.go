package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-compressor/internal/content"
	"github.com/tendant/simple-compressor/internal/img"
)

// Compressor is the engine contract a task depends on.
type Compressor interface {
	Compress(ctx context.Context, data []byte, threshold int64) (*img.Encoded, error)
}

// Deps are the collaborators a job task uses.
type Deps struct {
	Resolver content.Resolver
	Sink     content.Sink
	// Engine defaults to an img.Engine with zero Options.
	Engine Compressor
	// MaxSourceBytes defaults to content.DefaultMaxSourceBytes.
	MaxSourceBytes int64
	Logger         *slog.Logger
	Metrics        *Metrics
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewTask returns the work for req: resolve the source, compress it and store
// the result under the job id.
func NewTask(req Request, deps Deps) TaskFunc {
	engine := deps.Engine
	if engine == nil {
		engine = img.NewEngine(img.Options{})
	}

	return func(ctx context.Context) (Output, error) {
		logger := deps.logger().With("job_id", req.ID, "source", req.Source.String())
		start := time.Now()

		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		data, err := content.ReadAll(ctx, deps.Resolver, req.Source, deps.MaxSourceBytes)
		if err != nil {
			logger.Warn("resolve source failed", "err", err)
			return Output{}, &StepError{Step: StepResolve, Err: err}
		}
		logger.Info("resolved source", "bytes", len(data), "mime_type", img.DetectMimeType(data))

		encoded, err := engine.Compress(ctx, data, req.Threshold)
		if err != nil {
			logger.Warn("compression failed", "err", err)
			return Output{}, err
		}
		deps.Metrics.compressed(encoded.Iterations, encoded.Size())

		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		loc, err := deps.Sink.Store(ctx, encoded.Data, req.ID)
		if err != nil {
			logger.Warn("store output failed", "err", err)
			return Output{}, &StepError{Step: StepStore, Err: err}
		}
		if err := verifyOutput(ctx, deps.Sink, loc, encoded.Size()); err != nil {
			logger.Warn("verify output failed", "location", loc.String(), "err", err)
			return Output{}, &StepError{Step: StepVerify, Err: err}
		}

		logger.Info("compressed image",
			"location", loc.String(),
			"quality", encoded.Quality,
			"iterations", encoded.Iterations,
			"size", encoded.Size(),
			"threshold", req.Threshold,
			"over_threshold", encoded.Size() > req.Threshold,
			"processing_time_ms", time.Since(start).Milliseconds(),
		)
		return Output{Location: loc, Quality: encoded.Quality, Size: encoded.Size()}, nil
	}
}

// verifyOutput re-reads the size of loc when the sink supports it. An empty
// location is left for MapOutcome.
func verifyOutput(ctx context.Context, sink content.Sink, loc content.Location, want int64) error {
	st, ok := sink.(content.Stater)
	if !ok || loc == "" {
		return nil
	}
	got, err := st.Stat(ctx, loc)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s has %d bytes, stored %d", content.ErrMissingOutput, loc, got, want)
	}
	return nil
}
