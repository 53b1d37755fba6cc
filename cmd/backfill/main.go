// cmd/backfill/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-compressor/internal/bus"
	"github.com/tendant/simple-compressor/internal/img"
	"github.com/tendant/simple-compressor/pkg/schema"
)

var errLimitReached = errors.New("limit reached")

type config struct {
	NATSURL        string
	RequestSubject string
	StatusSubject  string
	Dir            string
	Limit          int
	// Threshold below zero leaves the choice to the worker.
	Threshold int64
	DryRun    bool
	Wait      time.Duration
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if cfg.Dir == "" {
		fatal(logger, "missing directory", errors.New("-dir is required"))
	}
	logger.Info("backfill starting",
		"nats_url", cfg.NATSURL,
		"request_subject", cfg.RequestSubject,
		"dir", cfg.Dir,
		"limit", cfg.Limit,
		"threshold", cfg.Threshold,
		"dry_run", cfg.DryRun,
		"wait", cfg.Wait,
	)

	sources, skipped, err := scanImages(cfg.Dir, cfg.Limit)
	if err != nil {
		fatal(logger, "scan failed", err, "dir", cfg.Dir)
	}
	logger.Info("scan complete", "images", len(sources), "skipped_non_image", skipped)

	if cfg.DryRun {
		for _, src := range sources {
			logger.Info("would publish", "source", src)
		}
		logger.Info("backfill complete", "total_found", len(sources), "dry_run", true)
		return
	}

	nc, err := bus.Connect(cfg.NATSURL, bus.WithLogger(logger))
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	defer nc.Close()
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)

	requests := make([]schema.CompressRequested, 0, len(sources))
	for _, src := range sources {
		requests = append(requests, newRequest(src, cfg.Threshold))
	}

	var t *tracker
	if cfg.Wait > 0 {
		t = newTracker(requests)
		sub, err := nc.SubscribeJSON(cfg.StatusSubject, func(_ context.Context, data []byte) {
			var evt schema.CompressStatusEvent
			if err := json.Unmarshal(data, &evt); err != nil {
				logger.Warn("discarding malformed status", "err", err)
				return
			}
			t.observe(evt)
		})
		if err != nil {
			fatal(logger, "subscribe status", err, "subject", cfg.StatusSubject)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	published := 0
	for _, req := range requests {
		if err := nc.PublishJSON(cfg.RequestSubject, req); err != nil {
			logger.Error("publish failed", "job_id", req.ID, "source", req.Source, "err", err)
			if t != nil {
				t.unpublished(req.ID)
			}
			continue
		}
		published++
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := nc.Flush(ctx); err != nil {
		logger.Warn("flush failed", "err", err)
	}

	if t == nil {
		logger.Info("backfill complete", "total_found", len(sources), "jobs_published", published)
		return
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.Wait)
	defer waitCancel()
	t.wait(waitCtx)
	s := t.summary()
	logger.Info("backfill complete",
		"total_found", len(sources),
		"jobs_published", published,
		"finished", s.Finished,
		"over_threshold", s.OverThreshold,
		"failed", s.Failed,
		"pending", s.Pending,
		"unpublished", s.Unpublished,
	)
	if len(s.FailedIDs) > 0 {
		logger.Error("some jobs failed", "failed_ids", s.FailedIDs)
	}
}

func loadConfig() config {
	cfg := config{
		NATSURL:        getenv("NATS_URL", "nats://127.0.0.1:4222"),
		RequestSubject: getenv("COMPRESS_REQUEST_SUBJECT", "images.compress.requested"),
		StatusSubject:  getenv("COMPRESS_STATUS_SUBJECT", "images.compress.status"),
		DryRun:         true, // Default to dry-run for safety
	}

	flag.StringVar(&cfg.Dir, "dir", getenv("BACKFILL_DIR", ""), "Directory to scan for images")
	flag.IntVar(&cfg.Limit, "limit", 0, "Maximum number of images to publish (0 = unlimited)")
	flag.Int64Var(&cfg.Threshold, "threshold", -1, "Output budget in bytes (-1 = worker default)")
	flag.DurationVar(&cfg.Wait, "wait", 0, "Wait this long for terminal statuses (0 = don't wait)")

	var execute bool
	flag.BoolVar(&execute, "execute", false, "Actually publish requests (disables dry-run)")
	flag.Parse()

	if execute {
		cfg.DryRun = false
	}
	return cfg
}

// scanImages returns the absolute paths of files under root whose content
// sniffs as a supported image type, in walk order. Unreadable files count as
// skipped.
func scanImages(root string, limit int) ([]string, int, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve %s: %w", root, err)
	}

	var sources []string
	skipped := 0
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !isImage(path) {
			skipped++
			return nil
		}
		sources = append(sources, path)
		if limit > 0 && len(sources) >= limit {
			return errLimitReached
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return nil, skipped, fmt.Errorf("walk %s: %w", abs, err)
	}
	return sources, skipped, nil
}

func isImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}
	return img.Supports(img.DetectMimeType(head[:n]))
}

func newRequest(source string, threshold int64) schema.CompressRequested {
	req := schema.CompressRequested{
		ID:         uuid.NewString(),
		Source:     source,
		HappenedAt: time.Now().Unix(),
	}
	if threshold >= 0 {
		req.ThresholdBytes = &threshold
	}
	return req
}

type summary struct {
	Finished      int
	OverThreshold int
	Failed        int
	Pending       int
	Unpublished   int
	FailedIDs     []string
}

// tracker records the terminal status of each published request.
type tracker struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	s        summary
	finished chan struct{}
}

func newTracker(reqs []schema.CompressRequested) *tracker {
	t := &tracker{pending: make(map[string]struct{}, len(reqs)), finished: make(chan struct{})}
	for _, r := range reqs {
		t.pending[r.ID] = struct{}{}
	}
	if len(t.pending) == 0 {
		close(t.finished)
	}
	return t
}

func (t *tracker) observe(evt schema.CompressStatusEvent) {
	if evt.Stage != schema.StageFinished && evt.Stage != schema.StageFailed {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[evt.JobID]; !ok {
		return
	}
	delete(t.pending, evt.JobID)

	if evt.Stage == schema.StageFinished {
		t.s.Finished++
		if evt.OverThreshold {
			t.s.OverThreshold++
		}
	} else {
		t.s.Failed++
		t.s.FailedIDs = append(t.s.FailedIDs, evt.JobID)
	}
	if len(t.pending) == 0 {
		close(t.finished)
	}
}

// unpublished stops waiting for a request that never reached the bus.
func (t *tracker) unpublished(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; !ok {
		return
	}
	delete(t.pending, id)
	t.s.Unpublished++
	if len(t.pending) == 0 {
		close(t.finished)
	}
}

func (t *tracker) wait(ctx context.Context) {
	select {
	case <-t.finished:
	case <-ctx.Done():
	}
}

func (t *tracker) summary() summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.s
	s.Pending = len(t.pending)
	s.FailedIDs = append([]string(nil), t.s.FailedIDs...)
	return s
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
