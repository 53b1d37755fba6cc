package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"

	"github.com/tendant/simple-compressor/internal/img"
	"github.com/tendant/simple-compressor/internal/job"
)

type config struct {
	NATSURL          string
	RequestSubject   string
	StatusSubject    string
	CancelSubject    string
	WorkerQueue      string
	OutputDir        string
	DefaultThreshold int64
	Workers          int
	MaxWidth         int
	MaxHeight        int
	MaxPixels        int
	MetricsAddr      string
	// ContentBackend enables content:// sources on the named simple-content
	// storage backend; empty leaves only files.
	ContentBackend string
}

func LoadConfig() (config, error) {
	cfg := config{
		NATSURL:        getenv("NATS_URL", "nats://127.0.0.1:4222"),
		RequestSubject: getenv("COMPRESS_REQUEST_SUBJECT", "images.compress.requested"),
		StatusSubject:  getenv("COMPRESS_STATUS_SUBJECT", "images.compress.status"),
		CancelSubject:  getenv("COMPRESS_CANCEL_SUBJECT", "images.compress.cancel"),
		WorkerQueue:    getenv("COMPRESS_QUEUE", "compress-workers"),
		OutputDir:      getenv("OUTPUT_DIR", "./data/compressed"),
		MetricsAddr:    getenv("METRICS_ADDR", ""),
		ContentBackend: getenv("CONTENT_BACKEND", ""),
	}

	threshold, err := parseNonNegativeInt(getenv("DEFAULT_THRESHOLD_BYTES", strconv.FormatInt(job.DefaultThreshold, 10)), "DEFAULT_THRESHOLD_BYTES")
	if err != nil {
		return config{}, err
	}
	cfg.DefaultThreshold = int64(threshold)

	workers, err := parsePositiveInt(getenv("WORKERS", strconv.Itoa(runtime.NumCPU())), "WORKERS")
	if err != nil {
		return config{}, err
	}
	cfg.Workers = workers

	if cfg.MaxWidth, err = parseNonNegativeInt(getenv("MAX_WIDTH", "0"), "MAX_WIDTH"); err != nil {
		return config{}, err
	}
	if cfg.MaxHeight, err = parseNonNegativeInt(getenv("MAX_HEIGHT", "0"), "MAX_HEIGHT"); err != nil {
		return config{}, err
	}
	if cfg.MaxPixels, err = parsePositiveInt(getenv("MAX_PIXELS", strconv.Itoa(img.DefaultMaxPixels)), "MAX_PIXELS"); err != nil {
		return config{}, err
	}

	switch cfg.ContentBackend {
	case "", "memory", "fs", "s3":
	default:
		return config{}, fmt.Errorf("unsupported CONTENT_BACKEND %q", cfg.ContentBackend)
	}
	return cfg, nil
}

// loadSimpleContentConfig reads the simple-content environment (DATABASE_*,
// FS_BASE_DIR, S3_*) and makes backend the default storage.
func loadSimpleContentConfig(backend string) (*simpleconfig.ServerConfig, error) {
	cfg, err := simpleconfig.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("unable to load simplecontent config: %w", err)
	}
	cfg.DefaultStorageBackend = backend
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simplecontent config: %w", err)
	}
	return cfg, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseNonNegativeInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %d)", name, v)
	}
	return v, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
