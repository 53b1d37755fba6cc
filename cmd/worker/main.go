// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-compressor/internal/bus"
	"github.com/tendant/simple-compressor/internal/content"
	"github.com/tendant/simple-compressor/internal/img"
	"github.com/tendant/simple-compressor/internal/job"
	"github.com/tendant/simple-compressor/internal/pool"
	"github.com/tendant/simple-compressor/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting", "nats_url", cfg.NATSURL, "request_subject", cfg.RequestSubject, "queue", cfg.WorkerQueue, "status_subject", cfg.StatusSubject, "output_dir", cfg.OutputDir, "default_threshold", cfg.DefaultThreshold, "workers", cfg.Workers)

	resolver, err := buildResolver(cfg, logger)
	if err != nil {
		fatal(logger, "build resolver", err, "content_backend", cfg.ContentBackend)
	}

	sink, err := content.NewFileSink(cfg.OutputDir)
	if err != nil {
		fatal(logger, "ensure output directory", err, "output_dir", cfg.OutputDir)
	}
	logger.Info("ensured output directory", "output_dir", sink.Dir())

	metrics := job.NewMetrics()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, logger)
		defer func() { _ = srv.Close() }()
	}

	nc, err := bus.Connect(cfg.NATSURL, bus.WithLogger(logger))
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	defer nc.Close()

	workers := pool.New(cfg.Workers, logger)
	deps := job.Deps{
		Resolver: resolver,
		Sink:     sink,
		Engine:   img.NewEngine(img.Options{MaxWidth: cfg.MaxWidth, MaxHeight: cfg.MaxHeight, MaxPixels: int64(cfg.MaxPixels)}),
		Logger:   logger,
		Metrics:  metrics,
	}
	relay := worker.New(nc, workers, deps, worker.Config{
		RequestSubject:   cfg.RequestSubject,
		StatusSubject:    cfg.StatusSubject,
		CancelSubject:    cfg.CancelSubject,
		Queue:            cfg.WorkerQueue,
		DefaultThreshold: cfg.DefaultThreshold,
	})
	if err := relay.Start(); err != nil {
		fatal(logger, "subscribe relay", err, "subject", cfg.RequestSubject, "queue", cfg.WorkerQueue)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down", "running", relay.Running())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := relay.Close(shutdownCtx); err != nil {
		logger.Warn("relay close", "err", err)
	}
	if err := workers.Close(shutdownCtx); err != nil {
		logger.Warn("pool close", "err", err)
	}
}

func buildResolver(cfg config, logger *slog.Logger) (content.Resolver, error) {
	mux := content.NewMux()
	if cfg.ContentBackend == "" {
		return mux, nil
	}

	contentCfg, err := loadSimpleContentConfig(cfg.ContentBackend)
	if err != nil {
		return nil, fmt.Errorf("load simplecontent config: %w", err)
	}
	logger.Info("simplecontent metadata repository", "database_type", contentCfg.DatabaseType, "schema", contentCfg.DBSchema, "has_database_url", contentCfg.DatabaseURL != "")

	svc, err := contentCfg.BuildService()
	if err != nil {
		return nil, fmt.Errorf("build simplecontent service: %w", err)
	}
	logger.Info("simplecontent service ready", "backend", contentCfg.DefaultStorageBackend)

	mux.Handle(content.ContentScheme, content.NewContentResolver(svc))
	return mux, nil
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
