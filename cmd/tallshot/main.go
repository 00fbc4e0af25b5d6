// Package main wires together the tallshot capture service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tallshot/tallshot/internal/api"
	"github.com/tallshot/tallshot/internal/capture"
	"github.com/tallshot/tallshot/internal/clock/system"
	"github.com/tallshot/tallshot/internal/config"
	"github.com/tallshot/tallshot/internal/dispatcher"
	"github.com/tallshot/tallshot/internal/id/uuid"
	"github.com/tallshot/tallshot/internal/logging"
	"github.com/tallshot/tallshot/internal/metrics"
	"github.com/tallshot/tallshot/internal/service"
	"github.com/tallshot/tallshot/internal/store/memory"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := capture.NewChromedpFactory(cfg.Capture.UserAgent, logger)
	client := capture.NewClient(sessions, capture.Config{
		BaseURL: cfg.Capture.BaseURL,
		HostQPS: cfg.Capture.HostQPS,
	}, logger)

	batchStore := memory.NewBatchStore()
	if cfg.Batch.EvictionEnabled {
		batchStore.StartEvictor(
			ctx,
			time.Duration(cfg.Batch.RecordTTLMinutes)*time.Minute,
			time.Duration(cfg.Batch.EvictIntervalMin)*time.Minute,
			logger,
		)
	}

	clock := system.New()
	disp := dispatcher.New(client, batchStore, clock, logger)
	svc := service.New(
		batchStore,
		client,
		disp,
		uuid.NewGenerator(),
		clock,
		service.Config{
			OutputDir:          cfg.Capture.OutputDir,
			DefaultConcurrency: cfg.Batch.Concurrency,
			DefaultRetries:     cfg.Batch.Retries,
			Options:            cfg.CaptureOptions(cfg.Capture.DefaultProfile),
		},
		logger,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(svc, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
