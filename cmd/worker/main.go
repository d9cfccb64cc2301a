package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"document-pipeline/internal/app"
	"document-pipeline/internal/config"
	"document-pipeline/internal/telemetry"
	"document-pipeline/internal/worker"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	role := cfg.WorkerRole
	if role == "" {
		log.Fatal("WORKER_ROLE is required (submitter, collector or transformer)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	deps, err := app.Bootstrap(ctx, role)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	defer deps.Close()
	logger := deps.Logger
	defer func() { _ = logger.Sync() }()

	handler, source, err := deps.Handler(role)
	if err != nil {
		logger.Fatal("select handler", zap.Error(err))
	}

	go func() {
		if err := http.ListenAndServe(deps.Config.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("worker started",
		zap.String("queue", source.Name()),
		zap.Int("batch_size", deps.Config.BatchSize),
		zap.Duration("poll_wait", deps.Config.PollWait),
		zap.String("backend", deps.Config.QueueBackend))

	poller := worker.NewPoller(source, handler, deps.Config.BatchSize, deps.Config.PollWait, logger)
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
	}
}
