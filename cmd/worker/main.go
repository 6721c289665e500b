package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"cloudqueues-driver/configs"
	"cloudqueues-driver/internal/app/backend"
	"cloudqueues-driver/internal/app/worker"
	httpServer "cloudqueues-driver/internal/pkg/http"
	"cloudqueues-driver/internal/pkg/logger"
	"cloudqueues-driver/internal/pkg/observability/metrics"
)

func main() {
	cfg, err := configs.Parse()
	if err != nil {
		log.Fatalf("unable to load config: %v", err)
	}

	if err := logger.Setup(cfg.LogLevel); err != nil {
		log.Fatalf("unable to set logger: %v", err)
	}
	defer logger.Sync()

	if cfg.WorkerQueue == "" {
		logger.Fatal("WORKER_QUEUE is required")
	}

	metrics.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := backend.NewDriver(ctx, cfg)
	if err != nil {
		logger.Fatal("unable to create driver: %s", err)
	}

	httpServer.StartHTTPServer(ctx, cfg.HTTPAddr, d.Info)

	w := &worker.Worker{
		Consumer: d,
		Queue:    cfg.WorkerQueue,
		Wait:     cfg.WorkerWaitDuration,
		Handler:  worker.LogHandler,
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped: %s", err)
	}
	logger.Info("Worker exited")
}
