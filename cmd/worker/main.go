// cmd/worker/main.go
package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"ai-orchestrator/internal/bootstrap"
	"ai-orchestrator/internal/config"
	"ai-orchestrator/internal/logging"
	"ai-orchestrator/internal/tracing"
	"ai-orchestrator/internal/worker"
)

func main() {
	// 1. Init config, logger and tracer
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Broker.Backend != "etcd" {
		log.Fatalf("worker requires the etcd broker, got %q (the memory broker runs workers inside the api process)", cfg.Broker.Backend)
	}

	logger, logCloser := logging.New(cfg.Log)
	slog.SetDefault(logger)

	var spanOut io.Writer
	if cfg.Log.Level == "debug" {
		spanOut = os.Stdout
	}
	tracerShutdown, err := tracing.InitTracer("ai-orchestrator-worker", spanOut, logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}

	workerID := uuid.New().String()
	logger.Info("starting worker node", "worker_id", workerID, "queues", cfg.Worker.Queues)

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	// 3. Infrastructure
	backend, err := bootstrap.NewBackend(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize broker backend: %v", err)
	}
	files, err := bootstrap.NewStorage(cfg.Storage, logger)
	if err != nil {
		log.Fatalf("Failed to initialize file storage: %v", err)
	}
	providers, err := bootstrap.NewProviders(rootCtx, cfg.Providers, files.Fs(), logger)
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}

	consumer, info := bootstrap.NewConsumer(cfg, backend, providers, files, workerID, logger)

	// 4. Register this worker in etcd
	registry := worker.NewRegistry(backend.Etcd, cfg.Broker.KeyPrefix, logger)
	regCtx, regCancel := context.WithTimeout(rootCtx, 5*time.Second)
	err = registry.Register(regCtx, info, int64(cfg.LeaderElectionTTL.Seconds()))
	regCancel()
	if err != nil {
		log.Fatalf("Failed to register worker: %v", err)
	}

	// 5. Consume until shutdown; Run returns once running tasks finish
	if err := consumer.Run(rootCtx); err != nil {
		logger.Error("consumer stopped with error", "error", err)
	}
	logger.Info("shutting down worker node gracefully")

	deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer deregCancel()
	err = registry.Deregister(deregCtx)
	err = multierr.Append(err, backend.Close())
	err = multierr.Append(err, tracerShutdown(deregCtx))
	if err != nil {
		logger.Error("shutdown completed with errors", "error", err)
	}
	logger.Info("worker node shut down")
	_ = logCloser.Close()
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
