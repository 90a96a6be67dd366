// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	grpcapi "ai-orchestrator/internal/api/grpc"
	http_api "ai-orchestrator/internal/api/http"
	"ai-orchestrator/internal/bootstrap"
	"ai-orchestrator/internal/config"
	"ai-orchestrator/internal/discovery"
	"ai-orchestrator/internal/dispatch"
	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/infra/sqlite"
	"ai-orchestrator/internal/logging"
	"ai-orchestrator/internal/scheduler"
	"ai-orchestrator/internal/tracing"
	"ai-orchestrator/internal/usecase"
)

func main() {
	// 1. Load configuration and initialize logger and tracer
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser := logging.New(cfg.Log)
	slog.SetDefault(logger)

	var spanOut io.Writer
	if cfg.Log.Level == "debug" {
		spanOut = os.Stdout
	}
	tracerShutdown, err := tracing.InitTracer("ai-orchestrator-api", spanOut, logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}

	nodeID := uuid.New().String()
	logger.Info("starting api node", "node_id", nodeID, "broker", cfg.Broker.Backend)
	if cfg.InternalServiceSecret == "" {
		logger.Warn("INTERNAL_SERVICE_SECRET is empty, every protected endpoint will reject requests")
	}

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

	var chats domain.ChatRepository
	var chatRepo *sqlite.ChatRepository
	if cfg.Chat.Enabled {
		chatRepo, err = sqlite.Open(rootCtx, cfg.Chat.DSN, logger)
		if err != nil {
			log.Fatalf("Failed to open chat history: %v", err)
		}
		chats = chatRepo
	}

	router := dispatch.NewRouter(backend.Broker, bootstrap.Routes(cfg), logger)
	resolver := dispatch.NewResolver(backend.Broker, logger)

	// 4. Workers: watched in etcd, or run in-process with the memory broker
	var workers domain.WorkerDirectory
	var consumerWG sync.WaitGroup
	if backend.Etcd != nil {
		d := discovery.NewWorkerDiscovery(backend.Etcd, cfg.Broker.KeyPrefix, logger)
		go d.WatchWorkers(rootCtx)
		workers = d
	} else {
		consumer, info := bootstrap.NewConsumer(cfg, backend, providers, files, nodeID, logger)
		workers = discovery.Static{info}
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			if err := consumer.Run(rootCtx); err != nil {
				logger.Error("in-process consumer stopped with error", "error", err)
			}
		}()
	}

	// 5. Application services
	services := http_api.Services{
		Text:    usecase.NewTextService(providers.Registry, chats, logger),
		Images:  usecase.NewImageService(providers.ImageGenerator(), files, router, logger),
		Catalog: usecase.NewCatalogService(router, files, backend.Catalog, providers.Local, logger),
		Tasks:   usecase.NewTaskService(router, resolver, backend.Broker, workers, logger),
	}

	cronScheduler := scheduler.NewCronScheduler(router, logger)
	schedulerService := usecase.NewSchedulerService(backend.LeaderElection(nodeID), cronScheduler, bootstrap.PeriodicTasks(cfg), nodeID, logger)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := schedulerService.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler service stopped with error", "error", err)
		}
	}()

	// 6. HTTP API with metrics endpoint and CORS middleware
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	http_api.NewAIHandler(services, cfg.InternalServiceSecret, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           http_api.CORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 7. gRPC task API
	lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
	if err != nil {
		log.Fatalf("Failed to listen for gRPC: %v", err)
	}
	grpcServer := grpcapi.NewGRPCServer(grpcapi.NewServer(router, resolver, logger), cfg.InternalServiceSecret)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GrpcListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("gRPC server failed: %v", err)
		}
	}()

	// 8. Block until shutdown
	<-rootCtx.Done()
	logger.Info("shutting down application gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = server.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	<-schedulerDone
	consumerWG.Wait()

	if chatRepo != nil {
		err = multierr.Append(err, chatRepo.Close())
	}
	err = multierr.Append(err, backend.Close())
	err = multierr.Append(err, tracerShutdown(shutdownCtx))
	if err != nil {
		logger.Error("shutdown completed with errors", "error", err)
	}
	logger.Info("application shut down")
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
