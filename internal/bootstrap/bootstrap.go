// Package bootstrap builds the process-wide infrastructure shared by the
// api and worker binaries from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
	clientv3 "go.etcd.io/etcd/client/v3"

	"ai-orchestrator/internal/config"
	"ai-orchestrator/internal/dispatch"
	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/infra/etcd"
	"ai-orchestrator/internal/infra/memory"
	"ai-orchestrator/internal/infra/provider"
	"ai-orchestrator/internal/infra/storage"
	"ai-orchestrator/internal/logging"
	"ai-orchestrator/internal/worker"
)

// Broker is the full broker surface: publishing, result reads and claiming.
type Broker interface {
	domain.Broker
	domain.Consumer
}

// Backend is the infrastructure selected by broker.backend.
type Backend struct {
	Broker  Broker
	Catalog domain.SpriteCatalog
	Locker  domain.Locker
	// Etcd is nil for the memory backend.
	Etcd *clientv3.Client

	cfg    *config.Config
	logger *slog.Logger
}

// NewBackend connects to etcd, or builds the in-process backend.
func NewBackend(cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{cfg: cfg, logger: logger}
	if cfg.Broker.Backend == "memory" {
		logger.Warn("using the in-process broker; tasks are lost on restart")
		b.Broker = memory.NewBroker()
		b.Catalog = memory.NewSpriteCatalog()
		b.Locker = memory.NewLocker()
		return b, nil
	}

	client, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout, logging.Zap(cfg.Log))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	prefix := cfg.Broker.KeyPrefix
	b.Etcd = client
	b.Broker = etcd.NewBroker(client, prefix, cfg.Broker.ResultTTL, logger)
	b.Catalog = etcd.NewSpriteCatalog(client, prefix, logger)
	b.Locker = etcd.NewEtcdLocker(client, prefix)
	logger.Info("connected to etcd", "endpoints", cfg.EtcdEndpoints, "prefix", prefix)
	return b, nil
}

// LeaderElection returns the election the periodic scheduler campaigns in.
func (b *Backend) LeaderElection(nodeID string) domain.LeaderElectionManager {
	if b.Etcd == nil {
		return memory.NewLeaderElection()
	}
	return etcd.NewEtcdLeaderElectionManager(b.Etcd, b.cfg.Broker.KeyPrefix, nodeID, b.cfg.LeaderElectionTTL, b.logger)
}

// Close releases the etcd connection.
func (b *Backend) Close() error {
	if b.Etcd == nil {
		return nil
	}
	return b.Etcd.Close()
}

// Routes returns the static task-to-queue routing table.
func Routes(cfg *config.Config) dispatch.Routes {
	return dispatch.NewRoutes(cfg.Broker.RouteMap(), cfg.Broker.DefaultQueue)
}

// PeriodicTasks converts the configured schedules.
func PeriodicTasks(cfg *config.Config) []domain.PeriodicTask {
	tasks := make([]domain.PeriodicTask, 0, len(cfg.Periodic))
	for _, p := range cfg.Periodic {
		queue := p.Queue
		if queue == "" {
			queue = cfg.Broker.QueueFor(p.Name)
		}
		tasks = append(tasks, domain.PeriodicTask{Name: p.Name, Schedule: p.Schedule, Queue: queue})
	}
	return tasks
}

// NewStorage returns file storage on the OS filesystem, creating the
// configured directories.
func NewStorage(cfg config.StorageConfig, logger *slog.Logger) (*storage.FileStorage, error) {
	return newStorage(afero.NewOsFs(), cfg, logger)
}

func newStorage(fs afero.Fs, cfg config.StorageConfig, logger *slog.Logger) (*storage.FileStorage, error) {
	dirs := storage.Dirs{
		Upload:    cfg.UploadDir,
		Generated: cfg.GeneratedDir,
		Sprites:   cfg.SpritesDir,
		Archive:   cfg.ArchiveDir,
	}
	for _, dir := range []string{dirs.Upload, dirs.Generated, dirs.Sprites, dirs.Archive} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return storage.New(fs, dirs, logger), nil
}

// Providers holds the configured provider variants.
type Providers struct {
	Local *provider.LocalProvider
	// Hosted is nil when no API key is configured.
	Hosted   *provider.HostedProvider
	Registry *provider.Registry
}

// NewProviders builds the local provider, the hosted one when an API key is
// set, and the registry selecting between them.
func NewProviders(ctx context.Context, cfg config.ProvidersConfig, fs afero.Fs, logger *slog.Logger) (*Providers, error) {
	p := &Providers{
		Local: provider.NewLocalProvider(provider.LocalConfig{
			BaseURL:     cfg.Ollama.BaseURL,
			TextModel:   cfg.Ollama.TextModel,
			VisionModel: cfg.Ollama.VisionModel,
			Timeout:     cfg.Ollama.Timeout,
			EnsureModel: cfg.Ollama.EnsureModel,
		}, fs, logger),
	}
	p.Registry = provider.NewRegistry(p.Local)

	if cfg.Gemini.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not set, hosted provider disabled")
		return p, nil
	}
	hosted, err := provider.NewHostedProvider(ctx, provider.HostedConfig{
		APIKey:            cfg.Gemini.APIKey,
		TextModel:         cfg.Gemini.TextModel,
		VisionModel:       cfg.Gemini.VisionModel,
		ImageModel:        cfg.Gemini.ImageModel,
		RequestsPerSecond: cfg.Gemini.RequestsPerSecond,
		Burst:             cfg.Gemini.Burst,
	}, fs, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create hosted provider: %w", err)
	}
	p.Hosted = hosted
	p.Registry.Register(provider.HostedModelName, hosted)
	return p, nil
}

// ImageGenerator returns the hosted provider, or nil when it is disabled.
func (p *Providers) ImageGenerator() domain.ImageGenerator {
	if p.Hosted == nil {
		return nil
	}
	return p.Hosted
}

// NewConsumer registers every task handler and returns a consumer for the
// configured queues, plus the description the worker registers under.
func NewConsumer(cfg *config.Config, backend *Backend, providers *Providers, files domain.FileStorage, workerID string, logger *slog.Logger) (*worker.Consumer, domain.WorkerInfo) {
	handlers := worker.NewHandlers()
	worker.RegisterTasks(handlers, worker.TaskDeps{
		Text:    providers.Local,
		Vision:  providers.Local,
		Catalog: backend.Catalog,
		Storage: files,
		Locker:  backend.Locker,
		Logger:  logger,
	})

	hostname, _ := os.Hostname()
	info := domain.WorkerInfo{
		ID:        workerID,
		Hostname:  hostname,
		Queues:    cfg.ConsumedQueues(),
		Tasks:     handlers.Names(),
		StartedAt: time.Now().UTC(),
	}
	consumer := worker.NewConsumer(backend.Broker, handlers, worker.ConsumerConfig{
		WorkerID:     workerID,
		Queues:       cfg.ConsumedQueues(),
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Broker.PollInterval,
		TaskTimeout:  cfg.Worker.TaskTimeout,
	}, logger)
	return consumer, info
}
