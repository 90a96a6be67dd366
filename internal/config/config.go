// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"ai-orchestrator/internal/scheduler"
)

// Config holds all configuration for the service and its workers.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	HttpListenAddr        string        `mapstructure:"http_listen_addr" validate:"required"`
	GrpcListenAddr        string        `mapstructure:"grpc_listen_addr" validate:"required"`
	InternalServiceSecret string        `mapstructure:"internal_service_secret"`
	EtcdEndpoints         []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout           time.Duration `mapstructure:"etcd_timeout"`
	LeaderElectionTTL     time.Duration `mapstructure:"leader_election_ttl"`

	Log       LogConfig            `mapstructure:"log"`
	Broker    BrokerConfig         `mapstructure:"broker"`
	Worker    WorkerConfig         `mapstructure:"worker"`
	Providers ProvidersConfig      `mapstructure:"providers"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Chat      ChatConfig           `mapstructure:"chat"`
	Periodic  []PeriodicTaskConfig `mapstructure:"periodic_tasks" validate:"dive"`
}

// LogConfig controls the slog handler and optional rotated log file.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// BrokerConfig selects and tunes the task broker.
type BrokerConfig struct {
	// Backend is "etcd" for deployments or "memory" for a single process.
	Backend      string        `mapstructure:"backend" validate:"oneof=etcd memory"`
	KeyPrefix    string        `mapstructure:"key_prefix" validate:"required,startswith=/"`
	ResultTTL    time.Duration `mapstructure:"result_ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	DefaultQueue string        `mapstructure:"default_queue" validate:"required"`
	TaskRoutes   []TaskRoute   `mapstructure:"task_routes" validate:"dive"`
}

// TaskRoute binds a task name to the queue it is published on. Routes are a
// list because task names contain dots, which Viper reads as nesting.
type TaskRoute struct {
	Task  string `mapstructure:"task" validate:"required"`
	Queue string `mapstructure:"queue" validate:"required"`
}

// WorkerConfig controls queue consumption.
type WorkerConfig struct {
	Queues      []string      `mapstructure:"queues" validate:"min=1,dive,required"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1,lte=64"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
}

// ProvidersConfig configures the generation backends.
type ProvidersConfig struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
	Ollama OllamaConfig `mapstructure:"ollama"`
}

// GeminiConfig configures the hosted provider.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	TextModel         string  `mapstructure:"text_model" validate:"required"`
	VisionModel       string  `mapstructure:"vision_model" validate:"required"`
	ImageModel        string  `mapstructure:"image_model" validate:"required"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=1"`
}

// OllamaConfig configures the local model server.
type OllamaConfig struct {
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	TextModel   string        `mapstructure:"text_model" validate:"required"`
	VisionModel string        `mapstructure:"vision_model" validate:"required"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	EnsureModel bool          `mapstructure:"ensure_model"`
}

// StorageConfig locates the shared directories. Every process consuming
// tasks must see the same paths.
type StorageConfig struct {
	UploadDir    string `mapstructure:"upload_dir" validate:"required"`
	GeneratedDir string `mapstructure:"generated_dir" validate:"required"`
	SpritesDir   string `mapstructure:"sprites_dir" validate:"required"`
	ArchiveDir   string `mapstructure:"archive_dir" validate:"required"`
}

// ChatConfig controls chat history persistence.
type ChatConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

// PeriodicTaskConfig declares a task submitted on a schedule by the leader.
type PeriodicTaskConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	Schedule string `mapstructure:"schedule" validate:"required,cron"`
	Queue    string `mapstructure:"queue"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	return load(viper.New(), "")
}

// LoadFile loads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("internal_service_secret", "INTERNAL_SERVICE_SECRET")
	_ = v.BindEnv("providers.gemini.api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("providers.ollama.base_url", "OLLAMA_API_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults and env vars are enough without a file.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_listen_addr", ":8000")
	v.SetDefault("grpc_listen_addr", ":50051")
	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("leader_election_ttl", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("broker.backend", "etcd")
	v.SetDefault("broker.key_prefix", "/orchestrator")
	v.SetDefault("broker.result_ttl", "24h")
	v.SetDefault("broker.poll_interval", "5s")
	v.SetDefault("broker.default_queue", "default")
	v.SetDefault("broker.task_routes", []map[string]any{
		{"task": "text.process_animation_script", "queue": "text_queue"},
		{"task": "text.generate_product_description", "queue": "text_queue"},
		{"task": "text.simple_test_task", "queue": "text_queue"},
		{"task": "vision.process_product_image", "queue": "vision_queue"},
		{"task": "vision.analyze_sprite", "queue": "vision_queue"},
		{"task": "vision.monitor_sprites_directory", "queue": "vision_queue"},
	})

	v.SetDefault("worker.queues", []string{"text_queue", "vision_queue", "default"})
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.task_timeout", "5m")

	v.SetDefault("providers.gemini.text_model", "gemini-2.0-flash")
	v.SetDefault("providers.gemini.vision_model", "gemini-2.0-flash")
	v.SetDefault("providers.gemini.image_model", "gemini-2.0-flash-preview-image-generation")
	v.SetDefault("providers.gemini.requests_per_second", 1.0)
	v.SetDefault("providers.gemini.burst", 2)
	v.SetDefault("providers.ollama.base_url", "http://ollama:11434")
	v.SetDefault("providers.ollama.text_model", "gemma:2b")
	v.SetDefault("providers.ollama.vision_model", "llava:7b")
	v.SetDefault("providers.ollama.timeout", "5m")
	v.SetDefault("providers.ollama.ensure_model", true)

	v.SetDefault("storage.upload_dir", "/app/uploads")
	v.SetDefault("storage.generated_dir", "/app/generated_images")
	v.SetDefault("storage.sprites_dir", "/app/public/sprites")
	v.SetDefault("storage.archive_dir", "/app/public/sprites_archive")

	v.SetDefault("chat.enabled", true)
	v.SetDefault("chat.dsn", "file:chat_history.db?_pragma=journal_mode(WAL)")

	v.SetDefault("periodic_tasks", []map[string]any{
		{"name": "vision.monitor_sprites_directory", "schedule": "@every 30s", "queue": "vision_queue"},
	})
}

// Validate checks the decoded configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := scheduler.Parser.Parse(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Broker.Backend == "etcd" && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("invalid configuration: etcd_endpoints required for the etcd broker")
	}
	return nil
}

// RouteMap returns the task routes keyed by task name.
func (b BrokerConfig) RouteMap() map[string]string {
	routes := make(map[string]string, len(b.TaskRoutes))
	for _, r := range b.TaskRoutes {
		routes[r.Task] = r.Queue
	}
	return routes
}

// ConsumedQueues returns the queues a worker claims from: the configured
// queues plus the default queue, where unrouted task names land.
func (c *Config) ConsumedQueues() []string {
	for _, q := range c.Worker.Queues {
		if q == c.Broker.DefaultQueue {
			return c.Worker.Queues
		}
	}
	queues := make([]string, 0, len(c.Worker.Queues)+1)
	queues = append(queues, c.Worker.Queues...)
	return append(queues, c.Broker.DefaultQueue)
}

// QueueFor returns the configured queue of a task, or the default queue.
func (b BrokerConfig) QueueFor(taskName string) string {
	for _, r := range b.TaskRoutes {
		if r.Task == taskName {
			return r.Queue
		}
	}
	return b.DefaultQueue
}
