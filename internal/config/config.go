package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/garnizeh/cvpipe/internal/scoring"
	"github.com/garnizeh/cvpipe/pkg/messages"
	"github.com/garnizeh/cvpipe/pkg/ollama"
)

const (
	// insecureJWTSecret is the built-in default; it is only accepted when CVP_ENV=development.
	insecureJWTSecret = "supersecretkey"

	QueueDriverSQLite   = "sqlite"
	QueueDriverRabbitMQ = "rabbitmq"
)

type Config struct {
	Addr           string         `yaml:"addr"`
	JWTSecret      string         `yaml:"jwt_secret"`
	APITimeout     time.Duration  `yaml:"timeout"`
	DatabasePath   string         `yaml:"database_path"`
	MigrateOnStart bool           `yaml:"migrate_on_start"`
	Queue          QueueConfig    `yaml:"queue"`
	Worker         WorkerConfig   `yaml:"worker"`
	Dispatch       DispatchConfig `yaml:"dispatch"`
	Scoring        scoring.Config `yaml:"scoring"`
}

type QueueConfig struct {
	Driver       string        `yaml:"driver"`
	Name         string        `yaml:"name"`
	Attempts     int           `yaml:"attempts"`
	Backoff      time.Duration `yaml:"backoff"`
	RabbitMQURL  string        `yaml:"rabbitmq_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Visibility   time.Duration `yaml:"visibility_timeout"`
}

type WorkerConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"concurrency"`
}

type DispatchConfig struct {
	IdempotencyWindow int           `yaml:"idempotency_window"`
	DraftTTL          time.Duration `yaml:"draft_ttl"`
}

// LoadConfig builds the configuration from defaults, then the optional YAML
// file at path, then CVP_* environment variables (a .env file in the working
// directory is loaded first when present).
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           ":8080",
		JWTSecret:      insecureJWTSecret,
		APITimeout:     15 * time.Second,
		DatabasePath:   "cvpipe.db",
		MigrateOnStart: true,
		Queue: QueueConfig{
			Driver:       QueueDriverSQLite,
			Name:         "analysis",
			Attempts:     3,
			Backoff:      time.Second,
			PollInterval: 500 * time.Millisecond,
			Visibility:   5 * time.Minute,
		},
		Worker:   WorkerConfig{Enabled: true, Concurrency: 2},
		Dispatch: DispatchConfig{IdempotencyWindow: 10, DraftTTL: 7 * 24 * time.Hour},
		Scoring: scoring.Config{
			// empty: a configured messages api key selects the remote scorer
			Provider: "",
			Timeout:  20 * time.Second,
			Messages: messages.DefaultConfig(),
			Ollama:   ollama.DefaultConfig(),
		},
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Addr, "CVP_ADDR")
	setString(&cfg.JWTSecret, "CVP_JWT_SECRET")
	setString(&cfg.DatabasePath, "CVP_DATABASE_PATH")
	setString(&cfg.Queue.Driver, "CVP_QUEUE_DRIVER")
	setString(&cfg.Queue.Name, "CVP_QUEUE_NAME")
	setString(&cfg.Queue.RabbitMQURL, "CVP_RABBITMQ_URL")
	setString(&cfg.Scoring.Provider, "CVP_SCORING_PROVIDER")
	setString(&cfg.Scoring.Messages.APIKey, "CVP_MESSAGES_API_KEY")
	setString(&cfg.Scoring.Messages.Model, "CVP_MESSAGES_MODEL")
	setString(&cfg.Scoring.Ollama.BaseURL, "CVP_OLLAMA_BASE_URL")
	setString(&cfg.Scoring.Ollama.Model, "CVP_OLLAMA_MODEL")

	if v := os.Getenv("CVP_WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CVP_WORKER_CONCURRENCY: %w", err)
		}
		cfg.Worker.Concurrency = n
	}
	if v := os.Getenv("CVP_WORKER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CVP_WORKER_ENABLED: %w", err)
		}
		cfg.Worker.Enabled = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects unusable settings and fills zero-valued client defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	} else if c.JWTSecret == insecureJWTSecret && os.Getenv("CVP_ENV") != "development" {
		errs = append(errs, errors.New("jwt_secret uses the insecure default; set CVP_JWT_SECRET or CVP_ENV=development"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.APITimeout <= 0 {
		c.APITimeout = 15 * time.Second
	}

	switch c.Queue.Driver {
	case QueueDriverSQLite:
	case QueueDriverRabbitMQ:
		if c.Queue.RabbitMQURL == "" {
			errs = append(errs, errors.New("queue.rabbitmq_url is required for the rabbitmq driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.driver %q", c.Queue.Driver))
	}
	if c.Queue.Name == "" {
		errs = append(errs, errors.New("queue.name is required"))
	}
	if c.Queue.Attempts <= 0 {
		errs = append(errs, errors.New("queue.attempts must be > 0"))
	}
	if c.Queue.Backoff <= 0 {
		errs = append(errs, errors.New("queue.backoff must be > 0"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be > 0"))
	}
	if c.Dispatch.IdempotencyWindow <= 0 {
		errs = append(errs, errors.New("dispatch.idempotency_window must be > 0"))
	}

	switch c.Scoring.Provider {
	case "", scoring.ProviderLocal:
	case scoring.ProviderMessages:
		if c.Scoring.Messages.APIKey == "" {
			errs = append(errs, errors.New("scoring.messages.api_key is required for the messages provider"))
		}
	case scoring.ProviderOllama:
		if c.Scoring.Ollama.BaseURL == "" {
			errs = append(errs, errors.New("scoring.ollama.base_url is required for the ollama provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown scoring.provider %q", c.Scoring.Provider))
	}

	c.Scoring.Ollama = c.Scoring.Ollama.WithDefaults()

	return errors.Join(errs...)
}
