package scoring

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/cvpipe/pkg/messages"
	"github.com/garnizeh/cvpipe/pkg/ollama"
)

const (
	ProviderLocal    = "local"
	ProviderMessages = "messages"
	ProviderOllama   = "ollama"
)

// Config selects and configures the scoring implementation.
type Config struct {
	Provider string          `yaml:"provider"`
	Timeout  time.Duration   `yaml:"timeout"`
	Messages messages.Config `yaml:"messages"`
	Ollama   ollama.Config   `yaml:"ollama"`
}

// NewScorer builds the configured Scorer. A remote provider without its
// credential or endpoint degrades to LocalScorer.
func NewScorer(cfg Config) (Scorer, error) {
	switch cfg.Provider {
	case "", ProviderLocal:
		if cfg.Provider == "" && cfg.Messages.APIKey != "" {
			cfg.Provider = ProviderMessages
			return NewScorer(cfg)
		}
		return LocalScorer{}, nil

	case ProviderMessages:
		if cfg.Messages.APIKey == "" {
			logger.Warn("scoring: messages provider has no api key; using local heuristic")
			return LocalScorer{}, nil
		}
		c, err := messages.NewClient(cfg.Messages, nil)
		if err != nil {
			return nil, fmt.Errorf("messages client: %w", err)
		}
		logger.Info("scoring: using messages provider", slog.String("model", cfg.Messages.Model))
		return NewRemoteScorer(c, cfg.Timeout), nil

	case ProviderOllama:
		if cfg.Ollama.BaseURL == "" {
			logger.Warn("scoring: ollama provider has no base url; using local heuristic")
			return LocalScorer{}, nil
		}
		c, err := ollama.NewDefaultClient(cfg.Ollama.WithDefaults())
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		logger.Info("scoring: using ollama provider", slog.String("model", cfg.Ollama.Model))
		return NewRemoteScorer(c, cfg.Timeout), nil

	default:
		return nil, fmt.Errorf("unknown scoring provider %q", cfg.Provider)
	}
}
