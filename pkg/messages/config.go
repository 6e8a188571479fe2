package messages

import "time"

// Config holds settings for a Messages-style completion endpoint.
type Config struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	APIKey    string        `yaml:"api_key" json:"-"`
	Model     string        `yaml:"model" json:"model"`
	Version   string        `yaml:"version" json:"version"`
	MaxTokens int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns a configuration without credentials.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://api.anthropic.com",
		Model:     "claude-3-5-sonnet-latest",
		Version:   "2023-06-01",
		MaxTokens: 800,
		Timeout:   30 * time.Second,
	}
}
