package ollama

import "time"

// Config configures the completion client used for remote scoring.
type Config struct {
	// BaseURL of the Ollama server, e.g. http://localhost:11434. Empty means no server.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Model answers Complete calls.
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Retries after the first failed generate call. Zero disables retrying.
	Retries int           `yaml:"retries" json:"retries"`
	Backoff time.Duration `yaml:"backoff" json:"backoff"`
	// CircuitFailureThreshold consecutive failures open the circuit for
	// CircuitReset. A negative threshold disables the breaker.
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold" json:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset" json:"circuit_reset"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:                 "http://localhost:11434",
		Model:                   "llama3",
		Timeout:                 30 * time.Second,
		Retries:                 2,
		Backoff:                 500 * time.Millisecond,
		CircuitFailureThreshold: 5,
		CircuitReset:            30 * time.Second,
	}
}

// WithDefaults fills unset fields from DefaultConfig. BaseURL is left alone.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Retries < 0 {
		c.Retries = def.Retries
	}
	if c.Backoff <= 0 {
		c.Backoff = def.Backoff
	}
	if c.CircuitFailureThreshold == 0 {
		c.CircuitFailureThreshold = def.CircuitFailureThreshold
	}
	if c.CircuitReset <= 0 {
		c.CircuitReset = def.CircuitReset
	}
	return c
}
