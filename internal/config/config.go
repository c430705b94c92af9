package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the dubbing gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Chat API configuration (OpenAI-compatible endpoint)
	ChatAPIKey      string  `envconfig:"CHAT_API_KEY" required:"true"`
	ChatBaseURL     string  `envconfig:"CHAT_BASE_URL" default:"https://api.deepseek.com/v1"`
	ChatModel       string  `envconfig:"CHAT_MODEL" default:"deepseek-chat"`
	ChatTemperature float64 `envconfig:"CHAT_TEMPERATURE" default:"0.7"`
	ChatMaxTokens   int     `envconfig:"CHAT_MAX_TOKENS" default:"2000"`
	ChatTimeout     int     `envconfig:"CHAT_TIMEOUT" default:"90"` // seconds

	// Voice service configuration (recommendation + synthesis)
	VoiceServiceURL string `envconfig:"VOICE_SERVICE_URL" required:"true"`
	// Public base URL clients can reach audio files at. Relative result paths
	// are rebased onto this; defaults to VOICE_SERVICE_URL when empty.
	VoicePublicURL   string `envconfig:"VOICE_PUBLIC_URL" default:""`
	VoicesPerGender  int    `envconfig:"VOICES_PER_GENDER" default:"3"`
	RecommendTimeout int    `envconfig:"RECOMMEND_TIMEOUT" default:"30"` // seconds

	// Synthesis job polling configuration
	PollInterval    int `envconfig:"POLL_INTERVAL_MS" default:"2000"` // milliseconds between status polls
	PollMaxAttempts int `envconfig:"POLL_MAX_ATTEMPTS" default:"150"` // give up on a stuck job after this many polls
	SubmitTimeout   int `envconfig:"SUBMIT_TIMEOUT" default:"30"`     // seconds for the initial submit call

	// Conversation configuration
	RevealDelay  int `envconfig:"REVEAL_DELAY_MS" default:"20"` // per-rune reply reveal pacing, 0 disables
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"50"`   // most-recent conversations kept

	// History store configuration
	HistoryDSN string `envconfig:"HISTORY_DSN" default:"gateway_history.db"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ChatAPIKey == "" {
		return fmt.Errorf("CHAT_API_KEY is required")
	}
	if c.VoiceServiceURL == "" {
		return fmt.Errorf("VOICE_SERVICE_URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive, got %d", c.PollInterval)
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive, got %d", c.PollMaxAttempts)
	}
	return nil
}

// PublicBaseURL returns the base URL audio resource paths are rebased onto.
func (c *Config) PublicBaseURL() string {
	if c.VoicePublicURL != "" {
		return c.VoicePublicURL
	}
	return c.VoiceServiceURL
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
