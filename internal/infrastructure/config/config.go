package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Content   ContentConfig
	Executor  ExecutorConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// ContentConfig holds the lecture content backend configuration.
type ContentConfig struct {
	BaseURL           string        `envconfig:"CONTENT_BASE_URL" default:"http://localhost:8080/api"`
	Timeout           time.Duration `envconfig:"CONTENT_TIMEOUT" default:"15s"`
	RequestsPerSecond float64       `envconfig:"CONTENT_RPS" default:"0"`
}

// ExecutorConfig bounds embedded code execution.
type ExecutorConfig struct {
	PollAttempts    uint          `envconfig:"EXECUTOR_POLL_ATTEMPTS" default:"10"`
	PollInterval    time.Duration `envconfig:"EXECUTOR_POLL_INTERVAL" default:"20ms"`
	ScriptTimeout   time.Duration `envconfig:"EXECUTOR_SCRIPT_TIMEOUT" default:"5s"`
	ExternalTimeout time.Duration `envconfig:"EXECUTOR_EXTERNAL_TIMEOUT" default:"10s"`
	LegacyMirrors   bool          `envconfig:"EXECUTOR_LEGACY_MIRRORS" default:"true"`
	ConsoleLimit    int           `envconfig:"EXECUTOR_CONSOLE_LIMIT" default:"500"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds inbound rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// CORSConfig lists the origins allowed to call the API.
type CORSConfig struct {
	AllowOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values the executor cannot work with.
func (c *Config) Validate() error {
	if c.Content.BaseURL == "" {
		return fmt.Errorf("invalid config: CONTENT_BASE_URL is empty")
	}
	if c.Executor.PollAttempts == 0 {
		return fmt.Errorf("invalid config: EXECUTOR_POLL_ATTEMPTS must be positive")
	}
	if c.Executor.ScriptTimeout <= 0 {
		return fmt.Errorf("invalid config: EXECUTOR_SCRIPT_TIMEOUT must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Content: ContentConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 15 * time.Second,
		},
		Executor: ExecutorConfig{
			PollAttempts:    10,
			PollInterval:    20 * time.Millisecond,
			ScriptTimeout:   5 * time.Second,
			ExternalTimeout: 10 * time.Second,
			LegacyMirrors:   true,
			ConsoleLimit:    500,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"*"},
		},
	}
}
