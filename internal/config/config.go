// Package config loads and validates application configuration from
// environment variables and an optional YAML file. Environment variables take
// precedence.
package config

import "time"

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker" validate:"required"`
	Providers ProvidersConfig `mapstructure:"providers" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains connection pool settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gt=0"`
}

// TaskTypeConfig holds the per-task-type execution budget.
type TaskTypeConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" validate:"gt=0"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gt=0"`
}

// WorkerConfig contains claim-loop and monitor settings.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	PollBackoff       time.Duration `mapstructure:"poll_backoff" validate:"gt=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`

	Text  TaskTypeConfig `mapstructure:"text" validate:"required"`
	PDF   TaskTypeConfig `mapstructure:"pdf" validate:"required"`
	Audio TaskTypeConfig `mapstructure:"audio" validate:"required"`
	Song  TaskTypeConfig `mapstructure:"song" validate:"required"`
}

// GeminiConfig contains the text generation provider settings.
type GeminiConfig struct {
	APIKey     string        `mapstructure:"api_key" validate:"required"`
	Model      string        `mapstructure:"model" validate:"required"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gt=0"`
}

// HTTPProviderConfig contains settings for one synchronous HTTP provider.
type HTTPProviderConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	APIKey  string `mapstructure:"api_key"`
}

// SongProviderConfig contains settings for the asynchronous song provider.
type SongProviderConfig struct {
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	APIKey       string        `mapstructure:"api_key"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxWait      time.Duration `mapstructure:"max_wait" validate:"gt=0"`
}

// ProvidersConfig groups the content generation providers.
type ProvidersConfig struct {
	Gemini GeminiConfig       `mapstructure:"gemini" validate:"required"`
	Render HTTPProviderConfig `mapstructure:"render" validate:"required"`
	Speech HTTPProviderConfig `mapstructure:"speech" validate:"required"`
	Song   SongProviderConfig `mapstructure:"song" validate:"required"`
}

// StorageConfig contains artifact blob storage settings.
type StorageConfig struct {
	BasePath string `mapstructure:"base_path" validate:"required"`
}
