package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix namespaces the environment variables this service reads, e.g.
// READINGS_SERVER_PORT or READINGS_PROVIDERS_GEMINI_API_KEY.
const envPrefix = "READINGS"

// Load reads configuration from an optional YAML file and the environment,
// applies defaults, and validates the result. Pass "" to skip the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.heartbeat_interval", 15*time.Second)
	v.SetDefault("worker.poll_backoff", 2*time.Second)
	v.SetDefault("worker.sweep_interval", 30*time.Second)
	v.SetDefault("worker.text.heartbeat_timeout", 5*time.Minute)
	v.SetDefault("worker.text.max_attempts", 3)
	v.SetDefault("worker.pdf.heartbeat_timeout", 2*time.Minute)
	v.SetDefault("worker.pdf.max_attempts", 3)
	v.SetDefault("worker.audio.heartbeat_timeout", 10*time.Minute)
	v.SetDefault("worker.audio.max_attempts", 3)
	v.SetDefault("worker.song.heartbeat_timeout", 15*time.Minute)
	v.SetDefault("worker.song.max_attempts", 3)

	v.SetDefault("providers.gemini.model", "gemini-2.0-flash")
	v.SetDefault("providers.gemini.max_retries", 3)
	v.SetDefault("providers.gemini.retry_delay", 2*time.Second)
	v.SetDefault("providers.song.poll_interval", 5*time.Second)
	v.SetDefault("providers.song.max_wait", 10*time.Minute)

	v.SetDefault("storage.base_path", "/var/lib/readings/artifacts")
}

// bindEnvKeys binds every config key explicitly. AutomaticEnv only resolves
// keys viper has already seen, and secrets such as the database URL have no
// default to register them.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"server.port", "server.log_level", "server.read_timeout",
		"server.write_timeout", "server.shutdown_timeout",
		"database.url", "database.max_open_conns", "database.max_idle_conns",
		"database.conn_max_lifetime",
		"worker.concurrency", "worker.heartbeat_interval", "worker.poll_backoff",
		"worker.sweep_interval",
		"worker.text.heartbeat_timeout", "worker.text.max_attempts",
		"worker.pdf.heartbeat_timeout", "worker.pdf.max_attempts",
		"worker.audio.heartbeat_timeout", "worker.audio.max_attempts",
		"worker.song.heartbeat_timeout", "worker.song.max_attempts",
		"providers.gemini.api_key", "providers.gemini.model",
		"providers.gemini.max_retries", "providers.gemini.retry_delay",
		"providers.render.base_url", "providers.render.api_key",
		"providers.speech.base_url", "providers.speech.api_key",
		"providers.song.base_url", "providers.song.api_key",
		"providers.song.poll_interval", "providers.song.max_wait",
		"storage.base_path",
	}
	for _, key := range keys {
		// BindEnv only fails on an empty key.
		_ = v.BindEnv(key)
	}
}
