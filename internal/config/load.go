// Package config loads and validates application configuration from
// defaults, an optional config file, and TASKWELL_-prefixed environment
// variables, with the environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration and returns a validated Config.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskwell")

	v.SetEnvPrefix("TASKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus environment carry
		// the full configuration.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	// Registered empty so Unmarshal sees the key when only the environment
	// provides it. Validation still rejects a missing URL.
	v.SetDefault("database.url", "")

	v.SetDefault("queue.max_workers", 10)
	v.SetDefault("queue.poll_timeout_seconds", 1)
	v.SetDefault("queue.default_timeout_seconds", 300)
	v.SetDefault("queue.default_max_retries", 3)
	v.SetDefault("queue.backoff_cap_seconds", 300)
	v.SetDefault("queue.result_ttl_seconds", 3600)
	v.SetDefault("queue.reaper_interval_seconds", 300)
	v.SetDefault("queue.shutdown_timeout_seconds", 30)
}
