package config

import "time"

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains the database settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// QueueConfig contains the task engine tuning settings. Durations are
// expressed in seconds to keep the file and env representations plain
// integers.
type QueueConfig struct {
	MaxWorkers             int `mapstructure:"max_workers"              validate:"required,gt=0"`
	PollTimeoutSeconds     int `mapstructure:"poll_timeout_seconds"     validate:"required,gt=0"`
	DefaultTimeoutSeconds  int `mapstructure:"default_timeout_seconds"  validate:"required,gt=0"`
	DefaultMaxRetries      int `mapstructure:"default_max_retries"      validate:"gte=0"`
	BackoffCapSeconds      int `mapstructure:"backoff_cap_seconds"      validate:"required,gt=0"`
	ResultTTLSeconds       int `mapstructure:"result_ttl_seconds"       validate:"required,gt=0"`
	ReaperIntervalSeconds  int `mapstructure:"reaper_interval_seconds"  validate:"required,gt=0"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"required,gt=0"`
}

// PollTimeout returns the worker poll timeout as a duration.
func (q QueueConfig) PollTimeout() time.Duration {
	return time.Duration(q.PollTimeoutSeconds) * time.Second
}

// DefaultTimeout returns the default per-task timeout as a duration.
func (q QueueConfig) DefaultTimeout() time.Duration {
	return time.Duration(q.DefaultTimeoutSeconds) * time.Second
}

// BackoffCap returns the retry backoff cap as a duration.
func (q QueueConfig) BackoffCap() time.Duration {
	return time.Duration(q.BackoffCapSeconds) * time.Second
}

// ResultTTL returns the result retention window as a duration.
func (q QueueConfig) ResultTTL() time.Duration {
	return time.Duration(q.ResultTTLSeconds) * time.Second
}

// ReaperInterval returns the sweep cadence as a duration.
func (q QueueConfig) ReaperInterval() time.Duration {
	return time.Duration(q.ReaperIntervalSeconds) * time.Second
}

// ShutdownTimeout returns the engine stop bound as a duration.
func (q QueueConfig) ShutdownTimeout() time.Duration {
	return time.Duration(q.ShutdownTimeoutSeconds) * time.Second
}
