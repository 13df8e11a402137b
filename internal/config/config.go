package config

import "time"

// Config holds all application configuration, organized into logical
// groups.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Store  StoreConfig  `mapstructure:"store"  validate:"required"`
	Queue  QueueConfig  `mapstructure:"queue"  validate:"required"`
}

// ServerConfig contains the ops HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// StoreConfig selects and configures the durable task store backend.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"        validate:"required,oneof=memory redis"`
	RedisAddr     string `mapstructure:"redis_addr"     validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"       validate:"gte=0"`
}

// QueueConfig contains the scheduling, execution and maintenance
// settings of the task queue.
type QueueConfig struct {
	Workers                 int           `mapstructure:"workers"          validate:"required,gt=0"`
	Capacity                int           `mapstructure:"capacity"         validate:"required,gt=0"`
	DefaultTimeout          time.Duration `mapstructure:"default_timeout"  validate:"required"`
	PollInterval            time.Duration `mapstructure:"poll_interval"    validate:"required"`
	CleanupInterval         time.Duration `mapstructure:"cleanup_interval" validate:"required"`
	StatsInterval           time.Duration `mapstructure:"stats_interval"   validate:"required"`
	Retention               time.Duration `mapstructure:"retention"        validate:"required"`
	FailOnDependencyFailure bool          `mapstructure:"fail_on_dependency_failure"`
}
