package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables (prefix AIMA_,
// dots replaced by underscores, e.g. AIMA_QUEUE_WORKERS) and an
// optional YAML file named by AIMA_CONFIG. Environment variables take
// precedence over file values, which take precedence over defaults.
// Returns a validated Config or an error.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AIMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)

	v.SetDefault("queue.workers", 10)
	v.SetDefault("queue.capacity", 1000)
	v.SetDefault("queue.default_timeout", time.Hour)
	v.SetDefault("queue.poll_interval", 200*time.Millisecond)
	v.SetDefault("queue.cleanup_interval", 5*time.Minute)
	v.SetDefault("queue.stats_interval", time.Minute)
	v.SetDefault("queue.retention", 7*24*time.Hour)
	v.SetDefault("queue.fail_on_dependency_failure", false)
}
