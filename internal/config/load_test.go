package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 10, cfg.Queue.Workers)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, time.Hour, cfg.Queue.DefaultTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Queue.CleanupInterval)
	assert.Equal(t, time.Minute, cfg.Queue.StatsInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Queue.Retention)
	assert.False(t, cfg.Queue.FailOnDependencyFailure)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AIMA_SERVER_PORT", "9090")
	t.Setenv("AIMA_SERVER_LOG_LEVEL", "debug")
	t.Setenv("AIMA_QUEUE_WORKERS", "4")
	t.Setenv("AIMA_QUEUE_DEFAULT_TIMEOUT", "30s")
	t.Setenv("AIMA_QUEUE_FAIL_ON_DEPENDENCY_FAILURE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, 30*time.Second, cfg.Queue.DefaultTimeout)
	assert.True(t, cfg.Queue.FailOnDependencyFailure)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad log level", "AIMA_SERVER_LOG_LEVEL", "verbose"},
		{"bad backend", "AIMA_STORE_BACKEND", "postgres"},
		{"zero workers", "AIMA_QUEUE_WORKERS", "0"},
		{"bad port", "AIMA_SERVER_PORT", "70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRedisBackendRequiresAddr(t *testing.T) {
	t.Setenv("AIMA_STORE_BACKEND", "redis")
	t.Setenv("AIMA_STORE_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Store.RedisAddr)
}
