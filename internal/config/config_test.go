package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1m")
	t.Setenv("CACHE_METHODS", "GET,head")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-secret", cfg.App.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.App.QRTokenTTL)
	assert.Equal(t, "virtual_queue", cfg.DB.Name)
	assert.Equal(t, "queue.events", cfg.Broker.Exchange)
	assert.Equal(t, 8, cfg.Engine.RetryAttempts)
	assert.Equal(t, 5*time.Millisecond, cfg.Engine.RetryInitial)
	assert.Equal(t, 10, cfg.Dashboard.AlertThreshold)
	assert.Equal(t, "@every 5m", cfg.Tasks.RenumberSpec)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.TTL, "ttl is raised to five refill intervals")
	assert.True(t, cfg.Cache.Caches("HEAD"))
	assert.False(t, cfg.Cache.Caches("POST"))
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err, "empty")

	require.NoError(t, os.Unsetenv("JWT_SECRET"))
	_, err = Load()
	assert.Error(t, err, "unset")
}

func TestRedisAddress(t *testing.T) {
	assert.Equal(t, "localhost:6379", RedisConfig{}.Address())
	assert.Equal(t, "cache:6380", RedisConfig{Host: "cache", Port: "6380"}.Address())
	assert.Equal(t, "x:1", RedisConfig{Host: "cache", Port: "6380", Addr: "x:1"}.Address())
}
