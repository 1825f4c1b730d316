package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)

	assert.Equal(t, 5, cfg.Breakers.FailureThreshold)
	assert.Equal(t, 2, cfg.Breakers.SuccessThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breakers.Timeout)

	assert.Equal(t, "opspulse:logs:stream", cfg.Stream.StreamKey)
	assert.Equal(t, "opspulse-processors", cfg.Stream.Group)
	assert.Equal(t, int64(100000), cfg.Stream.MaxLen)
	assert.Equal(t, int64(100), cfg.Stream.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Stream.FlushInterval)

	assert.Equal(t, 60*time.Second, cfg.Anomaly.Window)
	assert.Equal(t, 10, cfg.Anomaly.ErrorThreshold)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("STREAM_BATCH_SIZE", "50")
	t.Setenv("ANOMALY_WINDOW", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, int64(50), cfg.Stream.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Anomaly.Window)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Stream.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg.Stream.BatchSize = 100
	cfg.Anomaly.ErrorThreshold = 0
	assert.Error(t, cfg.Validate())
}

func TestRedisURL(t *testing.T) {
	cfg := &Config{Redis: RedisConfig{Host: "localhost", Port: 6379, DB: 2}}
	assert.Equal(t, "redis://localhost:6379/2", cfg.RedisURL())

	cfg.Redis.Password = "secret"
	assert.Equal(t, "redis://:secret@localhost:6379/2", cfg.RedisURL())
}
