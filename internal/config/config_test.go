package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, int64(52428800), cfg.MaxFileSize)
	assert.Equal(t, 10, cfg.WorkerConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.StateTTL)
	assert.True(t, cfg.ParallelEnabled)
	assert.Equal(t, 2, cfg.MaxWorkers)
	assert.Equal(t, 4, cfg.MaxBatchSize)
	assert.Equal(t, 2048, cfg.MemoryLimitMB)
	assert.True(t, cfg.EnableRecognition)
	assert.InDelta(t, 0.5, cfg.MergeDiceThreshold, 1e-9)
	assert.Equal(t, "fas+eng", cfg.TesseractLanguages)
	assert.Equal(t, 5, cfg.WebhookMaxRetries)
	assert.True(t, cfg.WebhookRetryClientErrors)
	assert.False(t, cfg.AllowInsecureWebhooks)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://example:6380/2")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("ENABLE_RECOGNITION", "false")
	t.Setenv("MERGE_DICE_THRESHOLD", "0.7")
	t.Setenv("STATE_TTL", "30m")
	t.Setenv("WEBHOOK_RETRY_DELAY", "15s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis://example:6380/2", cfg.RedisURL)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.False(t, cfg.EnableRecognition)
	assert.InDelta(t, 0.7, cfg.MergeDiceThreshold, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.StateTTL)
	assert.Equal(t, 15*time.Second, cfg.WebhookRetryDelay)
}

func TestLoadConfigUnparseableValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "lots")
	t.Setenv("ENABLE_RECOGNITION", "sure")
	t.Setenv("STATE_TTL", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.WorkerConcurrency)
	assert.True(t, cfg.EnableRecognition)
	assert.Equal(t, 2*time.Hour, cfg.StateTTL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty redis url", func(c *Config) { c.RedisURL = "" }},
		{"zero concurrency", func(c *Config) { c.WorkerConcurrency = 0 }},
		{"excessive concurrency", func(c *Config) { c.WorkerConcurrency = 500 }},
		{"tiny max file size", func(c *Config) { c.MaxFileSize = 100 }},
		{"zero max workers", func(c *Config) { c.MaxWorkers = 0 }},
		{"zero batch size", func(c *Config) { c.MaxBatchSize = 0 }},
		{"dice threshold over one", func(c *Config) { c.MergeDiceThreshold = 1.5 }},
		{"dice threshold zero", func(c *Config) { c.MergeDiceThreshold = 0 }},
		{"negative webhook retries", func(c *Config) { c.WebhookMaxRetries = -1 }},
		{"short state ttl", func(c *Config) { c.StateTTL = time.Second }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
