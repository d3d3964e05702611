/**
 * Configuration for the OCR Pipeline Worker
 *
 * Loads configuration from environment variables (optionally seeded from a
 * .env file by the binaries).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds worker and API configuration
type Config struct {
	// Redis configuration (task transport + state store + workflow records)
	RedisURL string

	// PostgreSQL job archive. Optional: when empty, jobs are tracked in
	// Redis only.
	DatabaseURL string

	// API configuration
	HTTPAddr            string
	MaxFileSize         int64
	DispatchWaitTimeout time.Duration

	// Worker configuration
	WorkerConcurrency int
	StateTTL          time.Duration

	// Adaptive batch scheduler
	ParallelEnabled bool
	MaxWorkers      int
	MaxBatchSize    int
	MemoryLimitMB   int

	// Pipeline
	EnableRecognition  bool
	MergeDiceThreshold float64
	TesseractLanguages string

	// Webhook delivery
	WebhookTimeout           time.Duration
	WebhookMaxRetries        int
	WebhookRetryDelay        time.Duration
	AllowInsecureWebhooks    bool
	WebhookRetryClientErrors bool

	// Debug artifacts
	TempDir        string
	DebugArtifacts bool

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:                 getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:              getEnvOrDefault("DATABASE_URL", ""),
		HTTPAddr:                 getEnvOrDefault("HTTP_ADDR", ":8000"),
		MaxFileSize:              getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		DispatchWaitTimeout:      getEnvAsDurationOrDefault("DISPATCH_WAIT_TIMEOUT", 10*time.Second),
		WorkerConcurrency:        getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		StateTTL:                 getEnvAsDurationOrDefault("STATE_TTL", 2*time.Hour),
		ParallelEnabled:          getEnvAsBoolOrDefault("PARALLEL_ENABLED", true),
		MaxWorkers:               getEnvAsIntOrDefault("PARALLEL_MAX_WORKERS", 2),
		MaxBatchSize:             getEnvAsIntOrDefault("PARALLEL_MAX_BATCH_SIZE", 4),
		MemoryLimitMB:            getEnvAsIntOrDefault("PARALLEL_MEMORY_LIMIT_MB", 2048),
		EnableRecognition:        getEnvAsBoolOrDefault("ENABLE_RECOGNITION", true),
		MergeDiceThreshold:       getEnvAsFloatOrDefault("MERGE_DICE_THRESHOLD", 0.5),
		TesseractLanguages:       getEnvOrDefault("TESSERACT_LANGUAGES", "fas+eng"),
		WebhookTimeout:           getEnvAsDurationOrDefault("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookMaxRetries:        getEnvAsIntOrDefault("WEBHOOK_MAX_RETRIES", 5),
		WebhookRetryDelay:        getEnvAsDurationOrDefault("WEBHOOK_RETRY_DELAY", 5*time.Second),
		AllowInsecureWebhooks:    getEnvAsBoolOrDefault("ALLOW_INSECURE_WEBHOOKS", false),
		WebhookRetryClientErrors: getEnvAsBoolOrDefault("WEBHOOK_RETRY_CLIENT_ERRORS", true),
		TempDir:                  getEnvOrDefault("TEMP_DIR", "/tmp/ocr-worker"),
		DebugArtifacts:           getEnvAsBoolOrDefault("DEBUG_ARTIFACTS", false),
		LogLevel:                 getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 {
		return fmt.Errorf("MAX_FILE_SIZE must be at least 1KB, got %d", c.MaxFileSize)
	}

	if c.MaxWorkers < 1 {
		return fmt.Errorf("PARALLEL_MAX_WORKERS must be at least 1, got %d", c.MaxWorkers)
	}

	if c.MaxBatchSize < 1 {
		return fmt.Errorf("PARALLEL_MAX_BATCH_SIZE must be at least 1, got %d", c.MaxBatchSize)
	}

	if c.MergeDiceThreshold <= 0 || c.MergeDiceThreshold > 1 {
		return fmt.Errorf("MERGE_DICE_THRESHOLD must be in (0, 1], got %f", c.MergeDiceThreshold)
	}

	if c.WebhookMaxRetries < 0 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must not be negative, got %d", c.WebhookMaxRetries)
	}

	if c.StateTTL < time.Minute {
		return fmt.Errorf("STATE_TTL must be at least 1 minute, got %v", c.StateTTL)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDurationOrDefault gets environment variable as a duration or
// returns default. Accepts Go duration strings ("5s", "2h").
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
