/**
 * OCR Pipeline Worker - Main Entry Point
 *
 * Consumes pipeline tasks from Redis and runs the OCR stages.
 *
 * Architecture:
 * - Asynq consumer over the weighted pipeline/dispatch/webhook lanes
 * - Per-page stage chains: line detection, word detection, recognition
 * - Fan-in barrier assembling the final document and queueing delivery
 * - Redis for intermediate state, optional PostgreSQL job archive
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/batch"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/detect"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/ocr"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
	"github.com/adverant/nexus/ocr-worker/internal/state"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
	"github.com/adverant/nexus/ocr-worker/internal/tasks"
	"github.com/adverant/nexus/ocr-worker/internal/webhook"
	"github.com/adverant/nexus/ocr-worker/internal/workflow"
)

func main() {
	// Absent .env file means system environment variables apply.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.New("ocr-worker", "info").Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New("ocr-worker", cfg.LogLevel)
	logger.Info().
		Str("redis", cfg.RedisURL).
		Int("concurrency", cfg.WorkerConcurrency).
		Bool("recognition", cfg.EnableRecognition).
		Msg("worker starting")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	var archive *storage.PostgresClient
	if cfg.DatabaseURL != "" {
		archive, err = storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to job archive")
		}
		defer archive.Close()

		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := archive.EnsureSchema(schemaCtx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("failed to ensure archive schema")
		}
		cancel()
		logger.Info().Msg("job archive connected")
	} else {
		logger.Info().Msg("no DATABASE_URL set, running without job archive")
	}

	stateStore := state.NewStore(rdb, cfg.StateTTL)
	workflows := workflow.NewStore(rdb, cfg.StateTTL)

	scheduler := batch.New(batch.Config{
		ParallelEnabled: cfg.ParallelEnabled,
		MaxWorkers:      cfg.MaxWorkers,
		MaxBatchSize:    cfg.MaxBatchSize,
		MemoryLimitMB:   cfg.MemoryLimitMB,
	}, logger)

	detector := detect.NewProjectionDetector()
	pl := pipeline.New(
		detector,
		detector,
		ocr.NewTesseractRecognizer(cfg.TesseractLanguages),
		scheduler,
		pipeline.Config{
			EnableRecognition:  cfg.EnableRecognition,
			MergeDiceThreshold: cfg.MergeDiceThreshold,
		},
		logger,
	)

	webhooks := webhook.NewClient(webhook.Options{
		Timeout:           cfg.WebhookTimeout,
		AllowInsecure:     cfg.AllowInsecureWebhooks,
		RetryClientErrors: cfg.WebhookRetryClientErrors,
	})

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	client := asynq.NewClient(asynqOpt)
	defer client.Close()

	handlers := tasks.NewHandlers(stateStore, workflows, pl, webhooks, archive, client, tasks.Config{
		WebhookMaxRetries: cfg.WebhookMaxRetries,
		DebugArtifacts:    cfg.DebugArtifacts,
		TempDir:           cfg.TempDir,
	}, logger)

	server, err := queue.NewServer(&queue.ServerConfig{
		RedisURL:          cfg.RedisURL,
		Concurrency:       cfg.WorkerConcurrency,
		WebhookRetryDelay: cfg.WebhookRetryDelay,
	}, workflows, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize queue server")
	}
	handlers.Register(server.Mux())

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start queue server")
	}
	logger.Info().Msg("worker ready, waiting for tasks")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("error stopping queue server")
	}
	logger.Info().Msg("shutdown complete")
}
