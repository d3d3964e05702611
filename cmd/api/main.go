/**
 * OCR Pipeline API - Main Entry Point
 *
 * HTTP front door: accepts uploads, creates workflows, enqueues dispatch
 * tasks, and serves status polling.
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/api"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/state"
	"github.com/adverant/nexus/ocr-worker/internal/workflow"
)

func main() {
	// Absent .env file means system environment variables apply.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger := logging.New("ocr-api", "info")
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New("ocr-api", cfg.LogLevel)
	logger.Info().
		Str("addr", cfg.HTTPAddr).
		Str("redis", cfg.RedisURL).
		Msg("api starting")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	client := asynq.NewClient(asynqOpt)
	defer client.Close()

	server := api.NewServer(
		state.NewStore(rdb, cfg.StateTTL),
		workflow.NewStore(rdb, cfg.StateTTL),
		client,
		rdb,
		api.Config{
			MaxFileSize:         cfg.MaxFileSize,
			DispatchWaitTimeout: cfg.DispatchWaitTimeout,
		},
		logger,
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	logger.Info().Msg("shutdown complete")
}
