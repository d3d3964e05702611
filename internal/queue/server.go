/**
 * Queue Server
 *
 * Wraps the asynq server with the lane weighting, retry policy, and
 * failure bookkeeping the pipeline needs. Uses Asynq for queue
 * management over Redis.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/ocr-worker/internal/tasks"
	"github.com/adverant/nexus/ocr-worker/internal/workflow"
)

// ServerConfig holds queue server configuration.
type ServerConfig struct {
	RedisURL          string
	Concurrency       int
	WebhookRetryDelay time.Duration
}

// Server consumes pipeline tasks from Redis.
type Server struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	workflows *workflow.Store
	logger    zerolog.Logger
}

// NewServer creates the queue server. The workflow store is used to mark
// workflows FAILURE when a task exhausts its retries.
func NewServer(cfg *ServerConfig, workflows *workflow.Store, logger zerolog.Logger) (*Server, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	webhookRetryDelay := cfg.WebhookRetryDelay
	if webhookRetryDelay <= 0 {
		webhookRetryDelay = 5 * time.Second
	}

	srv := &Server{
		mux:       asynq.NewServeMux(),
		workflows: workflows,
		logger:    logger,
	}

	srv.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues:      tasks.QueueWeights,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Webhook receivers get a fixed pause; pipeline stages
				// back off exponentially: 5s, 10s, 20s, capped at 60s.
				if task.Type() == tasks.TypeWebhook {
					return webhookRetryDelay
				}
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(srv.handleTaskError),
			Logger:       &asynqLogger{logger: logger},
		},
	)

	srv.mux.Use(srv.observe)
	return srv, nil
}

// Mux exposes the handler multiplexer for task registration.
func (s *Server) Mux() *asynq.ServeMux {
	return s.mux
}

// Start runs the server in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Msg("starting queue server")
	go func() {
		if err := s.server.Run(s.mux); err != nil {
			s.logger.Error().Err(err).Msg("queue server stopped")
		}
	}()
	return nil
}

// Stop drains in-flight tasks and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("stopping queue server")
	s.server.Shutdown()
	return nil
}

// observe logs every task execution with its duration.
func (s *Server) observe(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		s.logger.Debug().Str("task_type", task.Type()).Msg("task started")

		err := next.ProcessTask(ctx, task)

		event := s.logger.Info()
		if err != nil {
			event = s.logger.Warn().Err(err)
		}
		event.
			Str("task_type", task.Type()).
			Dur("duration", time.Since(start)).
			Msg("task finished")
		return err
	})
}

// handleTaskError marks the owning workflow FAILURE when a task has no
// retries left. Intermediate failures only log; the task will run again.
func (s *Server) handleTaskError(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	exhausted := retried >= maxRetry || errors.Is(err, asynq.SkipRetry)

	requestID := requestIDFromPayload(task.Payload())
	logger := s.logger.With().
		Str("task_type", task.Type()).
		Str("request_id", requestID).
		Int("retried", retried).
		Int("max_retry", maxRetry).
		Logger()

	if !exhausted {
		logger.Warn().Err(err).Msg("task failed, scheduled for retry")
		return
	}
	logger.Error().Err(err).Msg("task failed permanently")

	if requestID == "" || s.workflows == nil {
		return
	}
	// Webhook exhaustion must not overwrite the SUCCESS the pipeline
	// already reached; the document result stands even when its
	// delivery does not.
	if task.Type() == tasks.TypeWebhook {
		return
	}
	markErr := s.workflows.MarkFailed(context.Background(), requestID, map[string]interface{}{
		"error_code": "STAGE_FAILED",
		"task_type":  task.Type(),
		"message":    err.Error(),
	})
	if markErr != nil {
		logger.Error().Err(markErr).Msg("failed to mark workflow as failed")
	}
}

// requestIDFromPayload extracts the request ID from any task payload
// shape: top-level for dispatch/finalize/webhook, nested under "page"
// for the page stages.
func requestIDFromPayload(payload []byte) string {
	var probe struct {
		RequestID string `json:"request_id"`
		Page      struct {
			RequestID string `json:"request_id"`
		} `json:"page"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	if probe.RequestID != "" {
		return probe.RequestID
	}
	return probe.Page.RequestID
}

// asynqLogger adapts zerolog to the asynq.Logger interface.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
