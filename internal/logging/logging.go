/**
 * Structured Logging for the OCR Worker
 *
 * Thin zerolog setup shared by the worker and API binaries. Request-path
 * log events carry the correlation ID taken from the context, never from
 * process-local state.
 */

package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adverant/nexus/ocr-worker/internal/trace"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Second
}

// New builds the root logger for a service. Level accepts the usual zerolog
// names (debug, info, warn, error); anything unparseable falls back to info.
func New(service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Ctx returns logger with the correlation ID from ctx attached, when present.
func Ctx(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := trace.FromContext(ctx); id != "" {
		return logger.With().Str("correlation_id", id).Logger()
	}
	return logger
}
