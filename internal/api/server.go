/**
 * HTTP API Front Door
 *
 * Accepts document uploads, creates the workflow record, enqueues the
 * dispatch task, and exposes workflow status for polling. The submit
 * endpoint waits briefly for the dispatch stage so input-level failures
 * (undecodable upload, zero pages) come back on the submit response
 * instead of surfacing later on a doomed workflow ID.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/state"
	"github.com/adverant/nexus/ocr-worker/internal/tasks"
	"github.com/adverant/nexus/ocr-worker/internal/trace"
	"github.com/adverant/nexus/ocr-worker/internal/workflow"
)

// Config holds API behavior knobs.
type Config struct {
	MaxFileSize         int64
	DispatchWaitTimeout time.Duration
}

// Server serves the OCR submission and status API.
type Server struct {
	state     *state.Store
	workflows *workflow.Store
	enqueuer  tasks.Enqueuer
	rdb       *redis.Client
	cfg       Config
	logger    zerolog.Logger
	router    chi.Router
}

// NewServer builds the API server and its route tree.
func NewServer(st *state.Store, wf *workflow.Store, enqueuer tasks.Enqueuer, rdb *redis.Client, cfg Config, logger zerolog.Logger) *Server {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 50 << 20
	}
	if cfg.DispatchWaitTimeout <= 0 {
		cfg.DispatchWaitTimeout = 10 * time.Second
	}

	s := &Server{
		state:     st,
		workflows: wf,
		enqueuer:  enqueuer,
		rdb:       rdb,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.correlate)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1/ocr", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/tasks/{workflowID}", s.handleStatus)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// correlate installs the correlation ID from the request header, minting
// one when the client sent none, and echoes it on the response.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := trace.With(r.Context(), r.Header.Get(trace.HeaderName))
		ctx, id := trace.Ensure(ctx)
		w.Header().Set(trace.HeaderName, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger := logging.Ctx(r.Context(), s.logger)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type submitResponse struct {
	GUID       string `json:"guid"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	WorkflowID string `json:"workflow_id"`
}

// handleSubmit accepts a multipart upload and starts a workflow.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.Ctx(ctx, s.logger)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize)
	if err := r.ParseMultipartForm(s.cfg.MaxFileSize); err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "file exceeds the size limit")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	guid := r.FormValue("guid")
	if guid == "" {
		guid = uuid.NewString()
	}
	webhookURL := r.FormValue("webhook_url")
	requestID := uuid.NewString()

	if err := s.state.SaveDocument(ctx, requestID, data); err != nil {
		logger.Error().Err(err).Msg("failed to store uploaded document")
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if err := s.workflows.Create(ctx, requestID, guid); err != nil {
		logger.Error().Err(err).Msg("failed to create workflow record")
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	correlationID := trace.FromContext(ctx)
	task, opts, err := tasks.NewDispatchTask(tasks.DispatchPayload{
		RequestID:     requestID,
		GUID:          guid,
		Filename:      header.Filename,
		FileSize:      int64(len(data)),
		WebhookURL:    webhookURL,
		CorrelationID: correlationID,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to build dispatch task")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := s.enqueuer.EnqueueContext(ctx, task, opts...); err != nil {
		logger.Error().Err(err).Msg("failed to enqueue dispatch")
		s.writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	rec, err := s.workflows.WaitForDispatch(ctx, requestID, s.cfg.DispatchWaitTimeout)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("failed waiting for dispatch")
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if rec != nil && rec.Status == workflow.StatusFailure {
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"guid":        guid,
			"workflow_id": requestID,
			"status":      rec.Status,
			"error":       rec.Error,
		})
		return
	}

	logger.Info().
		Str("workflow_id", requestID).
		Str("guid", guid).
		Str("filename", header.Filename).
		Msg("document accepted")
	s.writeJSON(w, http.StatusAccepted, submitResponse{
		GUID:       guid,
		Filename:   header.Filename,
		Status:     "queued",
		WorkflowID: requestID,
	})
}

type statusResponse struct {
	WorkflowID string                 `json:"workflow_id"`
	GUID       string                 `json:"guid,omitempty"`
	Status     string                 `json:"status"`
	PagesTotal int                    `json:"pages_total,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      map[string]interface{} `json:"error,omitempty"`
}

// handleStatus reports the workflow state. An unknown ID reads as
// PENDING: with TTL-bound records, "never seen" and "not yet written"
// are indistinguishable, and clients poll the same way for both.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	rec, err := s.workflows.Get(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			s.writeJSON(w, http.StatusOK, statusResponse{
				WorkflowID: workflowID,
				Status:     workflow.StatusPending,
			})
			return
		}
		logger := logging.Ctx(r.Context(), s.logger)
		logger.Error().Err(err).Msg("failed to load workflow")
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	resp := statusResponse{
		WorkflowID: rec.ID,
		GUID:       rec.GUID,
		Status:     rec.Status,
		PagesTotal: rec.PagesTotal,
	}
	if rec.Terminal() {
		resp.Result = rec.Result
		resp.Error = rec.Error
		// A failed workflow has no result document; the poller still
		// reads the outcome under result, same as the success path.
		if resp.Result == nil && rec.Error != nil {
			resp.Result = map[string]interface{}{"error": rec.Error}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rdb.Ping(r.Context()).Err(); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"redis":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
