/**
 * Queue Task Handlers
 *
 * The orchestration layer. Each handler performs one stage, persists its
 * artifact, and enqueues its successor. Chains fan out per page after
 * dispatch and fan back in at the barrier before finalize. Handlers are
 * idempotent under redelivery: artifacts overwrite equivalently, barrier
 * membership is a set, and successor enqueues carry deterministic task
 * IDs so duplicates are rejected by the queue itself.
 */

package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/imaging"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
	"github.com/adverant/nexus/ocr-worker/internal/state"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
	"github.com/adverant/nexus/ocr-worker/internal/trace"
	"github.com/adverant/nexus/ocr-worker/internal/webhook"
	"github.com/adverant/nexus/ocr-worker/internal/workflow"
)

// PageBreakSeparator joins page texts in the final document.
const PageBreakSeparator = "\n\n--- PAGE BREAK ---\n\n"

// Enqueuer is the slice of the asynq client the handlers need. Satisfied
// by *asynq.Client; tests substitute a synchronous fake.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Config holds handler behavior knobs.
type Config struct {
	WebhookMaxRetries int
	DebugArtifacts    bool
	TempDir           string
}

// Handlers wires the stage implementations to their collaborators.
type Handlers struct {
	state     *state.Store
	workflows *workflow.Store
	pipeline  *pipeline.Pipeline
	webhooks  *webhook.Client
	archive   *storage.PostgresClient
	enqueuer  Enqueuer
	cfg       Config
	logger    zerolog.Logger
}

// NewHandlers builds the handler set. archive may be nil for Redis-only
// deployments.
func NewHandlers(st *state.Store, wf *workflow.Store, pl *pipeline.Pipeline, wh *webhook.Client, archive *storage.PostgresClient, enqueuer Enqueuer, cfg Config, logger zerolog.Logger) *Handlers {
	if cfg.WebhookMaxRetries <= 0 {
		cfg.WebhookMaxRetries = 5
	}
	return &Handlers{
		state:     st,
		workflows: wf,
		pipeline:  pl,
		webhooks:  wh,
		archive:   archive,
		enqueuer:  enqueuer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Register mounts every handler on the mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDispatch, h.HandleDispatch)
	mux.HandleFunc(TypePageLines, h.HandlePageLines)
	mux.HandleFunc(TypePageWords, h.HandlePageWords)
	mux.HandleFunc(TypePageRecognize, h.HandlePageRecognize)
	mux.HandleFunc(TypeFinalize, h.HandleFinalize)
	mux.HandleFunc(TypeWebhook, h.HandleWebhook)
}

// enqueue submits a task, treating an ID conflict as success: the
// successor is already queued or already ran, which is exactly the state
// this enqueue wanted to reach.
func (h *Handlers) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	_, err := h.enqueuer.EnqueueContext(ctx, task, opts...)
	if err != nil && (errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)) {
		return nil
	}
	return err
}

// NewDispatchTask builds the workflow entry task for the API front door.
func NewDispatchTask(p DispatchPayload) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("tasks: marshal dispatch payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDispatch),
		asynq.TaskID(dispatchTaskID(p.RequestID)),
	}
	return asynq.NewTask(TypeDispatch, payload), opts, nil
}

// HandleDispatch decodes the stored document into pages and fans out one
// three-stage chain per page. Input-level failures (undecodable upload,
// zero pages) are terminal: the workflow is failed, the failure is
// delivered, and the task is not retried.
func (h *Handlers) HandleDispatch(ctx context.Context, task *asynq.Task) error {
	var p DispatchPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks: unmarshal dispatch payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx = trace.With(ctx, p.CorrelationID)
	logger := logging.Ctx(ctx, h.logger).With().
		Str("request_id", p.RequestID).
		Str("guid", p.GUID).
		Logger()

	data, err := h.state.LoadDocument(ctx, p.RequestID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			logger.Error().Err(err).Msg("document expired before dispatch")
			return h.failInput(ctx, &p, apperrors.NewUndecodableDocumentError(p.RequestID, err))
		}
		return err
	}

	pages, err := imaging.DecodeDocument(data)
	if err != nil {
		logger.Error().Err(err).Msg("document could not be decoded")
		return h.failInput(ctx, &p, apperrors.NewUndecodableDocumentError(p.RequestID, err))
	}
	if len(pages) == 0 {
		logger.Error().Msg("document decoded to zero pages")
		return h.failInput(ctx, &p, apperrors.NewZeroPagesError(p.RequestID))
	}

	for i, page := range pages {
		encoded, err := imaging.EncodePNG(page)
		if err != nil {
			return fmt.Errorf("tasks: encode page %d: %w", i, err)
		}
		if err := h.state.SavePageImage(ctx, p.RequestID, i, encoded); err != nil {
			return err
		}
	}

	if err := h.workflows.MarkStarted(ctx, p.RequestID, len(pages)); err != nil {
		return err
	}
	h.archiveJob(ctx, &storage.JobRecord{
		RequestID:  p.RequestID,
		GUID:       p.GUID,
		Filename:   p.Filename,
		MimeType:   imaging.DetectMimeType(data),
		FileSize:   p.FileSize,
		PagesTotal: len(pages),
		Status:     workflow.StatusStarted,
	})

	pageCtx := PageContext{
		RequestID:     p.RequestID,
		GUID:          p.GUID,
		PagesTotal:    len(pages),
		WebhookURL:    p.WebhookURL,
		CorrelationID: p.CorrelationID,
	}
	for i := range pages {
		pageCtx.PageIndex = i
		payload, err := json.Marshal(LinesPayload{Page: pageCtx})
		if err != nil {
			return fmt.Errorf("tasks: marshal lines payload: %w", err)
		}
		err = h.enqueue(ctx, asynq.NewTask(TypePageLines, payload),
			asynq.Queue(QueuePipeline),
			asynq.TaskID(pageTaskID(p.RequestID, "lines", i)),
		)
		if err != nil {
			return fmt.Errorf("tasks: enqueue lines for page %d: %w", i, err)
		}
	}

	logger.Info().Int("pages", len(pages)).Msg("workflow dispatched")
	return nil
}

// failInput closes a workflow on a non-retryable input error and, when a
// callback URL is present, queues the failure notification.
func (h *Handlers) failInput(ctx context.Context, p *DispatchPayload, perr *apperrors.PipelineError) error {
	if err := h.workflows.MarkFailed(ctx, p.RequestID, perr.ToMap()); err != nil {
		return err
	}
	h.archiveJob(ctx, &storage.JobRecord{
		RequestID: p.RequestID,
		GUID:      p.GUID,
		Filename:  p.Filename,
		FileSize:  p.FileSize,
		Status:    workflow.StatusFailure,
		ErrorCode: string(perr.Code),
		ErrorInfo: perr.ToMap(),
	})

	if p.WebhookURL != "" {
		result := DocumentResult{
			GUID:   p.GUID,
			Status: ResultStatusFailed,
			Error:  perr.Error(),
		}
		if err := h.enqueueWebhook(ctx, p.RequestID, p.WebhookURL, p.CorrelationID, result); err != nil {
			return err
		}
	}
	return fmt.Errorf("tasks: %v: %w", perr, asynq.SkipRetry)
}

// HandlePageLines detects line boxes on one page and enqueues word
// detection.
func (h *Handlers) HandlePageLines(ctx context.Context, task *asynq.Task) error {
	var p LinesPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks: unmarshal lines payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx = trace.With(ctx, p.Page.CorrelationID)
	logger := h.pageLogger(ctx, p.Page)

	img, err := h.loadPage(ctx, p.Page)
	if err != nil {
		return err
	}

	boxes, err := h.pipeline.DetectLines(ctx, img)
	if err != nil {
		return apperrors.NewStageFailedError(p.Page.RequestID, p.Page.PageIndex, "lines", err)
	}
	logger.Debug().Int("lines", len(boxes)).Msg("line detection complete")

	payload, err := json.Marshal(WordsPayload{Page: p.Page, LineBoxes: boxes})
	if err != nil {
		return fmt.Errorf("tasks: marshal words payload: %w", err)
	}
	return h.enqueue(ctx, asynq.NewTask(TypePageWords, payload),
		asynq.Queue(QueuePipeline),
		asynq.TaskID(pageTaskID(p.Page.RequestID, "words", p.Page.PageIndex)),
	)
}

// HandlePageWords detects word polygons within the detected lines and
// enqueues recognition.
func (h *Handlers) HandlePageWords(ctx context.Context, task *asynq.Task) error {
	var p WordsPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks: unmarshal words payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx = trace.With(ctx, p.Page.CorrelationID)
	logger := h.pageLogger(ctx, p.Page)

	img, err := h.loadPage(ctx, p.Page)
	if err != nil {
		return err
	}

	polygons, err := h.pipeline.DetectWords(ctx, img, p.LineBoxes)
	if err != nil {
		return apperrors.NewStageFailedError(p.Page.RequestID, p.Page.PageIndex, "words", err)
	}
	words := 0
	for _, line := range polygons {
		words += len(line)
	}
	logger.Debug().Int("words", words).Msg("word detection complete")

	payload, err := json.Marshal(RecognizePayload{Page: p.Page, LineBoxes: p.LineBoxes, WordPolygons: polygons})
	if err != nil {
		return fmt.Errorf("tasks: marshal recognize payload: %w", err)
	}
	return h.enqueue(ctx, asynq.NewTask(TypePageRecognize, payload),
		asynq.Queue(QueuePipeline),
		asynq.TaskID(pageTaskID(p.Page.RequestID, "recognize", p.Page.PageIndex)),
	)
}

// HandlePageRecognize recognizes the page text, stores the page result,
// and joins the barrier. The last page chain through the barrier
// enqueues finalize; the deterministic task ID collapses the race when
// two redelivered chains both observe a full barrier.
func (h *Handlers) HandlePageRecognize(ctx context.Context, task *asynq.Task) error {
	var p RecognizePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks: unmarshal recognize payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx = trace.With(ctx, p.Page.CorrelationID)
	logger := h.pageLogger(ctx, p.Page)

	img, err := h.loadPage(ctx, p.Page)
	if err != nil {
		return err
	}

	text, confidence, err := h.pipeline.RecognizePage(ctx, img, p.LineBoxes, p.WordPolygons)
	if err != nil {
		return apperrors.NewStageFailedError(p.Page.RequestID, p.Page.PageIndex, "recognize", err)
	}

	result := state.PageResult{
		PageIndex:  p.Page.PageIndex,
		Text:       text,
		Confidence: confidence,
	}
	if err := h.state.SavePageResult(ctx, p.Page.RequestID, result); err != nil {
		return err
	}

	done, err := h.workflows.MarkPageDone(ctx, p.Page.RequestID, p.Page.PageIndex)
	if err != nil {
		return err
	}
	logger.Info().
		Int64("pages_done", done).
		Int("pages_total", p.Page.PagesTotal).
		Msg("page chain complete")

	if done < int64(p.Page.PagesTotal) {
		return nil
	}

	payload, err := json.Marshal(FinalizePayload{
		RequestID:     p.Page.RequestID,
		GUID:          p.Page.GUID,
		PagesTotal:    p.Page.PagesTotal,
		WebhookURL:    p.Page.WebhookURL,
		CorrelationID: p.Page.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("tasks: marshal finalize payload: %w", err)
	}
	return h.enqueue(ctx, asynq.NewTask(TypeFinalize, payload),
		asynq.Queue(QueuePipeline),
		asynq.TaskID(finalizeTaskID(p.Page.RequestID)),
	)
}

// HandleFinalize assembles the document from the per-page results,
// closes the workflow, and queues delivery.
func (h *Handlers) HandleFinalize(ctx context.Context, task *asynq.Task) error {
	var p FinalizePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks: unmarshal finalize payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx = trace.With(ctx, p.CorrelationID)
	logger := logging.Ctx(ctx, h.logger).With().
		Str("request_id", p.RequestID).
		Str("guid", p.GUID).
		Logger()

	results, err := h.state.LoadAllPageResults(ctx, p.RequestID, p.PagesTotal)
	if err != nil {
		return err
	}

	texts := make([]string, len(results))
	confidence := 0.0
	for i, r := range results {
		texts[i] = r.Text
		confidence += r.Confidence
	}
	if len(results) > 0 {
		confidence /= float64(len(results))
	}
	fullText := repairMojibake(strings.Join(texts, PageBreakSeparator))

	result := DocumentResult{
		GUID:       p.GUID,
		Text:       base64.StdEncoding.EncodeToString([]byte(fullText)),
		Confidence: confidence,
		Status:     ResultStatusCompleted,
	}

	// The record's result is the same document the webhook delivers, so a
	// poller without a callback URL still gets the recognized text.
	resultInfo := map[string]interface{}{
		"guid":        result.GUID,
		"text":        result.Text,
		"confidence":  result.Confidence,
		"status":      result.Status,
		"pages_total": p.PagesTotal,
	}
	if err := h.workflows.MarkSucceeded(ctx, p.RequestID, resultInfo); err != nil {
		return err
	}

	var durationMs int64
	if rec, err := h.workflows.Get(ctx, p.RequestID); err == nil && !rec.CreatedAt.IsZero() {
		durationMs = time.Since(rec.CreatedAt).Milliseconds()
	}
	h.archiveJob(ctx, &storage.JobRecord{
		RequestID:  p.RequestID,
		GUID:       p.GUID,
		PagesTotal: p.PagesTotal,
		Status:     workflow.StatusSuccess,
		Confidence: confidence,
		DurationMs: durationMs,
	})
	h.writeDebugArtifact(p.RequestID, fullText, logger)

	logger.Info().
		Float64("confidence", confidence).
		Int("pages_total", p.PagesTotal).
		Msg("workflow finalized")

	if p.WebhookURL == "" {
		return nil
	}
	return h.enqueueWebhook(ctx, p.RequestID, p.WebhookURL, p.CorrelationID, result)
}

// enqueueWebhook queues one delivery task on the webhooks lane.
func (h *Handlers) enqueueWebhook(ctx context.Context, requestID, url, correlationID string, result DocumentResult) error {
	payload, err := json.Marshal(WebhookPayload{
		RequestID:     requestID,
		URL:           url,
		Result:        result,
		CorrelationID: correlationID,
	})
	if err != nil {
		return fmt.Errorf("tasks: marshal webhook payload: %w", err)
	}
	return h.enqueue(ctx, asynq.NewTask(TypeWebhook, payload),
		asynq.Queue(QueueWebhooks),
		asynq.TaskID(webhookTaskID(requestID)),
		asynq.MaxRetry(h.cfg.WebhookMaxRetries),
	)
}

// HandleWebhook performs one delivery attempt. Retryable failures go
// back to the queue; permanent rejections stop immediately.
func (h *Handlers) HandleWebhook(ctx context.Context, task *asynq.Task) error {
	var p WebhookPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("tasks: unmarshal webhook payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx = trace.With(ctx, p.CorrelationID)
	logger := logging.Ctx(ctx, h.logger).With().
		Str("request_id", p.RequestID).
		Str("url", p.URL).
		Logger()

	if err := h.webhooks.Deliver(ctx, p.URL, p.Result); err != nil {
		if !h.webhooks.ShouldRetry(err) {
			logger.Error().Err(err).Msg("webhook rejected, not retrying")
			return fmt.Errorf("tasks: %v: %w", err, asynq.SkipRetry)
		}
		logger.Warn().Err(err).Msg("webhook delivery failed, will retry")
		return apperrors.NewDeliveryFailedError(p.RequestID, p.URL, err)
	}

	logger.Info().Msg("webhook delivered")
	return nil
}

// loadPage fetches and decodes one stored page image. A missing page
// image means the state TTL elapsed mid-workflow; retrying cannot bring
// it back.
func (h *Handlers) loadPage(ctx context.Context, page PageContext) (image.Image, error) {
	encoded, err := h.state.LoadPageImage(ctx, page.RequestID, page.PageIndex)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("tasks: page image %d for %s expired: %w", page.PageIndex, page.RequestID, asynq.SkipRetry)
		}
		return nil, err
	}
	return imaging.DecodeImage(encoded)
}

func (h *Handlers) pageLogger(ctx context.Context, page PageContext) zerolog.Logger {
	return logging.Ctx(ctx, h.logger).With().
		Str("request_id", page.RequestID).
		Int("page_index", page.PageIndex).
		Logger()
}

// archiveJob writes the archive row when the archive is configured.
// Archive unavailability never fails a stage.
func (h *Handlers) archiveJob(ctx context.Context, rec *storage.JobRecord) {
	if h.archive == nil {
		return
	}
	if err := h.archive.UpsertJob(ctx, rec); err != nil {
		h.logger.Warn().Err(err).Str("request_id", rec.RequestID).Msg("job archive write failed")
	}
}

// writeDebugArtifact dumps the assembled text for offline inspection.
func (h *Handlers) writeDebugArtifact(requestID, text string, logger zerolog.Logger) {
	if !h.cfg.DebugArtifacts {
		return
	}
	dir := h.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("ocr_%s.txt", requestID))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("debug artifact write failed")
	}
}

// repairMojibake undoes the classic double-encoding where UTF-8 bytes
// were mistakenly decoded as Latin-1. If every rune fits in a byte and
// those bytes form valid multi-byte UTF-8, the re-decoded text is the
// intended one.
func repairMojibake(text string) string {
	bytes := make([]byte, 0, len(text))
	multibyte := false
	for _, r := range text {
		if r > 0xFF {
			return text
		}
		if r > 0x7F {
			multibyte = true
		}
		bytes = append(bytes, byte(r))
	}
	if !multibyte || !utf8.Valid(bytes) {
		return text
	}
	return string(bytes)
}
