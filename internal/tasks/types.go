/**
 * Task Types and Payloads
 *
 * Wire contracts for the queue. Payloads carry control data only (IDs,
 * geometry, callback URLs); page images and recognized text live in the
 * state store. Geometry rides in the payload because it is what a stage
 * hands its successor, exactly like a function result flowing down a
 * chain.
 */

package tasks

import (
	"fmt"

	"github.com/adverant/nexus/ocr-worker/internal/imaging"
)

// Queue lanes, ordered by weight. Page-stage work dominates; dispatch
// keeps new uploads flowing even under page backlog; webhooks never
// starve OCR.
const (
	QueuePipeline = "ocr_pipeline"
	QueueDispatch = "dispatch"
	QueueWebhooks = "webhooks"
)

// QueueWeights is the server's lane weighting.
var QueueWeights = map[string]int{
	QueuePipeline: 6,
	QueueDispatch: 3,
	QueueWebhooks: 1,
}

// Task type names.
const (
	TypeDispatch      = "ocr:dispatch"
	TypePageLines     = "ocr:page:lines"
	TypePageWords     = "ocr:page:words"
	TypePageRecognize = "ocr:page:recognize"
	TypeFinalize      = "ocr:finalize"
	TypeWebhook       = "ocr:webhook"
)

// DispatchPayload starts a workflow: decode the stored document, fan out
// page chains.
type DispatchPayload struct {
	RequestID     string `json:"request_id"`
	GUID          string `json:"guid"`
	Filename      string `json:"filename"`
	FileSize      int64  `json:"file_size"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// PageContext identifies one page chain and the facts every page stage
// needs to route its successor.
type PageContext struct {
	RequestID     string `json:"request_id"`
	GUID          string `json:"guid"`
	PageIndex     int    `json:"page_index"`
	PagesTotal    int    `json:"pages_total"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// LinesPayload is the first page stage: detect line boxes.
type LinesPayload struct {
	Page PageContext `json:"page"`
}

// WordsPayload is the second page stage: detect word polygons within the
// lines found upstream.
type WordsPayload struct {
	Page      PageContext   `json:"page"`
	LineBoxes []imaging.Box `json:"line_boxes"`
}

// RecognizePayload is the third page stage: recognize text inside the
// word polygons.
type RecognizePayload struct {
	Page         PageContext         `json:"page"`
	LineBoxes    []imaging.Box       `json:"line_boxes"`
	WordPolygons [][]imaging.Polygon `json:"word_polygons"`
}

// FinalizePayload assembles the document once every page chain has
// completed.
type FinalizePayload struct {
	RequestID     string `json:"request_id"`
	GUID          string `json:"guid"`
	Filename      string `json:"filename"`
	PagesTotal    int    `json:"pages_total"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// Terminal statuses carried on the delivered DocumentResult. Distinct
// from the workflow polling states: the webhook payload speaks the
// caller's vocabulary.
const (
	ResultStatusCompleted = "completed"
	ResultStatusFailed    = "failed"
)

// DocumentResult is the payload delivered to the customer webhook. Text
// is base64-encoded UTF-8 so the JSON document stays transport-safe
// regardless of script.
type DocumentResult struct {
	GUID       string  `json:"guid"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
}

// WebhookPayload delivers the final result to the callback URL.
type WebhookPayload struct {
	RequestID     string         `json:"request_id"`
	URL           string         `json:"url"`
	Result        DocumentResult `json:"result"`
	CorrelationID string         `json:"correlation_id"`
}

// Deterministic task IDs make successor enqueues idempotent: a redelivered
// stage re-enqueues its successor, and the queue rejects the duplicate by
// ID instead of running the chain twice.

func dispatchTaskID(requestID string) string {
	return fmt.Sprintf("%s:dispatch", requestID)
}

func pageTaskID(requestID, stage string, pageIndex int) string {
	return fmt.Sprintf("%s:%s:%d", requestID, stage, pageIndex)
}

func finalizeTaskID(requestID string) string {
	return fmt.Sprintf("%s:finalize", requestID)
}

func webhookTaskID(requestID string) string {
	return fmt.Sprintf("%s:webhook", requestID)
}
