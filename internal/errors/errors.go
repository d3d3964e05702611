package errors

import (
	"fmt"
	"time"
)

/**
 * Custom error types for the OCR pipeline worker.
 *
 * Structured errors carry a stable code plus the request identity so that
 * terminal failures can be written to the workflow record and the job
 * archive without string parsing.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorUndecodableDocument ErrorCode = "UNDECODABLE_DOCUMENT"
	ErrorZeroPages           ErrorCode = "ZERO_PAGES"
	ErrorUnsupportedFormat   ErrorCode = "UNSUPPORTED_FORMAT"

	// Pipeline errors
	ErrorStageFailed       ErrorCode = "STAGE_FAILED"
	ErrorRecognitionFailed ErrorCode = "RECOGNITION_FAILED"

	// Infrastructure errors
	ErrorStateStoreFailed ErrorCode = "STATE_STORE_FAILED"
	ErrorDeliveryFailed   ErrorCode = "DELIVERY_FAILED"
)

// PipelineError represents a structured processing error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	RequestID string
	PageIndex int
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewUndecodableDocumentError(requestID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorUndecodableDocument,
		Message:   "failed to decode document into page images",
		RequestID: requestID,
		PageIndex: -1,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewZeroPagesError(requestID string) *PipelineError {
	return &PipelineError{
		Code:      ErrorZeroPages,
		Message:   "document decoded to zero pages",
		RequestID: requestID,
		PageIndex: -1,
		Timestamp: time.Now(),
	}
}

func NewStageFailedError(requestID string, pageIndex int, stage string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorStageFailed,
		Message:   fmt.Sprintf("stage %s failed for page %d", stage, pageIndex),
		RequestID: requestID,
		PageIndex: pageIndex,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"stage": stage,
		},
		Cause: cause,
	}
}

func NewDeliveryFailedError(requestID string, url string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorDeliveryFailed,
		Message:   "webhook delivery failed",
		RequestID: requestID,
		PageIndex: -1,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"url": url,
		},
		Cause: cause,
	}
}

// ToMap converts error to map form for storage on the workflow record.
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.PageIndex >= 0 {
		result["page_index"] = e.PageIndex
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
