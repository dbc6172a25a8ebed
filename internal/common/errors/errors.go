// Package errors provides standardized error handling for the notification pipeline.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeRenderFailed     ErrorCode = "RENDER_FAILED"

	ErrCodeTransportTimeout ErrorCode = "TRANSPORT_TIMEOUT"
	ErrCodeTransportError   ErrorCode = "TRANSPORT_ERROR"

	ErrCodeQueuePersistFailed ErrorCode = "QUEUE_PERSIST_FAILED"
	ErrCodeQueueUpdateFailed  ErrorCode = "QUEUE_UPDATE_FAILED"

	ErrCodeSchedulerJobFailed ErrorCode = "SCHEDULER_JOB_FAILED"
	ErrCodeAuditWriteFailed   ErrorCode = "AUDIT_WRITE_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the ErrorCode from an error, or empty string for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr.Code
	}
	return ""
}

// NewValidationError creates a non-retryable caller-input error.
func NewValidationError(detail string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Invalid request",
		Details:   detail,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotFoundError creates a non-retryable template resolution error.
func NewTemplateNotFoundError(templateType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "No active template for type",
		Details:   fmt.Sprintf("type: %s", templateType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRenderFailedError creates a recoverable rendering error. The renderer
// falls back to the raw template, so this never aborts a send.
func NewRenderFailedError(templateType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRenderFailed,
		Message:   "Template rendering failed",
		Details:   fmt.Sprintf("type: %s, error: %s", templateType, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportTimeoutError creates the timeout-class transport error that
// trips the circuit block.
func NewTransportTimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportTimeout,
		Message:   "Primary transport timed out",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportError creates a non-timeout transport failure.
func NewTransportError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportError,
		Message:   "Primary transport send failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueuePersistError creates the one error class that surfaces to send callers.
func NewQueuePersistError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueuePersistFailed,
		Message:   "Failed to persist notification queue item",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueueUpdateError creates a retryable queue state-transition error.
func NewQueueUpdateError(id string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueUpdateFailed,
		Message:   "Failed to update queue item status",
		Details:   fmt.Sprintf("id: %s, error: %s", id, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSchedulerJobError creates a per-run job failure, caught by the scheduler.
func NewSchedulerJobError(job string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchedulerJobFailed,
		Message:   "Scheduled job run failed",
		Details:   fmt.Sprintf("job: %s, error: %s", job, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuditWriteError creates a swallowed audit insert failure.
func NewAuditWriteError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditWriteFailed,
		Message:   "Audit log insert failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	switch code {
	case ErrCodeTransportTimeout,
		ErrCodeTransportError,
		ErrCodeQueuePersistFailed,
		ErrCodeQueueUpdateFailed,
		ErrCodeSchedulerJobFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TEMPLATE") || strings.Contains(codeStr, "RENDER"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "TRANSPORT"):
		return "TRANSPORT"
	case strings.Contains(codeStr, "QUEUE"):
		return "QUEUE"
	case strings.Contains(codeStr, "SCHEDULER"):
		return "SCHEDULER"
	case strings.Contains(codeStr, "AUDIT"):
		return "AUDIT"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	default:
		return "OTHER"
	}
}
