package models

import "time"

// Template is a notification template resolved by type.
type Template struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
	Active  bool   `json:"active"`
}

// RenderedMessage is the ephemeral output of the renderer. Never persisted.
type RenderedMessage struct {
	Subject string
	HTML    string
	Text    string
}

// Audit record statuses. "sent" means the primary transport accepted the
// message, "logged" means the fallback path recorded it, "failed" is reserved
// for the guarded case where even the fallback raised.
const (
	RecordStatusSent   = "sent"
	RecordStatusFailed = "failed"
	RecordStatusLogged = "logged"
)

// NotificationRecord is one append-only audit log row, created exactly once
// per delivery attempt.
type NotificationRecord struct {
	ID        string                 `json:"id"`
	Recipient string                 `json:"recipient"`
	Type      string                 `json:"type"`
	Subject   string                 `json:"subject"`
	Status    string                 `json:"status"`
	MessageID string                 `json:"messageId,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Queue item statuses. Transitions are monotonic:
// pending -> processing -> sent | failed; failed -> pending only through the
// retry sweeper while retryCount < maxRetries.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusSent       = "sent"
	QueueStatusFailed     = "failed"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// QueueItem is one durable queue row.
type QueueItem struct {
	ID           string                 `json:"id"`
	Recipient    string                 `json:"recipient"`
	Type         string                 `json:"type"`
	Subject      string                 `json:"subject"`
	HTMLContent  string                 `json:"htmlContent"`
	TextContent  string                 `json:"textContent"`
	Priority     string                 `json:"priority"`
	ScheduledFor *time.Time             `json:"scheduledFor,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Status       string                 `json:"status"`
	RetryCount   int                    `json:"retryCount"`
	MaxRetries   int                    `json:"maxRetries"`
	CreatedAt    time.Time              `json:"createdAt"`
	SentAt       *time.Time             `json:"sentAt,omitempty"`
	FailedAt     *time.Time             `json:"failedAt,omitempty"`
}

// Delivery methods reported in DeliveryResult.
const (
	MethodPrimary  = "primary"
	MethodFallback = "fallback"
	MethodQueued   = "queued"
)

// SendRequest is the single send contract consumed by every business-event
// collaborator.
type SendRequest struct {
	To           string                 `json:"to"`
	Type         string                 `json:"type"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Priority     string                 `json:"priority,omitempty"`
	ScheduledFor *time.Time             `json:"scheduledFor,omitempty"`
}

// DeliveryResult is the outcome of one send call.
type DeliveryResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Method    string `json:"method"`
	Error     string `json:"error,omitempty"`
}

// AnalyticsRollup is one daily per-template aggregate row.
type AnalyticsRollup struct {
	TemplateType   string    `json:"templateType"`
	Date           time.Time `json:"date"`
	SentCount      int       `json:"sentCount"`
	DeliveredCount int       `json:"deliveredCount"`
	FailedCount    int       `json:"failedCount"`
}
