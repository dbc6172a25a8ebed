// Package transport provides the primary (SMTP or SES) and fallback outbound
// delivery paths, plus the sticky circuit that gates the primary.
package transport

import (
	"context"
	stderrors "errors"
	"net"
	"strings"

	"memberdeals-notifications/internal/models"
)

// Message is the outbound payload handed to a transport.
type Message struct {
	To       string
	Subject  string
	HTML     string
	Text     string
	Type     string
	Priority string
}

// Transport is the outbound delivery port. Send returns the provider message
// ID on success.
type Transport interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Verifier is implemented by transports that support a startup
// connectivity check.
type Verifier interface {
	Verify(ctx context.Context) error
}

// IsTimeout classifies a transport error as timeout-class. Only these trip
// the circuit; other transport errors fall back without blocking.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// NewMessage builds a transport message from a rendered template.
func NewMessage(to, templateType, priority string, rendered *models.RenderedMessage) *Message {
	return &Message{
		To:       to,
		Subject:  rendered.Subject,
		HTML:     rendered.HTML,
		Text:     rendered.Text,
		Type:     templateType,
		Priority: priority,
	}
}
