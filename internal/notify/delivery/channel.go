// Package delivery implements the send contract: template resolution,
// rendering, the primary-with-fallback transport path gated by the sticky
// circuit, deferral into the durable queue, and the per-attempt audit record.
package delivery

import (
	"context"
	"fmt"
	"time"

	"memberdeals-notifications/internal/common/errors"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/common/metrics"
	"memberdeals-notifications/internal/common/observability"
	"memberdeals-notifications/internal/common/validation"
	"memberdeals-notifications/internal/models"
	"memberdeals-notifications/internal/notify/render"
	"memberdeals-notifications/internal/notify/transport"
)

// TemplateResolver resolves a template type to its content.
type TemplateResolver interface {
	Resolve(ctx context.Context, templateType string) (*models.Template, error)
}

// Enqueuer persists deferred sends into the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, item *models.QueueItem) (string, error)
}

// Recorder appends delivery attempts to the audit log.
type Recorder interface {
	Record(ctx context.Context, rec *models.NotificationRecord)
}

type Channel struct {
	templates TemplateResolver
	renderer  *render.Renderer
	primary   transport.Transport
	fallback  transport.Transport
	breaker   *transport.Breaker
	queue     Enqueuer
	audit     Recorder
	obs       *observability.Observability
	logger    logger.Logger

	primaryConfigured bool
	maxRetries        int
}

type Options struct {
	Templates         TemplateResolver
	Renderer          *render.Renderer
	Primary           transport.Transport
	Fallback          transport.Transport
	Breaker           *transport.Breaker
	Queue             Enqueuer
	Audit             Recorder
	Observability     *observability.Observability
	Logger            logger.Logger
	PrimaryConfigured bool
	MaxRetries        int
}

func NewChannel(opts Options) *Channel {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	return &Channel{
		templates:         opts.Templates,
		renderer:          opts.Renderer,
		primary:           opts.Primary,
		fallback:          opts.Fallback,
		breaker:           opts.Breaker,
		queue:             opts.Queue,
		audit:             opts.Audit,
		obs:               opts.Observability,
		logger:            opts.Logger.WithFields(map[string]interface{}{"component": "delivery"}),
		primaryConfigured: opts.PrimaryConfigured,
		maxRetries:        opts.MaxRetries,
	}
}

// Breaker exposes the circuit for the administrative reset action.
func (c *Channel) Breaker() *transport.Breaker {
	return c.breaker
}

// Send is the single send contract. Only TEMPLATE_NOT_FOUND and
// QUEUE_PERSIST_FAILED surface as errors; transport failures are absorbed by
// the fallback so the platform always accepts a notification.
func (c *Channel) Send(ctx context.Context, req *models.SendRequest) (*models.DeliveryResult, error) {
	if req.To == "" || req.Type == "" {
		return nil, errors.NewValidationError("recipient and type are required")
	}

	tpl, err := c.templates.Resolve(ctx, req.Type)
	if err != nil {
		return nil, err
	}

	if result := validation.ValidatePayload(req.Type, req.Data); !result.Valid {
		c.logger.Warn("payload failed schema validation, sending anyway", map[string]interface{}{
			"type":   req.Type,
			"errors": result.Errors,
		})
	}

	rendered := c.renderer.RenderMessage(tpl, req.Data)

	if req.ScheduledFor != nil && req.ScheduledFor.After(time.Now()) {
		return c.enqueueDeferred(ctx, req, rendered)
	}

	result := c.Deliver(ctx, req.To, req.Type, req.Priority, req.Data, rendered)
	return result, nil
}

// enqueueDeferred persists the rendered notification as a pending queue item.
func (c *Channel) enqueueDeferred(ctx context.Context, req *models.SendRequest, rendered *models.RenderedMessage) (*models.DeliveryResult, error) {
	item := &models.QueueItem{
		Recipient:    req.To,
		Type:         req.Type,
		Subject:      rendered.Subject,
		HTMLContent:  rendered.HTML,
		TextContent:  rendered.Text,
		Priority:     req.Priority,
		ScheduledFor: req.ScheduledFor,
		Data:         req.Data,
		MaxRetries:   c.maxRetries,
	}

	id, err := c.queue.Enqueue(ctx, item)
	if err != nil {
		return nil, err
	}

	c.logger.Info("notification queued", map[string]interface{}{
		"queueId":      id,
		"to":           req.To,
		"type":         req.Type,
		"scheduledFor": req.ScheduledFor,
	})

	return &models.DeliveryResult{
		Success:   true,
		MessageID: id,
		Method:    models.MethodQueued,
	}, nil
}

// Deliver runs the immediate path for already-rendered content, ignoring any
// schedule. The queue processor drains through this entry point. Exactly one
// audit record is written per call.
func (c *Channel) Deliver(ctx context.Context, to, templateType, priority string, data map[string]interface{}, rendered *models.RenderedMessage) *models.DeliveryResult {
	msg := transport.NewMessage(to, templateType, priority, rendered)
	started := time.Now()

	if c.primary != nil && c.primaryConfigured && !c.breaker.Blocked() {
		messageID, err := c.primary.Send(ctx, msg)
		if err == nil {
			c.observe(ctx, models.MethodPrimary, models.RecordStatusSent, started)
			c.record(ctx, to, templateType, rendered.Subject, models.RecordStatusSent, messageID, "", data)
			return &models.DeliveryResult{Success: true, MessageID: messageID, Method: models.MethodPrimary}
		}

		if transport.IsTimeout(err) {
			if c.breaker.TripOnTimeout() {
				c.logger.Error("primary transport timed out, circuit blocked until reset", map[string]interface{}{
					"error": errors.NewTransportTimeoutError(err).Details,
				})
			}
		} else {
			c.logger.Warn("primary transport failed, using fallback", map[string]interface{}{
				"error": errors.NewTransportError(err).Details,
				"to":    to,
			})
		}
	}

	return c.deliverFallback(ctx, msg, data, started)
}

// deliverFallback invokes the never-failing secondary path. The recover guard
// keeps the caller-visible contract intact even if the fallback itself
// misbehaves; that path records a failed attempt instead of propagating.
func (c *Channel) deliverFallback(ctx context.Context, msg *transport.Message, data map[string]interface{}, started time.Time) (result *models.DeliveryResult) {
	defer func() {
		if r := recover(); r != nil {
			errText := fmt.Sprintf("fallback panic: %v", r)
			c.logger.Error("fallback transport panicked", map[string]interface{}{"panic": errText})
			c.observe(ctx, models.MethodFallback, models.RecordStatusFailed, started)
			c.record(ctx, msg.To, msg.Type, msg.Subject, models.RecordStatusFailed, "", errText, data)
			result = &models.DeliveryResult{Success: false, Method: models.MethodFallback, Error: errText}
		}
	}()

	messageID, _ := c.fallback.Send(ctx, msg)

	c.observe(ctx, models.MethodFallback, models.RecordStatusLogged, started)
	c.record(ctx, msg.To, msg.Type, msg.Subject, models.RecordStatusLogged, messageID, "", data)
	return &models.DeliveryResult{Success: true, MessageID: messageID, Method: models.MethodFallback}
}

func (c *Channel) record(ctx context.Context, recipient, templateType, subject, status, messageID, errText string, data map[string]interface{}) {
	c.audit.Record(ctx, &models.NotificationRecord{
		Recipient: recipient,
		Type:      templateType,
		Subject:   subject,
		Status:    status,
		MessageID: messageID,
		Error:     errText,
		Data:      data,
	})
}

func (c *Channel) observe(ctx context.Context, method, status string, started time.Time) {
	metrics.NotificationsSent.WithLabelValues(method, status).Inc()
	if c.obs != nil {
		c.obs.RecordSend(ctx, method, status)
		c.obs.RecordSendDuration(ctx, time.Since(started), method)
	}
}
