package queue

import (
	"context"
	"time"

	"memberdeals-notifications/internal/common/database"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/common/metrics"
	"memberdeals-notifications/internal/models"
)

const (
	drainLockKey = "notify:queue:drain"
	drainLockTTL = 4 * time.Minute
)

// Sender is the immediate delivery path the processor drains through.
type Sender interface {
	Deliver(ctx context.Context, to, templateType, priority string, data map[string]interface{}, rendered *models.RenderedMessage) *models.DeliveryResult
}

// DrainResult summarizes one drain batch.
type DrainResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Processor polls the durable queue and drives due items through the
// delivery channel. The Redis lock keeps interval-triggered drains from
// overlapping when a batch outlives the schedule.
type Processor struct {
	repo   *Repository
	sender Sender
	redis  *database.RedisClient
	logger logger.Logger
}

func NewProcessor(repo *Repository, sender Sender, redis *database.RedisClient, log logger.Logger) *Processor {
	return &Processor{
		repo:   repo,
		sender: sender,
		redis:  redis,
		logger: log.WithFields(map[string]interface{}{"component": "queue-processor"}),
	}
}

// Drain processes up to batchSize due items. Each item's failure is isolated:
// one bad item never stops the batch. A queued item finalizes as "sent" when
// a transport accepted it without error; whether that transport was the
// primary or the fallback is carried in the audit record, not here.
func (p *Processor) Drain(ctx context.Context, batchSize int) (*DrainResult, error) {
	release, ok := p.acquireLock(ctx)
	if !ok {
		p.logger.Debug("drain already running elsewhere, skipping", nil)
		return &DrainResult{}, nil
	}
	defer release()

	started := time.Now()
	defer func() {
		metrics.QueueDrainDuration.Observe(time.Since(started).Seconds())
	}()

	items, err := p.repo.Due(ctx, batchSize)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	for i := range items {
		item := &items[i]
		result.Processed++

		if p.processOne(ctx, item) {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	if result.Processed > 0 {
		p.logger.Info("queue drained", map[string]interface{}{
			"processed": result.Processed,
			"sent":      result.Sent,
			"failed":    result.Failed,
		})
	}
	return result, nil
}

func (p *Processor) processOne(ctx context.Context, item *models.QueueItem) bool {
	if err := p.repo.MarkProcessing(ctx, item.ID); err != nil {
		p.logger.Warn("could not claim queue item", map[string]interface{}{
			"id":    item.ID,
			"error": err.Error(),
		})
		return false
	}

	rendered := &models.RenderedMessage{
		Subject: item.Subject,
		HTML:    item.HTMLContent,
		Text:    item.TextContent,
	}

	outcome := p.sender.Deliver(ctx, item.Recipient, item.Type, item.Priority, item.Data, rendered)

	if outcome.Success {
		if err := p.repo.MarkSent(ctx, item.ID); err != nil {
			p.logger.Error("failed to finalize sent item", map[string]interface{}{
				"id":    item.ID,
				"error": err.Error(),
			})
		}
		metrics.QueueItemsProcessed.WithLabelValues("sent").Inc()
		return true
	}

	if err := p.repo.MarkFailed(ctx, item.ID, outcome.Error); err != nil {
		p.logger.Error("failed to finalize failed item", map[string]interface{}{
			"id":    item.ID,
			"error": err.Error(),
		})
	}
	metrics.QueueItemsProcessed.WithLabelValues("failed").Inc()
	return false
}

// acquireLock takes the drain lock when Redis is wired, and is a no-op
// otherwise (single-process deployments and tests).
func (p *Processor) acquireLock(ctx context.Context) (func(), bool) {
	if p.redis == nil {
		return func() {}, true
	}

	ok, err := p.redis.SetNX(ctx, drainLockKey, time.Now().UTC().Format(time.RFC3339), drainLockTTL)
	if err != nil {
		p.logger.Warn("drain lock unavailable, proceeding without it", map[string]interface{}{
			"error": err.Error(),
		})
		return func() {}, true
	}
	if !ok {
		return nil, false
	}

	return func() {
		if err := p.redis.Del(context.Background(), drainLockKey); err != nil {
			p.logger.Warn("failed to release drain lock", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}, true
}
