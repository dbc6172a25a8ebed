// Package queue implements the durable notification queue: a relational
// write-ahead log for deferred and failed sends, the processor that drains
// it, and the sweeper that re-arms failed items.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"memberdeals-notifications/internal/common/errors"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/common/metrics"
	"memberdeals-notifications/internal/models"
)

const defaultMaxRetries = 3

type Repository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRepository(db *sql.DB, log logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "queue"}),
	}
}

// Enqueue inserts a pending queue item and returns its id.
func (r *Repository) Enqueue(ctx context.Context, item *models.QueueItem) (string, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Priority == "" {
		item.Priority = models.PriorityNormal
	}
	if item.MaxRetries == 0 {
		item.MaxRetries = defaultMaxRetries
	}
	item.Status = models.QueueStatusPending
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(item.Data)
	if err != nil {
		payload = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notification_queue
		(id, recipient, type, subject, html, text, priority, scheduled_for, data, status, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		item.ID, item.Recipient, item.Type, item.Subject, item.HTMLContent, item.TextContent,
		item.Priority, item.ScheduledFor, payload, item.Status, item.RetryCount, item.MaxRetries, item.CreatedAt,
	)
	if err != nil {
		return "", errors.NewQueuePersistError(err)
	}

	metrics.QueueItemsEnqueued.Inc()
	return item.ID, nil
}

// Due selects up to limit pending items whose scheduled_for is unset or past,
// ordered by priority desc then created_at asc.
func (r *Repository) Due(ctx context.Context, limit int) ([]models.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient, type, subject, html, text, priority, scheduled_for, data,
		       status, retry_count, max_retries, created_at, sent_at, failed_at
		FROM notification_queue
		WHERE status = 'pending' AND (scheduled_for IS NULL OR scheduled_for <= NOW())
		ORDER BY CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC,
		         created_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("queue due", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// MarkProcessing transitions pending -> processing. The status guard keeps
// the state machine monotonic even if two processors race.
func (r *Repository) MarkProcessing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notification_queue SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return errors.NewQueueUpdateError(id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewQueueUpdateError(id, sql.ErrNoRows)
	}
	return nil
}

// MarkSent finalizes a processing item as sent.
func (r *Repository) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_queue SET status = 'sent', sent_at = NOW() WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return errors.NewQueueUpdateError(id, err)
	}
	return nil
}

// MarkFailed finalizes a processing item as failed, recording the error.
func (r *Repository) MarkFailed(ctx context.Context, id string, sendErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'failed', failed_at = NOW(), data = jsonb_set(COALESCE(data, '{}'::jsonb), '{lastError}', to_jsonb($2::text))
		WHERE id = $1 AND status = 'processing'`,
		id, sendErr)
	if err != nil {
		return errors.NewQueueUpdateError(id, err)
	}
	return nil
}

// ListByStatus returns queue items with the given status, newest-first.
func (r *Repository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recipient, type, subject, html, text, priority, scheduled_for, data,
		       status, retry_count, max_retries, created_at, sent_at, failed_at
		FROM notification_queue
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("queue list", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// CountByStatus returns counts keyed by status for the admin surface.
func (r *Repository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("queue count", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.NewQueryExecutionFailedError("queue count scan", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ClearByStatus deletes all items with the given status, returning the
// number removed. Administrative operation.
func (r *Repository) ClearByStatus(ctx context.Context, status string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notification_queue WHERE status = $1`, status)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("queue clear", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteFinishedBefore removes terminal rows older than cutoff.
func (r *Repository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notification_queue
		WHERE status IN ('sent', 'failed') AND created_at < $1
		  AND (status = 'sent' OR retry_count >= max_retries)`,
		cutoff,
	)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("queue cleanup", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanItems(rows *sql.Rows) ([]models.QueueItem, error) {
	var out []models.QueueItem
	for rows.Next() {
		var item models.QueueItem
		var payload []byte
		var scheduledFor, sentAt, failedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.Recipient, &item.Type, &item.Subject,
			&item.HTMLContent, &item.TextContent, &item.Priority, &scheduledFor, &payload,
			&item.Status, &item.RetryCount, &item.MaxRetries, &item.CreatedAt, &sentAt, &failedAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("queue scan", err)
		}
		if scheduledFor.Valid {
			item.ScheduledFor = &scheduledFor.Time
		}
		if sentAt.Valid {
			item.SentAt = &sentAt.Time
		}
		if failedAt.Valid {
			item.FailedAt = &failedAt.Time
		}
		_ = json.Unmarshal(payload, &item.Data)
		out = append(out, item)
	}
	return out, rows.Err()
}
