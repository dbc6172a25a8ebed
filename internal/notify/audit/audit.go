// Package audit keeps the append-only record of every delivery attempt,
// independent of the queue's retry state. Writes are best-effort: an audit
// failure must never cause a send to fail or retry.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"memberdeals-notifications/internal/common/errors"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/models"
)

type Log struct {
	db     *sql.DB
	logger logger.Logger
}

func NewLog(db *sql.DB, log logger.Logger) *Log {
	return &Log{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "audit-log"}),
	}
}

// Record inserts one notification record. The insert error, if any, is logged
// and swallowed.
func (l *Log) Record(ctx context.Context, rec *models.NotificationRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(rec.Data)
	if err != nil {
		payload = []byte("{}")
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO notification_log (id, recipient, type, subject, status, message_id, error, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Recipient, rec.Type, rec.Subject, rec.Status,
		nullable(rec.MessageID), nullable(rec.Error), payload, rec.CreatedAt,
	)
	if err != nil {
		auditErr := errors.NewAuditWriteError(err)
		l.logger.Error("failed to record delivery attempt", map[string]interface{}{
			"recipient": rec.Recipient,
			"type":      rec.Type,
			"status":    rec.Status,
			"error":     auditErr.Details,
		})
	}
}

// Filter narrows List results. Zero values mean no constraint; Page is
// 1-based.
type Filter struct {
	Status    string
	Type      string
	Recipient string
	Page      int
	Limit     int
}

// List returns matching records newest-first with the total match count.
func (l *Log) List(ctx context.Context, f Filter) ([]models.NotificationRecord, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	where := ` WHERE ($1 = '' OR status = $1) AND ($2 = '' OR type = $2) AND ($3 = '' OR recipient = $3)`

	var total int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_log`+where,
		f.Status, f.Type, f.Recipient,
	).Scan(&total)
	if err != nil {
		return nil, 0, errors.NewQueryExecutionFailedError("audit count", err)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, recipient, type, subject, status, COALESCE(message_id, ''), COALESCE(error, ''), data, created_at
		 FROM notification_log`+where+`
		 ORDER BY created_at DESC
		 LIMIT $4 OFFSET $5`,
		f.Status, f.Type, f.Recipient, f.Limit, (f.Page-1)*f.Limit,
	)
	if err != nil {
		return nil, 0, errors.NewQueryExecutionFailedError("audit list", err)
	}
	defer rows.Close()

	var out []models.NotificationRecord
	for rows.Next() {
		var rec models.NotificationRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Recipient, &rec.Type, &rec.Subject, &rec.Status,
			&rec.MessageID, &rec.Error, &payload, &rec.CreatedAt); err != nil {
			return nil, 0, errors.NewQueryExecutionFailedError("audit scan", err)
		}
		_ = json.Unmarshal(payload, &rec.Data)
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// Stats is the aggregate view read by the admin collaborator.
type Stats struct {
	Sent        int     `json:"sent"`
	Logged      int     `json:"logged"`
	Failed      int     `json:"failed"`
	Total       int     `json:"total"`
	SuccessRate float64 `json:"successRate"`
}

// GetStats aggregates attempt counts over the trailing window. The success
// rate counts both primary and fallback outcomes as accepted.
func (l *Log) GetStats(ctx context.Context, window time.Duration) (*Stats, error) {
	since := time.Now().UTC().Add(-window)

	rows, err := l.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM notification_log
		WHERE created_at >= $1
		GROUP BY status`,
		since,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("audit stats", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.NewQueryExecutionFailedError("audit stats scan", err)
		}
		switch status {
		case models.RecordStatusSent:
			stats.Sent = count
		case models.RecordStatusLogged:
			stats.Logged = count
		case models.RecordStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("audit stats rows", err)
	}

	stats.Total = stats.Sent + stats.Logged + stats.Failed
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Sent+stats.Logged) / float64(stats.Total)
	}
	return stats, nil
}

// RollupDaily writes the per-template aggregate row for one day into
// notification_analytics. Idempotent per (template_type, date).
func (l *Log) RollupDaily(ctx context.Context, day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO notification_analytics (template_type, date, sent_count, delivered_count, failed_count)
		SELECT type, $1::date,
		       COUNT(*) FILTER (WHERE status IN ('sent', 'logged')),
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM notification_log
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY type
		ON CONFLICT (template_type, date) DO UPDATE
		SET sent_count = EXCLUDED.sent_count,
		    delivered_count = EXCLUDED.delivered_count,
		    failed_count = EXCLUDED.failed_count`,
		dayStart, dayEnd,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("analytics rollup", err)
	}
	return nil
}

// ListRollups returns per-template daily aggregates from the given date on,
// newest day first.
func (l *Log) ListRollups(ctx context.Context, since time.Time) ([]models.AnalyticsRollup, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT template_type, date, sent_count, delivered_count, failed_count
		FROM notification_analytics
		WHERE date >= $1::date
		ORDER BY date DESC, template_type ASC`,
		since,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("analytics list", err)
	}
	defer rows.Close()

	var out []models.AnalyticsRollup
	for rows.Next() {
		var r models.AnalyticsRollup
		if err := rows.Scan(&r.TemplateType, &r.Date, &r.SentCount, &r.DeliveredCount, &r.FailedCount); err != nil {
			return nil, errors.NewQueryExecutionFailedError("analytics scan", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes audit rows past the retention horizon, returning
// the number deleted.
func (l *Log) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM notification_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("audit cleanup", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
