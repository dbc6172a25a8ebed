package queue

import (
	"context"
	"database/sql"
	"time"

	commonerrors "memberdeals-notifications/internal/common/errors"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/common/metrics"
)

// Sweeper re-arms failed queue items for another delivery attempt. Only the
// sweeper moves items from failed back to pending; the processor never
// retries on its own.
type Sweeper struct {
	db       *sql.DB
	cooldown time.Duration
	logger   logger.Logger
}

func NewSweeper(db *sql.DB, cooldown time.Duration, log logger.Logger) *Sweeper {
	return &Sweeper{
		db:       db,
		cooldown: cooldown,
		logger:   log.WithFields(map[string]interface{}{"component": "retry-sweeper"}),
	}
}

// processingStaleAfter is how long a processing claim may sit untouched
// before the sweeper treats it as abandoned (finalize update lost after the
// delivery attempt) and fails it.
const processingStaleAfter = 15 * time.Minute

// Sweep first fails stale processing claims, then flips failed items that
// still have retries left and whose last failure is older than the cooldown
// back to pending, incrementing retry_count. Items at max_retries stay failed
// until cleanup removes them.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if err := s.reclaimStale(ctx); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-s.cooldown)

	result, err := s.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'pending', retry_count = retry_count + 1, updated_at = NOW()
		WHERE status = 'failed'
		  AND retry_count < max_retries
		  AND (failed_at IS NULL OR failed_at <= $1)`,
		cutoff,
	)
	if err != nil {
		return 0, commonerrors.NewQueueUpdateError("retry-sweep", err)
	}

	armed, _ := result.RowsAffected()
	if armed > 0 {
		metrics.QueueRetriesArmed.Add(float64(armed))
		s.logger.Info("failed items re-armed for retry", map[string]interface{}{
			"count":    armed,
			"cooldown": s.cooldown.String(),
		})
	}
	return armed, nil
}

// reclaimStale fails processing rows whose claim was never finalized, putting
// them back under the normal failed-to-pending retry path.
func (s *Sweeper) reclaimStale(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'failed', failed_at = NOW(), updated_at = NOW(),
		    data = jsonb_set(COALESCE(data, '{}'::jsonb), '{lastError}', '"stale processing claim"'::jsonb)
		WHERE status = 'processing'
		  AND updated_at <= $1`,
		time.Now().UTC().Add(-processingStaleAfter),
	)
	if err != nil {
		return commonerrors.NewQueueUpdateError("stale-reclaim", err)
	}

	if reclaimed, _ := result.RowsAffected(); reclaimed > 0 {
		s.logger.Warn("stale processing claims failed for retry", map[string]interface{}{
			"count": reclaimed,
		})
	}
	return nil
}
