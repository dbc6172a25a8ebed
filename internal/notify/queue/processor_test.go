package queue

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberdeals-notifications/internal/common/database"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/models"
)

// ==========================
// Test Doubles
// ==========================

type stubSender struct {
	results map[string]*models.DeliveryResult
	calls   []string
}

func (s *stubSender) Deliver(_ context.Context, to, _, _ string, _ map[string]interface{}, _ *models.RenderedMessage) *models.DeliveryResult {
	s.calls = append(s.calls, to)
	if r, ok := s.results[to]; ok {
		return r
	}
	return &models.DeliveryResult{Success: true, Method: models.MethodPrimary, MessageID: "<m>"}
}

func newTestRedis(t *testing.T) *database.RedisClient {
	mr := miniredis.RunT(t)
	return &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
}

func dueRow(id, recipient string) []driver.Value {
	return []driver.Value{
		id, recipient, "user_welcome", "Welcome!", "<p>hi</p>", "hi", "normal",
		nil, []byte(`{"firstName":"A"}`), "pending", 0, 3,
		time.Now().UTC(), nil, nil,
	}
}

// ==========================
// Drain Tests
// ==========================

func TestProcessor_Drain_FinalizesEachItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db, logger.NewTestLogger(t))
	sender := &stubSender{results: map[string]*models.DeliveryResult{
		"b@x.com": {Success: false, Method: models.MethodFallback, Error: "fallback panic"},
	}}
	p := NewProcessor(repo, sender, newTestRedis(t), logger.NewTestLogger(t))

	mock.ExpectQuery(`FROM notification_queue\s+WHERE status = 'pending'`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(queueColumns).
			AddRow(dueRow("q1", "a@x.com")...).
			AddRow(dueRow("q2", "b@x.com")...))

	// q1: claim then sent
	mock.ExpectExec(`SET status = 'processing'`).WithArgs("q1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'sent'`).WithArgs("q1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// q2: claim then failed
	mock.ExpectExec(`SET status = 'processing'`).WithArgs("q2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'failed'`).WithArgs("q2", "fallback panic").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := p.Drain(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, sender.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessor_Drain_UnclaimableItemIsSkipped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db, logger.NewTestLogger(t))
	sender := &stubSender{}
	p := NewProcessor(repo, sender, nil, logger.NewTestLogger(t))

	mock.ExpectQuery(`FROM notification_queue\s+WHERE status = 'pending'`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(queueColumns).
			AddRow(dueRow("q1", "a@x.com")...).
			AddRow(dueRow("q2", "b@x.com")...))

	// q1 was grabbed by another drain between select and claim
	mock.ExpectExec(`SET status = 'processing'`).WithArgs("q1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec(`SET status = 'processing'`).WithArgs("q2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'sent'`).WithArgs("q2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := p.Drain(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)
	// only the claimable item reached the sender
	assert.Equal(t, []string{"b@x.com"}, sender.calls)
}

func TestProcessor_Drain_EmptyQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db, logger.NewTestLogger(t))
	p := NewProcessor(repo, &stubSender{}, nil, logger.NewTestLogger(t))

	mock.ExpectQuery(`FROM notification_queue\s+WHERE status = 'pending'`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(queueColumns))

	result, err := p.Drain(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

// ==========================
// Drain Lock Tests
// ==========================

func TestProcessor_Drain_SkipsWhenLockHeld(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rc := newTestRedis(t)
	held, err := rc.SetNX(context.Background(), drainLockKey, "other", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	repo := NewRepository(db, logger.NewTestLogger(t))
	sender := &stubSender{}
	p := NewProcessor(repo, sender, rc, logger.NewTestLogger(t))

	result, err := p.Drain(context.Background(), 50)
	require.NoError(t, err)

	// no query expectations were set: the drain never touched the database
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, sender.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessor_Drain_ReleasesLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rc := newTestRedis(t)
	repo := NewRepository(db, logger.NewTestLogger(t))
	p := NewProcessor(repo, &stubSender{}, rc, logger.NewTestLogger(t))

	mock.ExpectQuery(`FROM notification_queue\s+WHERE status = 'pending'`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(queueColumns))

	_, err = p.Drain(context.Background(), 50)
	require.NoError(t, err)

	// the lock is free again, so a second drain proceeds
	free, err := rc.SetNX(context.Background(), drainLockKey, "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, free)
}
