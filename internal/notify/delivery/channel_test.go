package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "memberdeals-notifications/internal/common/errors"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/models"
	"memberdeals-notifications/internal/notify/render"
	"memberdeals-notifications/internal/notify/transport"
)

// ==========================
// Test Doubles
// ==========================

type fakeResolver struct {
	tpl *models.Template
	err error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (*models.Template, error) {
	return f.tpl, f.err
}

type fakeTransport struct {
	messageID string
	err       error
	calls     int
}

func (f *fakeTransport) Send(_ context.Context, _ *transport.Message) (string, error) {
	f.calls++
	return f.messageID, f.err
}

type panickingTransport struct{}

func (panickingTransport) Send(_ context.Context, _ *transport.Message) (string, error) {
	panic("boom")
}

type fakeEnqueuer struct {
	item *models.QueueItem
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, item *models.QueueItem) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.item = item
	return "queue-1", nil
}

type fakeRecorder struct {
	records []*models.NotificationRecord
}

func (f *fakeRecorder) Record(_ context.Context, rec *models.NotificationRecord) {
	f.records = append(f.records, rec)
}

type channelFixture struct {
	channel  *Channel
	primary  *fakeTransport
	fallback *fakeTransport
	queue    *fakeEnqueuer
	audit    *fakeRecorder
	breaker  *transport.Breaker
}

func newFixture(t *testing.T, primary transport.Transport, primaryConfigured bool) *channelFixture {
	f := &channelFixture{
		fallback: &fakeTransport{messageID: "<fallback-1>"},
		queue:    &fakeEnqueuer{},
		audit:    &fakeRecorder{},
		breaker:  transport.NewBreaker(),
	}
	if pt, ok := primary.(*fakeTransport); ok {
		f.primary = pt
	}

	f.channel = NewChannel(Options{
		Templates: &fakeResolver{tpl: &models.Template{
			Type:    "user_welcome",
			Subject: "Welcome {{.firstName}}!",
			HTML:    "<p>Hello {{.firstName}}</p>",
			Text:    "Hello {{.firstName}}",
			Active:  true,
		}},
		Renderer:          render.New(logger.NewTestLogger(t)),
		Primary:           primary,
		Fallback:          f.fallback,
		Breaker:           f.breaker,
		Queue:             f.queue,
		Audit:             f.audit,
		Logger:            logger.NewTestLogger(t),
		PrimaryConfigured: primaryConfigured,
		MaxRetries:        3,
	})
	return f
}

func sendRequest() *models.SendRequest {
	return &models.SendRequest{
		To:   "a@x.com",
		Type: "user_welcome",
		Data: map[string]interface{}{"firstName": "A"},
	}
}

// ==========================
// Immediate Path Tests
// ==========================

func TestChannel_Send_PrimarySucceeds(t *testing.T) {
	primary := &fakeTransport{messageID: "<primary-1>"}
	f := newFixture(t, primary, true)

	result, err := f.channel.Send(context.Background(), sendRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.MethodPrimary, result.Method)
	assert.Equal(t, "<primary-1>", result.MessageID)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, f.fallback.calls)

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, "a@x.com", f.audit.records[0].Recipient)
	assert.Equal(t, "user_welcome", f.audit.records[0].Type)
	assert.Equal(t, models.RecordStatusSent, f.audit.records[0].Status)
	assert.Equal(t, "Welcome A!", f.audit.records[0].Subject)
}

func TestChannel_Send_TimeoutBlocksCircuitAndFallsBack(t *testing.T) {
	primary := &fakeTransport{err: context.DeadlineExceeded}
	f := newFixture(t, primary, true)

	result, err := f.channel.Send(context.Background(), sendRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.MethodFallback, result.Method)
	assert.True(t, f.breaker.Blocked())

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.RecordStatusLogged, f.audit.records[0].Status)

	// circuit is sticky: the next send skips the primary entirely
	_, err = f.channel.Send(context.Background(), sendRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 2, f.fallback.calls)
	assert.Len(t, f.audit.records, 2)
}

func TestChannel_Send_NonTimeoutErrorFallsBackWithoutBlocking(t *testing.T) {
	primary := &fakeTransport{err: errors.New("550 mailbox unavailable")}
	f := newFixture(t, primary, true)

	result, err := f.channel.Send(context.Background(), sendRequest())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.MethodFallback, result.Method)
	assert.False(t, f.breaker.Blocked())
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.RecordStatusLogged, f.audit.records[0].Status)
}

func TestChannel_Send_NoCredentialsGoesStraightToFallback(t *testing.T) {
	primary := &fakeTransport{messageID: "<primary-1>"}
	f := newFixture(t, primary, false)

	result, err := f.channel.Send(context.Background(), sendRequest())
	require.NoError(t, err)

	assert.Equal(t, models.MethodFallback, result.Method)
	assert.Equal(t, 0, primary.calls)
	assert.Equal(t, 1, f.fallback.calls)
}

func TestChannel_Send_TemplateNotFoundPropagates(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, true)
	f.channel.templates = &fakeResolver{err: commonerrors.NewTemplateNotFoundError("nope")}

	_, err := f.channel.Send(context.Background(), sendRequest())
	require.Error(t, err)
	assert.Equal(t, commonerrors.ErrCodeTemplateNotFound, commonerrors.CodeOf(err))
	assert.Empty(t, f.audit.records)
}

func TestChannel_Send_MissingRecipientRejected(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, true)

	_, err := f.channel.Send(context.Background(), &models.SendRequest{Type: "user_welcome"})
	require.Error(t, err)
	assert.Equal(t, commonerrors.ErrCodeValidationFailed, commonerrors.CodeOf(err))

	_, err = f.channel.Send(context.Background(), &models.SendRequest{To: "a@x.com"})
	require.Error(t, err)
	assert.Equal(t, commonerrors.ErrCodeValidationFailed, commonerrors.CodeOf(err))
}

func TestChannel_Deliver_FallbackPanicYieldsFailedRecord(t *testing.T) {
	f := newFixture(t, nil, false)
	f.channel.fallback = panickingTransport{}

	result, err := f.channel.Send(context.Background(), sendRequest())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "fallback panic")
	require.Len(t, f.audit.records, 1)
	assert.Equal(t, models.RecordStatusFailed, f.audit.records[0].Status)
}

// ==========================
// Deferred Path Tests
// ==========================

func TestChannel_Send_FutureScheduleEnqueues(t *testing.T) {
	primary := &fakeTransport{messageID: "<primary-1>"}
	f := newFixture(t, primary, true)

	future := time.Now().Add(time.Hour)
	req := sendRequest()
	req.ScheduledFor = &future
	req.Priority = models.PriorityHigh

	result, err := f.channel.Send(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.MethodQueued, result.Method)
	assert.Equal(t, "queue-1", result.MessageID)

	// no transport was touched and no audit record written at enqueue time
	assert.Equal(t, 0, primary.calls)
	assert.Equal(t, 0, f.fallback.calls)
	assert.Empty(t, f.audit.records)

	require.NotNil(t, f.queue.item)
	assert.Equal(t, "a@x.com", f.queue.item.Recipient)
	assert.Equal(t, models.PriorityHigh, f.queue.item.Priority)
	assert.Equal(t, "Welcome A!", f.queue.item.Subject)
	assert.Equal(t, 3, f.queue.item.MaxRetries)
	assert.WithinDuration(t, future, *f.queue.item.ScheduledFor, time.Second)
}

func TestChannel_Send_PastScheduleDeliversImmediately(t *testing.T) {
	primary := &fakeTransport{messageID: "<primary-1>"}
	f := newFixture(t, primary, true)

	past := time.Now().Add(-time.Minute)
	req := sendRequest()
	req.ScheduledFor = &past

	result, err := f.channel.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.MethodPrimary, result.Method)
	assert.Nil(t, f.queue.item)
}

func TestChannel_Send_EnqueueFailurePropagates(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, true)
	f.channel.queue = &fakeEnqueuer{err: commonerrors.NewQueuePersistError(errors.New("disk full"))}

	future := time.Now().Add(time.Hour)
	req := sendRequest()
	req.ScheduledFor = &future

	_, err := f.channel.Send(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, commonerrors.ErrCodeQueuePersistFailed, commonerrors.CodeOf(err))
}
