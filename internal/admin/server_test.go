package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberdeals-notifications/internal/common/config"
	"memberdeals-notifications/internal/common/database"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/notify/audit"
	"memberdeals-notifications/internal/notify/delivery"
	"memberdeals-notifications/internal/notify/orchestrator"
	"memberdeals-notifications/internal/notify/queue"
	"memberdeals-notifications/internal/notify/render"
	"memberdeals-notifications/internal/notify/template"
	"memberdeals-notifications/internal/notify/transport"
	"memberdeals-notifications/internal/scheduler"
)

// ==========================
// Test Fixture
// ==========================

type serverFixture struct {
	server *Server
	mock   sqlmock.Sqlmock
	sched  *scheduler.Scheduler
}

func newServerFixture(t *testing.T) *serverFixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	redisClient := &database.RedisClient{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}

	log := logger.NewTestLogger(t)
	store := template.NewStore(db, "", log)
	auditLog := audit.NewLog(db, log)
	queueRepo := queue.NewRepository(db, log)

	channel := delivery.NewChannel(delivery.Options{
		Templates: store,
		Renderer:  render.New(log),
		Fallback:  transport.NewFallback("log", "", log),
		Breaker:   transport.NewBreaker(),
		Queue:     queueRepo,
		Audit:     auditLog,
		Logger:    log,
	})

	processor := queue.NewProcessor(queueRepo, channel, nil, log)
	orch := orchestrator.New(channel, orchestrator.NewPostgresDirectory(db), auditLog, "https://app.example", log)

	sched := scheduler.New(log)
	require.NoError(t, sched.Register("drain-queue", scheduler.Every{Interval: 5 * time.Minute}, func(context.Context) error { return nil }))

	srv := NewServer(Options{
		Config:    config.AdminConfig{ListenAddr: ":0", StatsTTL: 30 * time.Second},
		Store:     store,
		AuditLog:  auditLog,
		QueueRepo: queueRepo,
		Processor: processor,
		Channel:   channel,
		Orch:      orch,
		Scheduler: sched,
		Postgres:  &database.PostgresClient{DB: db},
		Redis:     redisClient,
		Logger:    log,
	})

	return &serverFixture{server: srv, mock: mock, sched: sched}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.router().ServeHTTP(rec, req)
	return rec
}

// ==========================
// Endpoint Tests
// ==========================

func TestServer_Healthz(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["healthy"])
}

func TestServer_ListTemplates(t *testing.T) {
	f := newServerFixture(t)

	f.mock.ExpectQuery(`SELECT type, subject, html, text, active FROM templates ORDER BY type`).
		WillReturnRows(sqlmock.NewRows([]string{"type", "subject", "html", "text", "active"}).
			AddRow("user_welcome", "Welcome!", "", "", true))

	rec := f.do(t, http.MethodGet, "/api/templates", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_welcome")
}

func TestServer_UpdateTemplate(t *testing.T) {
	f := newServerFixture(t)

	f.mock.ExpectExec(`INSERT INTO templates`).
		WithArgs("user_welcome", "New subject", "", "", true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := f.do(t, http.MethodPut, "/api/templates/user_welcome",
		`{"subject":"New subject","active":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestServer_Stats_CachedInRedis(t *testing.T) {
	f := newServerFixture(t)

	// only one database expectation for two requests
	f.mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM notification_log`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("sent", 5))

	first := f.do(t, http.MethodGet, "/api/notifications/stats", "")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), `"sent":5`)

	second := f.do(t, http.MethodGet, "/api/notifications/stats", "")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestServer_Analytics(t *testing.T) {
	f := newServerFixture(t)

	f.mock.ExpectQuery(`SELECT template_type, date, sent_count, delivered_count, failed_count\s+FROM notification_analytics`).
		WillReturnRows(sqlmock.NewRows([]string{"template_type", "date", "sent_count", "delivered_count", "failed_count"}).
			AddRow("deal_created", time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC), 40, 35, 5))

	rec := f.do(t, http.MethodGet, "/api/notifications/analytics?days=7", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deal_created")
	assert.Contains(t, rec.Body.String(), `"days":7`)
}

func TestServer_ClearQueue_RejectsUnknownStatus(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/queue/processing", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ClearQueue(t *testing.T) {
	f := newServerFixture(t)

	f.mock.ExpectExec(`DELETE FROM notification_queue WHERE status = \$1`).
		WithArgs("failed").
		WillReturnResult(sqlmock.NewResult(0, 4))

	rec := f.do(t, http.MethodDelete, "/api/queue/failed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cleared":4`)
}

func TestServer_JobStatusAndRunNow(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/jobs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "drain-queue")

	rec = f.do(t, http.MethodPost, "/api/jobs/drain-queue/run", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobs/nope/run", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CircuitStateAndReset(t *testing.T) {
	f := newServerFixture(t)

	f.server.channel.Breaker().TripOnTimeout()

	rec := f.do(t, http.MethodGet, "/api/circuit", "")
	assert.Contains(t, rec.Body.String(), `"blocked":true`)

	rec = f.do(t, http.MethodPost, "/api/circuit/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/circuit", "")
	assert.Contains(t, rec.Body.String(), `"blocked":false`)
}

func TestServer_TestSend_UnknownTemplate(t *testing.T) {
	f := newServerFixture(t)

	f.mock.ExpectQuery(`SELECT type, subject, html, text, active FROM templates WHERE type = \$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	rec := f.do(t, http.MethodPost, "/api/test-send",
		`{"to":"a@x.com","type":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TestSend_MissingFieldsRejected(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/test-send", `{"type":"user_welcome"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TestSend_FallbackDelivery(t *testing.T) {
	f := newServerFixture(t)

	f.mock.ExpectQuery(`SELECT type, subject, html, text, active FROM templates WHERE type = \$1`).
		WithArgs("admin_alert").
		WillReturnRows(sqlmock.NewRows([]string{"type", "subject", "html", "text", "active"}).
			AddRow("admin_alert", "Test: {{.subject}}", "<p>{{.subject}}</p>", "{{.subject}}", true))
	f.mock.ExpectExec(`INSERT INTO notification_log`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := f.do(t, http.MethodPost, "/api/test-send",
		`{"to":"ops@x.com","type":"admin_alert","data":{"subject":"ping"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"method":"fallback"`)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
