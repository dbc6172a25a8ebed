package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"memberdeals-notifications/internal/common/config"
	"memberdeals-notifications/internal/common/database"
	commonerrors "memberdeals-notifications/internal/common/errors"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/models"
	"memberdeals-notifications/internal/notify/audit"
	"memberdeals-notifications/internal/notify/delivery"
	"memberdeals-notifications/internal/notify/orchestrator"
	"memberdeals-notifications/internal/notify/queue"
	"memberdeals-notifications/internal/notify/template"
	"memberdeals-notifications/internal/scheduler"
)

const statsCacheKey = "notify:admin:stats"

// Server is the administrative surface consumed by the dashboard. It exposes
// reads over templates, the audit log and the queue, plus manual triggers for
// the periodic jobs.
type Server struct {
	cfg       config.AdminConfig
	store     *template.Store
	auditLog  *audit.Log
	queueRepo *queue.Repository
	processor *queue.Processor
	channel   *delivery.Channel
	orch      *orchestrator.Orchestrator
	sched     *scheduler.Scheduler
	pg        *database.PostgresClient
	redis     *database.RedisClient
	logger    logger.Logger

	httpServer *http.Server
}

type Options struct {
	Config    config.AdminConfig
	Store     *template.Store
	AuditLog  *audit.Log
	QueueRepo *queue.Repository
	Processor *queue.Processor
	Channel   *delivery.Channel
	Orch      *orchestrator.Orchestrator
	Scheduler *scheduler.Scheduler
	Postgres  *database.PostgresClient
	Redis     *database.RedisClient
	Logger    logger.Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		store:     opts.Store,
		auditLog:  opts.AuditLog,
		queueRepo: opts.QueueRepo,
		processor: opts.Processor,
		channel:   opts.Channel,
		orch:      opts.Orch,
		sched:     opts.Scheduler,
		pg:        opts.Postgres,
		redis:     opts.Redis,
		logger:    opts.Logger.WithFields(map[string]interface{}{"component": "admin-server"}),
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/templates", s.handleListTemplates)
		api.Get("/templates/{type}", s.handleGetTemplate)
		api.Put("/templates/{type}", s.handleUpdateTemplate)

		api.Get("/notifications", s.handleListNotifications)
		api.Get("/notifications/stats", s.handleStats)
		api.Get("/notifications/analytics", s.handleAnalytics)

		api.Get("/queue", s.handleListQueue)
		api.Get("/queue/counts", s.handleQueueCounts)
		api.Delete("/queue/{status}", s.handleClearQueue)

		api.Get("/jobs", s.handleJobStatus)
		api.Post("/jobs/{name}/run", s.handleRunJob)

		api.Post("/actions/drain", s.handleDrain)
		api.Post("/actions/expiry-check", s.handleExpiryCheck)
		api.Post("/actions/renewal", s.handleRenewal)

		api.Get("/circuit", s.handleCircuitState)
		api.Post("/circuit/reset", s.handleCircuitReset)

		api.Post("/test-send", s.handleTestSend)
	})

	return r
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", map[string]interface{}{"addr": s.cfg.ListenAddr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	healthy := true

	if err := s.pg.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	} else {
		checks["redis"] = "not configured"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"healthy": healthy, "checks": checks})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.store.Resolve(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl models.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid template body"})
		return
	}
	tpl.Type = chi.URLParam(r, "type")

	if err := s.store.Update(r.Context(), &tpl); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "type": tpl.Type})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Status:    q.Get("status"),
		Type:      q.Get("type"),
		Recipient: q.Get("recipient"),
		Page:      intParam(q.Get("page"), 1),
		Limit:     intParam(q.Get("limit"), 25),
	}

	records, total, err := s.auditLog.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"total":         total,
		"page":          filter.Page,
		"limit":         filter.Limit,
	})
}

// handleStats serves trailing 24h stats, cached in Redis so dashboard polling
// does not hammer the aggregate query.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if cached, err := s.redis.Get(r.Context(), statsCacheKey); err == nil && cached != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(cached))
			return
		}
	}

	stats, err := s.auditLog.GetStats(r.Context(), 24*time.Hour)
	if err != nil {
		s.writeError(w, err)
		return
	}

	body, err := json.Marshal(stats)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.redis != nil {
		if err := s.redis.Set(r.Context(), statsCacheKey, string(body), s.cfg.StatsTTL); err != nil {
			s.logger.Warn("stats cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days := intParam(r.URL.Query().Get("days"), 30)
	since := time.Now().UTC().AddDate(0, 0, -days)

	rollups, err := s.auditLog.ListRollups(r.Context(), since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"analytics": rollups, "days": days})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status == "" {
		status = models.QueueStatusPending
	}
	page := intParam(q.Get("page"), 1)
	limit := intParam(q.Get("limit"), 25)

	items, err := s.queueRepo.ListByStatus(r.Context(), status, limit, (page-1)*limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"status": status,
		"page":   page,
		"limit":  limit,
	})
}

func (s *Server) handleQueueCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queueRepo.CountByStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	status := chi.URLParam(r, "status")
	switch status {
	case models.QueueStatusSent, models.QueueStatusFailed, models.QueueStatusPending:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be pending, sent or failed"})
		return
	}

	cleared, err := s.queueRepo.ClearByStatus(r.Context(), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": cleared, "status": status})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.sched.Status()})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.sched.RunNow(r.Context(), name); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "job": name})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	batch := intParam(r.URL.Query().Get("batch"), 50)
	result, err := s.processor.Drain(r.Context(), batch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExpiryCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.RunExpiryCheck(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRenewal(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.RunMonthlyRenewal(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCircuitState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":   string(s.channel.Breaker().State()),
		"blocked": s.channel.Breaker().Blocked(),
	})
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	s.channel.Breaker().Reset()
	s.logger.Info("circuit reset by administrator", nil)
	writeJSON(w, http.StatusOK, map[string]string{"state": "ready"})
}

func (s *Server) handleTestSend(w http.ResponseWriter, r *http.Request) {
	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid send request body"})
		return
	}

	result, err := s.channel.Send(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch commonerrors.CodeOf(err) {
	case commonerrors.ErrCodeValidationFailed:
		code = http.StatusBadRequest
	case commonerrors.ErrCodeTemplateNotFound:
		code = http.StatusNotFound
	case commonerrors.ErrCodeQueuePersistFailed, commonerrors.ErrCodeQueueUpdateFailed:
		code = http.StatusServiceUnavailable
	}

	s.logger.Warn("request failed", map[string]interface{}{"error": err.Error()})
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
