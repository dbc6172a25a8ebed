// cmd/notification-manager/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"memberdeals-notifications/internal/admin"
	"memberdeals-notifications/internal/common/config"
	"memberdeals-notifications/internal/common/database"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/common/observability"
	"memberdeals-notifications/internal/notify/audit"
	"memberdeals-notifications/internal/notify/delivery"
	"memberdeals-notifications/internal/notify/orchestrator"
	"memberdeals-notifications/internal/notify/queue"
	"memberdeals-notifications/internal/notify/render"
	"memberdeals-notifications/internal/notify/template"
	"memberdeals-notifications/internal/notify/transport"
	"memberdeals-notifications/internal/scheduler"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notification manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("notification-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init pipeline components ---
	store := template.NewStore(pg.GetDB(), cfg.Notifications.TemplateDir, log)
	renderer := render.New(log)
	auditLog := audit.NewLog(pg.GetDB(), log)
	queueRepo := queue.NewRepository(pg.GetDB(), log)
	breaker := transport.NewBreaker()

	primary := buildPrimary(ctx, cfg, log, zapLog)
	if primary != nil && !cfg.Transport.DisableVerify {
		verifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if v, ok := primary.(transport.Verifier); ok {
			if err := v.Verify(verifyCtx); err != nil {
				zapLog.Warn("primary transport verification failed, sends will fall back on error",
					zap.Error(err))
			} else {
				zapLog.Info("primary transport verified")
			}
		}
		cancel()
	}

	fallback := transport.NewFallback(cfg.Notifications.FallbackMode, cfg.Notifications.CaptureDir, log)

	channel := delivery.NewChannel(delivery.Options{
		Templates:         store,
		Renderer:          renderer,
		Primary:           primary,
		Fallback:          fallback,
		Breaker:           breaker,
		Queue:             queueRepo,
		Audit:             auditLog,
		Observability:     obs,
		Logger:            log,
		PrimaryConfigured: primary != nil && cfg.Transport.Configured(),
		MaxRetries:        cfg.Notifications.MaxRetries,
	})

	processor := queue.NewProcessor(queueRepo, channel, redis, log)
	sweeper := queue.NewSweeper(pg.GetDB(), cfg.Notifications.RetryCooldown, log)
	directory := orchestrator.NewPostgresDirectory(pg.GetDB())
	orch := orchestrator.New(channel, directory, auditLog, cfg.Notifications.FrontendURL, log)

	// --- Register periodic jobs ---
	sched := scheduler.New(log)
	registerJobs(sched, cfg, processor, sweeper, orch, auditLog, queueRepo, channel, log)

	if cfg.Scheduler.Enabled {
		sched.StartAll()
		zapLog.Info("Scheduler started")
	} else {
		zapLog.Warn("Scheduler disabled by configuration")
	}

	// --- Admin server ---
	adminServer := admin.NewServer(admin.Options{
		Config:    cfg.Admin,
		Store:     store,
		AuditLog:  auditLog,
		QueueRepo: queueRepo,
		Processor: processor,
		Channel:   channel,
		Orch:      orch,
		Scheduler: sched,
		Postgres:  pg,
		Redis:     redis,
		Logger:    log,
	})
	go func() {
		if err := adminServer.Start(); err != nil {
			zapLog.Error("Admin server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping jobs...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.StopAll()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping admin server", zap.Error(err))
	}

	zapLog.Info("Notification manager stopped gracefully")
}

// buildPrimary selects the configured primary transport, or none when no
// credentials are present (all sends then route to the fallback).
func buildPrimary(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) transport.Transport {
	if !cfg.Transport.Configured() {
		zapLog.Warn("No primary transport credentials, all sends will use the fallback")
		return nil
	}

	switch cfg.Transport.Provider {
	case "ses":
		ses, err := transport.NewSES(ctx, cfg.Transport, cfg.Notifications.FromName, cfg.Notifications.FromEmail, log)
		if err != nil {
			zapLog.Warn("SES transport setup failed, all sends will use the fallback", zap.Error(err))
			return nil
		}
		return ses
	default:
		return transport.NewSMTP(cfg.Transport, cfg.Notifications.FromName, cfg.Notifications.FromEmail, log)
	}
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	processor *queue.Processor,
	sweeper *queue.Sweeper,
	orch *orchestrator.Orchestrator,
	auditLog *audit.Log,
	queueRepo *queue.Repository,
	channel *delivery.Channel,
	log logger.Logger,
) {
	batch := cfg.Notifications.QueueBatchSize
	retention := time.Duration(cfg.Notifications.RetentionDays) * 24 * time.Hour
	interval := cfg.Scheduler.JobInterval

	jobs := []struct {
		name     string
		schedule scheduler.Schedule
		run      scheduler.JobFunc
	}{
		{"drain-queue", scheduler.Every{Interval: interval("drain-queue", 5*time.Minute)}, func(ctx context.Context) error {
			_, err := processor.Drain(ctx, batch)
			return err
		}},
		{"retry-sweep", scheduler.Every{Interval: interval("retry-sweep", time.Hour)}, func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx)
			return err
		}},
		{"expiry-check", scheduler.DailyAt{Hour: 8}, func(ctx context.Context) error {
			_, err := orch.RunExpiryCheck(ctx)
			return err
		}},
		{"limits-renewal", scheduler.MonthlyOn{Day: 1, Hour: 6}, func(ctx context.Context) error {
			_, err := orch.RunMonthlyRenewal(ctx)
			return err
		}},
		{"cleanup", scheduler.Every{Interval: interval("cleanup", 168*time.Hour)}, func(ctx context.Context) error {
			cutoff := time.Now().UTC().Add(-retention)
			if _, err := auditLog.DeleteOlderThan(ctx, cutoff); err != nil {
				return err
			}
			_, err := queueRepo.DeleteFinishedBefore(ctx, cutoff)
			return err
		}},
		{"health-check", scheduler.Every{Interval: interval("health-check", time.Hour)}, func(ctx context.Context) error {
			stats, err := auditLog.GetStats(ctx, time.Hour)
			if err != nil {
				return err
			}
			if stats.Total >= 10 && stats.SuccessRate < 0.5 {
				orch.AdminAlert(ctx, "Notification failure rate above 50%", map[string]interface{}{
					"failed":      stats.Failed,
					"total":       stats.Total,
					"successRate": stats.SuccessRate,
				})
			}
			if channel.Breaker().Blocked() {
				log.Warn("primary transport circuit is blocked, reset required", nil)
			}
			return nil
		}},
		{"admin-summary", scheduler.DailyAt{Hour: 7}, func(ctx context.Context) error {
			_, err := orch.RunAdminSummary(ctx)
			return err
		}},
		{"analytics-rollup", scheduler.DailyAt{Hour: 1}, func(ctx context.Context) error {
			return auditLog.RollupDaily(ctx, time.Now().UTC().AddDate(0, 0, -1))
		}},
	}

	for _, j := range jobs {
		if !cfg.Scheduler.JobEnabled(j.name) {
			log.Info("job disabled by configuration", map[string]interface{}{"job": j.name})
			continue
		}
		sched.Register(j.name, j.schedule, j.run)
	}
}
