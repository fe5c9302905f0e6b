package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telehealth-platform/internal/audit"
	"telehealth-platform/internal/auth"
	"telehealth-platform/internal/callstate"
	"telehealth-platform/internal/config"
	"telehealth-platform/internal/events"
	"telehealth-platform/internal/queue"
	"telehealth-platform/internal/reporting"
	"telehealth-platform/internal/signaling"
	"telehealth-platform/pkg/logger"
	"telehealth-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const autoEndSweepInterval = 30 * time.Second

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Domain wiring. The hub and the signaling manager reference each other;
	// the handler is installed after construction, before any client attaches.
	hub := events.NewHub(nil, log)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	queueRepo := queue.NewPostgresRepo(db)
	queueSvc := queue.NewService(queueRepo, &queueNotifier{hub: hub, log: log}, auditSvc, cfg.Clinic)

	reportRepo := reporting.NewMemoryRepo(queueRepo)
	reportSvc := reporting.NewService(reportRepo)

	callStore := callstate.NewStore(callstate.NewRedisFlagStore(rdb))

	manager := signaling.NewManager(
		hub,
		&appointmentDirectory{queue: queueSvc},
		signaling.NewRedisSlotGuard(rdb, cfg.Signaling.CallSlotTTL),
		auditSvc,
		cfg.Signaling,
		log,
	)
	hub.SetHandler(manager)
	wireCallHooks(manager, queueSvc, reportRepo, callStore, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Auth:      authManager,
		Queue:     queueSvc,
		Reporting: reportSvc,
		CallState: callStore,
		Hub:       hub,
		DB:        db,
	})

	// Live sessions past their scheduled end are completed by the server, not
	// by a client remembering to press a button.
	go func() {
		ticker := time.NewTicker(autoEndSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if _, err := queueSvc.AutoEndDue(rootCtx); err != nil {
					log.Warn("auto-end sweep failed", "err", err)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
