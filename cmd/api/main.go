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

	"cadence-dialer/internal/auth"
	"cadence-dialer/internal/cadence"
	"cadence-dialer/internal/config"
	"cadence-dialer/internal/contacts"
	"cadence-dialer/internal/hopper"
	"cadence-dialer/internal/httpapi"
	"cadence-dialer/internal/leads"
	"cadence-dialer/internal/reconcile"
	"cadence-dialer/internal/reporting"
	"cadence-dialer/internal/scheduler"
	"cadence-dialer/internal/sinks"
	"cadence-dialer/internal/telephony"
	"cadence-dialer/pkg/logger"
	"cadence-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

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

	rules := cadence.DefaultRules()
	if cfg.Dialer.PolicyFile != "" {
		rules, err = cadence.LoadRules(cfg.Dialer.PolicyFile)
		if err != nil {
			log.Error("cadence policy load failed", "err", err, "path", cfg.Dialer.PolicyFile)
			os.Exit(1)
		}
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

	// Wiring: postgres holds the durable state, redis holds the active
	// contact index and the concurrency cap.
	store := contacts.NewStore(contacts.NewPostgresRecords(db), contacts.NewRedisIndex(rdb, ""), log)
	queue := hopper.NewPostgresQueue(db)
	leadRepo := leads.NewPostgresRepo(db)
	sinkSvc := sinks.NewService(sinks.NewPostgresRepo(db))

	provider := telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.CallbackURL)
	if err := provider.HealthCheck(rootCtx); err != nil && cfg.IsProduction() {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	loop := scheduler.New(store, rules, queue, provider, rdb, scheduler.Options{
		DueBatch:       cfg.Dialer.DueBatch,
		FirstCallBatch: cfg.Dialer.FirstCallBatch,
		Parallelism:    cfg.Dialer.Parallelism,
		CallerID:       cfg.Dialer.CallerID,
		AgentRef:       cfg.Dialer.AgentRef,
		DialCapLimit:   cfg.Dialer.DialCapLimit,
		DialCapTTL:     cfg.Dialer.DialCapTTL,
	}, log)

	h := httpapi.Handlers{
		Auth:           authManager,
		Leads:          leads.NewService(leadRepo, queue),
		Reconciler:     reconcile.New(queue, leadRepo, store, rules, sinkSvc, rdb, log),
		Scheduler:      loop,
		Reports:        reporting.NewService(reporting.NewPostgresRepo(db)),
		StaleThreshold: cfg.Dialer.StaleCallThreshold,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager))

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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
