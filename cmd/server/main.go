package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/parley/internal"
	"github.com/DukeRupert/parley/internal/billing"
	"github.com/DukeRupert/parley/internal/csrf"
	"github.com/DukeRupert/parley/internal/handler"
	"github.com/DukeRupert/parley/internal/metrics"
	"github.com/DukeRupert/parley/internal/middleware"
	"github.com/DukeRupert/parley/internal/quota"
	"github.com/DukeRupert/parley/internal/repository"
	"github.com/DukeRupert/parley/internal/service"
	"github.com/DukeRupert/parley/internal/session"
	"github.com/DukeRupert/parley/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("database ready")

	repo := repository.New(db)

	// ==========================================================================
	// Stores
	// ==========================================================================

	healthChecks := map[string]handler.HealthCheck{
		"database": db.PingContext,
	}

	postgresUsage := service.NewPostgresQuotaStore(repo, logger)
	var usage quota.QuotaStore = postgresUsage

	if cfg.QuotaStore == internal.QuotaStoreRedis {
		client, err := service.ConnectRedis(ctx, service.DefaultRedisConfig(cfg.RedisURL))
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer client.Close()

		redisUsage := service.NewRedisQuotaStore(client, logger)
		usage = redisUsage
		healthChecks["redis"] = redisUsage.Ping
	}
	logger.Info("quota store selected", "store", cfg.QuotaStore)

	subscriptions := service.NewSubscriptionStore(repo, logger)
	sessionService := service.NewSessionService(repo, cfg.DefaultLocation, logger)

	// ==========================================================================
	// Session registry
	// ==========================================================================

	sessionCfg := session.DefaultConfig()
	sessionCfg.DefaultLocation = cfg.DefaultLocation
	sessionCfg.Quota.DailyLimit = cfg.QuotaDailyLimit
	sessionCfg.Quota.ReconcileInterval = cfg.QuotaReconcileInterval
	sessionCfg.Quota.FetchTimeout = cfg.QuotaFetchTimeout

	sessions, err := session.NewManager(ctx,
		quota.Deps{
			Quota:         usage,
			Subscriptions: subscriptions,
			Profiles:      service.NewProfileStore(repo, logger),
		},
		sessionCfg,
		logger,
	)
	if err != nil {
		return fmt.Errorf("session manager initialization failed: %w", err)
	}
	defer sessions.CloseAll()

	// ==========================================================================
	// Billing
	// ==========================================================================

	var billingService billing.Service
	if cfg.BillingEnabled() {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			PremiumMonthlyPriceID: cfg.StripePremiumMonthlyPriceID,
			PremiumYearlyPriceID:  cfg.StripePremiumYearlyPriceID,
		})
		logger.Info("stripe billing enabled")
	} else {
		logger.Warn("stripe billing disabled, webhooks will be acknowledged and ignored")
	}

	// ==========================================================================
	// Maintenance worker
	// ==========================================================================

	if cfg.WorkerEnabled {
		workerCfg := worker.DefaultConfig()
		workerCfg.PollInterval = cfg.WorkerPollInterval

		w, err := worker.New(workerCfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		w.Register(worker.NewSessionEvictionTask(sessions, cfg.SessionIdleTimeout, logger), 0)
		w.Register(worker.NewExpiredSessionPurgeTask(sessionService, logger), time.Hour)
		// Redis counters expire on their own.
		if cfg.QuotaStore == internal.QuotaStorePostgres {
			w.Register(worker.NewUsageRetentionTask(postgresUsage, cfg.UsageRetentionDays, logger), 6*time.Hour)
		}

		w.Start(ctx)
		defer w.Stop()
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := !cfg.IsDevelopment()
	authMw := middleware.NewAuthMiddleware(sessionService, logger, isSecure)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	csrfMw := csrf.NewMiddleware(logger, isSecure)
	metricsAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword, logger)
	if !metricsAuth.Enabled() {
		logger.Warn("metrics endpoint is unprotected, set METRICS_USERNAME and METRICS_PASSWORD")
	}

	sendLimiter := middleware.NewRateLimiter(cfg.SendRateLimit, cfg.SendRateWindow, logger)
	sendLimiter.StartCleanup(ctx)
	sendLimit := middleware.NewRateLimitMiddleware(sendLimiter, middleware.ByIdentity, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewHealthHandler(healthChecks, 5*time.Second, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	handler.NewWebhookHandler(billingService, subscriptions, sessions, logger).RegisterRoutes(mux)
	handler.NewQuotaHandler(sessions, sessionService, logger, isSecure).
		RegisterRoutes(mux, authMw.RequireIdentity, sendLimit.Limit)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	root := middleware.Stack(
		metrics.Middleware,
		securityMw.Handler,
		authMw.WithIdentity,
		loggingMw.Handler,
		csrfMw.Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
