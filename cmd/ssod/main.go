package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"doorpasses/internal/api"
	"doorpasses/internal/audit"
	"doorpasses/internal/observability"
	"doorpasses/internal/oidc"
	"doorpasses/internal/secrets"
	"doorpasses/internal/sso"
)

func main() {
	// A missing .env is fine; explicit environment wins either way.
	_ = godotenv.Load()

	logCfg := observability.ConfigFromEnv()
	logger := observability.NewLogger(logCfg)

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	migrate := flag.String("migrate", "", "run migrations: 'up' to apply, 'status' to show status")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// Fail at startup on a bad key rather than on the first login.
	cipherKey, err := secrets.LoadMasterKey("SSO_MASTER_KEY")
	if err != nil {
		logger.Error("master key error", "error", err)
		os.Exit(1)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	sentryEnabled := false
	if sentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      envOr("SENTRY_ENVIRONMENT", "production"),
			Release:          envOr("APP_VERSION", "dev"),
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			logger.Info("sentry initialized",
				"environment", envOr("SENTRY_ENVIRONMENT", "production"),
				"release", envOr("APP_VERSION", "dev"),
			)
			sentryEnabled = true
		}
	}

	if *migrate != "" {
		runMigrationsCLI(logger, *migrate)
		return
	}

	// Select storage based on build tags and env (see store_*.go in this package).
	store := selectStore(logger)
	auditLogger := selectAuditLogger(logger)

	metricsCfg := observability.MetricsConfigFromEnv()
	var metrics *observability.Metrics
	if metricsCfg.Enabled {
		metrics = observability.NewMetrics(metricsCfg)
		logger.Info("metrics enabled", "namespace", metricsCfg.Namespace)
	} else {
		logger.Info("metrics disabled")
	}

	pool := oidc.NewPool(oidc.DefaultPoolConfig())
	resolver := oidc.NewResolver(pool, logger, metrics)
	validator := oidc.NewValidator(pool)

	svc, err := sso.NewService(sso.Options{
		Store:     store,
		Resolver:  resolver,
		Validator: validator,
		Pool:      pool,
		CipherKey: cipherKey,
		BaseURL:   cfg.BaseURL,
		Retry:     oidc.DefaultRetryPolicy(),
		Audit:     auditLogger,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		logger.Error("service initialization failed", "error", err)
		os.Exit(1)
	}

	var proxyConfig *api.TrustedProxyConfig
	if cfg.TrustedProxies != "" {
		proxyConfig, err = api.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			logger.Error("invalid TRUSTED_PROXIES", "error", err)
			os.Exit(1)
		}
		logger.Info("trusted proxies configured", "count", len(proxyConfig.CIDRs))
	}

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set; configuration API disabled")
	}

	mux := http.NewServeMux()
	srv := api.NewServer(mux, api.ServerOptions{
		Store:      store,
		Service:    svc,
		Logger:     logger,
		Metrics:    metrics,
		Audit:      auditLogger,
		AdminToken: cfg.AdminToken,
	})
	srv.RegisterRoutes(api.LoginRateLimitConfig{
		AttemptsPerMinute: cfg.LoginAttemptsPerMinute,
		ProxyConfig:       proxyConfig,
	})

	// Background audit retention sweep.
	retention := cfg.AuditRetention
	if retention <= 0 {
		retention = audit.DefaultRetention
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			n, err := auditLogger.DeleteOlderThan(context.Background(), time.Now().Add(-retention))
			if err != nil {
				logger.Warn("audit retention sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("expired audit events removed", "count", n)
			}
		}
	}()

	rateCfg := api.DefaultRateLimitConfig()
	if rateCfg.Enabled() {
		logger.Info("rate limiting configured",
			"requests_per_second", rateCfg.RequestsPerSecond,
			"burst", rateCfg.Burst,
		)
	} else {
		logger.Info("rate limiting disabled")
	}

	handler := api.ApplyMiddlewares(
		mux,
		api.RequestIDMiddleware(),
		api.LoggingMiddleware(logger, metrics),
		api.RateLimitMiddleware(rateCfg, logger),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("ssod listening", "addr", cfg.Addr, "base_url", cfg.BaseURL)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	logger.Info("shutting down server", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := store.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	}

	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
	logger.Info("shutdown complete")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// runMigrationsCLI executes migration commands.
func runMigrationsCLI(logger observability.Logger, cmd string) {
	switch cmd {
	case "up":
		// Store initialization applies pending migrations; report status after.
		st := selectStore(logger)
		_ = st.Close()
		runMigrationsCLI(logger, "status")
	case "status":
		status := "migrations status not available in this build"
		if s := sqliteStatus(sqliteDSN()); s != "" {
			status = s
		}
		if s := postgresStatus(); s != "" {
			status = s
		}
		logger.Info("migrations status", "status", status)
	default:
		logger.Warn("unknown migrate command", "command", cmd)
	}
}
