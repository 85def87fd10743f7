package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pysugar/metric-garden/internal/auth/google"
	"github.com/pysugar/metric-garden/internal/auth/session"
	"github.com/pysugar/metric-garden/internal/auth/token"
	"github.com/pysugar/metric-garden/internal/config"
	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/metrics/analytics"
	"github.com/pysugar/metric-garden/internal/metrics/payments"
	"github.com/pysugar/metric-garden/internal/monitor"
	"github.com/pysugar/metric-garden/internal/orchestrator"
	"github.com/pysugar/metric-garden/internal/server"
	"github.com/pysugar/metric-garden/internal/version"
	"golang.org/x/oauth2"
)

func main() {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err == nil {
		log.Printf("📄 Loaded .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Session.Secret == "" {
		log.Fatalf("SESSION_SECRET is required")
	}

	// Initialize database
	database, err := db.InitDB(cfg.Database.Driver, cfg.Database.DSN, db.ParseLogLevel(cfg.Log.GormLevel))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	store := db.NewStore(database)

	// Token manager: only Google tokens refresh, Stripe keys are static
	oauthConfigs := map[string]*oauth2.Config{}
	var googleOAuth *oauth2.Config
	if google.IsConfigured(cfg.Google) {
		googleOAuth = google.NewOAuthConfig(cfg.Google)
		oauthConfigs[models.ProviderGoogleAnalytics] = googleOAuth
	} else {
		log.Printf("⚠️ Google OAuth client not configured, Google Analytics connect is disabled")
	}
	tokenManager := token.NewManager(store, oauthConfigs)

	// Metric providers
	analyticsProvider := analytics.NewProviderWithClient(tokenManager,
		cfg.Google.AnalyticsDataURL, cfg.Google.AnalyticsAdminURL, cfg.Providers.Timeout, nil)
	paymentsProvider := payments.NewProviderWithClient(tokenManager, cfg.Stripe.APIBase, cfg.Providers.Timeout, nil)

	runs := monitor.NewRunMonitor()
	orch := orchestrator.New(store, orchestrator.Fetchers{
		Sessions: analyticsProvider,
		Payments: paymentsProvider,
	}, orchestrator.Options{
		Concurrency:     cfg.Cron.Concurrency,
		ProviderTimeout: cfg.Providers.Timeout,
		Recorder:        runs,
	})

	// Cron secret: configured value, or the one generated in the database
	cronSecret := func() string { return db.GetCronSecret(database) }
	rotateCronSecret := func() string { return db.RegenerateCronSecret(database) }
	if cfg.Cron.Secret != "" {
		configured := cfg.Cron.Secret
		cronSecret = func() string { return configured }
		rotateCronSecret = nil
	}

	sessions := session.NewManager(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.StateTTL)

	r := server.NewRouter(server.Deps{
		Store:            store,
		Runner:           orch,
		Syncer:           orch,
		Sessions:         sessions,
		CookieName:       cfg.Session.CookieName,
		CronSecret:       cronSecret,
		RotateCronSecret: rotateCronSecret,
		Runs:             runs,
		GoogleOAuth:      googleOAuth,
		Properties:       analyticsProvider,
		Keys:             paymentsProvider,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cron.DailyHour >= 0 {
		go orch.StartDailyLoop(ctx, cfg.Cron.DailyHour)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	displayURL := "localhost:" + cfg.Server.Port
	if cfg.Server.Host == "0.0.0.0" {
		displayURL = "<your-ip>:" + cfg.Server.Port
	}
	log.Printf("🚀 Metric Garden %s starting on http://%s", version.Version, srv.Addr)
	log.Printf("🌱 Sync API: http://%s/api/metrics/sync", displayURL)
	log.Printf("⏰ Cron trigger: http://%s/api/cron/daily-metrics", displayURL)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️ Shutdown: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Printf("👋 Server stopped")
}
