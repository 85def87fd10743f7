// Package server assembles the HTTP routes of the garden server.
package server

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/metric-garden/internal/auth/google"
	"github.com/pysugar/metric-garden/internal/auth/session"
	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/server/handlers"
	"github.com/pysugar/metric-garden/internal/server/middleware"
	"golang.org/x/oauth2"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Store      *db.Store
	Runner     handlers.DailyRunner
	Syncer     handlers.UserSyncer
	Sessions   *session.Manager
	CookieName string
	// CronSecret is read per request.
	CronSecret func() string
	// RotateCronSecret is nil when the secret comes from configuration.
	RotateCronSecret func() string
	Runs             handlers.RunHistory
	// GoogleOAuth is nil when no Google client is configured; the connect
	// routes then answer 503.
	GoogleOAuth *oauth2.Config
	Properties  handlers.PropertyLister
	Keys        handlers.KeyVerifier
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// ============================================
	// Public Routes (No Auth Required)
	// ============================================
	r.Get("/healthz", handlers.HealthHandler())

	// Scheduled trigger (cron secret required)
	r.Route("/api/cron", func(r chi.Router) {
		r.Use(middleware.CronSecretAuth(d.CronSecret))
		r.Get("/daily-metrics", handlers.CronHandler(d.Runner))
		r.Post("/daily-metrics", handlers.CronHandler(d.Runner))
		if d.Runs != nil {
			r.Get("/runs", handlers.RunsHandler(d.Runs))
		}
		if d.RotateCronSecret != nil {
			r.Post("/secret/rotate", handlers.RotateCronSecretHandler(d.RotateCronSecret))
		}
	})

	// ============================================
	// Session Routes (signed-in user required)
	// ============================================
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(d.Sessions, d.CookieName))

		r.Post("/api/metrics/sync", handlers.SyncHandler(d.Syncer))

		r.Get("/api/garden/state", handlers.GardenStateHandler(d.Store))
		r.Post("/api/garden", handlers.CreateGardenHandler(d.Store))
		r.Post("/api/garden/plants", handlers.PlantHandler(d.Store))
		r.Get("/api/currency/balance", handlers.BalanceHandler(d.Store))

		r.Route("/api/integrations", func(r chi.Router) {
			r.Get("/status", handlers.IntegrationsStatusHandler(d.Store))

			if d.GoogleOAuth != nil {
				r.Get("/google-analytics/connect", google.HandleConnect(d.GoogleOAuth, d.Sessions))
				r.Get("/google-analytics/oauth", google.HandleCallback(d.GoogleOAuth, d.Sessions, d.Store))
			} else {
				r.Get("/google-analytics/connect", handlers.NotConfiguredHandler("Google Analytics"))
				r.Get("/google-analytics/oauth", handlers.NotConfiguredHandler("Google Analytics"))
			}
			r.Get("/google-analytics/properties", handlers.ListPropertiesHandler(d.Store, d.Properties))
			r.Post("/google-analytics/properties", handlers.SelectPropertyHandler(d.Store))

			r.Post("/stripe/connect", handlers.StripeConnectHandler(d.Store, d.Keys))
			r.Delete("/{provider}", handlers.DisconnectHandler(d.Store))
		})
	})

	return r
}
