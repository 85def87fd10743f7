package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/metrics/analytics"
)

// PropertyLister lists the analytics properties a user can read.
// *analytics.Provider implements it.
type PropertyLister interface {
	ListProperties(ctx context.Context, userID string) ([]analytics.Property, error)
}

// KeyVerifier checks a payments key before it is stored.
// *payments.Provider implements it.
type KeyVerifier interface {
	VerifyKey(ctx context.Context, key, accountID string) error
}

// providerAliases maps URL path segments to stored provider names.
var providerAliases = map[string]string{
	"google-analytics":             models.ProviderGoogleAnalytics,
	models.ProviderGoogleAnalytics: models.ProviderGoogleAnalytics,
	models.ProviderStripe:          models.ProviderStripe,
}

// IntegrationsStatusHandler handles GET /api/integrations/status.
func IntegrationsStatusHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		integrations, err := store.ListIntegrations(r.Context(), userID)
		if err != nil {
			writeError(w, err, "Failed to fetch integrations status")
			return
		}

		type analyticsStatus struct {
			Connected          bool    `json:"connected"`
			PropertyConfigured bool    `json:"propertyConfigured"`
			PropertyID         *string `json:"propertyId"`
		}
		type paymentsStatus struct {
			Connected    bool    `json:"connected"`
			StripeUserID *string `json:"stripeUserId"`
		}
		var status struct {
			GoogleAnalytics analyticsStatus `json:"googleAnalytics"`
			Stripe          paymentsStatus  `json:"stripe"`
		}

		for i := range integrations {
			integration := &integrations[i]
			switch integration.Provider {
			case models.ProviderGoogleAnalytics:
				status.GoogleAnalytics.Connected = true
				if md, err := integration.AnalyticsMetadata(); err == nil && md.PropertyID != "" {
					status.GoogleAnalytics.PropertyConfigured = true
					status.GoogleAnalytics.PropertyID = &md.PropertyID
				}
			case models.ProviderStripe:
				status.Stripe.Connected = true
				if md, err := integration.PaymentsMetadata(); err == nil && md.AccountID != "" {
					status.Stripe.StripeUserID = &md.AccountID
				}
			}
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// ListPropertiesHandler handles GET /api/integrations/google-analytics/properties.
func ListPropertiesHandler(store *db.Store, lister PropertyLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		if _, err := store.GetIntegration(r.Context(), userID, models.ProviderGoogleAnalytics); err != nil {
			if db.IsNotFound(err) {
				writeErrorMessage(w, http.StatusNotFound, "Google Analytics not connected")
				return
			}
			writeError(w, err, "Failed to list properties")
			return
		}

		properties, err := lister.ListProperties(r.Context(), userID)
		if err != nil {
			log.Printf("❌ Failed to list analytics properties for %s: %v", userID, err)
			writeError(w, err, "Failed to list properties")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"properties": properties})
	}
}

// SelectPropertyHandler handles POST /api/integrations/google-analytics/properties.
func SelectPropertyHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			PropertyID string `json:"propertyId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		propertyID := strings.TrimPrefix(strings.TrimSpace(req.PropertyID), "properties/")
		if propertyID == "" {
			writeErrorMessage(w, http.StatusBadRequest, "Property ID is required")
			return
		}

		metadata, err := models.EncodeMetadata(models.AnalyticsMetadata{PropertyID: propertyID})
		if err != nil {
			writeError(w, err, "Failed to save property")
			return
		}
		if err := store.SetIntegrationMetadata(r.Context(), userID, models.ProviderGoogleAnalytics, metadata); err != nil {
			if db.IsNotFound(err) {
				writeErrorMessage(w, http.StatusNotFound, "Google Analytics not connected")
				return
			}
			writeError(w, err, "Failed to save property")
			return
		}

		log.Printf("✅ User %s selected analytics property %s", userID, propertyID)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// StripeConnectHandler handles POST /api/integrations/stripe/connect. The key
// is verified against Stripe before it is stored.
func StripeConnectHandler(store *db.Store, verifier KeyVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			APIKey    string `json:"apiKey"`
			AccountID string `json:"accountId"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		key := strings.TrimSpace(req.APIKey)
		if !strings.HasPrefix(key, "rk_") && !strings.HasPrefix(key, "sk_") {
			writeErrorMessage(w, http.StatusBadRequest, "A Stripe secret or restricted key is required")
			return
		}
		accountID := strings.TrimSpace(req.AccountID)

		if err := verifier.VerifyKey(r.Context(), key, accountID); err != nil {
			log.Printf("⚠️ Stripe key rejected for user %s: %v", userID, err)
			writeError(w, err, "Failed to verify Stripe key")
			return
		}

		metadata, err := models.EncodeMetadata(models.PaymentsMetadata{AccountID: accountID})
		if err != nil {
			writeError(w, err, "Failed to save Stripe key")
			return
		}
		integration := &models.Integration{
			UserID:      userID,
			Provider:    models.ProviderStripe,
			AccessToken: key,
			Scope:       "read_only",
			Metadata:    metadata,
		}
		if err := store.UpsertIntegration(r.Context(), integration); err != nil {
			writeError(w, err, "Failed to save Stripe key")
			return
		}

		log.Printf("🔑 Stripe connected for user %s", userID)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// DisconnectHandler handles DELETE /api/integrations/{provider}. The row is
// kept inactive; reconnecting replaces its credential.
func DisconnectHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		provider, known := providerAliases[chi.URLParam(r, "provider")]
		if !known {
			writeErrorMessage(w, http.StatusBadRequest, "Unknown provider")
			return
		}
		if err := store.DeactivateIntegration(r.Context(), userID, provider); err != nil {
			writeError(w, err, "Failed to disconnect integration")
			return
		}

		log.Printf("🔒 User %s disconnected %s", userID, provider)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}
