package google

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/metric-garden/internal/auth/session"
	"github.com/pysugar/metric-garden/internal/db/models"
	"golang.org/x/oauth2"
)

const (
	settingsPath       = "/settings/integrations"
	selectPropertyPath = "/settings/integrations/google-analytics/select-property"
)

// IntegrationWriter persists the connected integration. *db.Store implements it.
type IntegrationWriter interface {
	UpsertIntegration(ctx context.Context, integration *models.Integration) error
}

// HandleCallback processes the OAuth callback from Google: it checks the
// state, exchanges the code and stores the integration with an empty property
// selection.
func HandleCallback(base *oauth2.Config, sessions *session.Manager, store IntegrationWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := session.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		query := r.URL.Query()
		if query.Get("error") != "" {
			http.Redirect(w, r, settingsPath+"?error=google_analytics_denied", http.StatusFound)
			return
		}

		code, state := query.Get("code"), query.Get("state")
		if code == "" || state == "" {
			writeError(w, http.StatusBadRequest, "Missing code or state")
			return
		}
		if err := sessions.VerifyState(state, userID); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid state parameter")
			return
		}

		token, err := forRequest(base, r).Exchange(r.Context(), code)
		if err != nil {
			log.Printf("❌ Token exchange failed for %s: %v", userID, err)
			http.Redirect(w, r, settingsPath+"?error=google_analytics_failed", http.StatusFound)
			return
		}

		expiresAt := token.Expiry
		if expiresAt.IsZero() {
			expiresAt = time.Now().Add(time.Hour)
		}
		// A reconnect clears the previous property; the user picks one next.
		metadata, _ := models.EncodeMetadata(models.AnalyticsMetadata{})

		integration := &models.Integration{
			UserID:       userID,
			Provider:     models.ProviderGoogleAnalytics,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    &expiresAt,
			Scope:        ScopeAnalyticsReadonly,
			Metadata:     metadata,
		}
		if err := store.UpsertIntegration(r.Context(), integration); err != nil {
			log.Printf("❌ Failed to save Google Analytics integration for %s: %v", userID, err)
			http.Redirect(w, r, settingsPath+"?error=google_analytics_failed", http.StatusFound)
			return
		}

		log.Printf("🔑 Google Analytics connected for user %s", userID)
		http.Redirect(w, r, selectPropertyPath, http.StatusFound)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
