package google

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pysugar/metric-garden/internal/config"
	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"
)

// ScopeAnalyticsReadonly lets the server read reports and list properties.
const ScopeAnalyticsReadonly = "https://www.googleapis.com/auth/analytics.readonly"

// CallbackPath is where Google sends the user back after consent.
const CallbackPath = "/api/integrations/google-analytics/oauth"

// Scopes requested on connect.
var Scopes = []string{ScopeAnalyticsReadonly}

// NewOAuthConfig returns the OAuth2 client used for consent, code exchange and
// token refresh.
func NewOAuthConfig(cfg config.GoogleConfig) *oauth2.Config {
	endpoint := googleOAuth.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     endpoint,
	}
}

// IsConfigured reports whether both client credentials are set.
func IsConfigured(cfg config.GoogleConfig) bool {
	return strings.TrimSpace(cfg.ClientID) != "" && strings.TrimSpace(cfg.ClientSecret) != ""
}

// forRequest returns a copy of base whose redirect URL points back at the
// host that served r, unless one is configured.
func forRequest(base *oauth2.Config, r *http.Request) *oauth2.Config {
	c := *base
	if c.RedirectURL != "" {
		return &c
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	c.RedirectURL = fmt.Sprintf("%s://%s%s", scheme, r.Host, CallbackPath)
	return &c
}
