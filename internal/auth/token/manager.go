package token

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/errs"
	"golang.org/x/oauth2"
)

// RefreshMargin is how close to expiry a token is refreshed before use.
const RefreshMargin = 5 * time.Minute

// defaultTokenLifetime is assumed when a refresh response carries no expiry.
const defaultTokenLifetime = time.Hour

var (
	ErrCredentialNotFound = fmt.Errorf("%w: no active integration", errs.ErrAuth)
	ErrRefreshFailed      = fmt.Errorf("%w: token refresh failed", errs.ErrAuth)
)

// Credential is a usable provider credential with its decoded metadata.
// Exactly one of Analytics and Payments is set, matching Provider.
type Credential struct {
	IntegrationID string
	UserID        string
	Provider      string
	AccessToken   string
	RefreshToken  string
	ExpiresAt     *time.Time // nil for static keys
	Analytics     *models.AnalyticsMetadata
	Payments      *models.PaymentsMetadata
}

// CredentialStore is the persistence the manager needs. *db.Store implements it.
type CredentialStore interface {
	GetIntegration(ctx context.Context, userID, provider string) (*models.Integration, error)
	UpdateIntegrationTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	DeactivateIntegration(ctx context.Context, userID, provider string) error
}

// Manager hands out valid provider credentials, refreshing expiring OAuth
// tokens on the way. It is the only writer of integration token fields.
type Manager struct {
	store   CredentialStore
	configs map[string]*oauth2.Config
	now     func() time.Time
}

// NewManager creates a manager. configs maps a provider name to the OAuth
// client used to refresh its tokens; providers without one only support
// static keys.
func NewManager(store CredentialStore, configs map[string]*oauth2.Config) *Manager {
	if configs == nil {
		configs = map[string]*oauth2.Config{}
	}
	return &Manager{
		store:   store,
		configs: configs,
		now:     time.Now,
	}
}

// GetValidCredential returns the user's credential for provider, refreshing it
// first when it expires within RefreshMargin.
func (m *Manager) GetValidCredential(ctx context.Context, userID, provider string) (*Credential, error) {
	integration, err := m.store.GetIntegration(ctx, userID, provider)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s for user %s", ErrCredentialNotFound, provider, userID)
		}
		return nil, fmt.Errorf("load integration: %w", err)
	}

	if integration.ExpiresAt != nil && !m.now().Add(RefreshMargin).Before(*integration.ExpiresAt) {
		log.Printf("⚠️ Token for %s/%s is expired/expiring, refreshing...", userID, provider)
		if err := m.refresh(ctx, integration); err != nil {
			return nil, err
		}
	}

	return newCredential(integration)
}

// refresh exchanges the stored refresh token and updates integration in place.
func (m *Manager) refresh(ctx context.Context, integration *models.Integration) error {
	config, ok := m.configs[integration.Provider]
	if !ok {
		return fmt.Errorf("%w: %s tokens cannot be refreshed", ErrRefreshFailed, integration.Provider)
	}
	if integration.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token stored for %s", ErrRefreshFailed, integration.Provider)
	}

	tokenSource := config.TokenSource(ctx, &oauth2.Token{RefreshToken: integration.RefreshToken})
	newToken, err := tokenSource.Token()
	if err != nil {
		log.Printf("❌ Refresh token failed for %s/%s: %v", integration.UserID, integration.Provider, err)

		if isPermanentRefreshError(err) {
			// The user has to reconnect; stop trying on every run.
			if derr := m.store.DeactivateIntegration(ctx, integration.UserID, integration.Provider); derr != nil {
				log.Printf("⚠️ Failed to deactivate integration %s: %v", integration.ID, derr)
			} else {
				log.Printf("🔒 Integration %s/%s marked as inactive. Please reconnect.", integration.UserID, integration.Provider)
			}
		}
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	expiresAt := newToken.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(defaultTokenLifetime)
	}
	refreshToken := integration.RefreshToken
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		log.Printf("🔄 Rotating refresh token for: %s/%s", integration.UserID, integration.Provider)
		refreshToken = newToken.RefreshToken
	}

	if err := m.store.UpdateIntegrationTokens(ctx, integration.ID, newToken.AccessToken, refreshToken, &expiresAt); err != nil {
		return fmt.Errorf("save refreshed token: %w", err)
	}

	integration.AccessToken = newToken.AccessToken
	integration.RefreshToken = refreshToken
	integration.ExpiresAt = &expiresAt

	log.Printf("✅ Refreshed token for: %s/%s (token: %s, expires: %s)",
		integration.UserID, integration.Provider, maskToken(newToken.AccessToken), expiresAt.Format(time.RFC3339))
	return nil
}

func newCredential(integration *models.Integration) (*Credential, error) {
	cred := &Credential{
		IntegrationID: integration.ID,
		UserID:        integration.UserID,
		Provider:      integration.Provider,
		AccessToken:   integration.AccessToken,
		RefreshToken:  integration.RefreshToken,
		ExpiresAt:     integration.ExpiresAt,
	}

	switch integration.Provider {
	case models.ProviderGoogleAnalytics:
		md, err := integration.AnalyticsMetadata()
		if err != nil {
			return nil, err
		}
		cred.Analytics = &md
	case models.ProviderStripe:
		md, err := integration.PaymentsMetadata()
		if err != nil {
			return nil, err
		}
		cred.Payments = &md
	}
	return cred, nil
}

func maskToken(t string) string {
	if len(t) < 20 {
		return "***"
	}
	return "..." + t[len(t)-8:]
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
