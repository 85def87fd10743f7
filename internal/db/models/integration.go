package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Provider names stored in Integration.Provider.
const (
	ProviderGoogleAnalytics = "google_analytics"
	ProviderStripe          = "stripe"
)

// Integration stores the credential a user granted for one metrics provider.
type Integration struct {
	ID           string         `gorm:"primaryKey" json:"id"` // UUID
	UserID       string         `gorm:"uniqueIndex:idx_integrations_user_provider;not null" json:"user_id"`
	Provider     string         `gorm:"uniqueIndex:idx_integrations_user_provider;not null" json:"provider"`
	AccessToken  string         `gorm:"not null" json:"-"`
	RefreshToken string         `json:"-"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"` // nil for static API keys
	Scope        string         `json:"scope,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`
	IsActive     bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// AnalyticsMetadata is the Google Analytics variant of Integration.Metadata.
type AnalyticsMetadata struct {
	PropertyID string `json:"propertyId,omitempty"`
}

// PaymentsMetadata is the Stripe variant of Integration.Metadata.
type PaymentsMetadata struct {
	AccountID string `json:"stripeUserId,omitempty"`
}

// AnalyticsMetadata decodes the metadata blob of a google_analytics integration.
func (i *Integration) AnalyticsMetadata() (AnalyticsMetadata, error) {
	var md AnalyticsMetadata
	if i.Provider != ProviderGoogleAnalytics {
		return md, fmt.Errorf("integration %s is %s, not %s", i.ID, i.Provider, ProviderGoogleAnalytics)
	}
	err := decodeMetadata(i.Metadata, &md)
	return md, err
}

// PaymentsMetadata decodes the metadata blob of a stripe integration.
func (i *Integration) PaymentsMetadata() (PaymentsMetadata, error) {
	var md PaymentsMetadata
	if i.Provider != ProviderStripe {
		return md, fmt.Errorf("integration %s is %s, not %s", i.ID, i.Provider, ProviderStripe)
	}
	err := decodeMetadata(i.Metadata, &md)
	return md, err
}

// EncodeMetadata marshals a provider metadata variant for storage.
func EncodeMetadata(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeMetadata(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode integration metadata: %w", err)
	}
	return nil
}

// ProviderSet is the set of providers a user has active integrations for.
type ProviderSet map[string]struct{}

// Has reports whether provider is in the set.
func (s ProviderSet) Has(provider string) bool {
	_, ok := s[provider]
	return ok
}

// Add inserts provider into the set.
func (s ProviderSet) Add(provider string) { s[provider] = struct{}{} }
