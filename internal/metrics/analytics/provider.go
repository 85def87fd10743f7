// Package analytics reads daily traffic from the Google Analytics Data API.
package analytics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/metric-garden/internal/auth/token"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/errs"
	"github.com/pysugar/metric-garden/internal/metrics"
	"golang.org/x/oauth2"
	analyticsadmin "google.golang.org/api/analyticsadmin/v1beta"
	analyticsdata "google.golang.org/api/analyticsdata/v1beta"
	"google.golang.org/api/option"
)

const defaultTimeout = 30 * time.Second

// CredentialSource resolves a user's credential. *token.Manager implements it.
type CredentialSource interface {
	GetValidCredential(ctx context.Context, userID, provider string) (*token.Credential, error)
}

// Property is one Analytics property the user can pick.
type Property struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Account     string `json:"account,omitempty"`
}

// Provider implements metrics.SessionsFetcher for Google Analytics 4.
type Provider struct {
	creds      CredentialSource
	dataURL    string
	adminURL   string
	httpClient *http.Client
}

// NewProvider creates a provider against the public Google endpoints.
func NewProvider(creds CredentialSource, timeout time.Duration) *Provider {
	return NewProviderWithClient(creds, "", "", timeout, nil)
}

// NewProviderWithClient creates a provider with endpoint overrides and a base
// HTTP client. Empty URLs keep the library defaults.
func NewProviderWithClient(creds CredentialSource, dataURL, adminURL string, timeout time.Duration, httpClient *http.Client) *Provider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Provider{
		creds:      creds,
		dataURL:    strings.TrimSpace(dataURL),
		adminURL:   strings.TrimSpace(adminURL),
		httpClient: httpClient,
	}
}

// FetchDailySessions returns the sessions of the user's selected property on
// date's UTC day. A report without rows counts as 0.
func (p *Provider) FetchDailySessions(ctx context.Context, userID string, date time.Time) (int64, error) {
	cred, err := p.creds.GetValidCredential(ctx, userID, models.ProviderGoogleAnalytics)
	if err != nil {
		return 0, err
	}
	if cred.Analytics == nil || cred.Analytics.PropertyID == "" {
		return 0, metrics.ErrPropertyNotConfigured
	}

	opts := p.clientOptions(cred.AccessToken, p.dataURL)
	svc, err := analyticsdata.NewService(ctx, opts...)
	if err != nil {
		return 0, fmt.Errorf("%w: analytics data client: %v", errs.ErrProviderFetch, err)
	}

	day := metrics.DateString(date)
	req := &analyticsdata.RunReportRequest{
		DateRanges: []*analyticsdata.DateRange{{StartDate: day, EndDate: day}},
		Metrics:    []*analyticsdata.Metric{{Name: "sessions"}},
	}
	resp, err := svc.Properties.RunReport(propertyName(cred.Analytics.PropertyID), req).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("%w: run report: %v", errs.ErrProviderFetch, err)
	}

	if len(resp.Rows) == 0 || len(resp.Rows[0].MetricValues) == 0 {
		return 0, nil
	}
	value := resp.Rows[0].MetricValues[0].Value
	sessions, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unexpected sessions value %q", errs.ErrProviderFetch, value)
	}
	return sessions, nil
}

// ListProperties returns every property visible to the user's Google account.
func (p *Provider) ListProperties(ctx context.Context, userID string) ([]Property, error) {
	cred, err := p.creds.GetValidCredential(ctx, userID, models.ProviderGoogleAnalytics)
	if err != nil {
		return nil, err
	}

	svc, err := analyticsadmin.NewService(ctx, p.clientOptions(cred.AccessToken, p.adminURL)...)
	if err != nil {
		return nil, fmt.Errorf("%w: analytics admin client: %v", errs.ErrProviderFetch, err)
	}

	properties := []Property{}
	err = svc.AccountSummaries.List().PageSize(200).Pages(ctx, func(page *analyticsadmin.GoogleAnalyticsAdminV1betaListAccountSummariesResponse) error {
		for _, account := range page.AccountSummaries {
			for _, summary := range account.PropertySummaries {
				properties = append(properties, Property{
					ID:          strings.TrimPrefix(summary.Property, "properties/"),
					DisplayName: summary.DisplayName,
					Account:     account.DisplayName,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list account summaries: %v", errs.ErrProviderFetch, err)
	}
	return properties, nil
}

func (p *Provider) clientOptions(accessToken, endpoint string) []option.ClientOption {
	client := &http.Client{
		Timeout: p.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
			Base:   p.httpClient.Transport,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

func propertyName(id string) string {
	if strings.HasPrefix(id, "properties/") {
		return id
	}
	return "properties/" + id
}
