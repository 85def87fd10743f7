// Package payments reads daily revenue from Stripe charges.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/metric-garden/internal/auth/token"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/errs"
	"github.com/pysugar/metric-garden/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const (
	defaultTimeout = 30 * time.Second
	pageSize       = 100
)

var (
	_ metrics.DailyTotalsFetcher = (*Provider)(nil)
	_ metrics.RevenueFetcher     = (*Provider)(nil)
	_ metrics.PaymentsFetcher    = (*Provider)(nil)
)

// ErrInvalidKey is returned by VerifyKey when Stripe rejects the key.
var ErrInvalidKey = fmt.Errorf("%w: invalid Stripe key", errs.ErrValidation)

// CredentialSource resolves a user's credential. *token.Manager implements it.
type CredentialSource interface {
	GetValidCredential(ctx context.Context, userID, provider string) (*token.Credential, error)
}

// Provider implements metrics.DailyTotalsFetcher, metrics.RevenueFetcher and
// metrics.PaymentsFetcher for Stripe.
type Provider struct {
	creds      CredentialSource
	apiBase    string
	httpClient *http.Client
}

// NewProvider creates a provider against api.stripe.com.
func NewProvider(creds CredentialSource, timeout time.Duration) *Provider {
	return NewProviderWithClient(creds, "", timeout, nil)
}

// NewProviderWithClient creates a provider with an API base override and HTTP
// client. An empty apiBase keeps the library default.
func NewProviderWithClient(creds CredentialSource, apiBase string, timeout time.Duration, httpClient *http.Client) *Provider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Provider{
		creds:      creds,
		apiBase:    strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		httpClient: httpClient,
	}
}

// FetchDailyTotals sums the succeeded charges created on date's UTC day. One
// credential lookup and one walk of the charge list serve both figures.
func (p *Provider) FetchDailyTotals(ctx context.Context, userID string, date time.Time) (metrics.PaymentTotals, error) {
	totals, err := p.dailyTotals(ctx, userID, date)
	if err != nil {
		return metrics.PaymentTotals{Revenue: decimal.Zero}, err
	}
	return metrics.PaymentTotals{Revenue: decimal.New(totals.cents, -2), Count: totals.count}, nil
}

// FetchDailyRevenue returns the day's succeeded-charge total in major currency
// units.
func (p *Provider) FetchDailyRevenue(ctx context.Context, userID string, date time.Time) (decimal.Decimal, error) {
	totals, err := p.FetchDailyTotals(ctx, userID, date)
	return totals.Revenue, err
}

// FetchDailyPayments counts the day's succeeded charges.
func (p *Provider) FetchDailyPayments(ctx context.Context, userID string, date time.Time) (int64, error) {
	totals, err := p.FetchDailyTotals(ctx, userID, date)
	return totals.Count, err
}

// VerifyKey checks that key can read the balance of accountID (or of the key's
// own account when accountID is empty).
func (p *Provider) VerifyKey(ctx context.Context, key, accountID string) error {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}

	if _, err := p.client(key).Balance.Get(params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && (stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %s", ErrInvalidKey, stripeErr.Msg)
		}
		return fmt.Errorf("%w: verify key: %v", errs.ErrProviderFetch, err)
	}
	return nil
}

type chargeTotals struct {
	cents int64
	count int64
}

func (p *Provider) dailyTotals(ctx context.Context, userID string, date time.Time) (chargeTotals, error) {
	var totals chargeTotals

	cred, err := p.creds.GetValidCredential(ctx, userID, models.ProviderStripe)
	if err != nil {
		return totals, err
	}

	start, end := metrics.DayBounds(date)
	params := &stripe.ChargeListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: start.Unix(),
			LesserThanOrEqual:  end.Unix(),
		},
	}
	params.Context = ctx
	params.Limit = stripe.Int64(pageSize)
	if cred.Payments != nil && cred.Payments.AccountID != "" {
		params.SetStripeAccount(cred.Payments.AccountID)
	}

	// The iterator follows has_more, so days with more than one page of
	// charges are summed in full.
	iter := p.client(cred.AccessToken).Charges.List(params)
	for iter.Next() {
		charge := iter.Charge()
		if charge.Status != stripe.ChargeStatusSucceeded {
			continue
		}
		totals.cents += charge.Amount
		totals.count++
	}
	if err := iter.Err(); err != nil {
		return chargeTotals{}, fmt.Errorf("%w: list charges: %v", errs.ErrProviderFetch, err)
	}
	return totals, nil
}

func (p *Provider) client(key string) *client.API {
	config := &stripe.BackendConfig{
		HTTPClient:        p.httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if p.apiBase != "" {
		config.URL = stripe.String(p.apiBase)
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, config)
	return client.New(key, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
}
