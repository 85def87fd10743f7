package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/metric-garden/internal/auth/token"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/errs"
	"github.com/shopspring/decimal"
)

type staticCreds struct {
	cred *token.Credential
	err  error
}

func (s staticCreds) GetValidCredential(context.Context, string, string) (*token.Credential, error) {
	return s.cred, s.err
}

func stripeCred(accountID string) staticCreds {
	return staticCreds{cred: &token.Credential{
		UserID:      "u1",
		Provider:    models.ProviderStripe,
		AccessToken: "rk_test_key",
		Payments:    &models.PaymentsMetadata{AccountID: accountID},
	}}
}

type fakeCharge struct {
	id      string
	amount  int64
	status  string
	created int64
}

// fakeStripe serves /v1/charges honoring created[gte]/created[lte],
// starting_after and limit, the way the real API pages.
type fakeStripe struct {
	srv     *httptest.Server
	charges []fakeCharge

	mu       sync.Mutex
	requests []*http.Request
}

func newFakeStripe(t *testing.T, charges ...fakeCharge) *fakeStripe {
	t.Helper()
	fs := &fakeStripe{charges: charges}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/charges", fs.listCharges)
	mux.HandleFunc("/v1/balance", func(w http.ResponseWriter, r *http.Request) {
		fs.record(r)
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer rk_test_key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`))
			return
		}
		w.Write([]byte(`{"object":"balance","available":[],"pending":[],"livemode":false}`))
	})
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeStripe) record(r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.requests = append(fs.requests, r.Clone(context.Background()))
}

func (fs *fakeStripe) listCharges(w http.ResponseWriter, r *http.Request) {
	fs.record(r)
	q := r.URL.Query()
	gte, _ := strconv.ParseInt(q.Get("created[gte]"), 10, 64)
	lte, _ := strconv.ParseInt(q.Get("created[lte]"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit == 0 {
		limit = 10
	}
	after := q.Get("starting_after")

	var window []fakeCharge
	for _, c := range fs.charges {
		if c.created >= gte && c.created <= lte {
			window = append(window, c)
		}
	}
	if after != "" {
		for i, c := range window {
			if c.id == after {
				window = window[i+1:]
				break
			}
		}
	}
	hasMore := len(window) > limit
	if hasMore {
		window = window[:limit]
	}

	items := make([]string, 0, len(window))
	for _, c := range window {
		items = append(items, fmt.Sprintf(`{"id":%q,"object":"charge","amount":%d,"currency":"usd","status":%q,"created":%d}`,
			c.id, c.amount, c.status, c.created))
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"object":"list","url":"/v1/charges","has_more":%t,"data":[%s]}`, hasMore, strings.Join(items, ","))
}

func (fs *fakeStripe) provider(creds CredentialSource) *Provider {
	return NewProviderWithClient(creds, fs.srv.URL, 5*time.Second, fs.srv.Client())
}

var day = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

func at(hour, min, sec int) int64 {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute + time.Duration(sec)*time.Second).Unix()
}

func TestFetchDailyRevenue_SucceededChargesInsideDay(t *testing.T) {
	fs := newFakeStripe(t,
		fakeCharge{id: "ch_before", amount: 9999, status: "succeeded", created: at(0, 0, 0) - 1},
		fakeCharge{id: "ch_1", amount: 1050, status: "succeeded", created: at(0, 0, 0)},
		fakeCharge{id: "ch_2", amount: 2000, status: "failed", created: at(9, 0, 0)},
		fakeCharge{id: "ch_3", amount: 199, status: "pending", created: at(12, 0, 0)},
		fakeCharge{id: "ch_4", amount: 1, status: "succeeded", created: at(23, 59, 59)},
		fakeCharge{id: "ch_after", amount: 9999, status: "succeeded", created: at(24, 0, 0)},
	)
	p := fs.provider(stripeCred(""))

	revenue, err := p.FetchDailyRevenue(context.Background(), "u1", day.Add(15*time.Hour))
	if err != nil {
		t.Fatalf("FetchDailyRevenue: %v", err)
	}
	if !revenue.Equal(decimal.RequireFromString("10.51")) {
		t.Fatalf("expected 10.51, got %s", revenue)
	}

	payments, err := p.FetchDailyPayments(context.Background(), "u1", day)
	if err != nil {
		t.Fatalf("FetchDailyPayments: %v", err)
	}
	if payments != 2 {
		t.Fatalf("expected 2 payments, got %d", payments)
	}
}

type countingCreds struct {
	staticCreds
	calls int
}

func (c *countingCreds) GetValidCredential(ctx context.Context, userID, provider string) (*token.Credential, error) {
	c.calls++
	return c.staticCreds.GetValidCredential(ctx, userID, provider)
}

func TestFetchDailyTotals_OnePass(t *testing.T) {
	fs := newFakeStripe(t,
		fakeCharge{id: "ch_1", amount: 120000, status: "succeeded", created: at(8, 0, 0)},
		fakeCharge{id: "ch_2", amount: 550, status: "succeeded", created: at(10, 0, 0)},
		fakeCharge{id: "ch_3", amount: 700, status: "failed", created: at(11, 0, 0)},
	)
	creds := &countingCreds{staticCreds: stripeCred("")}

	totals, err := fs.provider(creds).FetchDailyTotals(context.Background(), "u1", day)
	if err != nil {
		t.Fatalf("FetchDailyTotals: %v", err)
	}
	if !totals.Revenue.Equal(decimal.RequireFromString("1205.50")) || totals.Count != 2 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if creds.calls != 1 || len(fs.requests) != 1 {
		t.Fatalf("expected one credential lookup and one list request, got %d and %d", creds.calls, len(fs.requests))
	}
}

func TestFetchDailyRevenue_FollowsPages(t *testing.T) {
	var charges []fakeCharge
	for i := 0; i < 250; i++ {
		charges = append(charges, fakeCharge{id: fmt.Sprintf("ch_%03d", i), amount: 100, status: "succeeded", created: at(1, 0, i)})
	}
	fs := newFakeStripe(t, charges...)

	revenue, err := fs.provider(stripeCred("")).FetchDailyRevenue(context.Background(), "u1", day)
	if err != nil {
		t.Fatalf("FetchDailyRevenue: %v", err)
	}
	if !revenue.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("expected 250.00 across three pages, got %s", revenue)
	}
	if len(fs.requests) != 3 {
		t.Fatalf("expected 3 page requests, got %d", len(fs.requests))
	}
	if fs.requests[0].URL.Query().Get("limit") != "100" {
		t.Fatalf("expected pages of 100, got %q", fs.requests[0].URL.Query().Get("limit"))
	}
}

func TestFetchDailyRevenue_SendsConnectedAccount(t *testing.T) {
	fs := newFakeStripe(t)
	if _, err := fs.provider(stripeCred("acct_123")).FetchDailyRevenue(context.Background(), "u1", day); err != nil {
		t.Fatalf("FetchDailyRevenue: %v", err)
	}
	if got := fs.requests[0].Header.Get("Stripe-Account"); got != "acct_123" {
		t.Fatalf("expected Stripe-Account acct_123, got %q", got)
	}
	if got := fs.requests[0].Header.Get("Authorization"); got != "Bearer rk_test_key" {
		t.Fatalf("expected the stored key as bearer, got %q", got)
	}
}

func TestFetchDailyRevenue_Errors(t *testing.T) {
	fs := newFakeStripe(t)

	authErr := staticCreds{err: token.ErrCredentialNotFound}
	if _, err := fs.provider(authErr).FetchDailyRevenue(context.Background(), "u1", day); !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("expected the credential error to pass through, got %v", err)
	}

	fs.srv.Close()
	if _, err := fs.provider(stripeCred("")).FetchDailyPayments(context.Background(), "u1", day); !errors.Is(err, errs.ErrProviderFetch) {
		t.Fatalf("expected ErrProviderFetch when Stripe is unreachable, got %v", err)
	}
}

func TestVerifyKey(t *testing.T) {
	fs := newFakeStripe(t)
	p := fs.provider(nil)

	if err := p.VerifyKey(context.Background(), "rk_test_key", "acct_9"); err != nil {
		t.Fatalf("VerifyKey: %v", err)
	}
	if got := fs.requests[0].Header.Get("Stripe-Account"); got != "acct_9" {
		t.Fatalf("expected Stripe-Account acct_9, got %q", got)
	}

	err := p.VerifyKey(context.Background(), "rk_wrong", "")
	if !errors.Is(err, ErrInvalidKey) || !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
