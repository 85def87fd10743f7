package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pysugar/metric-garden/internal/auth/token"
	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/dbtest"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/errs"
	"github.com/pysugar/metric-garden/internal/metrics"
	"github.com/shopspring/decimal"
)

var (
	testNow  = time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC)
	testDate = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
)

// fakeMetrics answers every fetcher from per-user tables. Like the real
// adapters, each fetch first resolves the user's credential when creds is set.
type fakeMetrics struct {
	creds *token.Manager
	delay time.Duration

	mu          sync.Mutex
	sessions    map[string]int64
	revenue     map[string]decimal.Decimal
	payments    map[string]int64
	sessionErr  error
	revenueErr  error
	dates       []time.Time
	inFlight    int
	maxInFlight int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		sessions: map[string]int64{},
		revenue:  map[string]decimal.Decimal{},
		payments: map[string]int64{},
	}
}

func (f *fakeMetrics) credential(ctx context.Context, userID, provider string) error {
	if f.creds == nil {
		return nil
	}
	_, err := f.creds.GetValidCredential(ctx, userID, provider)
	return err
}

func (f *fakeMetrics) FetchDailySessions(ctx context.Context, userID string, date time.Time) (int64, error) {
	if err := f.credential(ctx, userID, models.ProviderGoogleAnalytics); err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.dates = append(f.dates, date)
	if f.sessionErr != nil {
		return 0, f.sessionErr
	}
	return f.sessions[userID], nil
}

func (f *fakeMetrics) FetchDailyTotals(ctx context.Context, userID string, _ time.Time) (metrics.PaymentTotals, error) {
	if err := f.credential(ctx, userID, models.ProviderStripe); err != nil {
		return metrics.PaymentTotals{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revenueErr != nil {
		return metrics.PaymentTotals{}, f.revenueErr
	}
	return metrics.PaymentTotals{Revenue: f.revenue[userID], Count: f.payments[userID]}, nil
}

func (f *fakeMetrics) fetchers() Fetchers {
	return Fetchers{Sessions: f, Payments: f}
}

type fixture struct {
	store   *db.Store
	metrics *fakeMetrics
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewStore(dbtest.New(t))
	fm := newFakeMetrics()
	fm.creds = token.NewManager(store, nil)
	orch := New(store, fm.fetchers(), Options{Concurrency: 3, ProviderTimeout: time.Second})
	orch.now = func() time.Time { return testNow }
	return &fixture{store: store, metrics: fm, orch: orch}
}

func (f *fixture) connect(t *testing.T, userID string, providers ...string) {
	t.Helper()
	for _, provider := range providers {
		integration := &models.Integration{UserID: userID, Provider: provider, AccessToken: "key-" + userID}
		if err := f.store.UpsertIntegration(context.Background(), integration); err != nil {
			t.Fatalf("upsert integration: %v", err)
		}
	}
}

// plant gives userID a public garden with n stage-0 plants and an empty wallet.
func (f *fixture) plant(t *testing.T, userID string, n int) {
	t.Helper()
	ctx := context.Background()
	garden := &models.Garden{UserID: userID, Name: "g", GridSize: 10, IsPublic: true}
	if err := f.store.CreateGarden(ctx, garden); err != nil {
		t.Fatalf("create garden: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := f.store.CreatePlant(ctx, &models.Plant{GardenID: garden.ID, PositionX: i}); err != nil {
			t.Fatalf("create plant: %v", err)
		}
	}
	if err := f.store.CreateCurrency(ctx, &models.CurrencyAccount{UserID: userID}); err != nil {
		t.Fatalf("create currency: %v", err)
	}
}

func TestSyncUser_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "u1", models.ProviderGoogleAnalytics, models.ProviderStripe)
	f.plant(t, "u1", 3)
	f.metrics.sessions["u1"] = 300
	f.metrics.revenue["u1"] = decimal.RequireFromString("50.00")
	f.metrics.payments["u1"] = 4

	result, err := f.orch.SyncUser(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if result.GrowthPointsEarned != 800 || result.SeedsEarned != 50 || result.NewBalance != 50 {
		t.Fatalf("unexpected rewards %+v", result)
	}
	if result.Growth.PlantsGrown != 3 || result.Growth.PlantsUpgraded != 3 || result.NewRank != 1 {
		t.Fatalf("unexpected growth %+v rank %d", result.Growth, result.NewRank)
	}
	if !result.Date.Equal(testDate) {
		t.Fatalf("expected yesterday %s, got %s", testDate, result.Date)
	}

	snapshot, err := f.store.GetSnapshot(ctx, "u1", testDate)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snapshot.Sessions != 300 || !snapshot.Revenue.Equal(decimal.NewFromInt(50)) || snapshot.Payments != 4 || snapshot.Users != 300 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	garden, _ := f.store.GetGarden(ctx, "u1")
	if garden.TotalGrowthPoints != 800 {
		t.Fatalf("expected garden total 800, got %d", garden.TotalGrowthPoints)
	}
	plants, _ := f.store.ListPlants(ctx, garden.ID)
	for _, p := range plants {
		if p.GrowthPoints != 266 || p.GrowthStage != 1 {
			t.Fatalf("expected 266 points at stage 1, got %+v", p)
		}
	}
}

func TestSyncUser_ProviderFailureCountsAsZero(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "u1", models.ProviderGoogleAnalytics, models.ProviderStripe)
	f.plant(t, "u1", 1)
	f.metrics.sessionErr = fmt.Errorf("%w: analytics down", errs.ErrProviderFetch)
	f.metrics.revenue["u1"] = decimal.NewFromInt(1200)

	result, err := f.orch.SyncUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if result.Metrics.Sessions != 0 || result.GrowthPointsEarned != 12000 || result.SeedsEarned != 500 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSyncUser_OnlyConnectedProvidersAreRead(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "u1", models.ProviderStripe)
	f.plant(t, "u1", 1)
	f.metrics.sessions["u1"] = 5000
	f.metrics.revenue["u1"] = decimal.RequireFromString("1.25")

	result, err := f.orch.SyncUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if result.Metrics.Sessions != 0 || len(f.metrics.dates) != 0 {
		t.Fatalf("analytics should not be read without an integration: %+v", result.Metrics)
	}
	if !result.GrowthPoints.Equal(decimal.RequireFromString("12.5")) || result.GrowthPointsEarned != 12 {
		t.Fatalf("expected 12.5 points banked as 12, got %s / %d", result.GrowthPoints, result.GrowthPointsEarned)
	}
}

func TestSyncUser_RerunPaysOnlyTheDifference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "u1", models.ProviderGoogleAnalytics)
	f.plant(t, "u1", 1)
	f.metrics.sessions["u1"] = 300

	for i := 0; i < 2; i++ {
		if _, err := f.orch.SyncUser(ctx, "u1"); err != nil {
			t.Fatalf("SyncUser run %d: %v", i+1, err)
		}
	}
	garden, _ := f.store.GetGarden(ctx, "u1")
	account, _ := f.store.GetCurrency(ctx, "u1")
	if garden.TotalGrowthPoints != 300 || account.Seeds != 50 || account.LifetimeSeeds != 50 {
		t.Fatalf("rerun paid twice: total %d seeds %d/%d", garden.TotalGrowthPoints, account.Seeds, account.LifetimeSeeds)
	}

	// Late data for the same day tops up to the new totals.
	f.metrics.sessions["u1"] = 600
	result, err := f.orch.SyncUser(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	garden, _ = f.store.GetGarden(ctx, "u1")
	if garden.TotalGrowthPoints != 600 || result.NewBalance != 200 {
		t.Fatalf("expected total 600 and balance 200, got %d and %d", garden.TotalGrowthPoints, result.NewBalance)
	}
	if count, _ := f.store.CountSnapshots(ctx, "u1"); count != 1 {
		t.Fatalf("expected one snapshot per day, got %d", count)
	}
}

func TestSyncUser_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.SyncUser(ctx, "nobody"); !errors.Is(err, ErrNoActiveIntegrations) || !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrNoActiveIntegrations, got %v", err)
	}

	// With every connected provider's credential unusable the user fails.
	expired := time.Now().Add(-time.Hour)
	if err := f.store.UpsertIntegration(ctx, &models.Integration{
		UserID: "u2", Provider: models.ProviderGoogleAnalytics, AccessToken: "old", ExpiresAt: &expired,
	}); err != nil {
		t.Fatalf("upsert integration: %v", err)
	}
	f.plant(t, "u2", 1)
	if _, err := f.orch.SyncUser(ctx, "u2"); !errors.Is(err, token.ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if _, err := f.store.GetSnapshot(ctx, "u2", testDate); !db.IsNotFound(err) {
		t.Fatalf("expected no snapshot after an auth failure, got %v", err)
	}
}

func TestSyncUser_CredentialFailureDegradesOneProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired := time.Now().Add(-time.Hour)
	if err := f.store.UpsertIntegration(ctx, &models.Integration{
		UserID: "u1", Provider: models.ProviderGoogleAnalytics, AccessToken: "old", ExpiresAt: &expired,
	}); err != nil {
		t.Fatalf("upsert integration: %v", err)
	}
	f.connect(t, "u1", models.ProviderStripe)
	f.plant(t, "u1", 1)
	f.metrics.sessions["u1"] = 900
	f.metrics.revenue["u1"] = decimal.NewFromInt(1200)
	f.metrics.payments["u1"] = 3

	result, err := f.orch.SyncUser(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if result.Metrics.Sessions != 0 || result.Metrics.Payments != 3 {
		t.Fatalf("expected analytics to count 0 and Stripe to be read, got %+v", result.Metrics)
	}
	if result.GrowthPointsEarned != 12000 || result.SeedsEarned != 500 || result.NewBalance != 500 {
		t.Fatalf("expected 12000 points and 500 seeds, got %+v", result)
	}
	if _, err := f.store.GetSnapshot(ctx, "u1", testDate); err != nil {
		t.Fatalf("expected a snapshot, got %v", err)
	}
}

func TestSyncUser_SerializesWithBatchRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "u1", models.ProviderGoogleAnalytics)
	f.plant(t, "u1", 1)
	f.metrics.sessions["u1"] = 300
	f.metrics.delay = 20 * time.Millisecond

	var (
		wg      sync.WaitGroup
		summary *JobSummary
		runErr  error
		syncErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		summary, runErr = f.orch.RunDaily(ctx)
	}()
	go func() {
		defer wg.Done()
		_, syncErr = f.orch.SyncUser(ctx, "u1")
	}()
	wg.Wait()

	if runErr != nil || syncErr != nil {
		t.Fatalf("RunDaily: %v, SyncUser: %v", runErr, syncErr)
	}
	if summary.Failed != 0 || summary.Successful != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if f.metrics.maxInFlight != 1 {
		t.Fatalf("expected one sync of u1 at a time, saw %d in flight", f.metrics.maxInFlight)
	}

	garden, _ := f.store.GetGarden(ctx, "u1")
	account, _ := f.store.GetCurrency(ctx, "u1")
	if garden.TotalGrowthPoints != 300 || account.Seeds != 50 || account.LifetimeSeeds != 50 {
		t.Fatalf("expected one payout, got total %d seeds %d/%d", garden.TotalGrowthPoints, account.Seeds, account.LifetimeSeeds)
	}
}

func TestSyncUser_MissingGardenRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "u1", models.ProviderGoogleAnalytics)
	f.metrics.sessions["u1"] = 150

	if _, err := f.orch.SyncUser(ctx, "u1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected a not-found error, got %v", err)
	}
	if _, err := f.store.GetSnapshot(ctx, "u1", testDate); !db.IsNotFound(err) {
		t.Fatalf("expected the snapshot to roll back, got %v", err)
	}
}

func TestRunDaily_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	for _, userID := range []string{"a", "b", "c"} {
		f.connect(t, userID, models.ProviderGoogleAnalytics)
		f.metrics.sessions[userID] = 100
	}
	f.plant(t, "a", 1)
	f.plant(t, "c", 1)

	summary, err := f.orch.RunDaily(context.Background())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if !summary.Success || summary.Processed != 3 || summary.Successful != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Errors) != 1 || !strings.HasPrefix(summary.Errors[0], "User b: ") {
		t.Fatalf("unexpected errors %v", summary.Errors)
	}
	if len(summary.RunID) != 8 || !summary.Timestamp.Equal(testNow) {
		t.Fatalf("unexpected run metadata %+v", summary)
	}
}

type recorder struct{ runs []JobSummary }

func (r *recorder) RecordRun(summary JobSummary) { r.runs = append(r.runs, summary) }

func TestRunDaily_RecordsSummary(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.orch.recorder = rec
	f.connect(t, "a", models.ProviderGoogleAnalytics)
	f.plant(t, "a", 1)

	summary, err := f.orch.RunDaily(context.Background())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if len(rec.runs) != 1 || rec.runs[0].RunID != summary.RunID || rec.runs[0].Successful != 1 {
		t.Fatalf("expected the run to be recorded, got %+v", rec.runs)
	}

	if _, err := f.orch.SyncUser(context.Background(), "a"); err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	if len(rec.runs) != 1 {
		t.Fatalf("on-demand syncs are not batch runs, got %d recorded", len(rec.runs))
	}
}

func TestRunDaily_CapsErrors(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		userID := fmt.Sprintf("user-%02d", i)
		f.connect(t, userID, models.ProviderGoogleAnalytics)
		f.metrics.sessions[userID] = 100
	}

	summary, err := f.orch.RunDaily(context.Background())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if summary.Failed != 12 || len(summary.Errors) != MaxSummaryErrors {
		t.Fatalf("expected 12 failures and %d messages, got %d and %d", MaxSummaryErrors, summary.Failed, len(summary.Errors))
	}
}

func TestRunDaily_NoEligibleUsers(t *testing.T) {
	f := newFixture(t)

	summary, err := f.orch.RunDaily(context.Background())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if summary.Processed != 0 || summary.Errors == nil {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{"later today", time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)},
		{"exactly now", time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)},
		{"passed", time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)},
		{"month end", time.Date(2026, 3, 31, 5, 0, 0, 0, time.UTC), 0, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextRun(tt.now, tt.hour); !got.Equal(tt.want) {
				t.Fatalf("nextRun(%s, %d) = %s, want %s", tt.now, tt.hour, got, tt.want)
			}
		})
	}
}
