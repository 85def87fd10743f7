// Package orchestrator drives the daily metrics sync: it reads yesterday's
// provider metrics for each eligible user and turns them into garden growth,
// seeds and a new leaderboard rank.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/errs"
	"github.com/pysugar/metric-garden/internal/game"
	"github.com/pysugar/metric-garden/internal/logging"
	"github.com/pysugar/metric-garden/internal/metrics"
	"github.com/pysugar/metric-garden/internal/util"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxSummaryErrors caps the failure messages a job summary carries.
	MaxSummaryErrors = 10
	// maxErrorLen caps each summary message.
	maxErrorLen = 300

	defaultConcurrency     = 4
	defaultProviderTimeout = 30 * time.Second
)

// ErrNoActiveIntegrations is returned by SyncUser for a user with nothing to sync.
var ErrNoActiveIntegrations = fmt.Errorf("%w: no active integration, connect Google Analytics or Stripe first", errs.ErrValidation)

// Fetchers are the provider adapters. Each resolves its own credential, so an
// expired or revoked token fails only that provider. A nil fetcher reads as 0.
type Fetchers struct {
	Sessions metrics.SessionsFetcher
	Payments metrics.DailyTotalsFetcher
}

// RunRecorder receives the summary of every batch run.
type RunRecorder interface {
	RecordRun(summary JobSummary)
}

// Options tunes a run.
type Options struct {
	Concurrency     int
	ProviderTimeout time.Duration
	Recorder        RunRecorder
}

// JobSummary is the outcome of a batch run.
type JobSummary struct {
	Success    bool      `json:"success"`
	RunID      string    `json:"runId"`
	Processed  int       `json:"processed"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserResult is the outcome of one user's sync.
type UserResult struct {
	UserID  string               `json:"userId"`
	Date    time.Time            `json:"date"`
	Metrics metrics.DailyMetrics `json:"metrics"`
	// GrowthPoints is the exact point value; GrowthPointsEarned is what gets banked.
	GrowthPoints       decimal.Decimal   `json:"-"`
	GrowthPointsEarned int64             `json:"growthPointsEarned"`
	SeedsEarned        int64             `json:"seedsEarned"`
	NewBalance         int64             `json:"newBalance"`
	Growth             game.GrowthResult `json:"growth"`
	NewRank            int               `json:"newRank"`
}

// Orchestrator runs the sync pipeline.
type Orchestrator struct {
	store       *db.Store
	fetchers    Fetchers
	concurrency int
	timeout     time.Duration
	recorder    RunRecorder
	locks       userLocks
	now         func() time.Time
}

// New creates an orchestrator.
func New(store *db.Store, fetchers Fetchers, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	return &Orchestrator{
		store:       store,
		fetchers:    fetchers,
		concurrency: opts.Concurrency,
		timeout:     opts.ProviderTimeout,
		recorder:    opts.Recorder,
		now:         time.Now,
	}
}

// RunDaily syncs yesterday's metrics for every user with an active
// integration. Per-user failures are counted and sampled in the summary; only
// a failure to enumerate users fails the run.
func (o *Orchestrator) RunDaily(ctx context.Context) (*JobSummary, error) {
	runID := logging.NewRunID()
	ctx = logging.WithRunID(ctx, runID)
	date := metrics.Yesterday(o.now())

	log.Printf("[%s] 🔄 Daily metrics sync started for %s", runID, metrics.DateString(date))

	eligible, err := o.store.ActiveProvidersByUser(ctx)
	if err != nil {
		log.Printf("[%s] ❌ Failed to enumerate eligible users: %v", runID, err)
		return nil, fmt.Errorf("enumerate eligible users: %w", err)
	}

	userIDs := make([]string, 0, len(eligible))
	for userID := range eligible {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	var (
		mu      sync.Mutex
		summary = &JobSummary{Success: true, RunID: runID, Errors: []string{}}
	)

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, userID := range userIDs {
		providers := eligible[userID]
		g.Go(func() error {
			result, err := o.syncUser(ctx, userID, providers, date)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if err != nil {
				summary.Failed++
				if len(summary.Errors) < MaxSummaryErrors {
					summary.Errors = append(summary.Errors, util.Truncate(fmt.Sprintf("User %s: %v", userID, err), maxErrorLen))
				}
				log.Printf("[%s] ❌ Error processing user %s: %v", runID, userID, err)
				return nil
			}
			summary.Successful++
			log.Printf("[%s] ✅ User %s: %d points, %d seeds, rank %d",
				runID, userID, result.GrowthPointsEarned, result.SeedsEarned, result.NewRank)
			return nil
		})
	}
	g.Wait()

	summary.Timestamp = o.now().UTC()
	log.Printf("[%s] 📊 Daily metrics sync completed: %d processed, %d successful, %d failed",
		runID, summary.Processed, summary.Successful, summary.Failed)
	if o.recorder != nil {
		o.recorder.RecordRun(*summary)
	}
	return summary, nil
}

// SyncUser syncs yesterday's metrics for one user on demand.
func (o *Orchestrator) SyncUser(ctx context.Context, userID string) (*UserResult, error) {
	providers, err := o.store.ActiveProviders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load active providers: %w", err)
	}
	if len(providers) == 0 {
		return nil, ErrNoActiveIntegrations
	}

	ctx = logging.EnsureRunID(ctx)
	return o.syncUser(ctx, userID, providers, metrics.Yesterday(o.now()))
}

// syncUser is the per-user unit. Everything it writes commits in one
// transaction, and the user lock keeps a batch run and an on-demand sync from
// interleaving.
func (o *Orchestrator) syncUser(ctx context.Context, userID string, providers models.ProviderSet, date time.Time) (*UserResult, error) {
	unlock := o.locks.lock(userID)
	defer unlock()

	runID := logging.RunID(ctx)

	m, err := o.fetchMetrics(ctx, runID, userID, providers, date)
	if err != nil {
		return nil, err
	}

	points := game.ComputeGrowthPoints(m.Sessions, m.Revenue)
	result := &UserResult{
		UserID:             userID,
		Date:               date,
		Metrics:            m,
		GrowthPoints:       points,
		GrowthPointsEarned: game.BankablePoints(points),
		SeedsEarned:        game.ComputeSeedsEarned(m.Sessions, m.Revenue),
	}

	err = o.store.WithTx(ctx, func(tx *db.Store) error {
		return o.apply(ctx, tx, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// apply persists the snapshot and pays out whatever part of the day's rewards
// has not been paid out by an earlier run.
func (o *Orchestrator) apply(ctx context.Context, tx *db.Store, result *UserResult) error {
	var appliedPoints, creditedSeeds int64
	prev, err := tx.GetSnapshot(ctx, result.UserID, result.Date)
	switch {
	case err == nil:
		appliedPoints, creditedSeeds = prev.GrowthPointsApplied, prev.SeedsCredited
	case !db.IsNotFound(err):
		return fmt.Errorf("load snapshot: %w", err)
	}

	snapshot := &models.DailyMetricSnapshot{
		UserID:             result.UserID,
		Date:               result.Date,
		Sessions:           result.Metrics.Sessions,
		Users:              result.Metrics.Users,
		Revenue:            result.Metrics.Revenue,
		Payments:           result.Metrics.Payments,
		GrowthPointsEarned: result.GrowthPointsEarned,
		SeedsEarned:        result.SeedsEarned,
	}
	if err := tx.UpsertSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	if delta := result.GrowthPointsEarned - appliedPoints; delta > 0 {
		growth, err := game.NewGrowthApplier(tx).ApplyGrowth(ctx, result.UserID, delta)
		if err != nil {
			return fmt.Errorf("apply growth: %w", err)
		}
		result.Growth = growth
		appliedPoints = result.GrowthPointsEarned
	}

	ledger := game.NewLedger(tx)
	if delta := result.SeedsEarned - creditedSeeds; delta > 0 {
		if _, err := ledger.AddSeeds(ctx, result.UserID, delta); err != nil {
			return fmt.Errorf("credit seeds: %w", err)
		}
		creditedSeeds = result.SeedsEarned
	}

	if err := tx.MarkSnapshotApplied(ctx, result.UserID, result.Date, appliedPoints, creditedSeeds); err != nil {
		return fmt.Errorf("mark snapshot applied: %w", err)
	}

	rank, err := game.NewRankCalculator(tx).RecomputeRank(ctx, result.UserID)
	if err != nil {
		return fmt.Errorf("recompute rank: %w", err)
	}
	result.NewRank = rank

	account, err := ledger.Balance(ctx, result.UserID)
	switch {
	case err == nil:
		result.NewBalance = account.Seeds
	case errors.Is(err, game.ErrAccountNotFound):
	default:
		return fmt.Errorf("read balance: %w", err)
	}
	return nil
}

// fetchMetrics reads every connected provider under its own deadline. A
// failed or timed out provider contributes 0, credential failures included.
// The user fails only when no connected provider had a usable credential.
func (o *Orchestrator) fetchMetrics(ctx context.Context, runID, userID string, providers models.ProviderSet, date time.Time) (metrics.DailyMetrics, error) {
	m := metrics.DailyMetrics{Revenue: decimal.Zero}
	var (
		attempted int
		authErrs  []error
	)
	failed := func(provider string, err error) {
		log.Printf("[%s] ⚠️ %s fetch failed for user %s, counting 0: %v", runID, provider, userID, err)
		if errors.Is(err, errs.ErrAuth) {
			authErrs = append(authErrs, fmt.Errorf("%s: %w", provider, err))
		}
	}

	if providers.Has(models.ProviderGoogleAnalytics) && o.fetchers.Sessions != nil {
		attempted++
		err := o.withTimeout(ctx, func(ctx context.Context) (err error) {
			m.Sessions, err = o.fetchers.Sessions.FetchDailySessions(ctx, userID, date)
			return err
		})
		if err != nil {
			failed(models.ProviderGoogleAnalytics, err)
			m.Sessions = 0
		}
		// Sessions stand in for users until the report asks for both.
		m.Users = m.Sessions
	}

	if providers.Has(models.ProviderStripe) && o.fetchers.Payments != nil {
		attempted++
		var totals metrics.PaymentTotals
		err := o.withTimeout(ctx, func(ctx context.Context) (err error) {
			totals, err = o.fetchers.Payments.FetchDailyTotals(ctx, userID, date)
			return err
		})
		if err != nil {
			failed(models.ProviderStripe, err)
		} else {
			m.Revenue, m.Payments = totals.Revenue, totals.Count
		}
	}

	if attempted > 0 && len(authErrs) == attempted {
		return m, fmt.Errorf("no usable provider credential: %w", errors.Join(authErrs...))
	}
	return m, nil
}

func (o *Orchestrator) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return fn(ctx)
}

// userLocks hands out one mutex per user.
type userLocks struct {
	m sync.Map
}

func (l *userLocks) lock(userID string) func() {
	v, _ := l.m.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
