// Package metrics defines the provider capabilities the daily sync reads from
// and the UTC day arithmetic they share.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/pysugar/metric-garden/internal/errs"
	"github.com/shopspring/decimal"
)

// ErrPropertyNotConfigured is returned when an analytics integration exists
// but no property has been selected yet.
var ErrPropertyNotConfigured = fmt.Errorf("%w: analytics property not configured", errs.ErrProviderFetch)

// SessionsFetcher reads the traffic of one UTC day.
type SessionsFetcher interface {
	FetchDailySessions(ctx context.Context, userID string, date time.Time) (int64, error)
}

// RevenueFetcher reads the succeeded-payment revenue of one UTC day, in major
// currency units.
type RevenueFetcher interface {
	FetchDailyRevenue(ctx context.Context, userID string, date time.Time) (decimal.Decimal, error)
}

// PaymentsFetcher reads the number of succeeded payments of one UTC day.
type PaymentsFetcher interface {
	FetchDailyPayments(ctx context.Context, userID string, date time.Time) (int64, error)
}

// PaymentTotals are the succeeded payments of one UTC day, read in one pass so
// revenue and count always agree.
type PaymentTotals struct {
	Revenue decimal.Decimal // major currency units
	Count   int64
}

// DailyTotalsFetcher reads revenue and payment count of one UTC day together.
type DailyTotalsFetcher interface {
	FetchDailyTotals(ctx context.Context, userID string, date time.Time) (PaymentTotals, error)
}

// DailyMetrics is what one sync reads for one user and day.
type DailyMetrics struct {
	Sessions int64           `json:"sessions"`
	Users    int64           `json:"users"`
	Revenue  decimal.Decimal `json:"revenue"`
	Payments int64           `json:"payments"`
}

// Day truncates t to midnight UTC of its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Yesterday is the UTC day before the one now falls on.
func Yesterday(now time.Time) time.Time {
	return Day(now).AddDate(0, 0, -1)
}

// DayBounds returns the first and last second of date's UTC day, inclusive.
func DayBounds(date time.Time) (start, end time.Time) {
	start = Day(date)
	end = start.Add(24*time.Hour - time.Second)
	return start, end
}

// DateString formats date as the YYYY-MM-DD of its UTC day.
func DateString(date time.Time) string {
	return Day(date).Format(time.DateOnly)
}
