// Package game turns daily metrics into garden progress: growth points,
// seed rewards, plant stages and leaderboard rank.
package game

import (
	"github.com/shopspring/decimal"
)

// Points needed to leave each stage. Stage 4 is terminal.
var growthThresholds = map[int]int64{
	0: 100, // seed -> sprout
	1: 200, // sprout -> young
	2: 400, // young -> mature
	3: 800, // mature -> full grown
}

var (
	sessionWeight = decimal.NewFromInt(1)
	revenueWeight = decimal.NewFromInt(10)
)

type milestone struct {
	min   decimal.Decimal
	seeds int64
}

// Highest tier first; only the first match per dimension pays out.
var (
	sessionMilestones = []milestone{
		{min: decimal.NewFromInt(1000), seeds: 500},
		{min: decimal.NewFromInt(500), seeds: 200},
		{min: decimal.NewFromInt(100), seeds: 50},
	}
	revenueMilestones = []milestone{
		{min: decimal.NewFromInt(10000), seeds: 5000},
		{min: decimal.NewFromInt(5000), seeds: 2000},
		{min: decimal.NewFromInt(1000), seeds: 500},
	}
)

// ComputeGrowthPoints returns sessions*1 + revenue*10 without rounding.
func ComputeGrowthPoints(sessions int64, revenue decimal.Decimal) decimal.Decimal {
	sessionPoints := decimal.NewFromInt(sessions).Mul(sessionWeight)
	revenuePoints := revenue.Mul(revenueWeight)
	return sessionPoints.Add(revenuePoints)
}

// BankablePoints floors growth points to the whole points plants and gardens store.
func BankablePoints(points decimal.Decimal) int64 {
	if points.IsNegative() {
		return 0
	}
	return points.Floor().IntPart()
}

// ComputeSeedsEarned pays the highest session milestone reached plus the
// highest revenue milestone reached.
func ComputeSeedsEarned(sessions int64, revenue decimal.Decimal) int64 {
	return highestMilestone(sessionMilestones, decimal.NewFromInt(sessions)) +
		highestMilestone(revenueMilestones, revenue)
}

func highestMilestone(tiers []milestone, value decimal.Decimal) int64 {
	for _, tier := range tiers {
		if value.GreaterThanOrEqual(tier.min) {
			return tier.seeds
		}
	}
	return 0
}

// StageThreshold returns the points needed to advance out of stage.
// ok is false for the terminal stage.
func StageThreshold(stage int) (threshold int64, ok bool) {
	threshold, ok = growthThresholds[stage]
	return threshold, ok
}
