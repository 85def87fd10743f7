package game

import (
	"context"
	"fmt"

	"github.com/pysugar/metric-garden/internal/db"
)

// RankCalculator places a garden on the public leaderboard.
type RankCalculator struct {
	store Store
}

// NewRankCalculator creates a calculator bound to store.
func NewRankCalculator(store Store) *RankCalculator {
	return &RankCalculator{store: store}
}

// RecomputeRank stores and returns 1 + the number of public gardens with
// strictly more growth points. Ties share a rank.
func (r *RankCalculator) RecomputeRank(ctx context.Context, userID string) (int, error) {
	garden, err := r.store.GetGarden(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return 0, ErrGardenNotFound
		}
		return 0, fmt.Errorf("load garden: %w", err)
	}

	higher, err := r.store.CountPublicGardensAbove(ctx, garden.TotalGrowthPoints)
	if err != nil {
		return 0, fmt.Errorf("count gardens above: %w", err)
	}

	rank := int(higher) + 1
	if err := r.store.UpdateGarden(ctx, garden.ID, garden.Version, garden.TotalGrowthPoints, &rank); err != nil {
		return 0, fmt.Errorf("update rank: %w", err)
	}
	return rank, nil
}
