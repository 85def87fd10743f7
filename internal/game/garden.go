package game

import (
	"context"
	"fmt"
	"time"

	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
)

// GrowthResult reports what one application of growth points did.
type GrowthResult struct {
	PlantsGrown    int `json:"plantsGrown"`
	PlantsUpgraded int `json:"plantsUpgraded"`
}

// GrowthApplier distributes growth points over a user's plants.
type GrowthApplier struct {
	store Store
	now   func() time.Time
}

// NewGrowthApplier creates an applier bound to store.
func NewGrowthApplier(store Store) *GrowthApplier {
	return &GrowthApplier{store: store, now: time.Now}
}

// ApplyGrowth splits points evenly (floor division) across the user's plants
// and adds the full amount to the garden total.
//
// Plants at the terminal stage are skipped and their share is dropped, and the
// division remainder is dropped too. A garden without plants banks nothing.
// A plant advances at most one stage per call, however many thresholds its
// accumulated points cross.
func (a *GrowthApplier) ApplyGrowth(ctx context.Context, userID string, points int64) (GrowthResult, error) {
	var result GrowthResult
	if points < 0 {
		return result, ErrInvalidGrowth
	}

	garden, err := a.store.GetGarden(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return result, ErrGardenNotFound
		}
		return result, fmt.Errorf("load garden: %w", err)
	}

	plants, err := a.store.ListPlants(ctx, garden.ID)
	if err != nil {
		return result, fmt.Errorf("list plants: %w", err)
	}
	if len(plants) == 0 {
		return result, nil
	}

	perPlant := points / int64(len(plants))
	grownAt := a.now().UTC()

	for _, plant := range plants {
		if plant.GrowthStage >= models.MaxGrowthStage {
			continue
		}

		newPoints := plant.GrowthPoints + perPlant
		newStage := plant.GrowthStage
		if threshold, ok := StageThreshold(plant.GrowthStage); ok && newPoints >= threshold {
			newStage++
			result.PlantsUpgraded++
		}

		if err := a.store.UpdatePlant(ctx, plant.ID, newPoints, newStage, grownAt); err != nil {
			return result, fmt.Errorf("update plant %s: %w", plant.ID, err)
		}
		result.PlantsGrown++
	}

	if err := a.store.UpdateGarden(ctx, garden.ID, garden.Version, garden.TotalGrowthPoints+points, garden.Rank); err != nil {
		return result, fmt.Errorf("update garden: %w", err)
	}
	return result, nil
}
