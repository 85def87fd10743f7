package game

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
)

const (
	// PlantingCost is the seed price of one plant.
	PlantingCost = 1
	// DefaultGridSize is the side of a new garden's grid.
	DefaultGridSize = 10
	// DefaultPlantType is the only plant type for now.
	DefaultPlantType = "default"
)

// Planter creates gardens and places plants on the grid. Run it inside a
// transaction so the seed debit and the new plant commit together.
type Planter struct {
	store  Store
	ledger *Ledger
	now    func() time.Time
}

// NewPlanter creates a planter bound to store.
func NewPlanter(store Store) *Planter {
	return &Planter{store: store, ledger: NewLedger(store), now: time.Now}
}

// EnsureGarden creates the garden and currency account of a new user.
// Existing rows are returned untouched.
func (p *Planter) EnsureGarden(ctx context.Context, userID, name string) (*models.Garden, error) {
	garden, err := p.store.GetGarden(ctx, userID)
	switch {
	case err == nil:
	case db.IsNotFound(err):
		if name == "" {
			name = "My Garden"
		}
		garden = &models.Garden{
			UserID:   userID,
			Name:     name,
			GridSize: DefaultGridSize,
			IsPublic: true,
		}
		if err := p.store.CreateGarden(ctx, garden); err != nil {
			return nil, fmt.Errorf("create garden: %w", err)
		}
		log.Printf("🌱 Created garden %s for user %s", garden.ID, userID)
	default:
		return nil, fmt.Errorf("load garden: %w", err)
	}

	if _, err := p.store.GetCurrency(ctx, userID); err != nil {
		if !db.IsNotFound(err) {
			return nil, fmt.Errorf("load currency account: %w", err)
		}
		if err := p.store.CreateCurrency(ctx, &models.CurrencyAccount{UserID: userID}); err != nil {
			return nil, fmt.Errorf("create currency account: %w", err)
		}
	}
	return garden, nil
}

// Plant spends PlantingCost seeds and puts a stage-0 plant at (x, y).
func (p *Planter) Plant(ctx context.Context, userID string, x, y int) (*models.Plant, int64, error) {
	garden, err := p.store.GetGarden(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, 0, ErrGardenNotFound
		}
		return nil, 0, fmt.Errorf("load garden: %w", err)
	}

	if x < 0 || x >= garden.GridSize || y < 0 || y >= garden.GridSize {
		return nil, 0, ErrInvalidPosition
	}

	if _, err := p.store.FindPlantAt(ctx, garden.ID, x, y); err == nil {
		return nil, 0, ErrPositionOccupied
	} else if !db.IsNotFound(err) {
		return nil, 0, fmt.Errorf("check position: %w", err)
	}

	remaining, err := p.ledger.SpendSeeds(ctx, userID, PlantingCost)
	if err != nil {
		return nil, 0, err
	}

	plant := &models.Plant{
		GardenID:    garden.ID,
		PlantTypeID: DefaultPlantType,
		PositionX:   x,
		PositionY:   y,
		PlantedAt:   p.now().UTC(),
	}
	if err := p.store.CreatePlant(ctx, plant); err != nil {
		// A concurrent planting took the cell after the check above.
		if db.IsDuplicate(err) {
			return nil, 0, ErrPositionOccupied
		}
		return nil, 0, fmt.Errorf("create plant: %w", err)
	}
	return plant, remaining, nil
}
