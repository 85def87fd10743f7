package game

import (
	"context"
	"fmt"
	"time"

	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/errs"
)

// Store is the game state the engine reads and writes. *db.Store implements it.
type Store interface {
	GetGarden(ctx context.Context, userID string) (*models.Garden, error)
	CreateGarden(ctx context.Context, garden *models.Garden) error
	UpdateGarden(ctx context.Context, id string, version int, totalPoints int64, rank *int) error
	CountPublicGardensAbove(ctx context.Context, points int64) (int64, error)

	ListPlants(ctx context.Context, gardenID string) ([]models.Plant, error)
	FindPlantAt(ctx context.Context, gardenID string, x, y int) (*models.Plant, error)
	CreatePlant(ctx context.Context, plant *models.Plant) error
	UpdatePlant(ctx context.Context, id string, points int64, stage int, grownAt time.Time) error

	GetCurrency(ctx context.Context, userID string) (*models.CurrencyAccount, error)
	CreateCurrency(ctx context.Context, account *models.CurrencyAccount) error
	UpdateCurrency(ctx context.Context, id string, version int, seeds, lifetimeSeeds int64) error
}

var (
	ErrGardenNotFound    = fmt.Errorf("%w: garden not found", errs.ErrNotFound)
	ErrAccountNotFound   = fmt.Errorf("%w: currency account not found", errs.ErrNotFound)
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", errs.ErrValidation)
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient seeds", errs.ErrValidation)
	ErrInvalidGrowth     = fmt.Errorf("%w: growth points must not be negative", errs.ErrValidation)
	ErrInvalidPosition   = fmt.Errorf("%w: position outside garden grid", errs.ErrValidation)
	ErrPositionOccupied  = fmt.Errorf("%w: position already occupied", errs.ErrValidation)
)
