package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/game"
)

type plantView struct {
	ID           string `json:"id"`
	PositionX    int    `json:"positionX"`
	PositionY    int    `json:"positionY"`
	GrowthStage  int    `json:"growthStage"`
	GrowthPoints int64  `json:"growthPoints"`
	PlantTypeID  string `json:"plantTypeId"`
}

func newPlantView(p *models.Plant) plantView {
	return plantView{
		ID:           p.ID,
		PositionX:    p.PositionX,
		PositionY:    p.PositionY,
		GrowthStage:  p.GrowthStage,
		GrowthPoints: p.GrowthPoints,
		PlantTypeID:  p.PlantTypeID,
	}
}

// GardenStateHandler handles GET /api/garden/state.
func GardenStateHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		garden, err := store.GetGarden(r.Context(), userID)
		if err != nil {
			if db.IsNotFound(err) {
				writeErrorMessage(w, http.StatusNotFound, "Garden not found")
				return
			}
			writeError(w, err, "Failed to fetch garden state")
			return
		}
		plants, err := store.ListPlants(r.Context(), garden.ID)
		if err != nil {
			writeError(w, err, "Failed to fetch garden state")
			return
		}
		var seeds int64
		if account, err := store.GetCurrency(r.Context(), userID); err == nil {
			seeds = account.Seeds
		}

		views := make([]plantView, 0, len(plants))
		for i := range plants {
			views = append(views, newPlantView(&plants[i]))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":              garden.Name,
			"gridSize":          garden.GridSize,
			"totalGrowthPoints": garden.TotalGrowthPoints,
			"rank":              garden.Rank,
			"isPublic":          garden.IsPublic,
			"seeds":             seeds,
			"plants":            views,
		})
	}
}

// CreateGardenHandler handles POST /api/garden. Calling it again returns the
// existing garden.
func CreateGardenHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if r.ContentLength > 0 && !decodeBody(w, r, &req) {
			return
		}

		var garden *models.Garden
		err := store.WithTx(r.Context(), func(tx *db.Store) error {
			var err error
			garden, err = game.NewPlanter(tx).EnsureGarden(r.Context(), userID, req.Name)
			return err
		})
		if err != nil {
			writeError(w, err, "Failed to create garden")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"garden":  garden,
		})
	}
}

// PlantHandler handles POST /api/garden/plants: one seed buys one plant.
func PlantHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		var req struct {
			PositionX *int `json:"positionX"`
			PositionY *int `json:"positionY"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.PositionX == nil || req.PositionY == nil {
			writeErrorMessage(w, http.StatusBadRequest, "Position X and Y are required")
			return
		}

		plant, remaining, err := plantSeed(r.Context(), store, userID, *req.PositionX, *req.PositionY)
		if err != nil {
			if errors.Is(err, game.ErrInsufficientFunds) || errors.Is(err, game.ErrAccountNotFound) {
				writeErrorMessage(w, http.StatusBadRequest, "Not enough seeds")
				return
			}
			writeError(w, err, "Failed to plant seed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"plant":          newPlantView(plant),
			"remainingSeeds": remaining,
		})
	}
}

func plantSeed(ctx context.Context, store *db.Store, userID string, x, y int) (*models.Plant, int64, error) {
	var (
		plant     *models.Plant
		remaining int64
	)
	err := store.WithTx(ctx, func(tx *db.Store) error {
		var err error
		plant, remaining, err = game.NewPlanter(tx).Plant(ctx, userID, x, y)
		return err
	})
	return plant, remaining, err
}

// BalanceHandler handles GET /api/currency/balance.
func BalanceHandler(store *db.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		account, err := game.NewLedger(store).Balance(r.Context(), userID)
		if err != nil {
			if errors.Is(err, game.ErrAccountNotFound) {
				writeErrorMessage(w, http.StatusNotFound, "Currency not found")
				return
			}
			writeError(w, err, "Failed to fetch balance")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"seeds":         account.Seeds,
			"lifetimeSeeds": account.LifetimeSeeds,
		})
	}
}
