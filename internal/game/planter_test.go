package game

import (
	"context"
	"errors"
	"testing"

	"github.com/pysugar/metric-garden/internal/db"
	"github.com/pysugar/metric-garden/internal/db/models"
	"gorm.io/gorm"
)

func TestEnsureGarden_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	planter := NewPlanter(store)

	first, err := planter.EnsureGarden(ctx, "u1", "")
	if err != nil {
		t.Fatalf("EnsureGarden: %v", err)
	}
	if first.GridSize != DefaultGridSize || !first.IsPublic || first.Name != "My Garden" {
		t.Fatalf("unexpected new garden %+v", first)
	}

	second, err := planter.EnsureGarden(ctx, "u1", "Other")
	if err != nil {
		t.Fatalf("EnsureGarden again: %v", err)
	}
	if second.ID != first.ID || second.Name != "My Garden" {
		t.Fatalf("expected the existing garden back, got %+v", second)
	}

	if _, err := store.GetCurrency(ctx, "u1"); err != nil {
		t.Fatalf("expected currency account to exist: %v", err)
	}
}

func TestPlant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedGarden(t, store, "u1", 0, true)
	seedAccount(t, store, "u1", 2, 2)
	planter := NewPlanter(store)

	plant, remaining, err := planter.Plant(ctx, "u1", 3, 4)
	if err != nil {
		t.Fatalf("Plant: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 seed left, got %d", remaining)
	}
	if plant.GrowthStage != 0 || plant.GrowthPoints != 0 || plant.PositionX != 3 || plant.PositionY != 4 {
		t.Fatalf("unexpected plant %+v", plant)
	}

	if _, _, err := planter.Plant(ctx, "u1", 3, 4); !errors.Is(err, ErrPositionOccupied) {
		t.Fatalf("expected ErrPositionOccupied, got %v", err)
	}
}

func TestPlant_Rejects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	planter := NewPlanter(store)

	if _, _, err := planter.Plant(ctx, "ghost", 0, 0); !errors.Is(err, ErrGardenNotFound) {
		t.Fatalf("expected ErrGardenNotFound, got %v", err)
	}

	seedGarden(t, store, "u1", 0, true)
	seedAccount(t, store, "u1", 0, 0)

	for _, pos := range [][2]int{{-1, 0}, {0, 10}, {10, 10}} {
		if _, _, err := planter.Plant(ctx, "u1", pos[0], pos[1]); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("position %v: expected ErrInvalidPosition, got %v", pos, err)
		}
	}
	if _, _, err := planter.Plant(ctx, "u1", 0, 0); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

// staleStore misses plants written by a concurrent request.
type staleStore struct{ *db.Store }

func (staleStore) FindPlantAt(context.Context, string, int, int) (*models.Plant, error) {
	return nil, gorm.ErrRecordNotFound
}

func TestPlant_CellTakenConcurrently(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedGarden(t, store, "u1", 0, true, models.Plant{})
	seedAccount(t, store, "u1", 5, 5)

	err := store.WithTx(ctx, func(tx *db.Store) error {
		_, _, err := NewPlanter(staleStore{tx}).Plant(ctx, "u1", 0, 0)
		return err
	})
	if !errors.Is(err, ErrPositionOccupied) {
		t.Fatalf("expected ErrPositionOccupied, got %v", err)
	}

	account, err := store.GetCurrency(ctx, "u1")
	if err != nil {
		t.Fatalf("GetCurrency: %v", err)
	}
	if account.Seeds != 5 {
		t.Fatalf("expected the seed debit to roll back, got %d seeds", account.Seeds)
	}
}
