package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/metric-garden/internal/db/models"
	"github.com/pysugar/metric-garden/internal/errs"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConcurrentUpdate is returned when an optimistic version check fails.
var ErrConcurrentUpdate = fmt.Errorf("%w: row was modified concurrently", errs.ErrConflict)

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// Store is the GORM-backed credential store and game state store.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn inside a single transaction. The Store passed to fn is bound
// to that transaction; fn must not use the outer Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// ===== Integrations =====

// GetIntegration returns the active integration for (userID, provider).
func (s *Store) GetIntegration(ctx context.Context, userID, provider string) (*models.Integration, error) {
	var integration models.Integration
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND is_active = ?", userID, provider, true).
		First(&integration).Error
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

// ListIntegrations returns the active integrations of a user.
func (s *Store) ListIntegrations(ctx context.Context, userID string) ([]models.Integration, error) {
	var integrations []models.Integration
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("provider").
		Find(&integrations).Error
	return integrations, err
}

// UpsertIntegration creates the (user, provider) integration or replaces its
// credential and metadata on re-authorization.
func (s *Store) UpsertIntegration(ctx context.Context, integration *models.Integration) error {
	if integration.ID == "" {
		integration.ID = uuid.New().String()
	}
	integration.IsActive = true
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "expires_at", "scope", "metadata", "is_active", "updated_at",
		}),
	}).Create(integration).Error
}

// UpdateIntegrationTokens persists a refreshed credential.
func (s *Store) UpdateIntegrationTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Integration{}).Where("id = ?", id).Updates(map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_at":    expiresAt,
		"updated_at":    time.Now(),
	}).Error
}

// SetIntegrationMetadata replaces the provider metadata of an active integration.
func (s *Store) SetIntegrationMetadata(ctx context.Context, userID, provider string, metadata datatypes.JSON) error {
	res := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("user_id = ? AND provider = ? AND is_active = ?", userID, provider, true).
		Updates(map[string]any{"metadata": metadata, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeactivateIntegration soft-deletes an integration.
func (s *Store) DeactivateIntegration(ctx context.Context, userID, provider string) error {
	return s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("user_id = ? AND provider = ?", userID, provider).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()}).Error
}

// ActiveProvidersByUser groups every active integration by user.
func (s *Store) ActiveProvidersByUser(ctx context.Context) (map[string]models.ProviderSet, error) {
	var rows []struct {
		UserID   string
		Provider string
	}
	err := s.db.WithContext(ctx).Model(&models.Integration{}).
		Select("user_id", "provider").
		Where("is_active = ?", true).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]models.ProviderSet)
	for _, row := range rows {
		set, ok := byUser[row.UserID]
		if !ok {
			set = make(models.ProviderSet)
			byUser[row.UserID] = set
		}
		set.Add(row.Provider)
	}
	return byUser, nil
}

// ActiveProviders returns the providers one user has active integrations for.
func (s *Store) ActiveProviders(ctx context.Context, userID string) (models.ProviderSet, error) {
	var providers []string
	err := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Pluck("provider", &providers).Error
	if err != nil {
		return nil, err
	}
	set := make(models.ProviderSet, len(providers))
	for _, p := range providers {
		set.Add(p)
	}
	return set, nil
}

// ===== Gardens & plants =====

// GetGarden returns the garden owned by userID.
func (s *Store) GetGarden(ctx context.Context, userID string) (*models.Garden, error) {
	var garden models.Garden
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&garden).Error; err != nil {
		return nil, err
	}
	return &garden, nil
}

// CreateGarden inserts a new garden.
func (s *Store) CreateGarden(ctx context.Context, garden *models.Garden) error {
	if garden.ID == "" {
		garden.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(garden).Error
}

// UpdateGarden writes the aggregate fields if the garden is still at version.
func (s *Store) UpdateGarden(ctx context.Context, id string, version int, totalPoints int64, rank *int) error {
	res := s.db.WithContext(ctx).Model(&models.Garden{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"total_growth_points": totalPoints,
			"rank":                rank,
			"version":             version + 1,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// CountPublicGardensAbove counts public gardens with strictly more points.
func (s *Store) CountPublicGardensAbove(ctx context.Context, points int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Garden{}).
		Where("is_public = ? AND total_growth_points > ?", true, points).
		Count(&count).Error
	return count, err
}

// ListPlants returns the plants of a garden in grid order.
func (s *Store) ListPlants(ctx context.Context, gardenID string) ([]models.Plant, error) {
	var plants []models.Plant
	err := s.db.WithContext(ctx).
		Where("garden_id = ?", gardenID).
		Order("position_y, position_x").
		Find(&plants).Error
	return plants, err
}

// FindPlantAt returns the plant occupying a cell.
func (s *Store) FindPlantAt(ctx context.Context, gardenID string, x, y int) (*models.Plant, error) {
	var plant models.Plant
	err := s.db.WithContext(ctx).
		Where("garden_id = ? AND position_x = ? AND position_y = ?", gardenID, x, y).
		First(&plant).Error
	if err != nil {
		return nil, err
	}
	return &plant, nil
}

// CreatePlant inserts a plant.
func (s *Store) CreatePlant(ctx context.Context, plant *models.Plant) error {
	if plant.ID == "" {
		plant.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(plant).Error
}

// UpdatePlant writes a plant's growth fields.
func (s *Store) UpdatePlant(ctx context.Context, id string, points int64, stage int, grownAt time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Plant{}).Where("id = ?", id).Updates(map[string]any{
		"growth_points": points,
		"growth_stage":  stage,
		"last_grown_at": grownAt,
	}).Error
}

// ===== Currency =====

// GetCurrency returns the currency account of userID.
func (s *Store) GetCurrency(ctx context.Context, userID string) (*models.CurrencyAccount, error) {
	var account models.CurrencyAccount
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateCurrency inserts a currency account.
func (s *Store) CreateCurrency(ctx context.Context, account *models.CurrencyAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(account).Error
}

// UpdateCurrency writes balances if the account is still at version.
func (s *Store) UpdateCurrency(ctx context.Context, id string, version int, seeds, lifetimeSeeds int64) error {
	res := s.db.WithContext(ctx).Model(&models.CurrencyAccount{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"seeds":          seeds,
			"lifetime_seeds": lifetimeSeeds,
			"version":        version + 1,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// ===== Metric snapshots =====

// UpsertSnapshot writes the snapshot for (UserID, Date). An existing row for
// the same day is overwritten field by field, never accumulated.
func (s *Store) UpsertSnapshot(ctx context.Context, snapshot *models.DailyMetricSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.New().String()
	}
	snapshot.Date = snapshot.Date.UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sessions", "users", "revenue", "payments", "growth_points_earned", "seeds_earned", "updated_at",
		}),
	}).Create(snapshot).Error
}

// GetSnapshot returns the snapshot of one user and day.
func (s *Store) GetSnapshot(ctx context.Context, userID string, date time.Time) (*models.DailyMetricSnapshot, error) {
	var snapshot models.DailyMetricSnapshot
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, date.UTC()).
		First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// MarkSnapshotApplied records how much of a day's rewards has been paid out.
func (s *Store) MarkSnapshotApplied(ctx context.Context, userID string, date time.Time, points, seeds int64) error {
	return s.db.WithContext(ctx).Model(&models.DailyMetricSnapshot{}).
		Where("user_id = ? AND date = ?", userID, date.UTC()).
		Updates(map[string]any{
			"growth_points_applied": points,
			"seeds_credited":        seeds,
		}).Error
}

// CountSnapshots returns how many snapshots a user has.
func (s *Store) CountSnapshots(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DailyMetricSnapshot{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
