package models

import "time"

// MaxGrowthStage is the terminal plant stage.
const MaxGrowthStage = 4

// Garden is the single garden owned by a user.
type Garden struct {
	ID                string     `gorm:"primaryKey" json:"id"` // UUID
	UserID            string     `gorm:"uniqueIndex;not null" json:"user_id"`
	Name              string     `gorm:"not null" json:"name"`
	GridSize          int        `gorm:"default:10;not null" json:"grid_size"`
	IsPublic          bool       `gorm:"not null;index" json:"is_public"`
	TotalGrowthPoints int64      `gorm:"default:0;not null" json:"total_growth_points"`
	Rank              *int       `gorm:"index" json:"rank,omitempty"`
	Version           int        `gorm:"default:0;not null" json:"-"` // optimistic lock
	LastCheckIn       *time.Time `json:"last_check_in,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Plant occupies one grid cell of a garden.
type Plant struct {
	ID           string     `gorm:"primaryKey" json:"id"` // UUID
	GardenID     string     `gorm:"uniqueIndex:idx_plants_position;index;not null" json:"garden_id"`
	PlantTypeID  string     `gorm:"not null;default:'default'" json:"plant_type_id"`
	PositionX    int        `gorm:"uniqueIndex:idx_plants_position;not null" json:"position_x"`
	PositionY    int        `gorm:"uniqueIndex:idx_plants_position;not null" json:"position_y"`
	GrowthStage  int        `gorm:"default:0;not null" json:"growth_stage"`
	GrowthPoints int64      `gorm:"default:0;not null" json:"growth_points"`
	PlantedAt    time.Time  `json:"planted_at"`
	LastGrownAt  *time.Time `json:"last_grown_at,omitempty"`
}

// CurrencyAccount holds a user's seed balance.
type CurrencyAccount struct {
	ID            string    `gorm:"primaryKey" json:"id"` // UUID
	UserID        string    `gorm:"uniqueIndex;not null" json:"user_id"`
	Seeds         int64     `gorm:"default:0;not null" json:"seeds"`
	LifetimeSeeds int64     `gorm:"default:0;not null" json:"lifetime_seeds"`
	Version       int       `gorm:"default:0;not null" json:"-"` // optimistic lock
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName keeps the historical singular table name.
func (CurrencyAccount) TableName() string { return "currency" }
