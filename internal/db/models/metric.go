package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyMetricSnapshot is one user's metrics and rewards for a single UTC day.
// (UserID, Date) is unique; rows are only ever written through an upsert.
type DailyMetricSnapshot struct {
	ID                 string          `gorm:"primaryKey" json:"id"` // UUID
	UserID             string          `gorm:"uniqueIndex:idx_metrics_user_date;not null" json:"user_id"`
	Date               time.Time       `gorm:"uniqueIndex:idx_metrics_user_date;index;not null" json:"date"` // 00:00 UTC
	Sessions           int64           `gorm:"default:0" json:"sessions"`
	Users              int64           `gorm:"default:0" json:"users"`
	Revenue            decimal.Decimal `gorm:"type:decimal(12,2);default:0" json:"revenue"`
	Payments           int64           `gorm:"default:0" json:"payments"`
	GrowthPointsEarned int64           `gorm:"default:0" json:"growth_points_earned"`
	SeedsEarned        int64           `gorm:"default:0" json:"seeds_earned"`

	// High-water marks of what this day has already added to the garden and
	// the currency account. A rerun only pays out the difference.
	GrowthPointsApplied int64 `gorm:"default:0" json:"-"`
	SeedsCredited       int64 `gorm:"default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the historical table name.
func (DailyMetricSnapshot) TableName() string { return "metrics" }
