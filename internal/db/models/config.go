package models

import "time"

// Config stores server-side settings such as the generated cron secret
type Config struct {
	Key       string    `gorm:"primaryKey"` // Config key name
	Value     string    // Config value
	CreatedAt time.Time
	UpdatedAt time.Time
}
