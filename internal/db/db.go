package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/metric-garden/internal/db/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const cronSecretKey = "cron_secret"

// InitDB opens the database, runs migrations and makes sure a cron secret exists.
func InitDB(driver, dsn string, level logger.LogLevel) (*gorm.DB, error) {
	db, err := Open(driver, dsn, level)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	// Ensure cron secret exists (generate on first run)
	ensureCronSecret(db)

	return db, nil
}

// Open connects to sqlite or postgres. An empty driver is inferred from the DSN.
func Open(driver, dsn string, level logger.LogLevel) (*gorm.DB, error) {
	if driver == "" {
		driver = DetectDriver(dsn)
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	// TranslateError turns unique violations into gorm.ErrDuplicatedKey on both drivers.
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer at a time; transactions queue instead of failing with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// DetectDriver picks postgres for postgres URLs and key/value DSNs, sqlite otherwise.
func DetectDriver(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// ParseLogLevel maps a config level name to the GORM logger level. Unknown
// names fall back to warn.
func ParseLogLevel(name string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Migrate auto-migrates all models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Integration{},
		&models.Garden{},
		&models.Plant{},
		&models.CurrencyAccount{},
		&models.DailyMetricSnapshot{},
		&models.Config{},
	)
}

// ensureCronSecret generates the cron bearer secret if not exists
func ensureCronSecret(db *gorm.DB) {
	var config models.Config
	result := db.Where("key = ?", cronSecretKey).First(&config)

	if result.Error != nil {
		secret := newCronSecret()
		db.Create(&models.Config{
			Key:   cronSecretKey,
			Value: secret,
		})
		log.Printf("🔑 Generated new cron secret: %s", maskSecret(secret))
	}
}

// GetCronSecret retrieves the generated cron secret from database
func GetCronSecret(db *gorm.DB) string {
	var config models.Config
	db.Where("key = ?", cronSecretKey).First(&config)
	return config.Value
}

// RegenerateCronSecret replaces the stored cron secret
func RegenerateCronSecret(db *gorm.DB) string {
	secret := newCronSecret()
	db.Model(&models.Config{}).Where("key = ?", cronSecretKey).Update("value", secret)
	log.Printf("🔑 Regenerated cron secret: %s", maskSecret(secret))
	return secret
}

func newCronSecret() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "cron-" + hex.EncodeToString(keyBytes)
}

func maskSecret(secret string) string {
	if len(secret) <= 12 {
		return "***"
	}
	return secret[:9] + "..." + secret[len(secret)-4:]
}
