// Package dbtest opens isolated in-memory databases for tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pysugar/metric-garden/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns a migrated in-memory sqlite database private to the test.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.New().String() + "?mode=memory&cache=shared"
	database, err := db.Open(db.DriverSQLite, dsn, logger.Silent)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database
}
