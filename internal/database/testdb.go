package database

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"reconflow/internal/config"
	"reconflow/pkg/logger"
)

// NewTestDB opens a migrated sqlite database in a temporary directory that
// is closed when the test ends.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "reconflow-test.db"),
	}
	db, err := Open(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })
	return db
}
