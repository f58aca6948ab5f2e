package testutil

import (
	"testing"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/database"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/env"
)

var ownedTables = []string{"billing_webhook_events", "billing_plan_mappings", "membership_records", "membership_types", "users"}

// NewMySQL connects to TEST_DB_DSN, migrates the schema and empties the
// service tables before and after the test. Tests skip when no DSN is set or
// the server is unreachable. Never point TEST_DB_DSN at a real database.
func NewMySQL(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := env.GetEnv("TEST_DB_DSN", "")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set; skipping MySQL-backed test")
	}
	db, err := database.Open(dsn)
	if err != nil {
		t.Skipf("MySQL not reachable: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil || sqlDB.Ping() != nil {
		t.Skip("MySQL not reachable")
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	truncate := func() {
		for _, table := range ownedTables {
			if err := db.Exec("DELETE FROM " + table).Error; err != nil {
				t.Fatalf("clean %s: %v", table, err)
			}
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		_ = sqlDB.Close()
	})
	return db
}
