package db

import (
	"path/filepath"
	"testing"

	"github.com/storm-saas/storm/internal/models"
)

func TestMigrate_CreatesSchema(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "storm-test.db")
	conn, err := Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, table := range []string{
		"users", "subscriptions", "projects", "api_keys",
		"usage_records", "notifications", "webhook_events",
	} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}
}

func TestMigrate_SubscriptionUserUnique(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "storm-test.db")
	conn, err := Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	user := models.User{Email: "a@b.c", Username: "a", Password: "x"}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	first := models.Subscription{UserID: user.ID}
	if errCreate := conn.Create(&first).Error; errCreate != nil {
		t.Fatalf("create subscription: %v", errCreate)
	}
	dup := models.Subscription{UserID: user.ID}
	if errDup := conn.Create(&dup).Error; errDup == nil {
		t.Fatalf("expected unique constraint violation for duplicate subscription")
	}
}
