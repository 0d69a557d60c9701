package repository

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	appdb "github.com/habitloop/notifier/internal/db"
	"github.com/habitloop/notifier/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	for _, m := range appdb.Migrations {
		if _, err := db.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	return db
}

func timePtr(t time.Time) *time.Time { return &t }

// seedRecipient inserts a recipient with the given attributes.
func seedRecipient(t *testing.T, repo *RecipientRepository, email string, premium bool, streak int, lastActive, lastRelapse *time.Time) *models.Recipient {
	t.Helper()

	rec := &models.Recipient{
		Email:         email,
		DeviceToken:   "tok-" + email,
		Premium:       premium,
		StreakDays:    streak,
		LastActiveAt:  lastActive,
		LastRelapseAt: lastRelapse,
	}
	if err := repo.Create(rec); err != nil {
		t.Fatalf("failed to seed recipient %s: %v", email, err)
	}
	return rec
}
