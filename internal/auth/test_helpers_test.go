package auth

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/ledlocator/internal/infrastructure/database"
	"github.com/nerrad567/ledlocator/migrations"
)

// testDB returns a migrated database in t.TempDir, closed on cleanup.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "users.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db.DB
}

// seedTestUser stores an active user whose password is "test-password".
func seedTestUser(t *testing.T, db *sql.DB, username string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatal(err)
	}
	u := newUser(username, role)
	u.PasswordHash = hash
	if err := NewUserRepository(db).Create(t.Context(), u); err != nil {
		t.Fatalf("seeding %s: %v", username, err)
	}
	return u
}
