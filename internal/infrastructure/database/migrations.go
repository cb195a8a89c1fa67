package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"time"
)

// migrationFile matches YYYYMMDD_HHMMSS_name.up.sql and .down.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_(\w+)\.(up|down)\.sql$`)

// ErrNoDownMigration is returned by MigrateDown when the latest applied
// migration cannot be reversed.
var ErrNoDownMigration = errors.New("migration has no down script")

// Migration is one versioned schema change.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	Up      string
	Down    string
}

// AppliedMigration is a row of schema_migrations. Name is empty when the
// migration is no longer in the set.
type AppliedMigration struct {
	Version   string
	Name      string
	AppliedAt time.Time
}

// MigrationStatus compares the database with a migration set.
type MigrationStatus struct {
	Applied []AppliedMigration
	Pending []Migration
}

// Migrate applies the pending migrations in fsys, oldest first, each in its
// own transaction. After a failure the earlier ones stay applied and a
// rerun resumes at the failed one.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	st, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}
	for _, m := range st.Pending {
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied migration. It does nothing
// on an unmigrated database.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	st, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}
	if len(st.Applied) == 0 {
		return nil
	}
	latest := st.Applied[len(st.Applied)-1].Version

	all, err := loadMigrations(fsys)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == latest })
	switch {
	case i < 0:
		return fmt.Errorf("applied migration %s is not in the migration set", latest)
	case all[i].Down == "":
		return fmt.Errorf("%w: %s_%s", ErrNoDownMigration, latest, all[i].Name)
	}

	m := all[i]
	err = db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return fmt.Errorf("reverting %s_%s: %w", m.Version, m.Name, err)
	}
	return nil
}

// MigrationStatus reports what has been applied and what in fsys is still
// pending. It creates the bookkeeping table if needed.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) (MigrationStatus, error) {
	var st MigrationStatus

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return st, fmt.Errorf("creating schema_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return st, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	done := map[string]bool{}
	for rows.Next() {
		var (
			a  AppliedMigration
			at string
		)
		if err := rows.Scan(&a.Version, &at); err != nil {
			return st, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		st.Applied = append(st.Applied, a)
		done[a.Version] = true
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("reading schema_migrations: %w", err)
	}

	all, err := loadMigrations(fsys)
	if err != nil {
		return st, err
	}
	names := make(map[string]string, len(all))
	for _, m := range all {
		names[m.Version] = m.Name
		if !done[m.Version] {
			st.Pending = append(st.Pending, m)
		}
	}
	for i := range st.Applied {
		st.Applied[i].Name = names[st.Applied[i].Version]
	}
	return st, nil
}

// loadMigrations reads the migration files at the root of fsys, sorted by
// version. Other files are ignored; a nil fsys holds no migrations.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := map[string]*Migration{}
	for _, e := range entries {
		version, name, up, ok := parseMigrationFilename(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			continue // a lone down script has nothing to apply
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFilename splits a migration file name into its parts.
func parseMigrationFilename(filename string) (version, name string, up, ok bool) {
	m := migrationFile.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false, false
	}
	return m[1], m[2], m[3] == "up", true
}
