// Package database opens the locator's SQLite file and versions its schema.
//
// Open enforces foreign keys and, with WALMode, lets readers run alongside
// the single writer. Migrate applies YYYYMMDD_HHMMSS_name.up.sql files from
// an fs.FS (normally migrations.FS); every up script should have a matching
// down script so MigrateDown can revert it.
package database
