package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for stock location persistence.
type Repository interface {
	Create(ctx context.Context, loc *Location) error
	Get(ctx context.Context, id string) (*Location, error)
	List(ctx context.Context) ([]Location, error)
	ListWithMetadataKey(ctx context.Context, key string) ([]Location, error)
	Delete(ctx context.Context, id string) error

	// Per-location metadata. A missing location is ErrLocationNotFound;
	// a missing key is ok == false.
	GetMetadata(ctx context.Context, id, key string) (value string, ok bool, err error)
	SetMetadata(ctx context.Context, id, key, value string) error
	ClearMetadata(ctx context.Context, id, key string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed stock location repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `SELECT id, parent_id, name, path_string, description, metadata, created_at, updated_at
	FROM stock_locations`

// Create inserts a new location. The ID is generated if empty and
// PathString is derived from the parent chain.
func (r *SQLiteRepository) Create(ctx context.Context, loc *Location) error {
	loc.Name = strings.TrimSpace(loc.Name)
	if err := ValidateLocation(loc); err != nil {
		return err
	}
	if loc.ID == "" {
		loc.ID = "loc-" + uuid.NewString()[:8]
	}

	loc.PathString = loc.Name
	if loc.ParentID != "" {
		parent, err := r.Get(ctx, loc.ParentID)
		if errors.Is(err, ErrLocationNotFound) {
			return fmt.Errorf("%w: %s", ErrParentNotFound, loc.ParentID)
		}
		if err != nil {
			return err
		}
		loc.PathString = parent.PathString + pathSeparator + loc.Name
	}

	meta, err := encodeMetadata(loc.Metadata)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	const query = `INSERT INTO stock_locations (id, parent_id, name, path_string, description, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		loc.ID, nullString(loc.ParentID), loc.Name, loc.PathString, loc.Description, meta, now, now)
	if err != nil {
		return fmt.Errorf("inserting location %s: %w", loc.ID, err)
	}

	loc.CreatedAt = parseTime(now)
	loc.UpdatedAt = loc.CreatedAt
	return nil
}

// Get returns a single location by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Location, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanLocation(row)
}

// List returns all locations ordered by path.
func (r *SQLiteRepository) List(ctx context.Context) ([]Location, error) {
	return r.query(ctx, selectColumns+` ORDER BY path_string`)
}

// ListWithMetadataKey returns locations whose metadata has a non-null value
// for key, ordered by path.
func (r *SQLiteRepository) ListWithMetadataKey(ctx context.Context, key string) ([]Location, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]Location, 0, len(all))
	for _, loc := range all {
		if v, ok := loc.Metadata[key]; ok && v != nil {
			matched = append(matched, loc)
		}
	}
	return matched, nil
}

// Delete removes a location and, through the foreign key, its children.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM stock_locations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting location %s: %w", id, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	if n == 0 {
		return ErrLocationNotFound
	}
	return nil
}

// GetMetadata returns the value stored under key as a string.
// Numbers are formatted without a trailing ".0"; other non-string JSON
// values are returned as their JSON encoding.
func (r *SQLiteRepository) GetMetadata(ctx context.Context, id, key string) (string, bool, error) {
	meta, err := r.loadMetadata(ctx, r.db, id)
	if err != nil {
		return "", false, err
	}
	v, ok := meta[key]
	if !ok || v == nil {
		return "", false, nil
	}
	return metadataString(v), true, nil
}

// SetMetadata stores value under key, leaving other keys untouched.
func (r *SQLiteRepository) SetMetadata(ctx context.Context, id, key, value string) error {
	if err := validateMetadataEntry(key, value); err != nil {
		return err
	}
	return r.updateMetadata(ctx, id, func(m Metadata) { m[key] = value })
}

// ClearMetadata removes key. Removing an absent key is not an error.
func (r *SQLiteRepository) ClearMetadata(ctx context.Context, id, key string) error {
	return r.updateMetadata(ctx, id, func(m Metadata) { delete(m, key) })
}

// updateMetadata applies fn to the metadata of id inside one transaction.
func (r *SQLiteRepository) updateMetadata(ctx context.Context, id string, fn func(Metadata)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting metadata update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	meta, err := r.loadMetadata(ctx, tx, id)
	if err != nil {
		return err
	}
	fn(meta)

	encoded, err := encodeMetadata(meta)
	if err != nil {
		return err
	}

	const query = `UPDATE stock_locations SET metadata = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, encoded, id); err != nil {
		return fmt.Errorf("updating metadata for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metadata for %s: %w", id, err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) loadMetadata(ctx context.Context, q queryer, id string) (Metadata, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT metadata FROM stock_locations WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata for %s: %w", id, err)
	}
	return parseMetadata(raw), nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]Location, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying locations: %w", err)
	}
	defer rows.Close()

	locations := []Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, *loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating location rows: %w", err)
	}
	return locations, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanLocation(s scanner) (*Location, error) {
	var loc Location
	var parentID sql.NullString
	var metaJSON, createdAt, updatedAt string

	err := s.Scan(&loc.ID, &parentID, &loc.Name, &loc.PathString, &loc.Description,
		&metaJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, fmt.Errorf("scanning location: %w", err)
	}

	if parentID.Valid {
		loc.ParentID = parentID.String
	}
	loc.Metadata = parseMetadata(metaJSON)
	loc.CreatedAt = parseTime(createdAt)
	loc.UpdatedAt = parseTime(updatedAt)
	return &loc, nil
}

func encodeMetadata(m Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	return string(b), nil
}

// parseMetadata decodes the metadata column. Corrupt JSON reads as empty.
func parseMetadata(s string) Metadata {
	m := Metadata{}
	if s == "" {
		return m
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Metadata{}
	}
	return m
}

func metadataString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}
