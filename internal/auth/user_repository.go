package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserRepository stores user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	ListByRoles(ctx context.Context, roles ...Role) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Timestamps are stored as second-precision UTC text so they sort and
// compare as strings.
const tsLayout = time.RFC3339

const selectUser = `SELECT id, username, display_name, email, password_hash, role,
	is_active, created_by, created_at, updated_at FROM users`

// SQLiteUserRepository is the UserRepository backed by the users table.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository returns a repository over db.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts user, filling in ID and timestamps.
// A taken username is ErrUsernameExists.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = "usr-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC().Truncate(time.Second)
	user.CreatedAt, user.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `INSERT INTO users
		(id, username, display_name, email, password_hash, role, is_active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.DisplayName, optional(user.Email), user.PasswordHash,
		string(user.Role), user.IsActive, optional(user.CreatedBy),
		now.Format(tsLayout), now.Format(tsLayout),
	)
	switch {
	case isConstraint(err, sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey):
		return ErrUsernameExists
	case err != nil:
		return fmt.Errorf("inserting user %s: %w", user.Username, err)
	}
	return nil
}

// GetByID returns the user with id, or ErrUserNotFound.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return scanOneUser(r.db.QueryRowContext(ctx, selectUser+" WHERE id = ?", id))
}

// GetByUsername returns the user called username, or ErrUserNotFound.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanOneUser(r.db.QueryRowContext(ctx, selectUser+" WHERE username = ?", username))
}

// List returns every account, oldest first.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	return r.list(ctx, selectUser+" ORDER BY created_at, username")
}

// ListByRoles returns the active accounts holding any of roles, oldest first.
// No roles selects nobody.
func (r *SQLiteUserRepository) ListByRoles(ctx context.Context, roles ...Role) ([]User, error) {
	if len(roles) == 0 {
		return []User{}, nil
	}
	marks := make([]string, len(roles))
	args := make([]any, len(roles))
	for i, role := range roles {
		marks[i] = "?"
		args[i] = string(role)
	}
	q := selectUser + " WHERE is_active = 1 AND role IN (" + strings.Join(marks, ", ") + ") ORDER BY created_at, username"
	return r.list(ctx, q, args...)
}

// Update writes display name, email, role and active flag.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	return r.execOne(ctx, "updating user "+user.ID,
		`UPDATE users SET display_name = ?, email = ?, role = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		user.DisplayName, optional(user.Email), string(user.Role), user.IsActive,
		user.UpdatedAt.Format(tsLayout), user.ID,
	)
}

// UpdatePassword replaces the stored hash for id.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.execOne(ctx, "updating password for "+id,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC().Format(tsLayout), id,
	)
}

// Delete removes the account with id.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "deleting user "+id, `DELETE FROM users WHERE id = ?`, id)
}

// Count returns the number of accounts, active or not.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// execOne runs a statement that must touch exactly one user row.
func (r *SQLiteUserRepository) execOne(ctx context.Context, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite always reports it
		return ErrUserNotFound
	}
	return nil
}

func (r *SQLiteUserRepository) list(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func scanOneUser(row *sql.Row) (*User, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u                    User
		email, createdBy     sql.NullString
		role                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &email, &u.PasswordHash,
		&role, &u.IsActive, &createdBy, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = Role(role)
	u.Email = email.String
	u.CreatedBy = createdBy.String
	u.CreatedAt, _ = time.Parse(tsLayout, createdAt) //nolint:errcheck // written by us
	u.UpdatedAt, _ = time.Parse(tsLayout, updatedAt) //nolint:errcheck // written by us
	return &u, nil
}

// optional maps "" to SQL NULL.
func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isConstraint reports whether err is a SQLite constraint failure of one of
// the given extended kinds.
func isConstraint(err error, kinds ...sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return false
	}
	for _, k := range kinds {
		if se.ExtendedCode == k {
			return true
		}
	}
	return false
}
