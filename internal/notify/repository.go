package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists notifications.
type Repository interface {
	CreateBatch(ctx context.Context, notes []Notification) error
	ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new notification repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateBatch inserts notes in one transaction. IDs and CreatedAt are
// generated when empty and written back into the slice.
func (r *SQLiteRepository) CreateBatch(ctx context.Context, notes []Notification) error {
	if len(notes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting notification batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO notifications (id, user_id, slug, name, message, target_id, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing notification insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Truncate(time.Second)
	for i := range notes {
		n := &notes[i]
		if n.ID == "" {
			n.ID = "ntf-" + uuid.NewString()[:8]
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.UserID, n.Slug, n.Name, n.Message,
			n.TargetID, boolToInt(n.IsRead), n.CreatedAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting notification for %s: %w", n.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing notification batch: %w", err)
	}
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (r *SQLiteRepository) ListForUser(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	query := `SELECT id, user_id, slug, name, message, target_id, is_read, created_at
		FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	notes := []Notification{}
	for rows.Next() {
		var n Notification
		var isRead int
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Slug, &n.Name, &n.Message,
			&n.TargetID, &isRead, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.IsRead = isRead != 0
		n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}
	return notes, nil
}

// MarkRead flags one of userID's notifications as read. Marking an already
// read notification succeeds.
func (r *SQLiteRepository) MarkRead(ctx context.Context, userID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
