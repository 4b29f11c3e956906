package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
)

const notificationColumns = `id, user_id, message, type, read, created_at`

// CreateNotification records a notification. It runs on its own connection,
// never inside a ledger unit: a failure here must not undo a committed award.
func (db *DB) CreateNotification(ctx context.Context, n *model.Notification) error {
	n.ID = xid.New().String()
	n.Read = false
	n.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserID, n.Message, n.Type, n.CreatedAt,
	)
	if err != nil {
		return classify("sqlite: creating notification", fmt.Errorf("user %s: %w", n.UserID, err))
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (db *DB) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify("sqlite: listing notifications", err)
	}
	defer rows.Close()

	out := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.Read, &n.CreatedAt); err != nil {
			return nil, classify("sqlite: scanning notification row", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: iterating notifications", err)
	}
	return out, nil
}

// MarkNotificationRead flips the read flag and returns the updated record.
// Marking an already-read notification is not an error. The user_id
// predicate keeps one user from touching another's notifications.
func (db *DB) MarkNotificationRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, classify("sqlite: marking notification read", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, classify("sqlite: checking rows affected", err)
	}
	if rowsAffected == 0 {
		return nil, apperror.NotFound("notification", id)
	}

	var n model.Notification
	err = db.conn.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id,
	).Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.Read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("notification", id)
	}
	if err != nil {
		return nil, classify("sqlite: reading notification", err)
	}
	return &n, nil
}
