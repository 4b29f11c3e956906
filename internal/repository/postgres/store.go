package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

const (
	userColumns         = `id, email, name, created_at, updated_at`
	rewardColumns       = `id, name, description, points_cost, is_available, created_at, updated_at`
	notificationColumns = `id, user_id, message, type, read, created_at`
)

func (db *DB) GetOrCreateByEmail(ctx context.Context, u *model.User) (*model.User, error) {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO NOTHING`,
		xid.New().String(), u.Email, u.Name,
	)
	if err != nil {
		return nil, classify("postgres: inserting user", fmt.Errorf("email %s: %w", u.Email, err))
	}
	return db.GetUserByEmail(ctx, u.Email)
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, classify("postgres: getting user", err)
	}
	return u, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("user", email)
	}
	if err != nil {
		return nil, classify("postgres: getting user by email", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) ListRewardItems(ctx context.Context, availableOnly bool) ([]model.RewardItem, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_items`
	if availableOnly {
		query += ` WHERE is_available`
	}
	query += ` ORDER BY points_cost ASC, id ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, classify("postgres: listing reward items", err)
	}
	defer rows.Close()

	items := make([]model.RewardItem, 0)
	for rows.Next() {
		var it model.RewardItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Description, &it.PointsCost,
			&it.IsAvailable, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, classify("postgres: scanning reward item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres: iterating reward items", err)
	}
	return items, nil
}

func (db *DB) GetRewardItem(ctx context.Context, id string) (*model.RewardItem, error) {
	it, err := getRewardItem(ctx, db.pool, id)
	if err != nil {
		return nil, classify("postgres: getting reward item", err)
	}
	return it, nil
}

func (db *DB) UpsertRewardItem(ctx context.Context, it *model.RewardItem) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO reward_items (id, name, description, points_cost, is_available)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			points_cost = EXCLUDED.points_cost,
			is_available = EXCLUDED.is_available,
			updated_at = NOW()
		 RETURNING created_at, updated_at`,
		it.ID, it.Name, it.Description, it.PointsCost, it.IsAvailable,
	).Scan(&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return classify("postgres: upserting reward item", fmt.Errorf("id %s: %w", it.ID, err))
	}
	return nil
}

func getRewardItem(ctx context.Context, q querier, id string) (*model.RewardItem, error) {
	var it model.RewardItem
	err := q.QueryRow(ctx, `SELECT `+rewardColumns+` FROM reward_items WHERE id = $1`, id).Scan(
		&it.ID, &it.Name, &it.Description, &it.PointsCost, &it.IsAvailable, &it.CreatedAt, &it.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("reward", id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: getting reward item %s: %w", id, err)
	}
	return &it, nil
}

func (db *DB) ListReportsByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Report, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := max(opts.Offset, 0)

	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, location, waste_type, amount, image_url, status, created_at
		 FROM reports
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, classify("postgres: listing reports", err)
	}
	defer rows.Close()

	reports := make([]model.Report, 0, limit)
	for rows.Next() {
		var r model.Report
		var amount, status string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Location, &r.WasteType,
			&amount, &r.ImageURL, &status, &r.CreatedAt); err != nil {
			return nil, classify("postgres: scanning report row", err)
		}
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("postgres: report %s has malformed amount %q: %w", r.ID, amount, err)
		}
		r.Status = model.ReportStatus(status)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres: iterating reports", err)
	}
	return reports, nil
}

func (db *DB) CreateNotification(ctx context.Context, n *model.Notification) error {
	n.ID = xid.New().String()
	n.Read = false
	err := db.pool.QueryRow(ctx,
		`INSERT INTO notifications (id, user_id, message, type)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		n.ID, n.UserID, n.Message, n.Type,
	).Scan(&n.CreatedAt)
	if err != nil {
		return classify("postgres: creating notification", fmt.Errorf("user %s: %w", n.UserID, err))
	}
	return nil
}

func (db *DB) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND NOT read`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, classify("postgres: listing notifications", err)
	}
	defer rows.Close()

	out := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.Read, &n.CreatedAt); err != nil {
			return nil, classify("postgres: scanning notification row", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres: iterating notifications", err)
	}
	return out, nil
}

func (db *DB) MarkNotificationRead(ctx context.Context, userID, id string) (*model.Notification, error) {
	var n model.Notification
	err := db.pool.QueryRow(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2
		 RETURNING `+notificationColumns,
		id, userID,
	).Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.Read, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("notification", id)
	}
	if err != nil {
		return nil, classify("postgres: marking notification read", err)
	}
	return &n, nil
}
