package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/waste-rewards/internal/apperror"
	"github.com/sakif/waste-rewards/internal/model"
)

const rewardColumns = `id, name, description, points_cost, is_available, created_at, updated_at`

// ListRewardItems returns the catalog ordered by cost, cheapest first.
func (db *DB) ListRewardItems(ctx context.Context, availableOnly bool) ([]model.RewardItem, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_items`
	if availableOnly {
		query += ` WHERE is_available = 1`
	}
	query += ` ORDER BY points_cost ASC, id ASC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("sqlite: listing reward items", err)
	}
	defer rows.Close()

	items := make([]model.RewardItem, 0)
	for rows.Next() {
		var it model.RewardItem
		if err := rows.Scan(
			&it.ID, &it.Name, &it.Description, &it.PointsCost,
			&it.IsAvailable, &it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, classify("sqlite: scanning reward item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: iterating reward items", err)
	}
	return items, nil
}

// GetRewardItem retrieves one catalog entry outside a transaction.
func (db *DB) GetRewardItem(ctx context.Context, id string) (*model.RewardItem, error) {
	it, err := getRewardItem(ctx, db.conn, id)
	if err != nil {
		return nil, classify("sqlite: getting reward item", err)
	}
	return it, nil
}

// GetRewardItem reads the catalog entry inside the redemption unit, so the
// availability and cost checked are the ones in force at commit.
func (t *tx) GetRewardItem(ctx context.Context, id string) (*model.RewardItem, error) {
	return getRewardItem(ctx, t.q, id)
}

// UpsertRewardItem inserts or refreshes a catalog entry, keeping created_at.
func (db *DB) UpsertRewardItem(ctx context.Context, it *model.RewardItem) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO reward_items (`+rewardColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			points_cost = excluded.points_cost,
			is_available = excluded.is_available,
			updated_at = excluded.updated_at`,
		it.ID, it.Name, it.Description, it.PointsCost, it.IsAvailable, now, now,
	)
	if err != nil {
		return classify("sqlite: upserting reward item", fmt.Errorf("id %s: %w", it.ID, err))
	}
	it.UpdatedAt = now
	return nil
}

func getRewardItem(ctx context.Context, q querier, id string) (*model.RewardItem, error) {
	var it model.RewardItem
	err := q.QueryRowContext(ctx,
		`SELECT `+rewardColumns+` FROM reward_items WHERE id = ?`, id,
	).Scan(
		&it.ID, &it.Name, &it.Description, &it.PointsCost,
		&it.IsAvailable, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("reward", id)
		}
		return nil, fmt.Errorf("sqlite: getting reward item %s: %w", id, err)
	}
	return &it, nil
}
