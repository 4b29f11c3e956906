package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/waste-rewards/internal/model"
	"github.com/sakif/waste-rewards/internal/repository"
)

// CreateReport inserts a report inside the submission unit, alongside the
// award it triggers. ID, Status and CreatedAt are filled in here.
func (t *tx) CreateReport(ctx context.Context, r *model.Report) error {
	r.ID = xid.New().String()
	r.Status = model.ReportPending
	r.CreatedAt = time.Now().UTC()

	_, err := t.q.ExecContext(ctx,
		`INSERT INTO reports (id, user_id, location, waste_type, amount, image_url, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.UserID,
		r.Location,
		r.WasteType,
		r.Amount.String(),
		r.ImageURL,
		string(r.Status),
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating report for user %s: %w", r.UserID, err)
	}
	return nil
}

// ListReportsByUser returns a user's reports, newest first.
func (db *DB) ListReportsByUser(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Report, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, location, waste_type, amount, image_url, status, created_at
		 FROM reports
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, classify("sqlite: listing reports", err)
	}
	defer rows.Close()

	reports := make([]model.Report, 0, limit)
	for rows.Next() {
		var r model.Report
		var status string
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.Location, &r.WasteType,
			&r.Amount, &r.ImageURL, &status, &r.CreatedAt,
		); err != nil {
			return nil, classify("sqlite: scanning report row", err)
		}
		r.Status = model.ReportStatus(status)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: iterating reports", err)
	}
	return reports, nil
}
