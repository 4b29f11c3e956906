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

const userColumns = `id, email, name, created_at, updated_at`

// GetOrCreateByEmail registers a user on first login and returns the
// existing account on every later one.
//
// UPSERT, NOT SELECT-THEN-INSERT:
// INSERT ... ON CONFLICT (email) DO NOTHING lets the UNIQUE index pick the
// winner when two logins race. The SELECT afterwards returns that row, so the
// caller always sees the canonical ID (never the one it generated and lost).
func (db *DB) GetOrCreateByEmail(ctx context.Context, u *model.User) (*model.User, error) {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (email) DO NOTHING`,
		xid.New().String(),
		u.Email,
		u.Name,
		now,
		now,
	)
	if err != nil {
		return nil, classify("sqlite: inserting user", fmt.Errorf("email %s: %w", u.Email, err))
	}
	return db.GetUserByEmail(ctx, u.Email)
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, classify("sqlite: getting user", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user", email)
	}
	if err != nil {
		return nil, classify("sqlite: getting user by email", err)
	}
	return u, nil
}

// GetUser is the in-transaction lookup used to reject unknown user ids
// before any balance row is created for them.
func (t *tx) GetUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := scanUser(t.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", userID, err)
	}
	return u, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
