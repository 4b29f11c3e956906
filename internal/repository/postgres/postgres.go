// Package postgres implements the repository interfaces on PostgreSQL via
// pgx's connection pool.
//
// HOW THE ATOMIC UNIT WORKS HERE:
// Units run at READ COMMITTED. Every balance mutation first takes a row lock
// with SELECT ... FOR UPDATE, so two units for the same user queue on that
// row while units for different users never touch each other's locks. The
// check-then-decrement of a redemption therefore always sees the latest
// committed balance.
//
// lock_timeout is set per unit: a unit stuck behind a lock fails with
// 55P03 (a retryable concurrency conflict) instead of waiting forever.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/waste-rewards/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// Options tunes the pool. Zero values fall back to defaults.
type Options struct {
	MaxConns    int32
	MinConns    int32
	LockTimeout time.Duration
}

// DB owns a pgx pool.
type DB struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string, opts Options) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing DSN: %w", err)
	}

	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}

	db := &DB{pool: pool, lockTimeout: lockTimeout}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return db, nil
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// RunInTx executes fn as one atomic unit. See the sqlite package for the
// full contract; the classification rules are the same.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	pgTx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("postgres: beginning transaction", err)
	}
	// Rollback after Commit returns pgx.ErrTxClosed and does nothing.
	defer pgTx.Rollback(ctx)

	if _, err := pgTx.Exec(ctx,
		fmt.Sprintf("SET LOCAL lock_timeout = %d", db.lockTimeout.Milliseconds()),
	); err != nil {
		return classify("postgres: setting lock timeout", err)
	}

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return classify("postgres: running transaction", err)
	}

	if err := pgTx.Commit(ctx); err != nil {
		return classify("postgres: committing transaction", err)
	}
	return nil
}

// migrate applies the schema one statement at a time.
func (db *DB) migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS reward_balances (
		user_id      TEXT PRIMARY KEY REFERENCES users(id),
		points       BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
		level        INTEGER NOT NULL DEFAULT 1,
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		version      BIGINT NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		user_id     TEXT NOT NULL REFERENCES users(id),
		type        TEXT NOT NULL,
		amount      BIGINT NOT NULL CHECK (amount <> 0),
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_seq ON transactions(user_id, seq)`,
	`CREATE OR REPLACE FUNCTION transactions_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'transactions are append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS transactions_no_mutation ON transactions`,
	`CREATE TRIGGER transactions_no_mutation
		BEFORE UPDATE OR DELETE ON transactions
		FOR EACH ROW EXECUTE FUNCTION transactions_append_only()`,
	`CREATE TABLE IF NOT EXISTS reward_items (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		points_cost  BIGINT NOT NULL CHECK (points_cost > 0),
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		location   TEXT NOT NULL,
		waste_type TEXT NOT NULL,
		amount     TEXT NOT NULL,
		image_url  TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_user_id ON reports(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		message    TEXT NOT NULL,
		type       TEXT NOT NULL,
		read       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id, created_at)`,
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tx struct {
	q querier
}

var _ repository.Tx = (*tx)(nil)
