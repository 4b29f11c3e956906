// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database — it lives inside the binary as a single file.
// No separate database server to run. The ledger's consistency story maps onto
// it cleanly because SQLite has exactly one writer at a time.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means a C toolchain and painful
// cross-compilation. modernc.org/sqlite is a pure Go translation of SQLite.
//
// HOW THE ATOMIC UNIT WORKS HERE:
// Every connection is opened with `_txlock=immediate`, so BeginTx issues
// BEGIN IMMEDIATE and takes the database write lock up front. Two units that
// would otherwise both read the same balance and then both write it are
// serialized at BEGIN: the second one waits (up to busy_timeout) and then
// reads the first one's committed result. A deferred BEGIN would instead let
// both read and fail one of them late with SQLITE_BUSY.
//
// DSN PARAMETERS vs conn.Exec("PRAGMA ..."):
// database/sql is a pool. A PRAGMA executed on the pool only reaches the one
// connection that happened to run it. `_pragma=` parameters are applied by the
// driver to every connection it opens, which is what busy_timeout and
// foreign_keys need.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/waste-rewards/internal/repository"

	// BLANK IMPORT:
	// The sqlite package's init() registers a database/sql driver named "sqlite".
	_ "modernc.org/sqlite"
)

// compile-time check that *DB implements every repository interface.
var _ repository.Store = (*DB)(nil)

// DefaultBusyTimeout bounds how long a writer waits for the lock before the
// unit fails with a retryable concurrency conflict.
const DefaultBusyTimeout = 5 * time.Second

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	path string
}

// Options tunes the connection. The zero value is usable.
type Options struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// New opens (creating if needed) the SQLite database at dbPath and runs
// migrations.
//
// dbPath examples:
//   - "data/rewards.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database, pinned to one connection
//     because every pooled connection would otherwise get its own empty DB.
func New(dbPath string, opts Options) (*DB, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}

	conn, err := sql.Open("sqlite", dsn(dbPath, opts))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}

	// Ping forces a real connection so a bad path fails here, not on the
	// first request.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, path: dbPath}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func dsn(dbPath string, opts Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	if dbPath != ":memory:" {
		// WAL lets readers keep reading while a unit holds the write lock.
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")

	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + q.Encode()
}

// Close closes the database connection pool.
//
// Wherever you call New(), immediately defer Close().
func (db *DB) Close() error {
	return db.conn.Close()
}

// RunInTx executes fn as one atomic unit.
//
// CONTRACT:
//   - fn's writes become visible all at once on commit, or not at all.
//   - An error from fn (or a cancelled ctx) rolls everything back.
//   - Driver errors come back classified: lock contention as
//     apperror.ErrConcurrency, anything else as apperror.ErrUnavailable.
//     Domain errors returned by fn pass through unchanged.
//
// fn must use only the Tx it is given. Touching db.conn from inside fn would
// need a second connection while this one holds the write lock.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("sqlite: beginning transaction", err)
	}
	// Rollback after a successful Commit is a no-op returning sql.ErrTxDone.
	defer sqlTx.Rollback()

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		return classify("sqlite: running transaction", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("sqlite: committing transaction", err)
	}
	return nil
}

// migrate creates the schema. Each statement is idempotent.
//
// CONSTRAINTS CARRY THE INVARIANTS:
//   - reward_balances.user_id is the PRIMARY KEY: one row per user.
//   - CHECK (points >= 0): a bug in the engine fails the unit instead of
//     committing a negative balance.
//   - triggers reject UPDATE and DELETE on transactions: append-only.
func (db *DB) migrate() error {
	statements := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id         TEXT PRIMARY KEY,
				email      TEXT NOT NULL UNIQUE,
				name       TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);`},
		{"reward_balances", `
			CREATE TABLE IF NOT EXISTS reward_balances (
				user_id      TEXT PRIMARY KEY REFERENCES users(id),
				points       INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
				level        INTEGER NOT NULL DEFAULT 1,
				is_available INTEGER NOT NULL DEFAULT 1,
				version      INTEGER NOT NULL DEFAULT 0,
				created_at   DATETIME NOT NULL,
				updated_at   DATETIME NOT NULL
			);`},
		{"transactions", `
			CREATE TABLE IF NOT EXISTS transactions (
				seq         INTEGER PRIMARY KEY AUTOINCREMENT,
				id          TEXT NOT NULL UNIQUE,
				user_id     TEXT NOT NULL REFERENCES users(id),
				type        TEXT NOT NULL,
				amount      INTEGER NOT NULL CHECK (amount <> 0),
				description TEXT NOT NULL DEFAULT '',
				created_at  DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_transactions_user_seq ON transactions(user_id, seq);`},
		{"transactions append-only triggers", `
			CREATE TRIGGER IF NOT EXISTS transactions_no_update
			BEFORE UPDATE ON transactions
			BEGIN
				SELECT RAISE(ABORT, 'transactions are append-only');
			END;
			CREATE TRIGGER IF NOT EXISTS transactions_no_delete
			BEFORE DELETE ON transactions
			BEGIN
				SELECT RAISE(ABORT, 'transactions are append-only');
			END;`},
		{"reward_items", `
			CREATE TABLE IF NOT EXISTS reward_items (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL,
				description  TEXT NOT NULL DEFAULT '',
				points_cost  INTEGER NOT NULL CHECK (points_cost > 0),
				is_available INTEGER NOT NULL DEFAULT 1,
				created_at   DATETIME NOT NULL,
				updated_at   DATETIME NOT NULL
			);`},
		{"reports", `
			CREATE TABLE IF NOT EXISTS reports (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL REFERENCES users(id),
				location   TEXT NOT NULL,
				waste_type TEXT NOT NULL,
				amount     TEXT NOT NULL,
				image_url  TEXT NOT NULL DEFAULT '',
				status     TEXT NOT NULL DEFAULT 'pending',
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_reports_user_id ON reports(user_id, created_at);`},
		{"notifications", `
			CREATE TABLE IF NOT EXISTS notifications (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL REFERENCES users(id),
				message    TEXT NOT NULL,
				type       TEXT NOT NULL,
				read       INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id, created_at);`},
	}

	for _, s := range statements {
		if _, err := db.conn.Exec(s.sql); err != nil {
			return fmt.Errorf("creating %s: %w", s.name, err)
		}
	}
	return nil
}

// querier is the subset of *sql.DB and *sql.Tx the query helpers need, so
// the same helper serves reads inside and outside an atomic unit.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// tx is the repository.Tx handed to RunInTx callbacks.
type tx struct {
	q querier
}

var _ repository.Tx = (*tx)(nil)
