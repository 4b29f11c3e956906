package sqlite

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/waste-rewards/internal/apperror"
)

// classify turns a driver error into the ledger's taxonomy.
//
// Errors that already carry an *apperror.AppError (NotFound from a lookup,
// InsufficientPoints from the engine) are returned as-is. Raw driver errors
// are mapped by their primary result code:
//
//	SQLITE_BUSY, SQLITE_LOCKED → ErrConcurrency  (lost the write lock race)
//	SQLITE_CONSTRAINT          → ErrConflict     (a schema invariant fired)
//	anything else              → ErrUnavailable
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		// Extended codes keep the primary code in the low byte,
		// e.g. SQLITE_BUSY_SNAPSHOT = SQLITE_BUSY | (2<<8).
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return apperror.ConcurrencyConflict(op, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: op + ": constraint violated",
				Cause:   err,
			}
		}
	}

	return apperror.Unavailable(op, err)
}
