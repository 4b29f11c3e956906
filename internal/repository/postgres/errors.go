package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sakif/waste-rewards/internal/apperror"
)

// SQLSTATE codes the ledger cares about.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	classIntegrity           = "23"
)

// classify maps pgx errors onto the ledger taxonomy; see sqlite.classify.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeSerializationFailure,
			pgErr.Code == codeDeadlockDetected,
			pgErr.Code == codeLockNotAvailable:
			return apperror.ConcurrencyConflict(op, err)
		case strings.HasPrefix(pgErr.Code, classIntegrity):
			return &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: op + ": constraint violated",
				Cause:   err,
			}
		}
	}

	return apperror.Unavailable(op, err)
}
