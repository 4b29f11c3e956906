// Package apperror defines the error taxonomy shared by the ledger layers.
//
// Every error that crosses a layer boundary is either an *AppError wrapping
// one of the sentinels below, or a plain wrapped error that handlers treat as
// an internal failure. Callers branch with errors.Is:
//
//	if errors.Is(err, apperror.ErrInsufficientPoints) { ... }
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrConcurrency        = errors.New("concurrency conflict")
	ErrUnavailable        = errors.New("store unavailable")
)

type AppError struct {
	Err     error  // sentinel from the list above
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying driver or library error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches
// apperror.ErrUnavailable as well as, say, context.DeadlineExceeded.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// InsufficientPoints reports a redemption that the balance cannot cover.
// have is the balance observed inside the atomic unit that rejected it.
func InsufficientPoints(have, need int64) *AppError {
	return &AppError{
		Err:     ErrInsufficientPoints,
		Message: fmt.Sprintf("insufficient points: have %d, need %d", have, need),
	}
}

// ConcurrencyConflict marks an atomic unit that lost a race. The engine
// retries these; once its attempts are exhausted the caller sees it as a
// transient failure.
func ConcurrencyConflict(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrConcurrency,
		Message: fmt.Sprintf("%s: concurrent update conflict, retry later", op),
		Cause:   cause,
	}
}

// Unavailable wraps an underlying storage failure.
func Unavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: fmt.Sprintf("%s: storage temporarily unavailable", op),
		Cause:   cause,
	}
}

// IsRetryable reports whether the caller may safely retry the request.
// No partial state is ever left behind by a retryable failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency) || errors.Is(err, ErrUnavailable)
}
