package connkit

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCode represents a lifecycle error classification
type ErrorCode string

const (
	CodeConfig           ErrorCode = "CONFIG"
	CodeDisposed         ErrorCode = "DISPOSED"
	CodeInvalidOperation ErrorCode = "INVALID_OPERATION"
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
)

// Sentinel errors for quick checks
var (
	ErrConfig           = errors.New("connkit: invalid configuration")
	ErrDisposed         = errors.New("connkit: connection is disposed")
	ErrInvalidOperation = errors.New("connkit: invalid operation")
	ErrConnection       = errors.New("connkit: connection failed")
)

// Error is a lifecycle error with context.
//
// Errors raised by the underlying driver are never wrapped in Error; they
// propagate to the caller unchanged. Error covers only the states this
// package owns: bad configuration, use after disposal, transaction-scoped
// operations without a transaction, and a missing driver handle.
type Error struct {
	Code    ErrorCode // Error classification
	Message string    // Human-readable message
	Op      string    // Operation that failed (e.g., "Open", "Savepoint")
	Cause   error     // Underlying error, if any
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("connkit.%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("connkit: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for sentinel error matching
func (e *Error) Is(target error) bool {
	switch e.Code {
	case CodeConfig:
		return target == ErrConfig
	case CodeDisposed:
		return target == ErrDisposed
	case CodeInvalidOperation:
		return target == ErrInvalidOperation
	case CodeConnectionFailed:
		return target == ErrConnection
	}
	return false
}

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool {
	return errors.Is(err, ErrConfig)
}

// IsDisposed checks if the error is a use-after-disposal error
func IsDisposed(err error) bool {
	return errors.Is(err, ErrDisposed)
}

// IsInvalidOperation checks if the error is an invalid-operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsConnectionFailed checks if the error is a connection error
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnection)
}

// GetErrorCode extracts the error code if it's a connkit error
func GetErrorCode(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// pgCode extracts the PostgreSQL error code from a propagated driver error.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation checks a propagated driver error for a unique_violation
func IsUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

// IsSerializationFailure checks a propagated driver error for a
// serialization_failure
func IsSerializationFailure(err error) bool {
	return pgCode(err) == "40001"
}

// IsDeadlock checks a propagated driver error for a deadlock_detected
func IsDeadlock(err error) bool {
	return pgCode(err) == "40P01"
}

// IsQueryCanceled checks a propagated driver error for query_canceled,
// which PostgreSQL reports when a statement hits its timeout
func IsQueryCanceled(err error) bool {
	return pgCode(err) == "57014"
}

// IsRetryable checks if a propagated driver error is worth retrying
// (serialization failure or deadlock). Retrying itself is the caller's
// decision; only the caller knows whether the operation is idempotent.
func IsRetryable(err error) bool {
	return IsSerializationFailure(err) || IsDeadlock(err)
}
