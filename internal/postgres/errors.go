package postgres

import (
	"errors"
	"github.com/jackc/pgx/v5/pgconn"
	"slices"
)

// SQLSTATE codes we react to.
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// IsUniqueViolation reports whether err is a unique violation, optionally on
// a specific constraint (empty constraint matches any).
func IsUniqueViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	if code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || constraint == name
}

// IsRetryable reports errors after which the whole transaction may be re-run.
// A unique violation counts only when it hits one of uniqueConstraints.
func IsRetryable(err error, uniqueConstraints ...string) bool {
	code, name := pgCode(err)
	switch code {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return true
	case CodeUniqueViolation:
		return slices.Contains(uniqueConstraints, name)
	}
	return false
}
