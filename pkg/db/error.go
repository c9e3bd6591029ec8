package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasPGCode(err, "23505") {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsSerializationFailure reports whether the store aborted a transaction
// because a concurrent transaction won the conflict.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	if hasPGCode(err, "40001") || hasPGCode(err, "40P01") {
		return true
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "could not serialize access"),
		strings.Contains(msg, "Deadlock found"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return true
	default:
		return false
	}
}

// IsExclusionViolation reports a postgres EXCLUDE constraint hit, raised by
// bookings_no_overlap when two live bookings share nights.
func IsExclusionViolation(err error) bool {
	return hasPGCode(err, "23P01")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
