package dbx

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

const (
	pgUniqueViolation     = "23505"
	sqliteConstraintUniq  = 2067 // SQLITE_CONSTRAINT_UNIQUE
	sqliteConstraintPrkey = 1555 // SQLITE_CONSTRAINT_PRIMARYKEY
)

// IsUniqueViolation reports whether err is a unique-constraint violation
// raised by either supported driver (pgx or modernc sqlite).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqliteConstraintUniq || code == sqliteConstraintPrkey
	}

	return false
}
