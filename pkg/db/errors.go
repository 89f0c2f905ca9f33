package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique or primary key violation
// from postgres or sqlite. A non-empty constraintName narrows the match to
// that constraint.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	var (
		pgxErr    *pgconn.PgError
		pqErr     *pq.Error
		sqliteErr sqlite3.Error
	)
	switch {
	case errors.As(err, &pgxErr):
		return pgxErr.Code == pgUniqueViolation && matchesConstraint(pgxErr.ConstraintName, constraintName)
	case errors.As(err, &pqErr):
		return string(pqErr.Code) == pgUniqueViolation && matchesConstraint(pqErr.Constraint, constraintName)
	case errors.As(err, &sqliteErr):
		unique := sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
		// sqlite has no constraint names, only the column list in the message
		return unique && (constraintName == "" || strings.Contains(sqliteErr.Error(), constraintName))
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return constraintName == ""
	}

	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

func matchesConstraint(actual, want string) bool {
	return want == "" || actual == want
}
