package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// reKeyField extracts the column from a unique violation detail: "Key (field)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError maps database errors from either ledger driver to AppError instances:
//   - sql.ErrNoRows / pgx.ErrNoRows → NotFound
//   - unique and primary key violations → Conflict with Field set to the column
//   - check and NOT NULL violations → Validation
//   - context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return mapSQLiteError(liteErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		field := pgErr.ColumnName
		if field == "" && pgErr.Detail != "" {
			if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
				field = m[1]
			}
		}
		if field == "" {
			field = inferFieldFromConstraint(pgErr.ConstraintName)
		}
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "This value already exists.",
			Field:   field,
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "Invalid data. Please check your input.",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	case pgerrcode.AdminShutdown, pgerrcode.CannotConnectNow, pgerrcode.TooManyConnections:
		return &AppError{Code: ErrCodeUnavailable, Message: "Database is unavailable.", Cause: pgErr}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "A database error occurred. Please try again.",
			Cause:   pgErr,
		}
	}
}

// SQLite reports extended result codes; the low byte is the primary code.
func mapSQLiteError(liteErr *sqlite.Error) error {
	code := liteErr.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return &AppError{
				Code:    ErrCodeConflict,
				Message: "This value already exists.",
				Field:   sqliteConstraintColumn(liteErr.Error()),
				Cause:   liteErr,
			}
		}
		return &AppError{Code: ErrCodeValidation, Message: "Invalid data. Please check your input.", Cause: liteErr}
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return &AppError{Code: ErrCodeUnavailable, Message: "Database is busy.", Cause: liteErr}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "A database error occurred. Please try again.",
			Cause:   liteErr,
		}
	}
}

// sqliteConstraintColumn extracts "col" from "UNIQUE constraint failed: table.col". The driver
// prefixes its own "constraint failed: " and appends the result code, so parsing starts at the
// last marker.
func sqliteConstraintColumn(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	after, _, _ := strings.Cut(msg[i+len(marker):], " ")
	after, _, _ = strings.Cut(after, ",")
	if i := strings.LastIndex(after, "."); i >= 0 {
		after = after[i+1:]
	}
	return strings.TrimSpace(after)
}

// inferFieldFromConstraint attempts to infer the field name from a constraint name.
// e.g., "search_jobs_canonical_fingerprint_key" → "fingerprint". Primary keys yield "".
func inferFieldFromConstraint(constraintName string) string {
	if constraintName == "" {
		return ""
	}
	if strings.HasSuffix(constraintName, "_pkey") {
		return ""
	}
	name := strings.TrimSuffix(strings.TrimSuffix(constraintName, "_key"), "_idx")
	if i := strings.LastIndex(name, "_"); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return ""
}
