// Package database holds the SQL dialect differences between the supported ledger backends.
package database

import (
	"fmt"
	"regexp"
	"strings"

	// Register the pgx database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	// Register the modernc database/sql driver.
	_ "modernc.org/sqlite"

	apperrors "github.com/target/mmk-export-api/internal/errors"
)

// Dialect identifies a relational backend.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Dialect string

const (
	// Postgres is the production backend, reached through the pgx stdlib driver.
	Postgres Dialect = "postgres"
	// SQLite is the embedded single-node backend.
	SQLite Dialect = "sqlite"
)

// Valid returns true if the dialect is supported.
func (d Dialect) Valid() bool {
	return d == Postgres || d == SQLite
}

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *Dialect) UnmarshalText(text []byte) error {
	v := Dialect(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ledger driver: %q (valid options: postgres, sqlite)", v)
	}
	*d = v
	return nil
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "pgx"
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// Rebind converts $N placeholders for the dialect. Queries must use each placeholder once and in
// ascending order, since SQLite binds "?" positionally.
func (d Dialect) Rebind(query string) string {
	if d != SQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

// Cast annotates a bind parameter with a type where Postgres cannot infer one, e.g. in the select
// list of INSERT ... SELECT. SQLite is dynamically typed and gets the bare parameter.
func (d Dialect) Cast(param, pgType string) string {
	if d == SQLite {
		return param
	}
	return param + "::" + pgType
}

// UniqueViolation reports whether err is a unique constraint failure and, when it can be told,
// which column caused it.
func (d Dialect) UniqueViolation(err error) (string, bool) {
	mapped := apperrors.MapDBError(err)
	if !apperrors.IsConflict(mapped) {
		return "", false
	}
	return apperrors.GetField(mapped), true
}
