package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestMapDBError_NilError(t *testing.T) {
	assert.NoError(t, MapDBError(nil))
}

func TestMapDBError_ContextErrors(t *testing.T) {
	assert.True(t, IsTimeout(MapDBError(context.DeadlineExceeded)))
	assert.True(t, IsCanceled(MapDBError(fmt.Errorf("query: %w", context.Canceled))))
}

func TestMapDBError_NoRows(t *testing.T) {
	assert.True(t, IsNotFound(MapDBError(sql.ErrNoRows)))
	assert.True(t, IsNotFound(MapDBError(pgx.ErrNoRows)))
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name: "column name metadata",
			pgErr: &pgconn.PgError{
				Code:       pgerrcode.UniqueViolation,
				ColumnName: "fingerprint",
			},
			wantField: "fingerprint",
		},
		{
			name: "detail message",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				Detail:         "Key (fingerprint)=(abc) already exists.",
				ConstraintName: "search_jobs_canonical_fingerprint_key",
			},
			wantField: "fingerprint",
		},
		{
			name: "primary key detail",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				Detail:         "Key (job_handle)=(h1) already exists.",
				ConstraintName: "search_jobs_pkey",
			},
			wantField: "job_handle",
		},
		{
			name: "constraint name fallback",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "search_jobs_canonical_fingerprint_key",
			},
			wantField: "fingerprint",
		},
		{
			name: "primary key without detail",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "search_jobs_pkey",
			},
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(fmt.Errorf("insert: %w", tt.pgErr))
			assert.True(t, IsConflict(err))
			assert.Equal(t, tt.wantField, GetField(err))

			var pgErr *pgconn.PgError
			assert.True(t, errors.As(err, &pgErr))
		})
	}
}

func TestMapDBError_OtherPgCodes(t *testing.T) {
	tests := []struct {
		code     string
		wantCode ErrorCode
	}{
		{code: pgerrcode.CheckViolation, wantCode: ErrCodeValidation},
		{code: pgerrcode.NotNullViolation, wantCode: ErrCodeValidation},
		{code: pgerrcode.AdminShutdown, wantCode: ErrCodeUnavailable},
		{code: pgerrcode.TooManyConnections, wantCode: ErrCodeUnavailable},
		{code: pgerrcode.SyntaxError, wantCode: ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, GetCode(MapDBError(&pgconn.PgError{Code: tt.code})))
		})
	}
}

func TestMapDBError_Unrecognized(t *testing.T) {
	plain := errors.New("plain")
	assert.Same(t, plain, MapDBError(plain))
}

func TestSQLiteConstraintColumn(t *testing.T) {
	tests := map[string]string{
		"UNIQUE constraint failed: search_jobs.fingerprint":                           "fingerprint",
		"constraint failed: UNIQUE constraint failed: search_jobs.job_handle (1555)":  "job_handle",
		"constraint failed: UNIQUE constraint failed: search_jobs.fingerprint (2067)": "fingerprint",
		"UNIQUE constraint failed: t.a, t.b":                                          "a",
		"no match here":                                                               "",
	}
	for msg, want := range tests {
		assert.Equal(t, want, sqliteConstraintColumn(msg), msg)
	}
}

func TestMapDBError_SQLiteUniqueViolation(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE search_jobs (job_handle TEXT PRIMARY KEY, fingerprint TEXT NOT NULL);
		CREATE UNIQUE INDEX search_jobs_fingerprint_key ON search_jobs (fingerprint)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO search_jobs VALUES ('H1', 'fp')`)
	require.NoError(t, err)

	tests := []struct {
		name      string
		insert    string
		wantField string
	}{
		{name: "unique index", insert: `INSERT INTO search_jobs VALUES ('H2', 'fp')`, wantField: "fingerprint"},
		{name: "primary key", insert: `INSERT INTO search_jobs VALUES ('H1', 'other')`, wantField: "job_handle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, execErr := db.ExecContext(ctx, tt.insert)
			require.Error(t, execErr)

			mapped := MapDBError(execErr)
			assert.True(t, IsConflict(mapped))
			assert.Equal(t, tt.wantField, GetField(mapped))
		})
	}
}

func TestMapDBError_SQLiteOtherConstraint(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE t (v TEXT NOT NULL CHECK (v <> 'bad'))`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO t VALUES ('bad')`)
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, GetCode(MapDBError(err)))
}
