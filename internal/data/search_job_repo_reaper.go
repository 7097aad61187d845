package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/data/database"
	"github.com/target/mmk-export-api/internal/data/sqlutil"
)

// Advisory lock namespace for reaper operations on Postgres.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// SQLite serializes writers on its own and takes no lock.
const (
	advisoryLockReaperMajor       = 2000
	advisoryLockReaperFailRunning = 1 // minor key for FailStaleRunning
	advisoryLockReaperDelete      = 2 // minor key for DeleteOld
)

var _ core.SearchJobReaperRepository = (*SearchJobRepo)(nil)

// staleRunningSQL selects one batch of canonical rows whose export outlived maxAge. Aliases carry
// an origin handle and are failed through their origin.
const staleRunningSQL = `SELECT job_handle FROM search_jobs
	WHERE status = 'running' AND origin_handle IS NULL AND created_at < $%d
	ORDER BY created_at, job_handle
	LIMIT $%d`

// FailStaleRunning marks canonical rows running for longer than maxAge as failed, along with every
// alias following them, so the fingerprint can be exported again.
// Processes up to batchSize canonical rows per call and returns how many it failed.
func (r *SearchJobRepo) FailStaleRunning(ctx context.Context, maxAge time.Duration, reason string, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := sqlutil.WithSQLTx(ctx, r.DB, sqlutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := r.tryReaperLock(ctx, tx, advisoryLockReaperFailRunning)
			if err != nil || !locked {
				return err
			}

			now := r.timeProvider.Now()
			cutoff := now.Add(-maxAge).UTC()

			// Aliases first, while their origins still match the stale selection.
			aliases := `UPDATE search_jobs
				SET status = 'error', error_message = $1, completed_at = $2, updated_at = $3
				WHERE status = 'running' AND origin_handle IN (` + fmt.Sprintf(staleRunningSQL, 4, 5) + `)`
			if _, err := tx.ExecContext(ctx, r.q(aliases), reason, now, now, cutoff, batchSize); err != nil {
				return fmt.Errorf("fail stale search job aliases: %w", err)
			}

			origins := `UPDATE search_jobs
				SET status = 'error', error_message = $1, completed_at = $2, updated_at = $3
				WHERE job_handle IN (` + fmt.Sprintf(staleRunningSQL, 4, 5) + `)`
			res, err := tx.ExecContext(ctx, r.q(origins), reason, now, now, cutoff, batchSize)
			if err != nil {
				return fmt.Errorf("fail stale search jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOld deletes terminal rows with the given status that finished more than MaxAge ago.
// Deleting a complete canonical row releases its fingerprint. Aliases pointing at a deleted row
// keep their own copy of the outcome.
func (r *SearchJobRepo) DeleteOld(ctx context.Context, params core.DeleteOldSearchJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("invalid search job status for deletion: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var rowsAffected int64
	err := sqlutil.WithSQLTx(ctx, r.DB, sqlutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			locked, err := r.tryReaperLock(ctx, tx, advisoryLockReaperDelete)
			if err != nil || !locked {
				return err
			}

			cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
			query := `DELETE FROM search_jobs
				WHERE job_handle IN (
					SELECT job_handle FROM search_jobs
					WHERE status = $1
					  AND (completed_at < $2 OR (completed_at IS NULL AND updated_at < $3))
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $4
				)`
			res, err := tx.ExecContext(ctx, r.q(query), string(params.Status), cutoff, cutoff, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old search jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

func (r *SearchJobRepo) tryReaperLock(ctx context.Context, tx *sql.Tx, minor int) (bool, error) {
	if r.dialect != database.Postgres {
		return true, nil
	}
	var locked bool
	if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return locked, nil
}
