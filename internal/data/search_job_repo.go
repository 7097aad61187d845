package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-export-api/internal/core"
	"github.com/target/mmk-export-api/internal/data/database"
	"github.com/target/mmk-export-api/internal/data/sqlutil"
	"github.com/target/mmk-export-api/internal/domain/model"
	apperrors "github.com/target/mmk-export-api/internal/errors"
)

// SearchJobRepoConfig holds configuration options for the search job ledger.
type SearchJobRepoConfig struct {
	Dialect      database.Dialect
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// SearchJobRepo stores search jobs in Postgres or SQLite.
type SearchJobRepo struct {
	DB           *sql.DB
	dialect      database.Dialect
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.SearchJobLedger = (*SearchJobRepo)(nil)

// NewSearchJobRepo creates a new SearchJobRepo. The dialect defaults to Postgres.
func NewSearchJobRepo(db *sql.DB, cfg SearchJobRepoConfig) *SearchJobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	dialect := cfg.Dialect
	if !dialect.Valid() {
		dialect = database.Postgres
	}
	logger := cfg.Logger
	if logger != nil {
		logger = logger.With("component", "search_job_repo")
	}

	return &SearchJobRepo{
		DB:           db,
		dialect:      dialect,
		timeProvider: tp,
		logger:       logger,
	}
}

const searchJobColumns = `
  job_handle,
  fingerprint,
  owner_id,
  status,
  canonical,
  origin_handle,
  object_id,
  download_url,
  url_expiry,
  error_message,
  created_at,
  updated_at,
  completed_at
`

// searchJobRow mirrors searchJobColumns for scanning.
type searchJobRow struct {
	handle, fingerprint, owner, status          string
	canonical                                   bool
	origin, objectID, downloadURL, errorMessage sql.NullString
	urlExpiry, completedAt                      sql.NullTime
	createdAt, updatedAt                        time.Time
}

func (r *searchJobRow) dest() []any {
	return []any{
		&r.handle, &r.fingerprint, &r.owner, &r.status, &r.canonical,
		&r.origin, &r.objectID, &r.downloadURL, &r.urlExpiry, &r.errorMessage,
		&r.createdAt, &r.updatedAt, &r.completedAt,
	}
}

func (r *searchJobRow) model() *model.SearchJob {
	return &model.SearchJob{
		JobHandle:    r.handle,
		Fingerprint:  r.fingerprint,
		OwnerID:      r.owner,
		Status:       model.SearchJobStatus(r.status),
		Canonical:    r.canonical,
		OriginHandle: sqlutil.NullString(r.origin),
		ObjectID:     sqlutil.NullString(r.objectID),
		DownloadURL:  sqlutil.NullString(r.downloadURL),
		URLExpiry:    sqlutil.NullTime(r.urlExpiry),
		ErrorMessage: sqlutil.NullString(r.errorMessage),
		CreatedAt:    r.createdAt.UTC(),
		UpdatedAt:    r.updatedAt.UTC(),
		CompletedAt:  sqlutil.NullTime(r.completedAt),
	}
}

func (r *SearchJobRepo) q(query string) string {
	return r.dialect.Rebind(query)
}

// FindByFingerprint returns the canonical running or complete record, or nil when none exists.
func (r *SearchJobRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*model.SearchJob, error) {
	query := `SELECT ` + searchJobColumns + `
		FROM search_jobs
		WHERE fingerprint = $1 AND canonical = TRUE AND status IN ('running', 'complete')
		ORDER BY created_at DESC
		LIMIT 1`

	var row searchJobRow
	err := r.DB.QueryRowContext(ctx, r.q(query), fingerprint).Scan(row.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is a normal lookup outcome
	}
	if err != nil {
		return nil, fmt.Errorf("find search job by fingerprint: %w", err)
	}
	return row.model(), nil
}

// findByHandleSQL joins the origin so an alias created while its origin was finishing still
// observes the terminal outcome.
const findByHandleSQL = `
	SELECT
	  j.job_handle, j.fingerprint, j.owner_id, j.status, j.canonical, j.origin_handle,
	  j.object_id, j.download_url, j.url_expiry, j.error_message,
	  j.created_at, j.updated_at, j.completed_at,
	  o.status, o.object_id, o.download_url, o.url_expiry, o.error_message, o.completed_at
	FROM search_jobs j
	LEFT JOIN search_jobs o ON o.job_handle = j.origin_handle
	WHERE j.job_handle = $1 AND j.owner_id = $2`

// FindByHandle returns the record for handle if owner owns it, or nil otherwise.
func (r *SearchJobRepo) FindByHandle(ctx context.Context, owner, handle string) (*model.SearchJob, error) {
	var (
		row                                              searchJobRow
		originStatus, originObject, originURL, originErr sql.NullString
		originExpiry, originCompleted                    sql.NullTime
	)
	dest := append(row.dest(), &originStatus, &originObject, &originURL, &originExpiry, &originErr, &originCompleted)

	err := r.DB.QueryRowContext(ctx, r.q(findByHandleSQL), handle, owner).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is a normal lookup outcome
	}
	if err != nil {
		return nil, fmt.Errorf("find search job by handle: %w", err)
	}

	job := row.model()
	origin := model.SearchJobStatus(originStatus.String)
	if job.Status != model.SearchJobStatusRunning || !originStatus.Valid || !origin.Terminal() {
		return job, nil
	}

	// The alias missed its origin's terminal fan-out; adopt the outcome and persist it.
	job.Status = origin
	job.ObjectID = sqlutil.NullString(originObject)
	job.DownloadURL = sqlutil.NullString(originURL)
	job.URLExpiry = sqlutil.NullTime(originExpiry)
	job.ErrorMessage = sqlutil.NullString(originErr)
	job.CompletedAt = sqlutil.NullTime(originCompleted)
	job.UpdatedAt = r.timeProvider.Now()

	if healErr := r.adoptOrigin(ctx, job); healErr != nil && r.logger != nil {
		r.logger.WarnContext(ctx, "failed to persist alias outcome",
			"job_handle", job.JobHandle,
			"status", string(job.Status),
			"error", healErr,
		)
	}
	return job, nil
}

func (r *SearchJobRepo) adoptOrigin(ctx context.Context, job *model.SearchJob) error {
	query := `UPDATE search_jobs
		SET status = $1, object_id = $2, download_url = $3, url_expiry = $4,
		    error_message = $5, completed_at = $6, updated_at = $7
		WHERE job_handle = $8 AND status = 'running'`

	_, err := r.DB.ExecContext(ctx, r.q(query),
		string(job.Status),
		job.ObjectID,
		job.DownloadURL,
		job.URLExpiry,
		job.ErrorMessage,
		job.CompletedAt,
		job.UpdatedAt,
		job.JobHandle,
	)
	if err != nil {
		return fmt.Errorf("adopt origin outcome: %w", err)
	}
	return nil
}

// InsertRunning creates the canonical record for a fresh export.
func (r *SearchJobRepo) InsertRunning(ctx context.Context, params core.InsertRunningParams) (*model.SearchJob, error) {
	now := r.timeProvider.Now()
	query := `INSERT INTO search_jobs
		(job_handle, fingerprint, owner_id, status, canonical, created_at, updated_at)
		VALUES ($1, $2, $3, 'running', TRUE, $4, $5)`

	if _, err := r.DB.ExecContext(ctx, r.q(query),
		params.JobHandle, params.Fingerprint, params.OwnerID, now, now,
	); err != nil {
		return nil, r.mapInsertError(err, "insert running search job")
	}

	return &model.SearchJob{
		JobHandle:   params.JobHandle,
		Fingerprint: params.Fingerprint,
		OwnerID:     params.OwnerID,
		Status:      model.SearchJobStatusRunning,
		Canonical:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// InsertAlias creates a non-canonical record that shares the origin's export.
func (r *SearchJobRepo) InsertAlias(ctx context.Context, params core.InsertAliasParams) (*model.SearchJob, error) {
	now := r.timeProvider.Now()
	d := r.dialect
	query := fmt.Sprintf(`INSERT INTO search_jobs
		(job_handle, owner_id, fingerprint, status, canonical, origin_handle, object_id,
		 download_url, url_expiry, error_message, created_at, updated_at, completed_at)
		SELECT %s, %s, o.fingerprint, o.status, FALSE, o.job_handle, o.object_id,
		       COALESCE(%s, o.download_url), COALESCE(%s, o.url_expiry), o.error_message,
		       %s, %s, o.completed_at
		FROM search_jobs o
		WHERE o.job_handle = $7`,
		d.Cast("$1", "text"), d.Cast("$2", "text"),
		d.Cast("$3", "text"), d.Cast("$4", "timestamptz"),
		d.Cast("$5", "timestamptz"), d.Cast("$6", "timestamptz"),
	)
	res, err := r.DB.ExecContext(ctx, r.q(query),
		params.JobHandle, params.OwnerID, params.DownloadURL, params.URLExpiry, now, now, params.OriginHandle,
	)
	if err != nil {
		return nil, r.mapInsertError(err, "insert alias search job")
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return nil, fmt.Errorf("%w: origin %s", model.ErrSearchJobNotFound, params.OriginHandle)
	}

	job, err := r.getByHandle(ctx, params.JobHandle)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *SearchJobRepo) getByHandle(ctx context.Context, handle string) (*model.SearchJob, error) {
	query := `SELECT ` + searchJobColumns + ` FROM search_jobs WHERE job_handle = $1`

	var row searchJobRow
	if err := r.DB.QueryRowContext(ctx, r.q(query), handle).Scan(row.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrSearchJobNotFound, handle)
		}
		return nil, fmt.Errorf("get search job: %w", err)
	}
	return row.model(), nil
}

func (r *SearchJobRepo) mapInsertError(err error, op string) error {
	column, ok := r.dialect.UniqueViolation(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	if column == "fingerprint" {
		return fmt.Errorf("%s: %w", op, model.ErrDuplicateFingerprint)
	}
	return fmt.Errorf("%s: %w", op, model.ErrDuplicateHandle)
}

// MarkComplete finishes the canonical record and every alias still following it.
func (r *SearchJobRepo) MarkComplete(ctx context.Context, params core.MarkCompleteParams) error {
	now := r.timeProvider.Now()
	query := `UPDATE search_jobs
		SET status = 'complete', object_id = $1, download_url = $2, url_expiry = $3,
		    error_message = NULL, completed_at = $4, updated_at = $5
		WHERE status = 'running' AND (job_handle = $6 OR origin_handle = $7)`

	expiry := params.Link.ExpiresAt.UTC()
	return r.execTransition(ctx, params.JobHandle, "complete", query,
		params.ObjectID, params.Link.URL, expiry, now, now, params.JobHandle, params.JobHandle,
	)
}

// MarkError fails the canonical record and every alias still following it.
func (r *SearchJobRepo) MarkError(ctx context.Context, handle, reason string) error {
	now := r.timeProvider.Now()
	query := `UPDATE search_jobs
		SET status = 'error', error_message = $1, completed_at = $2, updated_at = $3
		WHERE status = 'running' AND (job_handle = $4 OR origin_handle = $5)`

	return r.execTransition(ctx, handle, "error", query, reason, now, now, handle, handle)
}

func (r *SearchJobRepo) execTransition(ctx context.Context, handle, to, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return fmt.Errorf("mark search job %s: %w", to, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark search job %s rows affected: %w", to, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is not running", model.ErrSearchJobNotFound, handle)
	}
	if r.logger != nil {
		r.logger.DebugContext(ctx, "search job transitioned",
			"job_handle", handle,
			"status", to,
			"rows", n,
		)
	}
	return nil
}

// RefreshURL replaces the download URL of a complete record without touching status or object.
func (r *SearchJobRepo) RefreshURL(ctx context.Context, params core.RefreshURLParams) error {
	query := `UPDATE search_jobs
		SET download_url = $1, url_expiry = $2, updated_at = $3
		WHERE job_handle = $4 AND status = 'complete'`

	res, err := r.DB.ExecContext(ctx, r.q(query),
		params.Link.URL, params.Link.ExpiresAt.UTC(), r.timeProvider.Now(), params.JobHandle,
	)
	if err != nil {
		return fmt.Errorf("refresh download url: %w", apperrors.MapDBError(err))
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return fmt.Errorf("%w: %s is not complete", model.ErrSearchJobNotFound, params.JobHandle)
	}
	return nil
}

// RetireCanonical drops the canonical flag so a new export may claim the fingerprint.
// Retiring a row that is already retired is a no-op.
func (r *SearchJobRepo) RetireCanonical(ctx context.Context, handle string) error {
	query := `UPDATE search_jobs SET canonical = FALSE, updated_at = $1
		WHERE job_handle = $2 AND canonical = TRUE`

	if _, err := r.DB.ExecContext(ctx, r.q(query), r.timeProvider.Now(), handle); err != nil {
		return fmt.Errorf("retire canonical search job: %w", apperrors.MapDBError(err))
	}
	return nil
}

// CountByStatus returns the number of rows per status, for operators.
func (r *SearchJobRepo) CountByStatus(ctx context.Context) (map[model.SearchJobStatus]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM search_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count search jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[model.SearchJobStatus]int64, 3)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if scanErr := rows.Scan(&status, &n); scanErr != nil {
			return nil, fmt.Errorf("scan search job count: %w", scanErr)
		}
		out[model.SearchJobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search job counts: %w", err)
	}
	return out, nil
}
