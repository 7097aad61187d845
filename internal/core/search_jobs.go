// Package core defines the ports between the export services and their adapters.
package core

import (
	"context"
	"time"

	"github.com/target/mmk-export-api/internal/domain/model"
)

// This file contains the ports (hexagonal architecture) of the asynchronous search export.
// Services depend on these interfaces; internal/data and internal/adapters provide implementations.

// InsertRunningParams groups parameters for SearchJobLedger.InsertRunning.
type InsertRunningParams struct {
	Fingerprint string
	JobHandle   string
	OwnerID     string
}

// InsertAliasParams groups parameters for SearchJobLedger.InsertAlias.
// A nil DownloadURL/URLExpiry copies the origin's values.
type InsertAliasParams struct {
	JobHandle    string
	OwnerID      string
	OriginHandle string
	DownloadURL  *string
	URLExpiry    *time.Time
}

// MarkCompleteParams groups parameters for SearchJobLedger.MarkComplete.
type MarkCompleteParams struct {
	JobHandle string
	ObjectID  string
	Link      model.DownloadLink
}

// RefreshURLParams groups parameters for SearchJobLedger.RefreshURL.
type RefreshURLParams struct {
	JobHandle string
	Link      model.DownloadLink
}

// SearchJobLedger persists search job records. Every operation touches a single logical row and is
// strongly consistent; the unique constraint behind InsertRunning is the only cross-instance lock.
type SearchJobLedger interface {
	// FindByFingerprint returns the canonical running or complete record, or nil when none exists.
	FindByFingerprint(ctx context.Context, fingerprint string) (*model.SearchJob, error)
	// FindByHandle returns the record for handle if owner owns it, or nil otherwise.
	FindByHandle(ctx context.Context, owner, handle string) (*model.SearchJob, error)
	// InsertRunning creates the canonical record. Returns model.ErrDuplicateFingerprint when another
	// canonical record already exists and model.ErrDuplicateHandle when the handle is taken.
	InsertRunning(ctx context.Context, params InsertRunningParams) (*model.SearchJob, error)
	// InsertAlias creates a non-canonical record sharing the origin's export.
	// Returns model.ErrSearchJobNotFound when the origin does not exist.
	InsertAlias(ctx context.Context, params InsertAliasParams) (*model.SearchJob, error)
	// MarkComplete finishes the canonical record and every alias still following it.
	MarkComplete(ctx context.Context, params MarkCompleteParams) error
	// MarkError fails the canonical record and every alias still following it.
	MarkError(ctx context.Context, handle, reason string) error
	// RefreshURL replaces the download URL of a complete record without touching status or object.
	RefreshURL(ctx context.Context, params RefreshURLParams) error
	// RetireCanonical drops the canonical flag so a new export may claim the fingerprint.
	RetireCanonical(ctx context.Context, handle string) error
}

// DeleteOldSearchJobsParams groups parameters for SearchJobReaperRepository.DeleteOld.
type DeleteOldSearchJobsParams struct {
	Status    model.SearchJobStatus
	MaxAge    time.Duration
	BatchSize int
}

// SearchJobReaperRepository is the ledger surface used by the reaper. Each call processes at most
// one batch and returns the number of rows it changed.
type SearchJobReaperRepository interface {
	// FailStaleRunning fails canonical rows that have been running longer than maxAge, together with
	// their aliases.
	FailStaleRunning(ctx context.Context, maxAge time.Duration, reason string, batchSize int) (int64, error)
	// DeleteOld deletes terminal rows with the given status finished more than MaxAge ago.
	DeleteOld(ctx context.Context, params DeleteOldSearchJobsParams) (int64, error)
}

// ExportRequest is the immutable input of one scroll export.
type ExportRequest struct {
	JobHandle string
	Query     []byte
}

// ExportResult describes a finished scratch file.
type ExportResult struct {
	Path      string
	Documents int64
	Bytes     int64
}

// ScrollExporter streams every document matching a query into a scratch file.
type ScrollExporter interface {
	// Export writes the matches for req to a file named after the job handle.
	// A *model.SearchBackendError with Empty set is returned together with a valid result when
	// nothing matched; every other error leaves no file behind.
	Export(ctx context.Context, req ExportRequest) (*ExportResult, error)
}

// QueryValidator is implemented by exporters that can reject an untranslatable query up front,
// before any ledger state exists.
type QueryValidator interface {
	ValidateQuery(query []byte) error
}

// UploadRequest is the immutable input of one upload.
type UploadRequest struct {
	JobHandle string
	Path      string
}

// UploadResult identifies a stored artifact.
type UploadResult struct {
	ObjectID string
	Bytes    int64
}

// ObjectPublisher stores export artifacts and mints pre-signed download links for them.
type ObjectPublisher interface {
	// Upload stores the file under a key derived from the job handle. Retrying for the same handle
	// overwrites the same object.
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
	// Presign mints a time bounded download link. It has no side effects.
	Presign(ctx context.Context, objectID string, ttl time.Duration) (model.DownloadLink, error)
}
