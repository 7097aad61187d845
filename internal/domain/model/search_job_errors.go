package model

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidQuery is returned for malformed input before any state is created.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidHandle is returned when a requested job handle is not usable.
	ErrInvalidHandle = errors.New("invalid job handle")
	// ErrDuplicateFingerprint signals that another submission already owns the canonical row.
	// It never leaves the orchestrator.
	ErrDuplicateFingerprint = errors.New("duplicate fingerprint")
	// ErrDuplicateHandle is returned when the requested job handle already exists.
	ErrDuplicateHandle = errors.New("job handle already exists")
	// ErrJobConflict is returned when the fingerprint race did not settle within the retry budget.
	ErrJobConflict = errors.New("search job conflict, retry later")
	// ErrSearchJobNotFound covers both unknown handles and handles owned by someone else.
	ErrSearchJobNotFound = errors.New("search job not found")
	// ErrPipelineClosed is returned once the export pipeline stopped accepting work.
	ErrPipelineClosed = errors.New("export pipeline closed")
)

// SearchBackendError reports a failed or truncated scroll export.
// Empty is a normal outcome: the export finished with zero documents and the result is still usable.
type SearchBackendError struct {
	Empty   bool
	Timeout bool
	Err     error
}

func (e *SearchBackendError) Error() string {
	var b strings.Builder
	b.WriteString("search backend")
	switch {
	case e.Empty:
		b.WriteString(": no matching documents")
	case e.Timeout:
		b.WriteString(": time budget exceeded")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SearchBackendError) Unwrap() error { return e.Err }

// UploadError reports a failed publish to object storage.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	if e.Err == nil {
		return "upload failed"
	}
	return "upload failed: " + e.Err.Error()
}

func (e *UploadError) Unwrap() error { return e.Err }

// IsEmptyResult reports whether err only signals an export with zero documents.
func IsEmptyResult(err error) bool {
	var be *SearchBackendError
	return errors.As(err, &be) && be.Empty
}
