// Package model defines the core data types shared by the export service layers.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SearchJobStatus represents the lifecycle state of an asynchronous search job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type SearchJobStatus string

const (
	// SearchJobStatusRunning indicates the export pipeline has not finished yet.
	SearchJobStatusRunning SearchJobStatus = "running"
	// SearchJobStatusComplete indicates the export was uploaded and a download link exists.
	SearchJobStatusComplete SearchJobStatus = "complete"
	// SearchJobStatusError indicates the export or upload failed. Terminal.
	SearchJobStatusError SearchJobStatus = "error"
)

// Valid returns true if the status is one of the known states.
func (s SearchJobStatus) Valid() bool {
	return s == SearchJobStatusRunning || s == SearchJobStatusComplete || s == SearchJobStatusError
}

// Terminal reports whether no further transitions are expected.
func (s SearchJobStatus) Terminal() bool {
	return s == SearchJobStatusComplete || s == SearchJobStatusError
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SearchJobStatus) UnmarshalText(text []byte) error {
	v := SearchJobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid SearchJobStatus: %q", v)
	}
	*s = v
	return nil
}

// SearchJob is one ledger row. Many rows may share a fingerprint; at most one of them is canonical
// while running or complete.
type SearchJob struct {
	JobHandle    string          `json:"job_handle"              db:"job_handle"`
	Fingerprint  string          `json:"fingerprint"             db:"fingerprint"`
	OwnerID      string          `json:"owner_id"                db:"owner_id"`
	Status       SearchJobStatus `json:"status"                  db:"status"`
	Canonical    bool            `json:"canonical"               db:"canonical"`
	OriginHandle *string         `json:"origin_handle,omitempty" db:"origin_handle"`
	ObjectID     *string         `json:"object_id,omitempty"     db:"object_id"`
	DownloadURL  *string         `json:"download_url,omitempty"  db:"download_url"`
	URLExpiry    *time.Time      `json:"url_expiry,omitempty"    db:"url_expiry"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"              db:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"  db:"completed_at"`
}

// URLValid reports whether the download URL can still be handed out at now.
// skew shortens the window so callers do not receive a link about to lapse.
func (j *SearchJob) URLValid(now time.Time, skew time.Duration) bool {
	if j == nil || j.DownloadURL == nil || *j.DownloadURL == "" || j.URLExpiry == nil {
		return false
	}
	return now.Add(skew).Before(*j.URLExpiry)
}

// HasArtifact reports whether an uploaded object backs this row.
func (j *SearchJob) HasArtifact() bool {
	return j != nil && j.ObjectID != nil && *j.ObjectID != ""
}

// Clone returns a deep copy so callers can adjust a record without touching shared state.
func (j *SearchJob) Clone() *SearchJob {
	if j == nil {
		return nil
	}
	cp := *j
	cp.OriginHandle = cloneString(j.OriginHandle)
	cp.ObjectID = cloneString(j.ObjectID)
	cp.DownloadURL = cloneString(j.DownloadURL)
	cp.ErrorMessage = cloneString(j.ErrorMessage)
	cp.URLExpiry = cloneTime(j.URLExpiry)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SubmitRequest is the validated input handed over by the access control gateway.
type SubmitRequest struct {
	Query  json.RawMessage `json:"query"`
	Handle string          `json:"search_id,omitempty"`
	Owner  string          `json:"owner_id"`
}

// SubmitOutcome describes which path a submission took.
type SubmitOutcome string

const (
	// SubmitOutcomeNew means this submission started a fresh export.
	SubmitOutcomeNew SubmitOutcome = "new"
	// SubmitOutcomeReused means a completed export was reused under a new handle.
	SubmitOutcomeReused SubmitOutcome = "reused"
	// SubmitOutcomeAliased means the handle follows an export already in flight.
	SubmitOutcomeAliased SubmitOutcome = "aliased"
)

// SubmitResult is returned synchronously from a submission.
type SubmitResult struct {
	JobHandle   string          `json:"search_id"`
	Fingerprint string          `json:"fingerprint"`
	Status      SearchJobStatus `json:"status"`
	Outcome     SubmitOutcome   `json:"outcome"`
}

// Reused reports whether the submission avoided starting a new export.
func (r *SubmitResult) Reused() bool {
	return r != nil && r.Outcome != SubmitOutcomeNew
}

// DownloadLink is a minted pre-signed credential for an uploaded object.
type DownloadLink struct {
	URL       string
	ExpiresAt time.Time
}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ValidateHandle checks a caller supplied job handle. Handles name scratch files, so path
// separators and dot-only names are rejected.
func ValidateHandle(handle string) error {
	if !handlePattern.MatchString(handle) || strings.Trim(handle, ".") == "" {
		return fmt.Errorf("%w: job handle must match %s", ErrInvalidHandle, handlePattern.String())
	}
	return nil
}

// ValidateOwner checks the caller identity supplied by the gateway.
func ValidateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return errors.Join(ErrInvalidQuery, errors.New("owner identity is required"))
	}
	return nil
}
