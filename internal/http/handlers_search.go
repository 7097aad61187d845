// Package httpx provides the HTTP surface of the asynchronous search export API.
package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/target/mmk-export-api/internal/domain/model"
)

// SearchSubmitter accepts search export submissions.
type SearchSubmitter interface {
	Submit(ctx context.Context, req model.SubmitRequest) (*model.SubmitResult, error)
}

// SearchStatusResolver resolves a job handle for its owner.
type SearchStatusResolver interface {
	Get(ctx context.Context, owner, handle string) (*model.SearchJob, error)
}

// SearchHandlers provides HTTP handlers for the asynchronous search export.
type SearchHandlers struct {
	Submitter    SearchSubmitter
	Status       SearchStatusResolver
	OwnerHeader  string
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type submitResponse struct {
	SearchID    string                `json:"searchId"`
	Status      model.SearchJobStatus `json:"status"`
	Fingerprint string                `json:"fingerprint"`
	Reused      bool                  `json:"reused"`
}

type statusResponse struct {
	SearchID    string                `json:"searchId"`
	Status      model.SearchJobStatus `json:"status"`
	DownloadURL string                `json:"downloadUrl,omitempty"`
	URLExpiry   *time.Time            `json:"urlExpiry,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Submit handles POST /async/search. The body is the query payload and the optional searchId query
// parameter requests a specific handle.
func (h *SearchHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ErrorParams{Code: http.StatusRequestEntityTooLarge, ErrCode: "payload_too_large", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_body", Err: err})
		return
	}

	res, err := h.Submitter.Submit(r.Context(), model.SubmitRequest{
		Query:  body,
		Handle: strings.TrimSpace(r.URL.Query().Get("searchId")),
		Owner:  h.owner(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, submitResponse{
		SearchID:    res.JobHandle,
		Status:      res.Status,
		Fingerprint: res.Fingerprint,
		Reused:      res.Reused(),
	})
}

// GetStatus handles GET /async/status?searchId=.
func (h *SearchHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	handle := strings.TrimSpace(r.URL.Query().Get("searchId"))
	if handle == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_query",
			Err:     errors.New("searchId is required"),
		})
		return
	}

	job, err := h.Status.Get(r.Context(), h.owner(r), handle)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := statusResponse{SearchID: job.JobHandle, Status: job.Status}
	switch job.Status {
	case model.SearchJobStatusComplete:
		if job.DownloadURL != nil {
			resp.DownloadURL = *job.DownloadURL
		}
		resp.URLExpiry = job.URLExpiry
	case model.SearchJobStatusError:
		if job.ErrorMessage != nil {
			resp.Error = *job.ErrorMessage
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *SearchHandlers) owner(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(h.OwnerHeader))
}
