package httpx

import (
	"errors"
	"net/http"

	"github.com/target/mmk-export-api/internal/domain/model"
)

// retryAfterSeconds is advertised when a submission lost the fingerprint race or the service is
// draining.
const retryAfterSeconds = "1"

var errInternal = errors.New("internal server error")

// StatusForError maps a service error to its HTTP status and error code.
func StatusForError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidHandle):
		return http.StatusBadRequest, "invalid_handle"
	case errors.Is(err, model.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, model.ErrDuplicateHandle):
		return http.StatusConflict, "duplicate_handle"
	case errors.Is(err, model.ErrJobConflict):
		return http.StatusServiceUnavailable, "job_conflict"
	case errors.Is(err, model.ErrPipelineClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, model.ErrSearchJobNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *SearchHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code, errCode := StatusForError(err)

	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	if code >= http.StatusInternalServerError {
		if h.Logger != nil {
			h.Logger.ErrorContext(r.Context(), "search request failed",
				"path", r.URL.Path,
				"error_code", errCode,
				"error", err,
			)
		}
		if code == http.StatusInternalServerError {
			err = errInternal
		}
	}

	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}
