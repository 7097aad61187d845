package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-export-api/internal/domain/model"
)

type fakeSubmitter struct {
	got model.SubmitRequest
	res *model.SubmitResult
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, req model.SubmitRequest) (*model.SubmitResult, error) {
	f.got = req
	return f.res, f.err
}

type fakeStatus struct {
	owner, handle string
	job           *model.SearchJob
	err           error
}

func (f *fakeStatus) Get(_ context.Context, owner, handle string) (*model.SearchJob, error) {
	f.owner, f.handle = owner, handle
	return f.job, f.err
}

func newTestRouter(sub *fakeSubmitter, status *fakeStatus) http.Handler {
	return NewRouter(RouterServices{
		Submitter:    sub,
		Status:       status,
		OwnerHeader:  "X-Owner-Id",
		MaxBodyBytes: 64,
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmit_Created(t *testing.T) {
	sub := &fakeSubmitter{res: &model.SubmitResult{
		JobHandle:   "H1",
		Fingerprint: "fp",
		Status:      model.SearchJobStatusComplete,
		Outcome:     model.SubmitOutcomeReused,
	}}
	router := newTestRouter(sub, &fakeStatus{})

	req := httptest.NewRequest(http.MethodPost, "/async/search?searchId=H1", strings.NewReader(`{"ids":["X"]}`))
	req.Header.Set("X-Owner-Id", " U1 ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{
		"searchId":    "H1",
		"status":      "complete",
		"fingerprint": "fp",
		"reused":      true,
	}, decodeBody(t, rec))

	assert.Equal(t, "U1", sub.got.Owner)
	assert.Equal(t, "H1", sub.got.Handle)
	assert.JSONEq(t, `{"ids":["X"]}`, string(sub.got.Query))
}

func TestSubmit_PayloadTooLarge(t *testing.T) {
	sub := &fakeSubmitter{}
	router := newTestRouter(sub, &fakeStatus{})

	body := `{"ids":["` + strings.Repeat("x", 100) + `"]}`
	req := httptest.NewRequest(http.MethodPost, "/async/search", strings.NewReader(body))
	req.Header.Set("X-Owner-Id", "U1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, sub.got.Owner, "service must not be called")
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		retryAfter bool
	}{
		{"invalid query", fmt.Errorf("%w: trailing data", model.ErrInvalidQuery), http.StatusBadRequest, "invalid_query", false},
		{"invalid handle", model.ErrInvalidHandle, http.StatusBadRequest, "invalid_handle", false},
		{"duplicate handle", fmt.Errorf("insert: %w", model.ErrDuplicateHandle), http.StatusConflict, "duplicate_handle", false},
		{"job conflict", model.ErrJobConflict, http.StatusServiceUnavailable, "job_conflict", true},
		{"draining", model.ErrPipelineClosed, http.StatusServiceUnavailable, "shutting_down", true},
		{"unexpected", errors.New("pq: connection refused to 10.0.0.1"), http.StatusInternalServerError, "internal_error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeSubmitter{err: tt.err}, &fakeStatus{})

			req := httptest.NewRequest(http.MethodPost, "/async/search", strings.NewReader(`{"ids":["X"]}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantCode, body["error"])
			if tt.retryAfter {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, body["message"], "10.0.0.1", "internal details stay in logs")
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	expiry := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)
	url := "https://bucket.example/H1.json?sig=1"
	reason := "export: search backend: boom"

	tests := []struct {
		name string
		job  *model.SearchJob
		want map[string]any
	}{
		{
			name: "running",
			job:  &model.SearchJob{JobHandle: "H1", Status: model.SearchJobStatusRunning},
			want: map[string]any{"searchId": "H1", "status": "running"},
		},
		{
			name: "complete",
			job:  &model.SearchJob{JobHandle: "H1", Status: model.SearchJobStatusComplete, DownloadURL: &url, URLExpiry: &expiry},
			want: map[string]any{"searchId": "H1", "status": "complete", "downloadUrl": url, "urlExpiry": "2024-01-01T13:00:00Z"},
		},
		{
			name: "error",
			job:  &model.SearchJob{JobHandle: "H1", Status: model.SearchJobStatusError, ErrorMessage: &reason},
			want: map[string]any{"searchId": "H1", "status": "error", "error": reason},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := &fakeStatus{job: tt.job}
			router := newTestRouter(&fakeSubmitter{}, status)

			req := httptest.NewRequest(http.MethodGet, "/async/status?searchId=H1", nil)
			req.Header.Set("X-Owner-Id", "U1")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, decodeBody(t, rec))
			assert.Equal(t, "U1", status.owner)
			assert.Equal(t, "H1", status.handle)
		})
	}
}

func TestGetStatus_NotFoundAndMissingHandle(t *testing.T) {
	router := newTestRouter(&fakeSubmitter{}, &fakeStatus{err: model.ErrSearchJobNotFound})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/async/status?searchId=H1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/async/status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_MethodsAndHealth(t *testing.T) {
	router := newTestRouter(&fakeSubmitter{}, &fakeStatus{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/async/search", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecover(t *testing.T) {
	h := Recover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/async/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
