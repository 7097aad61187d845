package httpx

import (
	"log/slog"
	"net/http"
)

const defaultMaxBodyBytes = 1 << 20

// RouterServices groups the services and settings the router exposes.
type RouterServices struct {
	Submitter    SearchSubmitter
	Status       SearchStatusResolver
	OwnerHeader  string
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewRouter registers the search export routes.
func NewRouter(services RouterServices) http.Handler {
	if services.OwnerHeader == "" {
		services.OwnerHeader = "X-Owner-ID"
	}
	if services.MaxBodyBytes <= 0 {
		services.MaxBodyBytes = defaultMaxBodyBytes
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, healthHandler)

	h := &SearchHandlers{
		Submitter:    services.Submitter,
		Status:       services.Status,
		OwnerHeader:  services.OwnerHeader,
		MaxBodyBytes: services.MaxBodyBytes,
		Logger:       services.Logger,
	}
	if h.Submitter != nil {
		mux.HandleFunc("POST /async/search", h.Submit)
	}
	if h.Status != nil {
		mux.HandleFunc("GET /async/status", h.GetStatus)
	}

	return mux
}
