package httpx

import (
	"io"
	"net/http"
)

const (
	healthPath     = "/healthz"
	healthResponse = `{"status":"ok"}`
)

// healthHandler answers liveness probes without touching any dependency.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, healthResponse)
}
