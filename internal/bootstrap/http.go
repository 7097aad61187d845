package bootstrap

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/target/mmk-export-api/config"
	httpx "github.com/target/mmk-export-api/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	HTTP     config.HTTPConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// NewHTTPServer builds the HTTP server without starting it.
func NewHTTPServer(cfg HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	services := httpx.RouterServices{
		OwnerHeader:  cfg.HTTP.OwnerHeader,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       logger,
	}
	if cfg.Services != nil {
		services.Submitter = cfg.Services.Submit
		services.Status = cfg.Services.Status
	}

	// Order: Recover -> Logging -> Router
	h := httpx.NewRouter(services)
	h = httpx.Logging(logger)(h)
	h = httpx.Recover(logger)(h)

	// Guard against empty addr to avoid listening on Go default
	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}
