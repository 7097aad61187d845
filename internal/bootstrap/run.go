package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-export-api/config"
)

// ServiceOrchestrationConfig contains dependencies for running the service.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
	// Listener overrides HTTP.Addr when set.
	Listener net.Listener
}

// RunServicesWithShutdown serves HTTP and runs the reaper until ctx ends, a signal arrives or either
// fails.
// Shutdown stops accepting requests first, then drains in-flight exports, then flushes telemetry.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Services == nil {
		return errors.New("service orchestration config is incomplete")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := NewHTTPServer(HTTPServerConfig{
		HTTP:     cfg.Config.HTTP,
		Services: cfg.Services,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Listener != nil {
			logger.InfoContext(gctx, "starting HTTP server", "addr", cfg.Listener.Addr().String())
			err = server.Serve(cfg.Listener)
		} else {
			logger.InfoContext(gctx, "starting HTTP server", "addr", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if reaper := cfg.Services.Reaper; reaper != nil {
		g.Go(func() error {
			if err := reaper.Run(gctx); err != nil {
				return fmt.Errorf("reaper: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down services...")
		return gracefulStop(shutdownConfig{
			server:   server,
			services: cfg.Services,
			cfg:      cfg.Config,
			logger:   logger,
		})
	})

	return g.Wait()
}

type shutdownConfig struct {
	server   *http.Server
	services *ServiceContainer
	cfg      *config.AppConfig
	logger   *slog.Logger
}

// gracefulStop runs on a fresh context because the service context is already canceled.
func gracefulStop(sc shutdownConfig) error {
	var errs []error

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), sc.cfg.HTTP.ShutdownTimeout)
	defer cancelHTTP()
	if err := sc.server.Shutdown(httpCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	} else {
		sc.logger.Info("HTTP server stopped")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), sc.cfg.Export.DrainTimeout)
	defer cancelDrain()
	if err := sc.services.Pipeline.Drain(drainCtx); err != nil {
		// Rows left running are failed by the reaper after Reaper.RunningMaxAge.
		errs = append(errs, err)
	} else {
		sc.logger.Info("export pipeline drained")
	}

	obsCtx, cancelObs := context.WithTimeout(context.Background(), sc.cfg.HTTP.ShutdownTimeout)
	defer cancelObs()
	if err := sc.services.Observability.Close(obsCtx); err != nil {
		errs = append(errs, fmt.Errorf("close observability: %w", err))
	}

	return errors.Join(errs...)
}
