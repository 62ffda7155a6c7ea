package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/laviprog/speech-api/config"
	httpx "github.com/laviprog/speech-api/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	// DB backs the postgres readiness check when set.
	DB     *sql.DB
	Logger *slog.Logger
}

// StartHTTPServer creates the HTTP server and starts serving in the background.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) (*http.Server, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, errors.New("http server config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config

	handler := httpx.NewRouter(httpx.RouterServices{
		Tasks:          cfg.Services.Dispatch,
		APIKeys:        cfg.Services.APIKeys,
		RootPath:       appCfg.HTTP.RootPath,
		MaxUploadBytes: appCfg.Upload.MaxBytes,
		Readiness:      readinessChecks(cfg),
		Logger:         logger,
	})

	addr := appCfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if appCfg.HTTP.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, appCfg.HTTP.MaxConnections)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads can be large, so the body read is bounded by MaxBytes instead.
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", ln.Addr().String(), "max_connections", appCfg.HTTP.MaxConnections)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server, nil
}

func readinessChecks(cfg *HTTPServerConfig) map[string]httpx.ReadinessCheck {
	checks := make(map[string]httpx.ReadinessCheck, 2)
	if cfg.DB != nil {
		checks["postgres"] = cfg.DB.PingContext
	}
	if cfg.Services.Queue != nil {
		checks["queue"] = cfg.Services.Queue.Ping
	}
	return checks
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	if server == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("HTTP server stopped")
	return nil
}
