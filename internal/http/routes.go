package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Tasks   TaskService
	APIKeys Authenticator
	// RootPath prefixes every API route, e.g. "/api/v1". Health checks are also served unprefixed.
	RootPath       string
	MaxUploadBytes int64
	// Readiness backs GET /readyz; an empty map always reports ready.
	Readiness map[string]ReadinessCheck
	Logger    *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()
	root := services.RootPath

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET "+root+"/healthcheck", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readinessHandler(services.Readiness))

	mux.Handle("GET "+root+"/models", http.HandlerFunc(modelsHandler))
	mux.Handle("GET "+root+"/languages", http.HandlerFunc(languagesHandler))

	tasks := &TranscribeHandlers{Svc: services.Tasks, MaxUploadBytes: services.MaxUploadBytes, Logger: logger}
	auth := RequireAPIKey(services.APIKeys, logger)
	mux.Handle("POST "+root+"/transcribe", auth(http.HandlerFunc(tasks.Submit)))
	mux.Handle("GET "+root+"/transcribe/{task_id}", auth(http.HandlerFunc(tasks.Get)))

	return Chain(mux, RequestID(), Logging(logger), Recover(logger))
}
