// Package api exposes the operator surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/scheduler"
	"marketsync/internal/service"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Service is what the handlers call into.
type Service interface {
	GetTaskStatus(ctx context.Context, task string) (*models.SyncTaskInfo, error)
	GetAllTaskStatuses(ctx context.Context) ([]*models.SyncTaskInfo, error)
	TriggerOnDemand(ctx context.Context, target string) (*models.TaskHandle, error)
	RunTask(ctx context.Context, name string) error
	RunHealthCheck(ctx context.Context) ([]models.HealthCheckResult, error)
	ListErrors(ctx context.Context, task string, maxRetryCount *int) ([]models.SyncError, error)
	ErrorStats(ctx context.Context, task string) (*models.SyncErrorStats, error)
}

type HTTPServer struct {
	cfg    config.APIConfig
	svc    Service
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Service, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{cfg: cfg, svc: svc, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/tasks", srv.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{name}", srv.handleGetTask)
	mux.HandleFunc("POST /api/v1/tasks/{name}/run", srv.handleRunTask)
	mux.HandleFunc("POST /api/v1/sync/{target}", srv.handleSyncTarget)
	mux.HandleFunc("POST /api/v1/health/run", srv.handleRunHealth)
	mux.HandleFunc("GET /api/v1/errors", srv.handleListErrors)

	port := cfg.Port
	if port == 0 {
		port = 8080
	}
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		// a manual health check runs synchronously
		WriteTimeout: 5 * time.Minute,
	}
	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler is the fully wrapped handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.GetAllTaskStatuses(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.GetTaskStatus(r.Context(), r.PathValue("name"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *HTTPServer) handleRunTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.svc.RunTask(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"task": name, "status": models.TaskStatusRunning})
	case errors.Is(err, scheduler.ErrUnknownTask):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrTaskRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.internalError(w, r, err)
	}
}

func (s *HTTPServer) handleSyncTarget(w http.ResponseWriter, r *http.Request) {
	handle, err := s.svc.TriggerOnDemand(r.Context(), r.PathValue("target"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, handle)
	case errors.Is(err, service.ErrInvalidTarget):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.internalError(w, r, err)
	}
}

func (s *HTTPServer) handleRunHealth(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.RunHealthCheck(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *HTTPServer) handleListErrors(w http.ResponseWriter, r *http.Request) {
	task := strings.TrimSpace(r.URL.Query().Get("task"))

	var maxRetry *int
	if raw := strings.TrimSpace(r.URL.Query().Get("max_retry")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "max_retry must be a non-negative integer")
			return
		}
		maxRetry = &n
	}

	errs, err := s.svc.ListErrors(r.Context(), task, maxRetry)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	stats, err := s.svc.ErrorStats(r.Context(), task)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs, "stats": stats})
}

func (s *HTTPServer) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
