package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"contentflow/internal/api"
	"contentflow/internal/config"
	"contentflow/internal/engine"
	"contentflow/internal/logging"
	"contentflow/internal/queue"
	"contentflow/internal/services"
	"contentflow/internal/webhook"
)

// maxBodyBytes bounds request bodies on every route.
const maxBodyBytes = 1 << 20

type apiServer struct {
	bind        string
	token       string
	cronSecret  string
	logger      *slog.Logger
	daemon      *Daemon
	workflowSvc *api.WorkflowService
	handler     http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:        strings.TrimSpace(cfg.API.Bind),
		token:       cfg.API.Token,
		cronSecret:  cfg.Recovery.Secret,
		logger:      logging.NewComponentLogger(logger, "api-server"),
		daemon:      d,
		workflowSvc: api.NewWorkflowService(d.deps.Store),
	}
	limiter := newIPRateLimiter(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst)

	mux := http.NewServeMux()
	mux.Handle("POST /api/workflows", limiter.middleware(srv.authenticated(srv.handleAdmit)))
	mux.Handle("GET /api/workflows", srv.authenticated(srv.handleList))
	mux.Handle("GET /api/workflows/{id}", srv.authenticated(srv.handleDescribe))
	mux.Handle("POST /api/workflows/{id}/cancel", srv.authenticated(srv.handleCancel))
	mux.Handle("POST /api/workflows/{id}/reset", srv.authenticated(srv.handleReset))
	mux.Handle("POST /api/webhooks/{stage}", limiter.middleware(http.HandlerFunc(srv.handleWebhook)))
	mux.Handle("POST /api/recovery/sweep", srv.cronAuthenticated(srv.handleSweep))
	mux.Handle("GET /api/recovery/sweep", srv.cronAuthenticated(srv.handleSweep))
	mux.Handle("GET /api/status", srv.authenticated(srv.handleStatus))
	mux.HandleFunc("GET /healthz", srv.handleHealthz)

	srv.handler = requestIDMiddleware(srv.logger, mux)
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled; api.bind is empty")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req api.AdmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.daemon.deps.Scheduler.Admit(r.Context(), req.Brand, req.Content)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.ActionResponse{WorkflowID: rec.ID, Status: string(rec.Status)})
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	statuses, err := api.ParseStatuses(query["status"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.workflowSvc.List(r.Context(), strings.TrimSpace(query.Get("brand")), statuses...)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkflowListResponse{Items: items})
}

func (s *apiServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	item, err := s.workflowSvc.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	rec, err := s.daemon.deps.Engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{WorkflowID: rec.ID, Status: string(rec.Status)})
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	rec, err := s.daemon.deps.Engine.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActionResponse{WorkflowID: rec.ID, Status: string(rec.Status)})
}

func (s *apiServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	st, ok := queue.ParseStage(r.PathValue("stage"))
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "unknown stage")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	ctx := services.WithStage(r.Context(), string(st))
	result, err := s.daemon.deps.Ingestor.Ingest(ctx, st, webhook.RawEvent{Body: body, Header: r.Header})
	switch {
	case errors.Is(err, webhook.ErrUnauthenticated):
		s.writeError(w, r, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, webhook.ErrMalformed):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, webhook.ErrNotReady):
		w.Header().Set("Retry-After", "5")
		s.writeError(w, r, http.StatusServiceUnavailable, "job not recorded yet; retry")
	case err != nil:
		s.writeError(w, r, http.StatusInternalServerError, "event not processed")
	default:
		s.writeJSON(w, http.StatusOK, api.FromWebhookResult(result))
	}
}

func (s *apiServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.deps.Sweeper.Sweep(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSweepReport(report))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health, err := s.daemon.deps.Store.CheckHealth(r.Context())
	if err != nil || !health.DatabaseReadable || !health.IntegrityCheck {
		dto := api.FromDatabaseHealth(health)
		if err != nil {
			dto.Error = err.Error()
		}
		s.writeJSON(w, http.StatusServiceUnavailable, dto)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromDatabaseHealth(health))
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrTerminal),
		errors.Is(err, engine.ErrNotTerminal),
		errors.Is(err, queue.ErrInvalidTransition),
		errors.Is(err, queue.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
		message = "internal error"
	}
	s.writeError(w, r, status, message)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, _ *http.Request, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
