// Package api exposes the HTTP surface: per-organization login and
// callback endpoints, session refresh and logout, and the admin CRUD for
// SSO configurations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"

	"doorpasses/internal/audit"
	"doorpasses/internal/observability"
	"doorpasses/internal/sso"
	"doorpasses/internal/storage"
)

type apiError struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server wires the SSO service and stores into HTTP handlers.
type Server struct {
	mux     *http.ServeMux
	store   storage.Store
	svc     *sso.Service
	logger  observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger

	// adminToken guards the configuration endpoints. Empty disables them
	// entirely rather than leaving them open.
	adminToken string
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Store      storage.Store
	Service    *sso.Service
	Logger     observability.Logger
	Metrics    *observability.Metrics
	Audit      audit.Logger
	AdminToken string
}

// NewServer creates the HTTP server. A nil logger falls back to the
// default; a nil audit logger falls back to in-memory.
func NewServer(mux *http.ServeMux, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	auditLogger := opts.Audit
	if auditLogger == nil {
		auditLogger = audit.NewMemoryLogger()
	}
	return &Server{
		mux:        mux,
		store:      opts.Store,
		svc:        opts.Service,
		logger:     logger.WithComponent("api"),
		metrics:    opts.Metrics,
		audit:      auditLogger,
		adminToken: opts.AdminToken,
	}
}

// RegisterRoutes registers every route. Login endpoints carry per-IP rate
// limiting; admin endpoints require the admin bearer token.
func (s *Server) RegisterRoutes(loginLimit LoginRateLimitConfig) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	loginMW := LoginRateLimitMiddleware(loginLimit)
	s.mux.Handle("GET /auth/sso/{orgSlug}", loginMW(http.HandlerFunc(s.handleLogin)))
	s.mux.Handle("GET /auth/sso/{orgSlug}/callback", loginMW(http.HandlerFunc(s.handleCallback)))
	s.mux.HandleFunc("POST /auth/sso/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /auth/sso/logout", s.handleLogout)

	adminMW := AdminAuthMiddleware(s.adminToken, s.logger)
	s.mux.Handle("GET /api/v1/orgs/{orgSlug}/sso/configurations", adminMW(http.HandlerFunc(s.handleListConfigs)))
	s.mux.Handle("POST /api/v1/orgs/{orgSlug}/sso/configurations", adminMW(http.HandlerFunc(s.handleCreateConfig)))
	s.mux.Handle("GET /api/v1/orgs/{orgSlug}/sso/configurations/{id}", adminMW(http.HandlerFunc(s.handleGetConfig)))
	s.mux.Handle("PATCH /api/v1/orgs/{orgSlug}/sso/configurations/{id}", adminMW(http.HandlerFunc(s.handleUpdateConfig)))
	s.mux.Handle("DELETE /api/v1/orgs/{orgSlug}/sso/configurations/{id}", adminMW(http.HandlerFunc(s.handleDeleteConfig)))
	s.mux.Handle("POST /api/v1/orgs/{orgSlug}/sso/configurations/{id}/test", adminMW(http.HandlerFunc(s.handleTestConfig)))
	s.mux.Handle("GET /api/v1/orgs/{orgSlug}/audit", adminMW(http.HandlerFunc(s.handleListAudit)))
}

func (s *Server) writeErr(ctx context.Context, w http.ResponseWriter, code int, msg string, detail string) {
	fields := []any{
		"status", code,
		"error", msg,
	}
	if detail != "" {
		fields = append(fields, "detail", detail)
	}
	if code >= 500 {
		s.logger.ErrorContext(ctx, "request failed", fields...)
		sentry.CaptureMessage(fmt.Sprintf("HTTP %d: %s (detail: %s)", code, msg, detail))
	} else {
		s.logger.WarnContext(ctx, "request failed", fields...)
	}
	writeJSON(w, code, apiError{Error: msg, Detail: detail})
}

// writeStoreErr maps a storage-layer error onto an HTTP status using the
// package sentinels, falling back to 500 for anything unrecognized.
func (s *Server) writeStoreErr(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeErr(ctx, w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, storage.ErrDuplicateConfig):
		s.writeErr(ctx, w, http.StatusConflict, storage.ErrDuplicateConfig.Error(), "")
	case errors.Is(err, storage.ErrConflict):
		s.writeErr(ctx, w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, storage.ErrValidation):
		s.writeErr(ctx, w, http.StatusBadRequest, err.Error(), "")
	default:
		s.writeErr(ctx, w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// orgFromPath loads the organization named in the route, writing the error
// response itself when the lookup fails.
func (s *Server) orgFromPath(w http.ResponseWriter, r *http.Request) (orgSlug string, ok bool) {
	slug := r.PathValue("orgSlug")
	if slug == "" {
		s.writeErr(r.Context(), w, http.StatusBadRequest, "organization is required", "")
		return "", false
	}
	return slug, true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) { s.status = code; s.ResponseWriter.WriteHeader(code) }
