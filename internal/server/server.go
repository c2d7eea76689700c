// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/codekarta/filedock/internal/access"
	"github.com/codekarta/filedock/internal/auth"
	"github.com/codekarta/filedock/internal/events"
	"github.com/codekarta/filedock/internal/logging"
	"github.com/codekarta/filedock/internal/metrics"
	"github.com/codekarta/filedock/internal/tenant"
	"github.com/codekarta/filedock/internal/vfs"
	"github.com/codekarta/filedock/pkg/protocol"
)

// Server is the HTTP server.
type Server struct {
	ops            *vfs.Ops
	auth           *auth.Auth
	gate           access.Gate
	broadcaster    *events.Broadcaster
	maxUploadSize  int64
	requestTimeout time.Duration
}

// New creates a server over the storage operations layer.
func New(ops *vfs.Ops, authHandler *auth.Auth, broadcaster *events.Broadcaster, maxUploadSize int64, requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Server{
		ops:            ops,
		auth:           authHandler,
		broadcaster:    broadcaster,
		maxUploadSize:  maxUploadSize,
		requestTimeout: requestTimeout,
	}
}

// Handler returns the HTTP handler with auth, logging, and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/token", s.handleLogin)

	// Download serves public files without a token; TryClaims picks up
	// a token when one is present.
	mux.HandleFunc("GET /api/v1/download", s.handleDownload)

	// Protected endpoints
	protected := http.NewServeMux()

	protected.HandleFunc("GET /api/v1/auth/me", s.handleMe)
	protected.HandleFunc("GET /api/v1/tenants", s.withTimeout(s.handleTenants))

	protected.HandleFunc("GET /api/v1/files", s.withTimeout(s.handleList))
	protected.HandleFunc("GET /api/v1/search", s.withTimeout(s.handleSearch))

	protected.HandleFunc("POST /api/v1/upload", s.handleUpload)
	protected.HandleFunc("POST /api/v1/folder", s.withTimeout(s.handleCreateFolder))
	protected.HandleFunc("POST /api/v1/file", s.withTimeout(s.handleCreateFile))
	protected.HandleFunc("POST /api/v1/rename", s.withTimeout(s.handleRename))
	protected.HandleFunc("POST /api/v1/move", s.withTimeout(s.handleMove))
	protected.HandleFunc("POST /api/v1/duplicate", s.withTimeout(s.handleDuplicate))
	protected.HandleFunc("POST /api/v1/access-level", s.withTimeout(s.handleSetAccessLevel))
	protected.HandleFunc("DELETE /api/v1/delete", s.withTimeout(s.handleDelete))

	// SSE endpoint (long-lived, no timeout)
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(mux))
}

// withTimeout bounds a handler's work with the per-request timeout.
func (s *Server) withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// tenantFor resolves the tenant a request operates on. A superadmin may
// name any tenant with the tenantId query parameter; everyone else is
// locked to the tenant in their claims.
func (s *Server) tenantFor(r *http.Request, claims *auth.Claims) (string, error) {
	requested := r.URL.Query().Get("tenantId")
	if claims.IsSuperadmin() {
		if requested == "" {
			return "", fmt.Errorf("tenantId required for superadmin requests")
		}
		return requested, nil
	}
	if requested != "" && requested != claims.TenantID {
		return "", errForbidden
	}
	if claims.TenantID == "" {
		return "", errForbidden
	}
	return claims.TenantID, nil
}

var errForbidden = errors.New("access denied")

// kindStatus maps a storage error kind to an HTTP status.
func kindStatus(kind vfs.Kind) int {
	switch kind {
	case vfs.KindNotFound:
		return http.StatusNotFound
	case vfs.KindPermission, vfs.KindTraversal:
		return http.StatusForbidden
	case vfs.KindConflict:
		return http.StatusConflict
	case vfs.KindInvalidQuery:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders a storage error as JSON with the mapped status.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	var se *vfs.Error
	if errors.As(err, &se) {
		code := kindStatus(se.Kind)
		if code == http.StatusInternalServerError {
			logging.Error("internal storage error", zap.Error(err))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{
			Error: se.Kind.String(),
			Code:  code,
			Op:    se.Op,
			Path:  se.Path,
		})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.sendError(w, http.StatusGatewayTimeout, "request timed out")
		return
	}
	logging.Error("internal error", zap.Error(err))
	s.sendError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// ─── Auth ───────────────────────────────────────────────────────────────────

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, claims, err := s.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.sendError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logging.Error("authenticate", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.LoginResponse{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		Principal: protocol.PrincipalInfo{
			Username: claims.Username,
			Role:     claims.Role,
			TenantID: claims.TenantID,
		},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	s.sendJSON(w, http.StatusOK, protocol.PrincipalInfo{
		Username: claims.Username,
		Role:     claims.Role,
		TenantID: claims.TenantID,
	})
}

// ─── Tenants ────────────────────────────────────────────────────────────────

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	tenants, err := s.ops.Resolver().Registry().List(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}
	if !claims.IsSuperadmin() {
		visible := tenants[:0]
		for _, t := range tenants {
			if t.ID == claims.TenantID {
				visible = append(visible, t)
			}
		}
		tenants = visible
	}
	if tenants == nil {
		tenants = []tenant.Tenant{}
	}
	s.sendJSON(w, http.StatusOK, tenants)
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	claims := auth.GetClaims(r.Context())
	filter := claims.TenantID
	if claims.IsSuperadmin() {
		filter = ""
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe(filter)
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes a change event if a broadcaster is attached.
func (s *Server) publishEvent(eventType, tenantID, path, newPath string, size int64) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:     eventType,
		TenantID: tenantID,
		Path:     path,
		NewPath:  newPath,
		Size:     size,
	})
}
