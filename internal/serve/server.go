package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/tracker/internal/aggregate"
	"github.com/marcus/tracker/internal/auth"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/service"
)

// Config holds the configuration for the HTTP server.
type Config struct {
	Addr            string
	CORSOrigin      string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// Deps are the components the handlers call into.
type Deps struct {
	DB        *db.DB
	Service   *service.Service
	Aggregate *aggregate.Engine
	Auth      *auth.Provider
}

// Server is the tracker HTTP server.
type Server struct {
	db     *db.DB
	svc    *service.Service
	agg    *aggregate.Engine
	auth   *auth.Provider
	config Config
	mux    *http.ServeMux
	http   *http.Server
	addr   net.Addr
}

// NewServer creates a new Server and registers all routes.
func NewServer(deps Deps, config Config) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 10 << 20
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		db:     deps.DB,
		svc:    deps.Service,
		agg:    deps.Aggregate,
		auth:   deps.Auth,
		config: config,
		mux:    http.NewServeMux(),
	}

	s.registerRoutes()
	return s
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)

	// Final order (outermost to innermost):
	//   recovery -> request id -> logging -> CORS -> auth -> handler
	h = s.authMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.requestIDMiddleware(h)
	h = s.recoveryMiddleware(h)

	return h
}

// ListenAndServe starts the HTTP server on the configured address and
// shuts it down gracefully when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	s.addr = ln.Addr()

	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("listening", "addr", s.addr.String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server. If the server has not been
// started, this is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ============================================================================
// Route Registration
// ============================================================================

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Identity
	s.mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /v1/auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /v1/auth/profile", s.handleGetProfile)
	s.mux.HandleFunc("PATCH /v1/auth/profile", s.handleUpdateProfile)
	s.mux.HandleFunc("GET /v1/users", s.handleListUsers)

	// Projects
	s.mux.HandleFunc("GET /v1/projects", s.handleListProjects)
	s.mux.HandleFunc("POST /v1/projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /v1/projects/{id}", s.handleGetProject)
	s.mux.HandleFunc("PATCH /v1/projects/{id}", s.handleUpdateProject)
	s.mux.HandleFunc("DELETE /v1/projects/{id}", s.handleDeleteProject)
	s.mux.HandleFunc("GET /v1/projects/{id}/analytics", s.handleProjectAnalytics)
	s.mux.HandleFunc("GET /v1/projects/{id}/activities", s.handleProjectActivities)

	// Issues
	s.mux.HandleFunc("GET /v1/projects/{id}/issues", s.handleListIssues)
	s.mux.HandleFunc("POST /v1/projects/{id}/issues", s.handleCreateIssue)
	s.mux.HandleFunc("POST /v1/issues/bulk-update", s.handleBulkUpdate)
	s.mux.HandleFunc("GET /v1/issues/{id}", s.handleGetIssue)
	s.mux.HandleFunc("PATCH /v1/issues/{id}", s.handleUpdateIssue)
	s.mux.HandleFunc("DELETE /v1/issues/{id}", s.handleDeleteIssue)
	s.mux.HandleFunc("GET /v1/issues/{id}/activities", s.handleIssueActivities)

	// Comments
	s.mux.HandleFunc("GET /v1/issues/{id}/comments", s.handleListComments)
	s.mux.HandleFunc("POST /v1/issues/{id}/comments", s.handleCreateComment)
	s.mux.HandleFunc("GET /v1/comments/{id}", s.handleGetComment)
	s.mux.HandleFunc("PATCH /v1/comments/{id}", s.handleUpdateComment)
	s.mux.HandleFunc("DELETE /v1/comments/{id}", s.handleDeleteComment)

	// Labels
	s.mux.HandleFunc("GET /v1/labels", s.handleListLabels)
	s.mux.HandleFunc("POST /v1/labels", s.handleCreateLabel)
	s.mux.HandleFunc("PATCH /v1/labels/{id}", s.handleUpdateLabel)
	s.mux.HandleFunc("DELETE /v1/labels/{id}", s.handleDeleteLabel)

	// Attachments
	s.mux.HandleFunc("GET /v1/issues/{id}/attachments", s.handleListAttachments)
	s.mux.HandleFunc("POST /v1/issues/{id}/attachments", s.handleUploadAttachment)
	s.mux.HandleFunc("GET /v1/attachments/{id}/content", s.handleDownloadAttachment)
	s.mux.HandleFunc("DELETE /v1/attachments/{id}", s.handleDeleteAttachment)

	// Aggregates
	s.mux.HandleFunc("GET /v1/search", s.handleSearch)
	s.mux.HandleFunc("GET /v1/dashboard/stats", s.handleDashboard)

	// Administration
	s.mux.HandleFunc("GET /v1/admin/issues/{id}", s.handleAdminGetIssue)
	s.mux.HandleFunc("GET /v1/admin/projects/{id}", s.handleAdminGetProject)
}

// ============================================================================
// Request Context
// ============================================================================

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userKey
	tokenKey
)

// RequestID returns the request id assigned by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// principal returns the authenticated principal. Routes behind the auth
// middleware always have one.
func principal(r *http.Request) models.Principal {
	if u, ok := r.Context().Value(userKey).(*models.User); ok {
		return u.Principal()
	}
	return models.Principal{}
}

func currentUser(r *http.Request) *models.User {
	u, _ := r.Context().Value(userKey).(*models.User)
	return u
}

// ============================================================================
// Middleware
// ============================================================================

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

// recoveryMiddleware catches panics, logs the stack trace, and returns a 500
// error envelope.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				slog.Error("panic recovered",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestID(r.Context()),
					"stack", string(stack),
				)
				WriteError(w, ErrInternal, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags each request with an id, reusing a well-formed
// X-Request-ID from the client.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// loggingMiddleware logs each request with method, path, status code, and
// duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sr, r)
		slog.Info("req",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.code,
			"dur", time.Since(start).String(),
			"request_id", RequestID(r.Context()),
		)
	})
}

// corsMiddleware handles CORS preflight and sets response headers when
// CORSOrigin is configured. If no CORS origin is configured, the middleware
// is a no-op pass-through.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.CORSOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if s.config.CORSOrigin != "*" && s.config.CORSOrigin != origin {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// publicRoutes skip authentication.
var publicRoutes = map[string]bool{
	"GET /health":            true,
	"POST /v1/auth/register": true,
	"POST /v1/auth/login":    true,
}

// authMiddleware resolves the Bearer token to a user. Every route except
// the public ones requires a valid key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicRoutes[r.Method+" "+r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteError(w, ErrUnauthorized, "missing authorization header", http.StatusUnauthorized)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			WriteError(w, ErrUnauthorized, "invalid authorization format", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		user, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				WriteError(w, ErrUnauthorized, "invalid token", http.StatusUnauthorized)
				return
			}
			writeServiceError(w, r, "authenticate", err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
