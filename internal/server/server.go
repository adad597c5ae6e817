package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/helioscrm/helios/internal/handler"
	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/server/middleware"
	"github.com/helioscrm/helios/internal/service"
	"github.com/helioscrm/helios/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	IPRatePerMinute int
	SessionTTL      time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		IPRatePerMinute: 600,
		SessionTTL:      24 * time.Hour,
	}
}

// Server is the top-level HTTP server for Helios. It owns the Chi router
// and the services behind both API surfaces: the admin key-management API
// and the key-authorized partner API.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	auth       *service.AuthService
	keys       *service.KeyService
	sessions   *service.SessionService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, auth *service.AuthService, keys *service.KeyService, sessions *service.SessionService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		auth:     auth,
		keys:     keys,
		sessions: sessions,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if s.cfg.IPRatePerMinute > 0 {
		r.Use(middleware.IPRateLimit(s.cfg.IPRatePerMinute))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Window", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {

		// System APIs (admin management)
		r.Route("/system", func(r chi.Router) {
			sysHandler := handler.NewSystemHandler(s.keys, s.sessions, s.store, s.cfg.SessionTTL)

			// Login is unauthenticated and tightly throttled; logout is
			// client-side for stateless tokens.
			r.With(middleware.LoginRateLimit(10)).Post("/admin/session", sysHandler.Login)
			r.Delete("/admin/session", sysHandler.Logout)

			// Everything else needs an admin session.
			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(s.sessions))

				r.Get("/admin", sysHandler.ListAdmins)
				r.Post("/admin", sysHandler.CreateAdmin)

				r.Get("/api-key", sysHandler.ListAPIKeys)
				r.Post("/api-key", sysHandler.CreateAPIKey)
				r.Get("/api-key/{keyId}", sysHandler.GetAPIKey)
				r.Patch("/api-key/{keyId}", sysHandler.UpdateAPIKey)
				r.Delete("/api-key/{keyId}", sysHandler.RevokeAPIKey)
				r.Post("/api-key/{keyId}/rotate", sysHandler.RotateAPIKey)
				r.Get("/api-key/{keyId}/usage", sysHandler.GetAPIKeyUsage)
			})
		})

		// Partner APIs, gated per route by scope. The middleware enforces
		// status, allow-list, scope, and quota before the handler runs.
		leadHandler := handler.NewLeadHandler(s.store)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(s.auth, model.ScopeReadLeads))
			r.Get("/leads", leadHandler.ListLeads)
			r.Get("/leads/{leadId}", leadHandler.GetLead)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(s.auth, model.ScopeWriteLeads))
			r.Post("/leads", leadHandler.CreateLead)
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the database is
// reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","checks":{"database":"` + "error" + `"}}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","checks":{"database":"ok"}}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
