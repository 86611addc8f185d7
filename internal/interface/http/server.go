// Package http exposes the progress engine over a JSON REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/coursegate/progress-engine/config"
	"github.com/coursegate/progress-engine/internal/application/command"
	"github.com/coursegate/progress-engine/internal/application/query"
	"github.com/coursegate/progress-engine/internal/interface/http/handlers"
	"github.com/coursegate/progress-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64

	// AllowedOrigins - allowed origins for CORS.
	AllowedOrigins []string
	CORSMaxAge     int

	// EnableProfiling mounts chi's pprof routes under /debug.
	EnableProfiling bool

	Identity       handlers.IdentityConfig
	AdminKeyHashes []string

	// HeartbeatIntervalSeconds is advertised to clients in heartbeat responses.
	HeartbeatIntervalSeconds int

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:                     "0.0.0.0",
		Port:                     8080,
		ReadTimeout:              10 * time.Second,
		WriteTimeout:             15 * time.Second,
		IdleTimeout:              60 * time.Second,
		RequestTimeout:           10 * time.Second,
		MaxHeaderBytes:           1 << 20,
		MaxBodyBytes:             1 << 20,
		AllowedOrigins:           []string{"*"},
		CORSMaxAge:               300,
		Identity:                 handlers.IdentityConfig{UserHeader: "X-User-ID"},
		HeartbeatIntervalSeconds: 60,
		Version:                  "v1",
	}
}

// ConfigFrom builds the server config from application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.Host = cfg.HTTP.Host
	c.Port = cfg.HTTP.Port
	c.ReadTimeout = cfg.HTTP.ReadTimeout
	c.WriteTimeout = cfg.HTTP.WriteTimeout
	c.IdleTimeout = cfg.HTTP.IdleTimeout
	c.RequestTimeout = cfg.HTTP.RequestTimeout
	c.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	c.AllowedOrigins = cfg.HTTP.CORSOrigins
	c.CORSMaxAge = cfg.HTTP.CORSMaxAgeSecs
	c.EnableProfiling = cfg.HTTP.EnableProfiling
	c.Identity = handlers.IdentityConfig{
		JWTSecret:  cfg.Auth.JWTSecret,
		JWTIssuer:  cfg.Auth.JWTIssuer,
		UserHeader: cfg.Auth.UserHeader,
	}
	c.AdminKeyHashes = cfg.Auth.AdminKeyHashes
	c.HeartbeatIntervalSeconds = cfg.Progress.HeartbeatIntervalSeconds
	c.Version = cfg.App.Version
	return c
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command Handlers (CQRS Write Side)
	EnrollLearner        *command.EnrollLearnerHandler
	ApplyHeartbeat       *command.ApplyHeartbeatHandler
	CompleteLesson       *command.CompleteLessonHandler
	SaveDraftAnswer      *command.SaveDraftAnswerHandler
	SubmitKnowledgeCheck *command.SubmitKnowledgeCheckHandler

	// Query Handlers (CQRS Read Side)
	CheckLessonAccess   *query.CheckLessonAccessHandler
	GetNavigation       *query.GetNavigationHandler
	GetCourseProgress   *query.GetCourseProgressHandler
	GetSessionState     *query.GetSessionStateHandler
	GetDashboardMetrics *query.GetDashboardMetricsHandler

	// RemediationLinks gates remediation references in session results.
	RemediationLinks command.FeatureGate

	// HeartbeatLimiter throttles heartbeats per learner; nil disables it.
	HeartbeatLimiter handlers.Limiter

	HealthChecker handlers.HealthChecker

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.With(logger.Component("http"))

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              config.Address(),
		Handler:           s.router,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the root handler; used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(handlers.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handlers.Logging(s.logger))
	r.Use(handlers.Recovery(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.AdminKeyHeader, handlers.RequestIDHeader, s.userHeader()},
		ExposedHeaders:   []string{handlers.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           s.config.CORSMaxAge,
	}))
	r.Use(handlers.SecurityHeadersMiddleware)
	r.Use(handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))
	r.Use(handlers.TimeoutMiddleware(s.config.RequestTimeout))

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	if s.config.EnableProfiling {
		r.Mount("/debug", middleware.Profiler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, r, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Learner Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Route("/api/v1/courses/{course}", func(r chi.Router) {
		r.Use(handlers.Identity(s.config.Identity))

		r.Post("/enroll", s.handleEnroll)
		r.Get("/navigation", s.handleNavigation)
		r.Get("/progress", s.handleCourseProgress)

		r.Route("/modules/{module}", func(r chi.Router) {
			r.Route("/lessons/{lesson}", func(r chi.Router) {
				r.With(handlers.RateLimit(s.deps.HeartbeatLimiter, "heartbeat", s.logger)).
					Post("/heartbeat", s.handleHeartbeat)
				r.Post("/complete", s.handleCompleteLesson)
				r.Get("/access", s.handleLessonAccess)
			})

			r.Get("/knowledge-check", s.handleSessionState)
			r.Put("/knowledge-check/answers/{question}", s.handleSaveDraftAnswer)
			r.Post("/knowledge-check/submit", s.handleSubmitKnowledgeCheck)
		})
	})

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Admin Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	admin := handlers.NewAdminKeyAuth(s.config.AdminKeyHashes)
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(admin.Middleware)
		r.Get("/dashboard", s.handleDashboard)
	})

	return r
}

func (s *Server) userHeader() string {
	if s.config.Identity.UserHeader == "" {
		return "X-User-ID"
	}
	return s.config.Identity.UserHeader
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
