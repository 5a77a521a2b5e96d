package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/proficienthub/mockexam-engine/internal/cache"
	"github.com/proficienthub/mockexam-engine/internal/config"
	"github.com/proficienthub/mockexam-engine/internal/exam"
	"github.com/proficienthub/mockexam-engine/internal/examtypes"
	"github.com/proficienthub/mockexam-engine/internal/storage"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	orchestrator   *exam.Orchestrator
	registry       *examtypes.Registry
	repo           storage.Repository
	cache          *cache.Cache // nil when the cache is disabled
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server. cache may be nil.
func NewServer(
	cfg config.ServerConfig,
	orchestrator *exam.Orchestrator,
	registry *examtypes.Registry,
	repo storage.Repository,
	c *cache.Cache,
) *Server {
	s := &Server{
		config:         cfg,
		orchestrator:   orchestrator,
		registry:       registry,
		repo:           repo,
		cache:          c,
		authMiddleware: NewAuthMiddleware(repo),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// API v1 routes (protected by authentication)
	r.Route("/api/v1", func(r chi.Router) {
		// Apply authentication middleware to all /api/v1/* routes
		r.Use(s.authMiddleware.Authenticate)

		// Exam type catalog
		r.With(s.authMiddleware.RequirePermission("exams:read")).Get("/exam-types", s.handleListExamTypes)

		// Credits and dashboard
		r.With(s.authMiddleware.RequirePermission("credits:read")).Get("/credits", s.handleGetCredits)
		r.With(s.authMiddleware.RequirePermission("attempts:read")).Get("/dashboard", s.handleGetDashboard)

		// Attempts
		r.Route("/attempts", func(r chi.Router) {
			r.With(s.authMiddleware.RequirePermission("attempts:read")).Get("/", s.handleListAttempts)
			r.With(s.authMiddleware.RequirePermission("attempts:write")).Post("/", s.handleCreateAttempt)

			r.Route("/{id}", func(r chi.Router) {
				r.With(s.authMiddleware.RequirePermission("attempts:read")).Get("/", s.handleGetAttempt)
				r.With(s.authMiddleware.RequirePermission("attempts:read")).Get("/watch", s.handleWatchAttempt)
				r.With(s.authMiddleware.RequirePermission("attempts:write")).Post("/sections/{type}/start", s.handleStartSection)
				r.With(s.authMiddleware.RequirePermission("attempts:write")).Post("/sections/{type}/complete", s.handleCompleteSection)
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
