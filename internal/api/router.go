package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/snbhowmik/care-x/internal/access"
	"github.com/snbhowmik/care-x/internal/audit"
	"github.com/snbhowmik/care-x/internal/config"
	"github.com/snbhowmik/care-x/internal/store"
)

// Server represents the API server
type Server struct {
	config   *config.Config
	router   chi.Router
	handlers *Handlers
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, facade *access.Facade, auditLog *audit.Logger, documents store.DocumentStore) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		handlers: NewHandlers(facade, auditLog, documents),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)

	s.router.Route("/api/v1/carex", func(r chi.Router) {
		if s.config.Server.JWTSecret != "" {
			r.Use(AuthMiddleware(s.config))
		}

		// Access control
		r.Route("/access", func(r chi.Router) {
			r.Get("/{subject}/grantees", s.handlers.GetGrantees)
			r.Get("/{subject}/documents", s.handlers.GetVisibleDocuments)
			r.Post("/grant", s.handlers.Grant)
			r.Post("/revoke", s.handlers.Revoke)
			r.Post("/retry-compensation", s.handlers.RetryCompensation)
		})

		// Vital records and integrity
		r.Route("/records", func(r chi.Router) {
			r.Post("/", s.handlers.CreateVitalRecord)
			r.Post("/verify", s.handlers.VerifyRecord)
			r.Get("/{subject}", s.handlers.ListVitalRecords)
			r.Post("/{id}/verify", s.handlers.VerifyStoredRecord)
		})

		// Documents
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.handlers.CreateDocument)
			r.Get("/{owner}", s.handlers.ListDocuments)
		})

		// Audit
		r.Route("/audit", func(r chi.Router) {
			r.Get("/events", s.handlers.ListAuditEvents)
			r.Get("/events/{id}", s.handlers.GetAuditEvent)
			r.Get("/stats", s.handlers.GetAuditStats)
		})

		// Statistics
		r.Get("/stats", s.handlers.GetStats)
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}
