package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/query"
	"github.com/opensource-finance/notas/internal/service"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates the API server. graph is mounted at /graphql when not nil.
func NewServer(cfg *domain.Config, svc *service.Service, cache domain.Cache, graph http.Handler, version string) *Server {
	handler := NewHandler(svc, cache, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", RequestIDHeader, TraceIDHeader, "Authorization"},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader, ResponseTimeHeader, query.HeaderContentRange, query.HeaderAcceptRanges},
		AllowCredentials: false,
		MaxAge:           cfg.CORS.MaxAge,
	}))
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(TracingMiddleware)      // Request ids and OpenTelemetry spans
	router.Use(LoggingMiddleware)      // Request logging and response time
	router.Use(middleware.Compress(5)) // Gzip compression
	if cfg.RateLimit.Enabled {
		router.Use(RateLimitMiddleware(cfg.RateLimit))
	}

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	if graph != nil {
		router.Method(http.MethodPost, "/graphql", graph)
	}

	router.Route("/{entity}", func(r chi.Router) {
		r.Get("/", handler.List)
		r.Post("/", handler.Create)
		r.Get("/{id}", handler.Get)
		r.Put("/{id}", handler.Update)
		r.Delete("/{id}", handler.Delete)
	})

	router.NotFound(handler.NotFound)
	router.MethodNotAllowed(handler.MethodNotAllowed)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
