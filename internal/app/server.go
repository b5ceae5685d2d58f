package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/markdave123-py/docsift/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/docsift/internal/api/middlewares"
	"github.com/markdave123-py/docsift/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Routes are the handlers the router mounts.
type Routes struct {
	Documents *handlers.DocumentHandler
	Queries   *handlers.QueryHandler
	Health    *handlers.HealthHandler
}

// NewRouter builds the chi router with the middleware stack and every route.
func NewRouter(cfg *config.Config, rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", rt.Health.Healthz)

	r.Group(func(protected chi.Router) {
		protected.Use(appMiddleware.JWT(cfg.JWTSecret))
		protected.Post("/process-pdf/", rt.Documents.ProcessPDF)
		protected.Get("/process-pdf/status/{task_id}", rt.Documents.TaskStatus)
		protected.Post("/query-document/{document_id}", rt.Queries.QueryDocument)
	})

	return otelhttp.NewHandler(r, "docsift.http")
}

// NewServer wires the HTTP surface from a, which must have a queue attached.
func NewServer(a *App) *Server {
	rt := Routes{
		Documents: handlers.NewDocumentHandler(a.Intake, a.Queue, a.Config.MaxUploadMB, a.Logger),
		Queries:   handlers.NewQueryHandler(a.Queries, a.Logger),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"database": a.DBClient,
			"queue":    a.Queue,
		}),
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + a.Config.Port,
			Handler:           NewRouter(a.Config, rt),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: a.Logger,
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
