package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/tickbatch/internal/config"
	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/store"
	"github.com/me/tickbatch/pkg/model"
)

// Version is reported by the health and discovery endpoints.
const Version = "0.1.0"

// Server is the read-only run history API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	store     store.Store
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, st store.Store, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logging.Component(logger, "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(withRequestID)
	r.Use(accessLog(s.logger))
	r.Use(recoverJSON(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, RequestIDFromContext(r.Context()), &model.APIError{
			Code: model.ErrNotFound, Message: "no route for " + r.URL.Path,
		})
	})
	// The history API is read-only.
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, RequestIDFromContext(r.Context()), &model.APIError{
			Code: model.ErrMethodNotAllowed, Message: r.Method + " is not supported on " + r.URL.Path,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/cases", s.handleListRunCases)
			})
		})
	})
}
