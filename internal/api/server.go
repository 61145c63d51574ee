package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"remindwell/internal/config"
)

// Server wires the middleware chain and routes around the handlers.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *chi.Mux
}

// NewServer builds the router with the standard middleware chain and mounts
// the handler routes.
func NewServer(cfg *config.Config, h *Handler, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if h == nil {
		return nil, fmt.Errorf("handler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.router.Use(Recoverer(logger))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(logger))

	s.router.Get("/health", h.Health)
	s.router.Route("/v1", func(r chi.Router) {
		r.Route("/profiles/{userID}", func(r chi.Router) {
			r.Put("/", h.UpsertProfile)
			r.Get("/", h.GetProfile)
			r.Delete("/", h.DeleteProfile)
		})
		r.Post("/evaluate", h.Evaluate)
		r.Route("/work", func(r chi.Router) {
			r.Post("/", h.SubmitWork)
			r.Post("/process", h.Process)
		})
	})

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}
