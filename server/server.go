// Package server exposes a small HTTP surface for inspecting a running
// execution tree: the tree snapshot, per-node state, Prometheus metrics
// and a health check.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/tree"
)

// Server serves runtime introspection for one execution tree.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// New builds a server listening on the given port.
func New(tr *tree.Tree, port string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    ":" + port,
			Handler: NewRouter(tr),
		},
		log: logger.GetLogger("server"),
	}
}

// NewRouter builds the route table. Split out from New so tests can drive
// the handlers without binding a socket.
func NewRouter(tr *tree.Tree) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Use(middleware.CleanPath)
	router.Use(middleware.RequestID)

	router.Mount("/tree", TreeRouter(tr))
	router.Handle("/metrics", promhttp.Handler())

	return router
}

// Run blocks serving requests until Shutdown is called.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.srv.Shutdown(ctx)
}
