package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/allaspectsdev/pdfxtract/internal/tracing"
)

// Server binds the chi router to the configured address and provides
// graceful shutdown, mirroring the teacher's proxy.Server.
type Server struct {
	router  chi.Router
	addr    string
	httpSrv *http.Server
}

// NewServer builds a Server mounting the extraction, health, readiness,
// stats and banner routes onto handler. Zero-value timeouts leave the
// corresponding http.Server field at its default (no timeout).
func NewServer(handler *Handler, addr string, readTimeout, writeTimeout, idleTimeout time.Duration, tracingEnabled bool) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Post("/extract", handler.HandleExtract)
	r.Get("/health", handler.HandleHealth)
	r.Get("/health/ready", handler.HandleReady)
	r.Get("/stats", handler.HandleStats)
	r.Get("/", handler.HandleBanner)

	srv := &Server{router: r, addr: addr}
	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return srv
}

// Router returns the underlying chi.Router, useful for tests and
// additional route mounting.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections on the configured address.
// It blocks until the server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// to complete within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
