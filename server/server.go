// Package server exposes job creation and pulse triggers over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse"
)

// shutdownTimeout bounds how long in-flight HTTP requests get on shutdown
const shutdownTimeout = 10 * time.Second

// Server serves the trigger API over a pulse.Service
type Server struct {
	svc    *pulse.Service
	cfg    am.ServerConfig
	logger *zap.SugaredLogger
}

// New creates a server. Routes are built by Router.
func New(svc *pulse.Service, cfg am.ServerConfig, log *zap.SugaredLogger) *Server {
	return &Server{
		svc:    svc,
		cfg:    cfg,
		logger: log.Named("server"),
	}
}

// Router builds the HTTP router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	s.setupRoutes(r)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	port := s.cfg.Port
	if port == 0 {
		port = am.DefaultServerPort
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow(fmt.Sprintf("HTTP server listening on port %d", port),
			"auth", s.cfg.TriggerToken != "",
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	s.logger.Infow("Server draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http server shutdown")
	}
	s.logger.Infow("Server stopped")
	return nil
}
