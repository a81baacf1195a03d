package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse/telemetry"
)

// setupRoutes configures all HTTP handlers
func (s *Server) setupRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireTriggerToken)

		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)

		r.Post("/pulse/sweep", s.handleSweep)
		r.Post("/pulse/monitor", s.handleMonitor)
		r.Get("/pulse/stats", s.handleStats)
	})
}

// requireTriggerToken enforces "Authorization: Bearer <trigger_token>" when a token is configured
func (s *Server) requireTriggerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.TriggerToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.TriggerToken)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pressline"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request at debug with its status and duration
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			logger.FieldStatus, ww.Status(),
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			logger.FieldRequestID, middleware.GetReqID(r.Context()),
		)
	})
}
