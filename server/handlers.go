package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse/async"
	"github.com/teranos/pressline/pulse/schedule"
	"github.com/teranos/pressline/version"
)

const (
	// Default and max limits for job listing queries
	defaultJobLimit = 50
	maxJobLimit     = 200
)

type createJobRequest struct {
	TenantID      string          `json:"tenant_id"`
	DestinationID string          `json:"destination_id"`
	Params        json.RawMessage `json:"params"`
}

type createJobResponse struct {
	Job       *async.Job `json:"job"`
	Triggered bool       `json:"triggered"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleCreateJob inserts a pending job and offers it a free slot
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := readJSON(w, r, &req); err != nil {
		writeWrappedError(w, s.logger, err, "create job")
		return
	}

	job, triggered, err := s.svc.CreateJob(r.Context(), req.TenantID, req.DestinationID, req.Params)
	if err != nil {
		writeWrappedError(w, s.logger, err, "create job")
		return
	}

	logger.AddPulseSymbol(s.logger).Infow("Job accepted",
		logger.FieldJobID, job.ID,
		"triggered", triggered,
	)
	writeJSON(w, http.StatusAccepted, createJobResponse{Job: job, Triggered: triggered})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Store().GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleListJobs lists jobs newest first. Query: status, limit.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeWrappedError(w, s.logger, errors.NewInvalidRequestError("limit must be a positive integer"), "list jobs")
			return
		}
		limit = min(n, maxJobLimit)
	}

	var status *async.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !async.IsValidStatus(raw) {
			writeWrappedError(w, s.logger, errors.NewInvalidRequestError("unknown status %q", raw), "list jobs")
			return
		}
		st := async.JobStatus(raw)
		status = &st
	}

	jobs, err := s.svc.Store().ListJobs(r.Context(), status, limit)
	if err != nil {
		writeWrappedError(w, s.logger, err, "list jobs")
		return
	}
	if jobs == nil {
		jobs = []*async.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// handleSweep runs one sweep pass. Executions continue after the response.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Sweep(r.Context(), schedule.TriggerHTTP)
	if err != nil {
		writeWrappedError(w, s.logger, err, "sweep")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Monitor(r.Context(), schedule.TriggerHTTP)
	if err != nil {
		writeWrappedError(w, s.logger, err, "monitor")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeWrappedError(w, s.logger, err, "stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
