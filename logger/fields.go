package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings so logs stay queryable.
const (
	// Identity
	FieldJobID         = "job_id"
	FieldTenantID      = "tenant_id"
	FieldDestinationID = "destination_id"
	FieldRunID         = "run_id"
	FieldRequestID     = "request_id"

	// Components
	FieldComponent = "component"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// State
	FieldStatus = "status"
	FieldPhase  = "phase"

	FieldSymbol = "symbol"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	monitor := async.NewMonitor(store, dispatcher, executor, cfg, logger.ComponentLogger("monitor"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// JobLogger scopes a logger to a single job.
func JobLogger(parent *zap.SugaredLogger, jobID string) *zap.SugaredLogger {
	return parent.With(FieldJobID, jobID)
}
