package schedule

import (
	"encoding/json"
	"time"
)

// Run kinds
const (
	KindSweep   = "sweep"
	KindMonitor = "monitor"
)

// Run triggers
const (
	TriggerDaemon = "daemon"
	TriggerHTTP   = "http"
	TriggerCLI    = "cli"
)

// Run status constants for type safety
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one sweep or monitor pass, kept for diagnosis.
//
// Each pass records timing, outcome and the pass's own report as a JSON
// summary (a SweepResult or MonitorReport).
type Run struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`              // sweep or monitor
	Trigger string `json:"trigger,omitempty"` // daemon, http or cli
	Status  string `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`

	Summary      json.RawMessage `json:"summary,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
