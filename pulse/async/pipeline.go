package async

import (
	"context"
	"encoding/json"
	"time"
)

// GenerationRequest is what the pipeline receives for one run
type GenerationRequest struct {
	JobID         string          `json:"job_id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	DestinationID string          `json:"destination_id,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	Attempt       int             `json:"attempt"`

	// ReportPhase records the pipeline's current phase on the job. Optional to call.
	ReportPhase func(ctx context.Context, phase string) `json:"-"`
}

// Pipeline generates content for a job. Generate blocks for the whole run
// (typically minutes) and returns the artifact or an error.
type Pipeline interface {
	Generate(ctx context.Context, req GenerationRequest) (json.RawMessage, error)
}

// PipelineFunc adapts a function to Pipeline
type PipelineFunc func(ctx context.Context, req GenerationRequest) (json.RawMessage, error)

// Generate calls f
func (f PipelineFunc) Generate(ctx context.Context, req GenerationRequest) (json.RawMessage, error) {
	return f(ctx, req)
}

// ArtifactStore durably persists generation artifacts.
// Put must be idempotent per job ID and return a stable URI.
type ArtifactStore interface {
	Put(ctx context.Context, jobID string, artifact json.RawMessage) (string, error)
}

// SlotAssigner places a completed job into a publish slot
type SlotAssigner interface {
	ScheduleJob(ctx context.Context, jobID string) (time.Time, error)
}
