// Package async drives content-generation jobs through the relational job queue.
//
// The jobs table is the queue. Coordination between concurrent invocations
// (dispatcher chains, sweeps, monitor passes) happens only through
// conditional updates on the status column, guarded by a per-run claim token.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/pressline/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusScheduled  JobStatus = "scheduled"
)

// AllStatuses lists every job status in lifecycle order
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusScheduled,
}

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	for _, status := range AllStatuses {
		if JobStatus(s) == status {
			return true
		}
	}
	return false
}

// PhaseCompleted is the phase marker a pipeline reports once generation is done
const PhaseCompleted = "completed"

// Job is one content-generation request and its lifecycle state.
type Job struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id,omitempty"`
	DestinationID string          `json:"destination_id,omitempty"`
	Status        JobStatus       `json:"status"`
	Params        json.RawMessage `json:"params,omitempty"` // generation parameters, passed through to the pipeline
	Result        json.RawMessage `json:"result,omitempty"` // in-row generation artifact
	Metadata      Metadata        `json:"metadata"`

	RetryCount     int    `json:"retry_count"`     // pipeline failures, bounded by RetryPolicy
	TimeoutRetries int    `json:"timeout_retries"` // monitor recoveries, independent of RetryCount
	ClaimToken     string `json:"-"`               // owning run while processing

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ArtifactURI string     `json:"artifact_uri,omitempty"`
	PersistedAt *time.Time `json:"persisted_at,omitempty"`

	ScheduledPublishAt *time.Time `json:"scheduled_publish_at,omitempty"`
	AutoPublish        bool       `json:"auto_publish"`
}

// NewJob creates a pending job for a tenant and destination.
// params must be a JSON object or empty.
func NewJob(tenantID, destinationID string, params json.RawMessage, now time.Time) (*Job, error) {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if !json.Valid(params) {
		return nil, errors.NewInvalidRequestError("params must be valid JSON")
	}

	now = now.UTC()
	return &Job{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		DestinationID: destinationID,
		Status:        JobStatusPending,
		Params:        params,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsEligible reports whether a pending job may be claimed at now
func (j *Job) IsEligible(now time.Time) bool {
	return j.Status == JobStatusPending && (j.NextRetryAt == nil || !j.NextRetryAt.After(now))
}

// NeedsPersistence reports whether a completed job still lacks its durable artifact
func (j *Job) NeedsPersistence() bool {
	return j.Status == JobStatusCompleted && j.ArtifactURI == "" && len(j.Result) > 0
}

// Start marks the job as processing under a claim token
func (j *Job) Start(token string, now time.Time) {
	j.Status = JobStatusProcessing
	j.ClaimToken = token
	j.StartedAt = &now
	j.UpdatedAt = now
	j.Metadata.Record(EventClaimed, now, "", j.RetryCount+1)
}

// Complete stores the artifact in-row and marks the job completed
func (j *Job) Complete(result json.RawMessage, now time.Time) {
	j.Status = JobStatusCompleted
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.NextRetryAt = nil
	j.ClaimToken = ""
	j.Metadata.Phase = PhaseCompleted
	j.Metadata.Record(EventCompleted, now, "", j.RetryCount+1)
}

// Requeue returns the job to pending, eligible again at nextRetryAt (nil = immediately)
func (j *Job) Requeue(nextRetryAt *time.Time, now time.Time) {
	j.Status = JobStatusPending
	j.NextRetryAt = nextRetryAt
	j.StartedAt = nil
	j.ClaimToken = ""
	j.UpdatedAt = now
}

// Fail marks the job as terminally failed
func (j *Job) Fail(reason string, now time.Time) {
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.NextRetryAt = nil
	j.ClaimToken = ""
	j.Metadata.LastError = reason
	j.Metadata.TotalRetries = j.RetryCount
	j.Metadata.Record(EventFailed, now, reason, j.RetryCount)
}

// Schedule places a completed job into a publish slot
func (j *Job) Schedule(at time.Time, now time.Time) {
	at = at.UTC()
	j.Status = JobStatusScheduled
	j.ScheduledPublishAt = &at
	j.AutoPublish = true
	j.UpdatedAt = now
	j.RetryCount = 0
	j.NextRetryAt = nil
	j.Metadata.LastError = ""
	j.Metadata.RetryReason = ""
	j.Metadata.Record(EventScheduled, now, at.Format(time.RFC3339), 0)
}

// Destination is the publish target a job is generated for. Read-only here.
type Destination struct {
	ID                  string `json:"id"`
	Name                string `json:"name,omitempty"`
	Active              bool   `json:"active"`
	AutoScheduleEnabled bool   `json:"auto_schedule_enabled"`
	DailyLimit          int    `json:"daily_limit"`
	HasPublishConfig    bool   `json:"has_publish_config"`
}

// QueueStats counts jobs per status
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Scheduled  int `json:"scheduled"`
	Total      int `json:"total"`
}

// Add folds a per-status count into the stats
func (s *QueueStats) Add(status JobStatus, n int) {
	switch status {
	case JobStatusPending:
		s.Pending += n
	case JobStatusProcessing:
		s.Processing += n
	case JobStatusCompleted:
		s.Completed += n
	case JobStatusFailed:
		s.Failed += n
	case JobStatusScheduled:
		s.Scheduled += n
	}
	s.Total += n
}
