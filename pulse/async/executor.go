package async

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse/telemetry"
)

// Executor runs the generation pipeline for a claimed job and maps the
// outcome onto the job row.
type Executor struct {
	store     JobStore
	pipeline  Pipeline
	artifacts ArtifactStore
	slots     SlotAssigner // optional
	retry     RetryPolicy
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewExecutor creates an executor. slots may be nil to disable the scheduling handoff.
func NewExecutor(store JobStore, pipeline Pipeline, artifacts ArtifactStore, slots SlotAssigner, retry RetryPolicy, log *zap.SugaredLogger) *Executor {
	return &Executor{
		store:     store,
		pipeline:  pipeline,
		artifacts: artifacts,
		slots:     slots,
		retry:     retry,
		log:       logger.AddPulseSymbol(log),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one claimed attempt. Pipeline failures are not returned: they
// are recorded on the job through the retry policy. The returned error is
// reserved for store and persistence failures.
func (e *Executor) Execute(ctx context.Context, job *Job) error {
	if job.Status != JobStatusProcessing || job.ClaimToken == "" {
		return errors.Newf("job %s is not claimed (status %s)", job.ID, job.Status)
	}

	log := logger.JobLogger(e.log, job.ID)
	token := job.ClaimToken
	started := e.now()

	emitter := NewJobPhaseEmitter(job, e.store, e.now, e.log)
	result, genErr := e.generate(ctx, job, emitter)
	emitter.Close()

	now := e.now()
	duration := now.Sub(started)

	if genErr != nil {
		retried := e.retry.Apply(job, genErr, now)
		won, err := e.store.SaveTransition(ctx, job, JobStatusProcessing, token)
		if err != nil {
			return errors.Wrapf(err, "failed to record failure for job %s", job.ID)
		}
		if !won {
			telemetry.SupersededWrites.Inc()
			log.Warnw("Run superseded before failure could be recorded", logger.FieldError, genErr)
			return nil
		}

		if retried {
			telemetry.Retries.Inc()
			log.Infow("Retry scheduled",
				"retry_count", job.RetryCount,
				"next_retry_at", job.NextRetryAt,
				"retry_reason", job.Metadata.RetryReason,
				logger.FieldError, genErr,
				logger.FieldDurationMS, duration.Milliseconds(),
			)
		} else {
			telemetry.Failures.Inc()
			log.Warnw("Job failed after max retries",
				"retry_count", job.RetryCount,
				logger.FieldError, genErr,
			)
		}
		return nil
	}

	job.Complete(result, now)
	won, err := e.store.SaveTransition(ctx, job, JobStatusProcessing, token)
	if err != nil {
		return errors.Wrapf(err, "failed to save completed job %s", job.ID)
	}
	if !won {
		telemetry.SupersededWrites.Inc()
		log.Warnw("Run superseded, discarding result", logger.FieldDurationMS, duration.Milliseconds())
		return nil
	}

	telemetry.Completions.Inc()
	log.Infow("Job completed", logger.FieldDurationMS, duration.Milliseconds())

	return e.Finalize(ctx, job)
}

// generate calls the pipeline, converting a panic into an error
func (e *Executor) generate(ctx context.Context, job *Job, emitter *JobPhaseEmitter) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithDetail(
				errors.Wrapf(ErrPipelinePanic, "%v", r),
				string(debug.Stack()),
			)
		}
	}()

	req := GenerationRequest{
		JobID:         job.ID,
		TenantID:      job.TenantID,
		DestinationID: job.DestinationID,
		Params:        job.Params,
		Attempt:       job.RetryCount + 1,
		ReportPhase:   emitter.EmitPhase,
	}

	result, err = e.pipeline.Generate(ctx, req)
	if err == nil && len(result) == 0 {
		err = errors.New("pipeline returned an empty artifact")
	}
	return result, err
}

// Finalize runs the post-success steps for a completed job: durable artifact
// write, then the slot scheduling handoff. It never calls the pipeline, so the
// monitor reuses it to recover completed jobs whose artifact was never written.
func (e *Executor) Finalize(ctx context.Context, job *Job) error {
	log := logger.JobLogger(e.log, job.ID)

	if job.Status != JobStatusCompleted {
		return nil
	}

	if job.ArtifactURI == "" && !job.NeedsPersistence() {
		return errors.Newf("job %s has no in-row result to persist", job.ID)
	}

	if job.NeedsPersistence() {
		uri, putErr := e.artifacts.Put(ctx, job.ID, job.Result)
		now := e.now()
		if putErr != nil {
			telemetry.PersistFailures.Inc()
			job.Metadata.LastError = putErr.Error()
			job.Metadata.Record(EventPersistFailed, now, putErr.Error(), 0)
			job.UpdatedAt = now
			// Metadata only: a concurrent finalizer may already have written the artifact
			if _, err := e.store.SaveUnpersistedMetadata(ctx, job); err != nil {
				log.Warnw("Failed to record persistence failure", logger.FieldError, err)
			}
			return errors.Wrapf(putErr, "failed to persist artifact for job %s", job.ID)
		}

		job.ArtifactURI = uri
		job.PersistedAt = &now
		job.UpdatedAt = now
		job.Metadata.Record(EventPersisted, now, uri, 0)
		won, err := e.store.SaveTransition(ctx, job, JobStatusCompleted, "")
		if err != nil {
			return errors.Wrapf(err, "failed to record artifact for job %s", job.ID)
		}
		if !won {
			// Another finalizer moved the job on
			return nil
		}
		telemetry.Persisted.Inc()
		log.Debugw("Artifact persisted", "artifact_uri", uri)
	}

	if e.slots == nil || job.DestinationID == "" {
		return nil
	}

	at, err := e.slots.ScheduleJob(ctx, job.ID)
	switch {
	case err == nil:
		log.Infow("Job scheduled for publish", "scheduled_publish_at", at)
	case errors.Is(err, errors.ErrDestinationNotEligible):
		log.Debugw("Destination not eligible for auto-scheduling", logger.FieldDestinationID, job.DestinationID)
	case errors.Is(err, errors.ErrNoSlotAvailable):
		log.Warnw("No publish slot in horizon, job stays completed", logger.FieldDestinationID, job.DestinationID)
	default:
		// Recorded in metadata by the scheduler; not retried
		log.Warnw("Scheduling handoff failed", logger.FieldError, err)
	}
	return nil
}

// String describes the executor for logs
func (e *Executor) String() string {
	return fmt.Sprintf("Executor{max_retries=%d}", e.retry.MaxRetries)
}

// SetClock replaces the executor clock (tests)
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}
