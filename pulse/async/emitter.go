package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobPhaseEmitter records pipeline phase transitions on a processing job.
// Writes are conditioned on the run's claim token, so a superseded run
// stops updating the row as soon as the monitor takes it back.
type JobPhaseEmitter struct {
	job   *Job
	store JobStore
	token string
	now   func() time.Time
	log   *zap.SugaredLogger
	mu    sync.Mutex
	done  bool
}

// NewJobPhaseEmitter creates a phase emitter for one claimed run
func NewJobPhaseEmitter(job *Job, store JobStore, now func() time.Time, baseLogger *zap.SugaredLogger) *JobPhaseEmitter {
	return &JobPhaseEmitter{
		job:   job,
		store: store,
		token: job.ClaimToken,
		now:   now,
		log:   baseLogger.With("job_id", job.ID),
	}
}

// EmitPhase sets metadata.phase and bumps updated_at
func (e *JobPhaseEmitter) EmitPhase(ctx context.Context, phase string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || e.job.Metadata.Phase == phase {
		return
	}

	now := e.now()
	e.job.Metadata.Phase = phase
	e.job.Metadata.Record(EventPhase, now, phase, e.job.RetryCount+1)
	e.job.UpdatedAt = now

	ok, err := e.store.SaveTransition(ctx, e.job, JobStatusProcessing, e.token)
	if err != nil {
		e.log.Warnw("Failed to record phase", "phase", phase, "error", err)
		return
	}
	if !ok {
		e.log.Debugw("Phase update rejected, run no longer owns the job", "phase", phase)
	}
}

// Close stops further phase writes. The executor calls it once Generate returns
// so a late callback cannot race the final transition.
func (e *JobPhaseEmitter) Close() {
	e.mu.Lock()
	e.done = true
	e.mu.Unlock()
}
