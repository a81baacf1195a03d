package async

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse/telemetry"
)

// Monitor defaults
const (
	DefaultExecutionTimeout    = 30 * time.Minute
	DefaultStuckPhaseThreshold = 10 * time.Minute
	DefaultUnsavedLookback     = 30 * time.Minute
	DefaultMaxTimeoutRetries   = 1
	DefaultMonitorScanLimit    = 500
)

// ReasonExecutionTimeout is the terminal error for a job that timed out twice
const ReasonExecutionTimeout = "execution timeout"

// Launcher restarts a requeued job
type Launcher interface {
	Launch(ctx context.Context, job *Job) (bool, error)
}

// Finalizer re-runs the post-success steps of a completed job
type Finalizer interface {
	Finalize(ctx context.Context, job *Job) error
}

// MonitorConfig holds monitor thresholds
type MonitorConfig struct {
	ExecutionTimeout    time.Duration
	StuckPhaseThreshold time.Duration
	UnsavedLookback     time.Duration
	MaxTimeoutRetries   int
	ScanLimit           int
}

// DefaultMonitorConfig returns the standard thresholds
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		ExecutionTimeout:    DefaultExecutionTimeout,
		StuckPhaseThreshold: DefaultStuckPhaseThreshold,
		UnsavedLookback:     DefaultUnsavedLookback,
		MaxTimeoutRetries:   DefaultMaxTimeoutRetries,
		ScanLimit:           DefaultMonitorScanLimit,
	}
}

// MonitorReport summarizes one monitor pass
type MonitorReport struct {
	TotalProcessing      int      `json:"total_processing"`
	TimedOut             int      `json:"timed_out"`
	Stuck                int      `json:"stuck"`
	Retried              int      `json:"retried"`
	CompletedButNotSaved int      `json:"completed_but_not_saved"`
	Errors               []string `json:"errors,omitempty"`
}

func (r *MonitorReport) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Monitor recovers jobs that died mid-execution and completed jobs whose
// artifact never reached durable storage. It runs on its own cadence and is
// safe to run concurrently with itself and with the dispatcher: every write is
// conditioned on the state it observed.
type Monitor struct {
	store     JobStore
	launcher  Launcher
	finalizer Finalizer
	cfg       MonitorConfig
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewMonitor creates a monitor. Zero config fields take the defaults.
func NewMonitor(store JobStore, launcher Launcher, finalizer Finalizer, cfg MonitorConfig, log *zap.SugaredLogger) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}
	if cfg.StuckPhaseThreshold <= 0 {
		cfg.StuckPhaseThreshold = def.StuckPhaseThreshold
	}
	if cfg.UnsavedLookback <= 0 {
		cfg.UnsavedLookback = def.UnsavedLookback
	}
	if cfg.MaxTimeoutRetries <= 0 {
		cfg.MaxTimeoutRetries = def.MaxTimeoutRetries
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = def.ScanLimit
	}
	return &Monitor{
		store:     store,
		launcher:  launcher,
		finalizer: finalizer,
		cfg:       cfg,
		log:       logger.AddPulseSymbol(log.Named("monitor")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one monitor pass. Per-job problems land in the report;
// the error is reserved for failing to scan at all.
func (m *Monitor) Run(ctx context.Context) (*MonitorReport, error) {
	telemetry.MonitorRuns.Inc()
	report := &MonitorReport{}
	now := m.now()

	status := JobStatusProcessing
	processing, err := m.store.ListJobs(ctx, &status, m.cfg.ScanLimit)
	if err != nil {
		return report, errors.Wrap(err, "failed to list processing jobs")
	}
	report.TotalProcessing = len(processing)

	for _, job := range processing {
		if m.timedOut(job, now) {
			m.recoverTimeout(ctx, job, now, report)
			continue
		}
		if m.stuck(job, now) {
			report.Stuck++
			telemetry.MonitorStuck.Inc()
			m.log.Warnw("Job stuck in phase",
				logger.FieldJobID, job.ID,
				logger.FieldPhase, job.Metadata.Phase,
				"idle", now.Sub(job.UpdatedAt).Round(time.Second),
			)
		}
	}

	unsaved, err := m.store.ListCompletedUnpersisted(ctx, now.Add(-m.cfg.UnsavedLookback), m.cfg.ScanLimit)
	if err != nil {
		return report, errors.Wrap(err, "failed to list unpersisted jobs")
	}
	for _, job := range unsaved {
		if !job.NeedsPersistence() {
			continue
		}
		report.CompletedButNotSaved++
		if m.finalizer == nil {
			continue
		}
		if err := m.finalizer.Finalize(ctx, job); err != nil {
			report.addError("job %s: finalize: %v", job.ID, err)
		}
	}

	if report.TimedOut > 0 || report.Stuck > 0 || report.CompletedButNotSaved > 0 || len(report.Errors) > 0 {
		m.log.Infow("Monitor pass complete",
			"total_processing", report.TotalProcessing,
			"timed_out", report.TimedOut,
			"retried", report.Retried,
			"stuck", report.Stuck,
			"completed_but_not_saved", report.CompletedButNotSaved,
			"errors", len(report.Errors),
		)
	}
	return report, nil
}

func (m *Monitor) timedOut(job *Job, now time.Time) bool {
	started := job.UpdatedAt
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	return now.Sub(started) > m.cfg.ExecutionTimeout
}

func (m *Monitor) stuck(job *Job, now time.Time) bool {
	phase := job.Metadata.Phase
	return phase != "" && phase != PhaseCompleted && now.Sub(job.UpdatedAt) > m.cfg.StuckPhaseThreshold
}

// recoverTimeout requeues a timed-out job once and relaunches it, or fails it
// once its timeout budget is spent. Both writes require the run's claim token,
// so the dead run can no longer write back if it wakes up.
func (m *Monitor) recoverTimeout(ctx context.Context, job *Job, now time.Time, report *MonitorReport) {
	log := logger.JobLogger(m.log, job.ID)
	token := job.ClaimToken
	elapsed := now.Sub(job.UpdatedAt)
	if job.StartedAt != nil {
		elapsed = now.Sub(*job.StartedAt)
	}

	job.Metadata.Record(EventTimeout, now, fmt.Sprintf("no result after %s", elapsed.Round(time.Second)), job.RetryCount+1)

	retry := job.TimeoutRetries < m.cfg.MaxTimeoutRetries
	if retry {
		job.TimeoutRetries++
		job.Requeue(nil, now)
		job.Metadata.Record(EventRequeued, now, fmt.Sprintf("timeout retry %d/%d", job.TimeoutRetries, m.cfg.MaxTimeoutRetries), 0)
	} else {
		job.Fail(ReasonExecutionTimeout, now)
	}

	won, err := m.store.SaveTransition(ctx, job, JobStatusProcessing, token)
	if err != nil {
		report.addError("job %s: save timeout: %v", job.ID, err)
		return
	}
	if !won {
		// Finished or recovered by someone else since the scan
		return
	}

	report.TimedOut++
	telemetry.MonitorTimeouts.Inc()

	if !retry {
		telemetry.Failures.Inc()
		log.Warnw("Job failed after repeated timeouts", "timeout_retries", job.TimeoutRetries)
		return
	}

	report.Retried++
	telemetry.MonitorRecoveries.Inc()
	log.Infow("Timed out job requeued", "timeout_retries", job.TimeoutRetries)

	if m.launcher == nil {
		return
	}
	if _, err := m.launcher.Launch(ctx, job); err != nil {
		report.addError("job %s: relaunch: %v", job.ID, err)
	}
}

// SetClock replaces the monitor clock (tests)
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}
