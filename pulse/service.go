// Package pulse assembles the job runtime: store, dispatcher, monitor,
// slot scheduler and run history, wired from configuration.
package pulse

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/artifact"
	"github.com/teranos/pressline/db"
	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pipeline"
	"github.com/teranos/pressline/pulse/async"
	"github.com/teranos/pressline/pulse/async/pgstore"
	"github.com/teranos/pressline/pulse/schedule"
	"github.com/teranos/pressline/pulse/slots"
	"github.com/teranos/pressline/pulse/telemetry"
)

// recentRunLimit bounds the run history returned with stats
const recentRunLimit = 10

// Components are the collaborators a Service is built from
type Components struct {
	Store     async.JobStore
	Runs      *schedule.RunStore // nil disables run history
	Pipeline  async.Pipeline
	Artifacts async.ArtifactStore
}

// Service owns one process's view of the job runtime
type Service struct {
	cfg        *am.Config
	store      async.JobStore
	runs       *schedule.RunStore
	pool       *async.WorkerPool
	executor   *async.Executor
	dispatcher *async.Dispatcher
	monitor    *async.Monitor
	scheduler  *slots.Scheduler
	log        *zap.SugaredLogger
	now        func() time.Time

	tickers []*schedule.Ticker
	closers []func()
}

// Stats is a point-in-time view of the queue and this process
type Stats struct {
	Queue            *async.QueueStats      `json:"queue"`
	InFlight         int                    `json:"in_flight"`
	ConcurrencyCap   int                    `json:"concurrency_cap"`
	ActiveExecutions int                    `json:"active_executions"`
	Tickers          []schedule.TickerStats `json:"tickers,omitempty"`
	RecentRuns       []*schedule.Run        `json:"recent_runs,omitempty"`
	System           *SystemMetrics         `json:"system,omitempty"`
}

// Open connects the configured database and artifact backend and builds a Service.
// Close releases them.
func Open(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*Service, error) {
	var (
		comp    Components
		closers []func()
	)

	switch cfg.Database.Driver {
	case am.DriverPostgres:
		pool, err := openPostgres(ctx, cfg.Database.DSN, log)
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		comp.Store = pgstore.New(pool)
	default:
		conn, err := db.OpenWithMigrations(cfg.GetDatabasePath(), log)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open database %s", cfg.GetDatabasePath())
		}
		closers = append(closers, func() { conn.Close() })
		comp = newSQLiteComponents(conn, log)
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	artifacts, err := artifact.New(ctx, cfg.Artifacts)
	if err != nil {
		closeAll()
		return nil, errors.Wrap(err, "failed to open artifact store")
	}
	comp.Artifacts = artifacts

	pl, err := pipeline.New(cfg.Pipeline, log)
	if err != nil {
		closeAll()
		return nil, err
	}
	comp.Pipeline = pl

	svc, err := New(ctx, cfg, comp, log)
	if err != nil {
		closeAll()
		return nil, err
	}
	svc.closers = closers
	return svc, nil
}

func openPostgres(ctx context.Context, dsn string, log *zap.SugaredLogger) (*pgxpool.Pool, error) {
	pool, err := db.OpenPostgres(ctx, dsn, log)
	if err != nil {
		return nil, err
	}
	if err := db.MigratePostgres(ctx, pool, log); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migrate postgres")
	}
	return pool, nil
}

// New wires a Service from ready components
func New(ctx context.Context, cfg *am.Config, comp Components, log *zap.SugaredLogger) (*Service, error) {
	scheduler, err := slots.NewScheduler(comp.Store, slots.Config{
		Timezone:          cfg.Slots.Timezone,
		GoldenHours:       cfg.Slots.GoldenHours,
		HorizonDays:       cfg.Slots.HorizonDays,
		MaxJitter:         time.Duration(cfg.Slots.JitterMinutes) * time.Minute,
		DefaultDailyLimit: cfg.Slots.DefaultDailyLimit,
	}, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create slot scheduler")
	}

	retry := async.RetryPolicy{MaxRetries: cfg.Pulse.MaxRetries, Delays: cfg.Pulse.RetryDelays()}

	pool := async.NewWorkerPool(ctx, cfg.Pulse.StopTimeout(), log)
	executor := async.NewExecutor(comp.Store, comp.Pipeline, comp.Artifacts, scheduler, retry, log.Named("executor"))
	dispatcher := async.NewDispatcher(comp.Store, executor, pool, async.DispatcherConfig{
		ConcurrencyCap:      cfg.Pulse.ConcurrencyCap,
		LaunchRatePerSecond: cfg.Pulse.LaunchRatePerSecond,
	}, log)
	monitor := async.NewMonitor(comp.Store, dispatcher, executor, async.MonitorConfig{
		ExecutionTimeout:    cfg.Pulse.ExecutionTimeout(),
		StuckPhaseThreshold: cfg.Pulse.StuckPhaseThreshold(),
		UnsavedLookback:     cfg.Pulse.UnsavedLookback(),
		MaxTimeoutRetries:   cfg.Pulse.MaxTimeoutRetries,
	}, log.Named("monitor"))

	return &Service{
		cfg:        cfg,
		store:      comp.Store,
		runs:       comp.Runs,
		pool:       pool,
		executor:   executor,
		dispatcher: dispatcher,
		monitor:    monitor,
		scheduler:  scheduler,
		log:        logger.AddPulseSymbol(log.Named("pulse")),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Store returns the job store
func (s *Service) Store() async.JobStore { return s.store }

// Runs returns the run history store, nil when the backend has none
func (s *Service) Runs() *schedule.RunStore { return s.runs }

// Scheduler returns the slot scheduler
func (s *Service) Scheduler() *slots.Scheduler { return s.scheduler }

// CreateJob inserts a pending job and offers it a free slot right away.
// The returned flag reports whether an execution was launched.
func (s *Service) CreateJob(ctx context.Context, tenantID, destinationID string, params json.RawMessage) (*async.Job, bool, error) {
	job, err := async.NewJob(tenantID, destinationID, params, s.now())
	if err != nil {
		return nil, false, err
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, false, err
	}
	telemetry.JobsCreated.Inc()

	logger.JobLogger(s.log, job.ID).Infow("Job created",
		logger.FieldTenantID, tenantID,
		logger.FieldDestinationID, destinationID,
	)

	if !s.pool.Accepting() {
		return job, false, nil
	}
	triggered, err := s.dispatcher.TriggerNext(ctx)
	if err != nil {
		// The job is stored; the next sweep picks it up
		s.log.Warnw("Trigger after create failed", logger.FieldJobID, job.ID, logger.FieldError, err)
		return job, false, nil
	}
	return job, triggered, nil
}

// Sweep runs one recorded sweep pass
func (s *Service) Sweep(ctx context.Context, trigger string) (*async.SweepResult, error) {
	var result *async.SweepResult
	err := s.runs.Track(ctx, schedule.KindSweep, trigger, func(ctx context.Context) (interface{}, error) {
		var err error
		result, err = s.dispatcher.Sweep(ctx)
		return result, err
	})
	return result, err
}

// Monitor runs one recorded monitor pass
func (s *Service) Monitor(ctx context.Context, trigger string) (*async.MonitorReport, error) {
	var report *async.MonitorReport
	err := s.runs.Track(ctx, schedule.KindMonitor, trigger, func(ctx context.Context) (interface{}, error) {
		var err error
		report, err = s.monitor.Run(ctx)
		return report, err
	})
	return report, err
}

// Stats reads queue counts and refreshes the per-status gauge
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	queue, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	telemetry.QueueDepth.WithLabelValues(string(async.JobStatusPending)).Set(float64(queue.Pending))
	telemetry.QueueDepth.WithLabelValues(string(async.JobStatusProcessing)).Set(float64(queue.Processing))
	telemetry.QueueDepth.WithLabelValues(string(async.JobStatusCompleted)).Set(float64(queue.Completed))
	telemetry.QueueDepth.WithLabelValues(string(async.JobStatusFailed)).Set(float64(queue.Failed))
	telemetry.QueueDepth.WithLabelValues(string(async.JobStatusScheduled)).Set(float64(queue.Scheduled))

	stats := &Stats{
		Queue:            queue,
		InFlight:         queue.Processing,
		ConcurrencyCap:   s.dispatcher.Gate().Cap(),
		ActiveExecutions: s.pool.Active(),
	}
	for _, t := range s.tickers {
		stats.Tickers = append(stats.Tickers, t.GetStats())
	}

	// Host metrics are best effort
	if sys, err := GetSystemMetrics(); err != nil {
		s.log.Debugw("System metrics unavailable", "error", err)
	} else {
		sys.ExecutionsActive = stats.ActiveExecutions
		stats.System = sys
	}

	if s.runs != nil {
		runs, err := s.runs.ListRecent(ctx, "", recentRunLimit)
		if err != nil {
			return nil, err
		}
		stats.RecentRuns = runs
	}
	return stats, nil
}

// Cleanup removes old terminal jobs
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.store.CleanupOldJobs(ctx, olderThan, s.now())
}

// StartDaemon starts the sweep and monitor tickers at the configured intervals
func (s *Service) StartDaemon(ctx context.Context) {
	sweep := schedule.NewTicker(ctx, schedule.KindSweep,
		time.Duration(s.cfg.Pulse.SweepIntervalSeconds)*time.Second,
		func(ctx context.Context, _ time.Time) error {
			_, err := s.Sweep(ctx, schedule.TriggerDaemon)
			return s.tickError(err)
		}, s.log)

	monitor := schedule.NewTicker(ctx, schedule.KindMonitor,
		time.Duration(s.cfg.Pulse.MonitorIntervalSeconds)*time.Second,
		func(ctx context.Context, _ time.Time) error {
			report, err := s.Monitor(ctx, schedule.TriggerDaemon)
			if err == nil && len(report.Errors) > 0 {
				s.log.Warnw("Monitor pass reported errors", "errors", report.Errors)
			}
			return s.tickError(err)
		}, s.log)

	s.tickers = append(s.tickers, sweep, monitor)
	sweep.Start()
	monitor.Start()
}

// tickError drops errors from a tick that raced shutdown
func (s *Service) tickError(err error) error {
	if db.IsDatabaseClosed(err) {
		s.log.Debugw("Tick skipped, database closed", "error", err)
		return nil
	}
	return err
}

// Wait blocks until every execution launched by this process has finished
func (s *Service) Wait(ctx context.Context) error {
	return s.dispatcher.Wait(ctx)
}

// Close stops the tickers, drains in-flight executions up to the stop
// timeout and releases the database. Running executions are never requeued.
func (s *Service) Close() {
	for _, t := range s.tickers {
		t.Stop()
	}
	s.pool.Stop()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// SetClock replaces every component clock (tests)
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.executor.SetClock(now)
	s.dispatcher.SetClock(now)
	s.monitor.SetClock(now)
	s.scheduler.SetClock(now)
	if s.runs != nil {
		s.runs.SetClock(now)
	}
}

// newSQLiteComponents wires the SQLite store and run history over one connection
func newSQLiteComponents(conn *sql.DB, log *zap.SugaredLogger) Components {
	return Components{
		Store: async.NewStore(conn),
		Runs:  schedule.NewRunStore(conn, log.Named("runs")),
	}
}
