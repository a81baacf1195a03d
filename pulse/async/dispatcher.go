package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/pulse/telemetry"
)

// continuationCandidates is how many eligible jobs TriggerNext tries before giving up
// on a chain step. Losing a claim to a concurrent sweep is normal.
const continuationCandidates = 5

// JobExecutor runs a claimed job to a terminal or requeued state
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// DispatcherConfig controls launch capacity and pacing
type DispatcherConfig struct {
	ConcurrencyCap      int
	LaunchRatePerSecond float64 // 0 = unpaced
}

// SweepResult summarizes one sweep pass
type SweepResult struct {
	Capacity  int `json:"capacity"`
	Triggered int `json:"triggered"`
	Skipped   int `json:"skipped"` // claim lost to a concurrent invocation
}

// Dispatcher moves eligible pending jobs into execution.
//
// Two paths launch work: the continuation emitted after every execution
// (TriggerNext, one job) and the periodic Sweep (as many as capacity allows).
// Both check the gate before claiming.
type Dispatcher struct {
	store    JobStore
	gate     *Gate
	claimer  *Claimer
	executor JobExecutor
	pool     *WorkerPool
	limiter  *rate.Limiter // nil when unpaced
	logger   pulseLogger
	now      func() time.Time
}

// NewDispatcher wires a dispatcher over a worker pool
func NewDispatcher(store JobStore, executor JobExecutor, pool *WorkerPool, cfg DispatcherConfig, log *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		store:    store,
		gate:     NewGate(store, cfg.ConcurrencyCap),
		claimer:  NewClaimer(store),
		executor: executor,
		pool:     pool,
		logger:   pulseLogger{logger.AddPulseSymbol(log.Named("dispatch"))},
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg.LaunchRatePerSecond > 0 {
		burst := int(cfg.LaunchRatePerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchRatePerSecond), burst)
	}
	return d
}

// Gate exposes the dispatcher's concurrency gate
func (d *Dispatcher) Gate() *Gate {
	return d.gate
}

// TriggerNext fills one freed slot: if the gate has capacity, claim the
// oldest eligible pending job and launch it. Returns true if a job was launched.
func (d *Dispatcher) TriggerNext(ctx context.Context) (bool, error) {
	if !d.pool.Accepting() {
		return false, nil
	}

	available, err := d.gate.Available(ctx)
	if err != nil {
		return false, err
	}
	if available == 0 {
		telemetry.GateRejects.Inc()
		return false, nil
	}

	candidates, err := d.store.ListEligible(ctx, d.now(), continuationCandidates)
	if err != nil {
		return false, errors.Wrap(err, "failed to list eligible jobs")
	}

	for _, candidate := range candidates {
		job, err := d.claimer.Claim(ctx, candidate.ID)
		if err != nil {
			return false, err
		}
		if job == nil {
			continue
		}
		d.submit(job)
		return true, nil
	}
	return false, nil
}

// Sweep launches as many eligible jobs as the gate allows, oldest first.
// Claims run concurrently; losing one is counted as skipped. Claimed jobs are
// submitted once all claims return.
func (d *Dispatcher) Sweep(ctx context.Context) (*SweepResult, error) {
	telemetry.Sweeps.Inc()
	result := &SweepResult{}

	if !d.pool.Accepting() {
		return result, errors.Wrap(ErrPoolStopped, "sweep")
	}

	available, err := d.gate.Available(ctx)
	if err != nil {
		return result, err
	}
	result.Capacity = available
	if available == 0 {
		telemetry.GateRejects.Inc()
		d.logger.Debugw("Sweep skipped, at concurrency cap", "cap", d.gate.Cap())
		return result, nil
	}

	candidates, err := d.store.ListEligible(ctx, d.now(), available)
	if err != nil {
		return result, errors.Wrap(err, "failed to list eligible jobs")
	}
	if len(candidates) == 0 {
		return result, nil
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		errs      error
		pacingErr error
		claimed   = make([]*Job, len(candidates))
	)
	for i, candidate := range candidates {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				pacingErr = errors.Wrap(err, "launch pacing")
				break
			}
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			job, err := d.claimer.Claim(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = errors.CombineErrors(errs, err)
			case job == nil:
				result.Skipped++
			default:
				claimed[i] = job
			}
		}(i, candidate.ID)
	}
	wg.Wait()
	errs = errors.CombineErrors(errs, pacingErr)

	// Launch only after every claim settles so this sweep's own continuations
	// cannot take its remaining candidates. Oldest first.
	for _, job := range claimed {
		if job == nil {
			continue
		}
		d.submit(job)
		result.Triggered++
	}

	d.logger.Pulse("Sweep complete",
		"capacity", result.Capacity,
		"candidates", len(candidates),
		"triggered", result.Triggered,
		"skipped", result.Skipped,
	)
	return result, errs
}

// Launch gate-checks, claims and launches one specific job.
// The monitor uses it to restart a job it just requeued.
func (d *Dispatcher) Launch(ctx context.Context, job *Job) (bool, error) {
	if !d.pool.Accepting() {
		return false, nil
	}

	available, err := d.gate.Available(ctx)
	if err != nil {
		return false, err
	}
	if available == 0 {
		telemetry.GateRejects.Inc()
		return false, nil
	}

	claimed, err := d.claimer.Claim(ctx, job.ID)
	if err != nil || claimed == nil {
		return false, err
	}
	d.submit(claimed)
	return true, nil
}

// Wait blocks until every launched execution and its continuations finish
func (d *Dispatcher) Wait(ctx context.Context) error {
	return d.pool.Wait(ctx)
}

// submit runs a claimed job on the pool, then emits the continuation as a
// separate task. If the pool refuses, the job stays processing and the
// monitor's timeout check recovers it.
func (d *Dispatcher) submit(job *Job) {
	accepted := d.pool.Submit(func(ctx context.Context) {
		d.execute(ctx, job)
		d.pool.Submit(d.continuation)
	})
	if !accepted {
		d.logger.Closing("Pool stopped after claim, leaving job for monitor", logger.FieldJobID, job.ID)
	}
}

func (d *Dispatcher) execute(ctx context.Context, job *Job) {
	if err := d.executor.Execute(ctx, job); err != nil {
		d.logger.Errorw("Execution failed", logger.FieldJobID, job.ID, logger.FieldError, err)
	}
}

func (d *Dispatcher) continuation(ctx context.Context) {
	if _, err := d.TriggerNext(ctx); err != nil {
		d.logger.Warnw("Continuation failed, sweep will pick up", logger.FieldError, err)
	}
}

// SetClock replaces the dispatch and claim clock (tests)
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
	d.claimer.SetClock(now)
}
