// Package telemetry exposes Prometheus metrics for Pulse dispatch and recovery.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_jobs_created_total", Help: "Jobs inserted as pending"})
	Claims            = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_claims_total", Help: "Successful pending to processing claims"})
	ClaimsLost        = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_claims_lost_total", Help: "Claims that lost the race to another invocation"})
	GateRejects       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_gate_rejects_total", Help: "Dispatch attempts skipped because in-flight reached the cap"})
	Completions       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_jobs_completed_total", Help: "Pipeline runs that produced an artifact"})
	Retries           = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_jobs_retried_total", Help: "Pipeline failures returned to pending with backoff"})
	Failures          = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_jobs_failed_total", Help: "Jobs moved to terminal failed"})
	SupersededWrites  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_superseded_writes_total", Help: "Executor writes rejected because the run lost its claim"})
	Persisted         = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_artifacts_persisted_total", Help: "Artifacts written to durable storage"})
	PersistFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_artifact_persist_failures_total", Help: "Artifact writes that failed"})
	Sweeps            = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_sweeps_total", Help: "Sweep invocations"})
	MonitorRuns       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_monitor_runs_total", Help: "Monitor passes"})
	MonitorTimeouts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_monitor_timeouts_total", Help: "Processing jobs past the execution timeout"})
	MonitorRecoveries = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_monitor_recoveries_total", Help: "Timed-out jobs requeued for one more attempt"})
	MonitorStuck      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_monitor_stuck_total", Help: "Processing jobs whose phase stopped advancing"})
	SlotsAssigned     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_slots_assigned_total", Help: "Completed jobs placed into a publish slot"})
	SlotsUnavailable  = prometheus.NewCounter(prometheus.CounterOpts{Name: "pressline_slots_unavailable_total", Help: "Scheduling attempts with no slot in the horizon"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pressline_inflight", Help: "Jobs in processing as last observed by the gate"})
	ActiveExecutions  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pressline_active_executions", Help: "Executions running in this process"})
	QueueDepth        = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "pressline_jobs", Help: "Jobs per status as last observed"}, []string{"status"})
)

// Collectors returns every pressline collector
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		JobsCreated,
		Claims,
		ClaimsLost,
		GateRejects,
		Completions,
		Retries,
		Failures,
		SupersededWrites,
		Persisted,
		PersistFailures,
		Sweeps,
		MonitorRuns,
		MonitorTimeouts,
		MonitorRecoveries,
		MonitorStuck,
		SlotsAssigned,
		SlotsUnavailable,
		InFlightGauge,
		ActiveExecutions,
		QueueDepth,
	}
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(Collectors()...)
	})
	return promhttp.Handler()
}
