package am

import (
	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse/async"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "", DriverSQLite:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required when database.driver is postgres")
		}
	default:
		return errors.Newf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	// Zero cap means nothing is ever claimed, which is never what an operator wants
	if c.Pulse.ConcurrencyCap <= 0 {
		return errors.Newf("pulse.concurrency_cap must be > 0, got %d", c.Pulse.ConcurrencyCap)
	}

	// Intervals: 0 = ticker disabled, negative = invalid
	if c.Pulse.SweepIntervalSeconds < 0 {
		return errors.Newf("pulse.sweep_interval_seconds must be >= 0, got %d", c.Pulse.SweepIntervalSeconds)
	}
	if c.Pulse.MonitorIntervalSeconds < 0 {
		return errors.Newf("pulse.monitor_interval_seconds must be >= 0, got %d", c.Pulse.MonitorIntervalSeconds)
	}
	if c.Pulse.LaunchRatePerSecond < 0 {
		return errors.Newf("pulse.launch_rate_per_second must be >= 0, got %f", c.Pulse.LaunchRatePerSecond)
	}

	if c.Pulse.MaxRetries < 0 || c.Pulse.MaxRetries > async.MaxRetryCount {
		return errors.Newf("pulse.max_retries must be within 0-%d, got %d", async.MaxRetryCount, c.Pulse.MaxRetries)
	}
	if c.Pulse.MaxRetries > 0 && len(c.Pulse.RetryDelaysMinutes) == 0 {
		return errors.New("pulse.retry_delays_minutes cannot be empty when retries are enabled")
	}
	for i, d := range c.Pulse.RetryDelaysMinutes {
		if d <= 0 {
			return errors.Newf("pulse.retry_delays_minutes[%d] must be > 0, got %d", i, d)
		}
	}

	if c.Pulse.ExecutionTimeoutMinutes <= 0 {
		return errors.Newf("pulse.execution_timeout_minutes must be > 0, got %d", c.Pulse.ExecutionTimeoutMinutes)
	}
	if c.Pulse.StuckPhaseMinutes <= 0 {
		return errors.Newf("pulse.stuck_phase_minutes must be > 0, got %d", c.Pulse.StuckPhaseMinutes)
	}
	if c.Pulse.UnsavedLookbackMinutes <= 0 {
		return errors.Newf("pulse.unsaved_lookback_minutes must be > 0, got %d", c.Pulse.UnsavedLookbackMinutes)
	}
	// Exactly one recovery attempt before a timed-out job fails
	if c.Pulse.MaxTimeoutRetries != async.DefaultMaxTimeoutRetries {
		return errors.Newf("pulse.max_timeout_retries must be %d, got %d", async.DefaultMaxTimeoutRetries, c.Pulse.MaxTimeoutRetries)
	}

	for _, h := range c.Slots.GoldenHours {
		if h < 0 || h > 23 {
			return errors.Newf("slots.golden_hours entries must be within 0-23, got %d", h)
		}
	}
	if c.Slots.HorizonDays <= 0 {
		return errors.Newf("slots.horizon_days must be > 0, got %d", c.Slots.HorizonDays)
	}
	if c.Slots.JitterMinutes < 0 {
		return errors.Newf("slots.jitter_minutes must be >= 0, got %d", c.Slots.JitterMinutes)
	}

	switch c.Artifacts.Backend {
	case "", BackendFS:
	case BackendS3:
		if c.Artifacts.Bucket == "" {
			return errors.New("artifacts.bucket is required when artifacts.backend is s3")
		}
	default:
		return errors.Newf("artifacts.backend must be fs or s3, got %q", c.Artifacts.Backend)
	}

	if c.Pipeline.TimeoutSeconds < 0 {
		return errors.Newf("pipeline.timeout_seconds must be >= 0, got %d", c.Pipeline.TimeoutSeconds)
	}

	if c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	return nil
}
