package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "pressline.db")

	// Pulse defaults
	v.SetDefault("pulse.concurrency_cap", 100)
	v.SetDefault("pulse.sweep_interval_seconds", 60)
	v.SetDefault("pulse.monitor_interval_seconds", 300)
	v.SetDefault("pulse.launch_rate_per_second", 0)
	v.SetDefault("pulse.max_retries", 3)
	v.SetDefault("pulse.retry_delays_minutes", []int{5, 30, 120})
	v.SetDefault("pulse.execution_timeout_minutes", 30)
	v.SetDefault("pulse.stuck_phase_minutes", 10)
	v.SetDefault("pulse.unsaved_lookback_minutes", 30)
	v.SetDefault("pulse.max_timeout_retries", 1)
	v.SetDefault("pulse.stop_timeout_seconds", 60)
	v.SetDefault("pulse.cleanup_after_days", 30)

	// Slot scheduling defaults
	v.SetDefault("slots.timezone", "America/New_York")
	v.SetDefault("slots.golden_hours", []int{9, 12, 17, 20})
	v.SetDefault("slots.horizon_days", 30)
	v.SetDefault("slots.jitter_minutes", 15)
	v.SetDefault("slots.default_daily_limit", 1)

	// Artifact storage defaults
	v.SetDefault("artifacts.backend", BackendFS)
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("artifacts.prefix", "jobs/")

	// Pipeline defaults
	v.SetDefault("pipeline.url", "http://localhost:8090/generate")
	v.SetDefault("pipeline.timeout_seconds", 1200)
	v.SetDefault("pipeline.block_private_ips", false)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.dsn", "PRESSLINE_DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("server.trigger_token", "PRESSLINE_SERVER_TRIGGER_TOKEN")
	v.BindEnv("artifacts.bucket", "PRESSLINE_ARTIFACTS_BUCKET")
}

// RetryDelays returns the retry delay table as durations
func (c *PulseConfig) RetryDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(c.RetryDelaysMinutes))
	for _, m := range c.RetryDelaysMinutes {
		delays = append(delays, time.Duration(m)*time.Minute)
	}
	return delays
}

// ExecutionTimeout returns how long a processing job may run before the monitor intervenes
func (c *PulseConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutMinutes) * time.Minute
}

// StuckPhaseThreshold returns how long a phase may go without an update
func (c *PulseConfig) StuckPhaseThreshold() time.Duration {
	return time.Duration(c.StuckPhaseMinutes) * time.Minute
}

// UnsavedLookback returns the window in which completed jobs are checked for a persisted artifact
func (c *PulseConfig) UnsavedLookback() time.Duration {
	return time.Duration(c.UnsavedLookbackMinutes) * time.Minute
}

// StopTimeout returns the drain bound for daemon shutdown
func (c *PulseConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "pressline.db"
	}
	return c.Database.Path
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Pulse: {Cap: %d}, Slots: {Timezone: %s}, Artifacts: %s}",
		c.Database.Driver, c.Pulse.ConcurrencyCap, c.Slots.Timezone, c.Artifacts.Backend)
}
