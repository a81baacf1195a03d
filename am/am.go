// Package am loads pressline configuration from TOML files and the environment.
package am

// Config represents the core pressline configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Pulse     PulseConfig     `mapstructure:"pulse" toml:"pulse"`
	Slots     SlotsConfig     `mapstructure:"slots" toml:"slots"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" toml:"artifacts"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" toml:"pipeline"`
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and locates the job store
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // sqlite (default) or postgres
	Path   string `mapstructure:"path" toml:"path"`     // SQLite file path
	DSN    string `mapstructure:"dsn" toml:"dsn"`       // Postgres connection string
}

// PulseConfig configures dispatch, retry and recovery
type PulseConfig struct {
	ConcurrencyCap int `mapstructure:"concurrency_cap" toml:"concurrency_cap"` // soft cap on processing jobs (default: 100)

	SweepIntervalSeconds   int     `mapstructure:"sweep_interval_seconds" toml:"sweep_interval_seconds"`     // daemon sweep cadence, 0 = disabled
	MonitorIntervalSeconds int     `mapstructure:"monitor_interval_seconds" toml:"monitor_interval_seconds"` // daemon monitor cadence, 0 = disabled
	LaunchRatePerSecond    float64 `mapstructure:"launch_rate_per_second" toml:"launch_rate_per_second"`     // sweep launch pacing, 0 = unpaced

	MaxRetries         int   `mapstructure:"max_retries" toml:"max_retries"`
	RetryDelaysMinutes []int `mapstructure:"retry_delays_minutes" toml:"retry_delays_minutes"`

	ExecutionTimeoutMinutes int `mapstructure:"execution_timeout_minutes" toml:"execution_timeout_minutes"`
	StuckPhaseMinutes       int `mapstructure:"stuck_phase_minutes" toml:"stuck_phase_minutes"`
	UnsavedLookbackMinutes  int `mapstructure:"unsaved_lookback_minutes" toml:"unsaved_lookback_minutes"`
	MaxTimeoutRetries       int `mapstructure:"max_timeout_retries" toml:"max_timeout_retries"`

	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds" toml:"stop_timeout_seconds"` // drain bound on daemon shutdown
	CleanupAfterDays   int `mapstructure:"cleanup_after_days" toml:"cleanup_after_days"`
}

// SlotsConfig configures publish-slot placement
type SlotsConfig struct {
	Timezone          string `mapstructure:"timezone" toml:"timezone"`         // reference zone for golden hours
	GoldenHours       []int  `mapstructure:"golden_hours" toml:"golden_hours"` // local hours, 0-23
	HorizonDays       int    `mapstructure:"horizon_days" toml:"horizon_days"`
	JitterMinutes     int    `mapstructure:"jitter_minutes" toml:"jitter_minutes"`
	DefaultDailyLimit int    `mapstructure:"default_daily_limit" toml:"default_daily_limit"` // used when a destination has none
}

// Artifact backends
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// ArtifactsConfig configures durable artifact storage
type ArtifactsConfig struct {
	Backend  string `mapstructure:"backend" toml:"backend"` // fs (default) or s3
	Dir      string `mapstructure:"dir" toml:"dir"`
	Bucket   string `mapstructure:"bucket" toml:"bucket"`
	Prefix   string `mapstructure:"prefix" toml:"prefix"`
	Region   string `mapstructure:"region" toml:"region"`
	Endpoint string `mapstructure:"endpoint" toml:"endpoint"` // S3-compatible endpoint override (MinIO, R2)
}

// PipelineConfig locates the content-generation service
type PipelineConfig struct {
	URL             string `mapstructure:"url" toml:"url"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	BlockPrivateIPs bool   `mapstructure:"block_private_ips" toml:"block_private_ips"` // refuse loopback/private targets
}

// ServerConfig configures the HTTP trigger server
type ServerConfig struct {
	Port         int    `mapstructure:"port" toml:"port"`
	TriggerToken string `mapstructure:"trigger_token" toml:"trigger_token"` // empty = no auth on trigger endpoints
}

// LogConfig configures output format
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// Server port constants
const (
	DefaultServerPort = 8780
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
