package am

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	// Isolated viper instance, no user/system config
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "pressline.db", cfg.Database.Path)
	assert.Equal(t, 100, cfg.Pulse.ConcurrencyCap)
	assert.Equal(t, 3, cfg.Pulse.MaxRetries)
	assert.Equal(t, []int{5, 30, 120}, cfg.Pulse.RetryDelaysMinutes)
	assert.Equal(t, 30, cfg.Pulse.ExecutionTimeoutMinutes)
	assert.Equal(t, 10, cfg.Pulse.StuckPhaseMinutes)
	assert.Equal(t, 30, cfg.Pulse.UnsavedLookbackMinutes)
	assert.Equal(t, 1, cfg.Pulse.MaxTimeoutRetries)
	assert.Equal(t, "America/New_York", cfg.Slots.Timezone)
	assert.Equal(t, []int{9, 12, 17, 20}, cfg.Slots.GoldenHours)
	assert.Equal(t, 30, cfg.Slots.HorizonDays)
	assert.Equal(t, 15, cfg.Slots.JitterMinutes)
	assert.Equal(t, BackendFS, cfg.Artifacts.Backend)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Empty(t, cfg.Server.TriggerToken)
}

func TestPulseDurations(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, []time.Duration{5 * time.Minute, 30 * time.Minute, 120 * time.Minute}, cfg.Pulse.RetryDelays())
	assert.Equal(t, 30*time.Minute, cfg.Pulse.ExecutionTimeout())
	assert.Equal(t, 10*time.Minute, cfg.Pulse.StuckPhaseThreshold())
	assert.Equal(t, 30*time.Minute, cfg.Pulse.UnsavedLookback())
	assert.Equal(t, 60*time.Second, cfg.Pulse.StopTimeout())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero sweep interval is valid (disabled)", func(c *Config) { c.Pulse.SweepIntervalSeconds = 0 }, false},
		{"negative sweep interval is invalid", func(c *Config) { c.Pulse.SweepIntervalSeconds = -1 }, true},
		{"zero concurrency cap is invalid", func(c *Config) { c.Pulse.ConcurrencyCap = 0 }, true},
		{"zero retries is valid", func(c *Config) { c.Pulse.MaxRetries = 0; c.Pulse.RetryDelaysMinutes = nil }, false},
		{"retries without delays is invalid", func(c *Config) { c.Pulse.RetryDelaysMinutes = nil }, true},
		{"negative delay is invalid", func(c *Config) { c.Pulse.RetryDelaysMinutes = []int{5, -1} }, true},
		{"golden hour out of range", func(c *Config) { c.Slots.GoldenHours = []int{9, 24} }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, true},
		{"postgres with dsn", func(c *Config) {
			c.Database.Driver = DriverPostgres
			c.Database.DSN = "postgres://localhost/pressline"
		}, false},
		{"s3 without bucket", func(c *Config) { c.Artifacts.Backend = BackendS3 }, true},
		{"unknown backend", func(c *Config) { c.Artifacts.Backend = "gcs" }, true},
		{"negative launch rate", func(c *Config) { c.Pulse.LaunchRatePerSecond = -1 }, true},
		{"retries above the cap", func(c *Config) { c.Pulse.MaxRetries = 4 }, true},
		{"zero delay is invalid", func(c *Config) { c.Pulse.RetryDelaysMinutes = []int{5, 0} }, true},
		{"zero timeout retries is invalid", func(c *Config) { c.Pulse.MaxTimeoutRetries = 0 }, true},
		{"two timeout retries is invalid", func(c *Config) { c.Pulse.MaxTimeoutRetries = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[pulse]
concurrency_cap = 5
retry_delays_minutes = [1, 2]

[slots]
timezone = "Europe/Amsterdam"
golden_hours = [8, 18]
`
	require.NoError(t, os.WriteFile(path, []byte(content), DefaultFilePermissions))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pulse.ConcurrencyCap)
	assert.Equal(t, []int{1, 2}, cfg.Pulse.RetryDelaysMinutes)
	assert.Equal(t, "Europe/Amsterdam", cfg.Slots.Timezone)
	assert.Equal(t, []int{8, 18}, cfg.Slots.GoldenHours)
	// untouched keys keep their defaults
	assert.Equal(t, 30, cfg.Pulse.ExecutionTimeoutMinutes)
}

func TestLoadFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[pulse]\nconcurrency_cap = -3\n"), DefaultFilePermissions))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("walks up to am.toml", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test1", "subdir")
		require.NoError(t, os.MkdirAll(subDir, DefaultDirPermissions))
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1", "am.toml"), []byte(""), DefaultFilePermissions))

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		require.NoError(t, os.Chdir(subDir))

		result := findProjectConfig()
		require.NotEmpty(t, result)
		assert.True(t, filepath.IsAbs(result))
		assert.Equal(t, "am.toml", filepath.Base(result))
	})

	t.Run("no config found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test2", "subdir")
		require.NoError(t, os.MkdirAll(subDir, DefaultDirPermissions))

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		require.NoError(t, os.Chdir(subDir))

		assert.Empty(t, findProjectConfig())
	})
}

func TestEnvOverridesDefaults(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("PRESSLINE_PULSE_CONCURRENCY_CAP", "7")
	t.Setenv("PRESSLINE_SERVER_TRIGGER_TOKEN", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pulse.ConcurrencyCap)
	assert.Equal(t, "s3cret", cfg.Server.TriggerToken)
}

func TestWriteTOML_MasksSecrets(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Server.TriggerToken = "s3cret"
	cfg.Database.DSN = "postgres://user:pw@localhost/db"

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteTOML(&buf))

	out := buf.String()
	assert.Contains(t, out, "concurrency_cap = 100")
	assert.Contains(t, out, "[slots]")
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "pw@localhost")
	// original is untouched
	assert.Equal(t, "s3cret", cfg.Server.TriggerToken)
}

func TestSettings(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Server.TriggerToken = "s3cret"

	settings, err := cfg.Settings()
	require.NoError(t, err)

	pulse, ok := settings["pulse"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 100, pulse["concurrency_cap"])

	server, ok := settings["server"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, masked, server["trigger_token"])
}
