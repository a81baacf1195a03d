package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/teranos/pressline/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the pressline configuration using Viper
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Defaults only, no environment binding for an explicit file
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	ConfigSources = nil
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("PRESSLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)

	SetDefaults(v)

	// system -> user -> project, env vars still win over all files
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig walks up from the working directory looking for am.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// ConfigFile is one candidate config file in the cascade
type ConfigFile struct {
	Path   string       `json:"path"`
	Source ConfigSource `json:"source"`
}

// ConfigFiles lists candidate config files from lowest to highest precedence
func ConfigFiles() []ConfigFile {
	files := []ConfigFile{{Path: "/etc/pressline/am.toml", Source: SourceSystem}}

	if homeDir, err := os.UserHomeDir(); err == nil {
		files = append(files, ConfigFile{Path: filepath.Join(homeDir, ".pressline", "am.toml"), Source: SourceUser})
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		files = append(files, ConfigFile{Path: projectConfig, Source: SourceProject})
	}
	return files
}

// mergeConfigFiles merges every config file that exists, in precedence order,
// recording which file each key came from
func mergeConfigFiles(v *viper.Viper) {
	ConfigSources = make(map[string]SourceInfo)

	for _, file := range ConfigFiles() {
		if _, err := os.Stat(file.Path); err != nil {
			continue
		}
		tempViper := viper.New()
		tempViper.SetConfigFile(file.Path)
		tempViper.SetConfigType("toml")

		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}
		for _, key := range tempViper.AllKeys() {
			ConfigSources[key] = SourceInfo{Source: file.Source, Path: file.Path}
		}
		_ = v.MergeConfigMap(tempViper.AllSettings())
	}
}

// GetDatabasePath returns the configured SQLite path
func GetDatabasePath() (string, error) {
	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Database.Path, nil
}
