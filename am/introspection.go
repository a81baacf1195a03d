package am

import (
	"os"
	"sort"
	"strings"

	"github.com/teranos/pressline/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/pressline/am.toml
	SourceUser        ConfigSource = "user"        // ~/.pressline/am.toml
	SourceProject     ConfigSource = "project"     // nearest am.toml above the working directory
	SourceEnvironment ConfigSource = "environment" // PRESSLINE_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // file path or env var name
}

// ConfigSources maps dotted keys to the file that last set them.
// Filled by the most recent load; keys absent here came from defaults.
var ConfigSources map[string]SourceInfo

// SettingInfo is one effective setting and its origin
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// ConfigIntrospection lists every effective setting with its source
type ConfigIntrospection struct {
	Files    []ConfigFile  `json:"files"`
	Settings []SettingInfo `json:"settings"`
}

// sensitiveKeys are masked in introspection output
var sensitiveKeys = map[string]bool{
	"database.dsn":         true,
	"server.trigger_token": true,
}

// GetConfigIntrospection reports the effective settings of the global
// configuration and where each one came from
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	if _, err := Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}
	v := GetViper()

	intro := &ConfigIntrospection{Files: ConfigFiles()}
	flattenSettingsWithSources(v.AllSettings(), "", intro, ConfigSources)
	return intro, nil
}

func flattenSettingsWithSources(settings map[string]interface{}, prefix string, intro *ConfigIntrospection, sources map[string]SourceInfo) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]interface{}); ok {
			flattenSettingsWithSources(nested, fullKey, intro, sources)
			continue
		}

		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sources[fullKey]; ok {
			info = si
		}

		envKey := EnvKey(fullKey)
		if os.Getenv(envKey) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		if sensitiveKeys[fullKey] && value != "" {
			value = masked
		}

		intro.Settings = append(intro.Settings, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
}

// EnvKey returns the environment variable that overrides a dotted key
func EnvKey(key string) string {
	return "PRESSLINE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
