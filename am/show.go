package am

import (
	"bytes"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/teranos/pressline/errors"
)

const masked = "********"

// Redacted returns a copy with secrets masked
func (c *Config) Redacted() Config {
	redacted := *c
	if redacted.Database.DSN != "" {
		redacted.Database.DSN = masked
	}
	if redacted.Server.TriggerToken != "" {
		redacted.Server.TriggerToken = masked
	}
	return redacted
}

// WriteTOML writes the effective configuration as TOML.
// Secrets are masked so the output is safe to paste into an issue.
func (c *Config) WriteTOML(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(c.Redacted()); err != nil {
		return errors.Wrap(err, "failed to encode config as TOML")
	}
	return nil
}

// Settings returns the redacted configuration as a nested map keyed by
// the TOML names, for rendering in other formats.
func (c *Config) Settings() (map[string]interface{}, error) {
	var buf bytes.Buffer
	if err := c.WriteTOML(&buf); err != nil {
		return nil, err
	}
	settings := make(map[string]interface{})
	if err := toml.Unmarshal(buf.Bytes(), &settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return settings, nil
}
