// Package config loads the daemon configuration from a JSON or YAML file and
// republishes it to subscribers when the file changes on disk.
//
// Schedule data does not live here: schedules, categories, and sequences are
// owned by the store and picked up fresh each engine tick. The config file
// covers the process-level knobs only.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Applier ApplierConfig `json:"applier"`
	Engine  EngineConfig  `json:"engine,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./rotarr.db" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ApplierConfig controls how selections reach the media platform.
// DryRun replaces the HTTP applier with a log-only one; Endpoint is then
// optional.
type ApplierConfig struct {
	DryRun   bool   `json:"dry_run,omitempty"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key,omitempty"`
	// Timeout is a Go duration string for the per-call HTTP timeout.
	Timeout string `json:"timeout,omitempty"`
}

// EngineConfig holds loop tuning. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m"). Zero values keep the engine defaults.
type EngineConfig struct {
	// ApplyTimeout bounds a single applier call inside a tick.
	ApplyTimeout string `json:"apply_timeout,omitempty"`
	// FailureLogEvery throttles repeated apply-failure error logs.
	FailureLogEvery string `json:"failure_log_every,omitempty"`
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	if !c.Applier.DryRun && strings.TrimSpace(c.Applier.Endpoint) == "" {
		return fmt.Errorf("applier.endpoint is required unless applier.dry_run is set")
	}
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"applier.timeout", c.Applier.Timeout},
		{"engine.apply_timeout", c.Engine.ApplyTimeout},
		{"engine.failure_log_every", c.Engine.FailureLogEvery},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
