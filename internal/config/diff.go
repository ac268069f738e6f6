package config

import (
	"sort"
	"strings"

	"rotarr/pkg/logx"
)

// SummarizeChange returns the changed section names plus safe structured
// attrs for logging. Secrets (api keys) are reported presence-only.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Applier (never log the key itself)
	if oldCfg.Applier.DryRun != newCfg.Applier.DryRun ||
		strings.TrimSpace(oldCfg.Applier.Endpoint) != strings.TrimSpace(newCfg.Applier.Endpoint) ||
		strings.TrimSpace(oldCfg.Applier.Timeout) != strings.TrimSpace(newCfg.Applier.Timeout) ||
		(strings.TrimSpace(oldCfg.Applier.APIKey) != "") != (strings.TrimSpace(newCfg.Applier.APIKey) != "") {
		changed = append(changed, "applier")
		attrs = append(attrs,
			logx.Bool("applier.dry_run", newCfg.Applier.DryRun),
			logx.String("applier.endpoint", strings.TrimSpace(newCfg.Applier.Endpoint)),
			logx.Bool("applier.api_key_set", strings.TrimSpace(newCfg.Applier.APIKey) != ""),
			logx.String("applier.timeout", strings.TrimSpace(newCfg.Applier.Timeout)),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.apply_timeout", strings.TrimSpace(newCfg.Engine.ApplyTimeout)),
			logx.String("engine.failure_log_every", strings.TrimSpace(newCfg.Engine.FailureLogEvery)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
