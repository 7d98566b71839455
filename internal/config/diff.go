package config

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	logx "schedq/pkg/logx"
)

// SummarizeConfigChange returns (1) the sorted list of changed sections,
// (2) structured attrs safe for logging (no header values or bodies), and
// (3) the sorted IDs of tasks that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Scheduler, newCfg.Scheduler
	if !reflect.DeepEqual(o, n) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.max_concurrent", n.MaxConcurrent),
			logx.Bool("scheduler.max_concurrent_changed", o.MaxConcurrent != n.MaxConcurrent),
			logx.String("scheduler.scan_interval", strings.TrimSpace(n.ScanInterval)),
			logx.String("scheduler.retry_base", strings.TrimSpace(n.RetryBase)),
			logx.String("scheduler.default_timeout", strings.TrimSpace(n.DefaultTimeout)),
			logx.Int("scheduler.history_size", n.HistorySize),
			logx.String("scheduler.timezone", strings.TrimSpace(n.Timezone)),
		)
	}

	// Nil storage means the default file driver.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Snapshot != newCfg.Snapshot {
		changed = append(changed, "snapshot")
		attrs = append(attrs,
			logx.String("snapshot.path", newCfg.Snapshot.Path),
			logx.Bool("snapshot.restore_on_start", newCfg.Snapshot.RestoreOnStart),
			logx.String("snapshot.autosave_every", strings.TrimSpace(newCfg.Snapshot.AutosaveEvery)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		nn := newCfg.Notifier
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Bool("notifier.webhook_set", strings.TrimSpace(nn.WebhookURL) != ""),
			logx.Strings("notifier.events", nn.Events),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.String("notifier.dedup_window", strings.TrimSpace(nn.DedupWindow)),
		)
	}

	taskChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(taskChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(taskChanged)),
			logx.Int("tasks.count", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

func diffTasks(oldT, newT []TaskConfig) []string {
	index := func(ts []TaskConfig) map[string]uint64 {
		m := make(map[string]uint64, len(ts))
		for _, t := range ts {
			b, err := json.Marshal(t)
			if err != nil {
				m[t.ID] = 0
				continue
			}
			m[t.ID] = hashBytes(b)
		}
		return m
	}
	om, nm := index(oldT), index(newT)

	out := make([]string, 0)
	for id, h := range nm {
		if oh, ok := om[id]; !ok || oh != h {
			out = append(out, id)
		}
	}
	for id := range om {
		if _, ok := nm[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
