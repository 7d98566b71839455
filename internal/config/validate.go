package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks what can be checked without building components: duration
// fields, task IDs and action kinds. Schedules are checked by the app, which
// owns the schedule parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	s := cfg.Scheduler
	if s.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrent: must be >= 0"))
	}
	if s.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("scheduler.history_size: must be >= 0"))
	}
	dur("scheduler.scan_interval", s.ScanInterval)
	dur("scheduler.retry_base", s.RetryBase)
	dur("scheduler.retry_max_delay", s.RetryMaxDelay)
	dur("scheduler.default_timeout", s.DefaultTimeout)
	dur("scheduler.blocked_warn_every", s.BlockedWarnEvery)
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "file", "memory", "mem", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
		dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	}
	dur("snapshot.autosave_every", cfg.Snapshot.AutosaveEvery)
	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.idle_timeout", cfg.HTTP.IdleTimeout)

	n := cfg.Notifier
	if n.Enabled && strings.TrimSpace(n.WebhookURL) == "" {
		errs = append(errs, fmt.Errorf("notifier.webhook_url: required when enabled"))
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		errs = append(errs, fmt.Errorf("notifier: counts must be >= 0"))
	}
	dur("notifier.retry_base", n.RetryBase)
	dur("notifier.retry_max_delay", n.RetryMaxDelay)
	dur("notifier.send_timeout", n.SendTimeout)
	dur("notifier.dedup_window", n.DedupWindow)

	seen := make(map[string]struct{}, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		id := strings.TrimSpace(t.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("%s.id: required", path))
		} else if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("%s.id: duplicate id %q", path, id))
		}
		seen[id] = struct{}{}
		if t.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.max_retries: must be >= 0", path))
		}
		dur(path+".timeout", t.Timeout)
		switch strings.ToLower(strings.TrimSpace(t.Action.Kind)) {
		case "noop", "shell", "http", "systemd":
		default:
			errs = append(errs, fmt.Errorf("%s.action.kind: unknown kind %q", path, t.Action.Kind))
		}
	}
	return errors.Join(errs...)
}
