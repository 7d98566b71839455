package app

import (
	"fmt"
	"strings"
	"time"

	"schedq/internal/api"
	"schedq/internal/config"
	"schedq/internal/notifier"
	"schedq/internal/storage"
	"schedq/internal/task/scheduler"
	logx "schedq/pkg/logx"
)

const (
	defaultSnapshotPath = "./schedq-snapshot.json"
	defaultBusyTimeout  = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	out := scheduler.Config{
		MaxConcurrent: sc.MaxConcurrent,
		Timezone:      strings.TrimSpace(sc.Timezone),
		HistorySize:   sc.HistorySize,
	}
	durs := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"scheduler.scan_interval", sc.ScanInterval, &out.ScanInterval},
		{"scheduler.retry_base", sc.RetryBase, &out.RetryBase},
		{"scheduler.retry_max_delay", sc.RetryMaxDelay, &out.RetryMaxDelay},
		{"scheduler.default_timeout", sc.DefaultTimeout, &out.DefaultTimeout},
		{"scheduler.blocked_warn_every", sc.BlockedWarnEvery, &out.BlockedWarnEvery},
	}
	for _, d := range durs {
		v, err := config.ParseDurationField(d.key, d.raw)
		if err != nil {
			return scheduler.Config{}, err
		}
		*d.dst = v
	}
	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", out.Timezone, err)
		}
	}
	return out, nil
}

// mapStorageConfig defaults to the file driver, which writes the snapshot path
// as a plain file.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "file"}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	path := strings.TrimSpace(cfg.Storage.Path)
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file"}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
}

type snapshotSettings struct {
	path     string
	restore  bool
	autosave time.Duration
}

func mapSnapshotConfig(cfg *config.Config) (snapshotSettings, error) {
	every, err := config.ParseDurationField("snapshot.autosave_every", cfg.Snapshot.AutosaveEvery)
	if err != nil {
		return snapshotSettings{}, err
	}
	path := strings.TrimSpace(cfg.Snapshot.Path)
	if path == "" {
		path = defaultSnapshotPath
	}
	return snapshotSettings{path: path, restore: cfg.Snapshot.RestoreOnStart, autosave: every}, nil
}

func mapAPIConfig(cfg *config.Config, snapshotPath string) (api.Config, error) {
	h := cfg.HTTP
	out := api.Config{
		Addr:         strings.TrimSpace(h.Addr),
		Token:        strings.TrimSpace(h.Token),
		SnapshotPath: snapshotPath,
		Pprof:        h.Pprof,
	}
	durs := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"http.read_timeout", h.ReadTimeout, &out.ReadTimeout},
		{"http.write_timeout", h.WriteTimeout, &out.WriteTimeout},
		{"http.idle_timeout", h.IdleTimeout, &out.IdleTimeout},
	}
	for _, d := range durs {
		v, err := config.ParseDurationField(d.key, d.raw)
		if err != nil {
			return api.Config{}, err
		}
		*d.dst = v
	}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	out := notifier.Config{
		Enabled:         n.Enabled,
		WebhookURL:      strings.TrimSpace(n.WebhookURL),
		Headers:         n.Headers,
		Events:          n.Events,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	durs := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"notifier.retry_base", n.RetryBase, &out.RetryBase},
		{"notifier.retry_max_delay", n.RetryMaxDelay, &out.RetryMaxDelay},
		{"notifier.send_timeout", n.SendTimeout, &out.SendTimeout},
		{"notifier.dedup_window", n.DedupWindow, &out.DedupWindow},
	}
	for _, d := range durs {
		v, err := config.ParseDurationField(d.key, d.raw)
		if err != nil {
			return notifier.Config{}, err
		}
		*d.dst = v
	}
	return out, nil
}
