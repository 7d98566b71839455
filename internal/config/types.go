package config

// Config is the daemon configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Snapshot  SnapshotConfig  `json:"snapshot"`
	HTTP      HTTPConfig      `json:"http"`
	Notifier  NotifierConfig  `json:"notifier"`
	Tasks     []TaskConfig    `json:"tasks,omitempty"`
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

// SchedulerConfig controls the task scheduler.
//
// max_concurrent is read once at startup; everything else is hot-reloadable.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 1
//   - scan_interval: "100ms"
//   - retry_base: "1s"
//   - retry_max_delay: "0s" (uncapped)
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - blocked_warn_every: "1m"
type SchedulerConfig struct {
	MaxConcurrent    int    `json:"max_concurrent"`
	ScanInterval     string `json:"scan_interval,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	RetryMaxDelay    string `json:"retry_max_delay,omitempty"`
	DefaultTimeout   string `json:"default_timeout,omitempty"`
	HistorySize      int    `json:"history_size,omitempty"`
	BlockedWarnEvery string `json:"blocked_warn_every,omitempty"`

	// Timezone used to evaluate cron expressions.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig selects where snapshots are written.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./schedq.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SnapshotConfig controls queue persistence.
//
// Path is a file path for the file driver and a blob key for sqlite/memory.
// Autosave only writes when the queue changed since the last save.
type SnapshotConfig struct {
	Path           string `json:"path"`
	RestoreOnStart bool   `json:"restore_on_start"`
	AutosaveEvery  string `json:"autosave_every,omitempty"` // "0s" disables periodic saves
}

// HTTPConfig controls the admin API. Prefer binding to localhost, or set a token.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8380"
	Token   string `json:"token,omitempty"` // optional bearer token for /api (do not log)
	Pprof   bool   `json:"pprof,omitempty"` // mount /debug/pprof

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// NotifierConfig controls webhook alerts for task outcomes. Hot-reloadable
// except workers and queue_size.
//
// Defaults (when fields are omitted/zero):
//   - events: ["task.failed"]
//   - workers: 2
//   - queue_size: 256
//   - rate_per_sec: 3
//   - retry_base: "500ms", retry_max_delay: "10s"
//   - send_timeout: "10s"
//   - dedup_window: "0s" (disabled)
type NotifierConfig struct {
	Enabled    bool              `json:"enabled"`
	WebhookURL string            `json:"webhook_url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"` // values are never logged
	Events     []string          `json:"events,omitempty"`

	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// TaskConfig defines a task registered at startup.
//
// Schedule accepts the forms understood by scheduler.ParseSchedule; an empty
// schedule runs the task once, as soon as possible.
type TaskConfig struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Group        string       `json:"group,omitempty"`
	Priority     int          `json:"priority,omitempty"`
	Schedule     string       `json:"schedule,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	MaxRetries   int          `json:"max_retries,omitempty"`
	Timeout      string       `json:"timeout,omitempty"`
	Spread       bool         `json:"spread,omitempty"`
	Action       ActionConfig `json:"action"`
}

// ActionConfig selects a built-in action: "noop", "shell", "http" or "systemd".
type ActionConfig struct {
	Kind    string            `json:"kind"`
	Unit    string            `json:"unit,omitempty"`
	Op      string            `json:"op,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"` // values are never logged
	Body    string            `json:"body,omitempty"`
}
