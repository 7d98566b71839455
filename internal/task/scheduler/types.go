package scheduler

import (
	"fmt"
	"time"

	"schedq/internal/task"
)

const (
	DefaultScanInterval     = 100 * time.Millisecond
	DefaultHistorySize      = 200
	DefaultBlockedWarnEvery = time.Minute
)

// Config controls the scheduler service.
//
// MaxConcurrent is fixed when the service is built; the rest can be changed
// with Apply.
type Config struct {
	MaxConcurrent int
	ScanInterval  time.Duration

	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	DefaultTimeout time.Duration

	Timezone    string // IANA TZ used for cron evaluation, e.g. "Asia/Jakarta"
	HistorySize int

	// BlockedWarnEvery throttles the per-task "blocked by dependencies" warning.
	BlockedWarnEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.BlockedWarnEvery <= 0 {
		c.BlockedWarnEvery = DefaultBlockedWarnEvery
	}
	return c
}

// RunState is the lifecycle state of the scheduler loop.
type RunState int

const (
	Stopped RunState = iota
	Running
	Stopping
)

func (s RunState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RunState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stopped":
		*s = Stopped
	case "running":
		*s = Running
	case "stopping":
		*s = Stopping
	default:
		return fmt.Errorf("unknown run state %q", b)
	}
	return nil
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	QueueSize     int      `json:"queue_size"`
	ActiveCount   int      `json:"active_count"`
	Blocked       int      `json:"blocked"`
	MaxConcurrent int      `json:"max_concurrent"`
	Completed     uint64   `json:"completed"`
	Failed        uint64   `json:"failed"`
	State         RunState `json:"state"`
}

// Patch holds the fields Update may change. Nil fields are left as is.
type Patch struct {
	DueTime  *time.Time
	Priority *int
	Interval *time.Duration
	CronExpr *string
}

func (p Patch) empty() bool {
	return p.DueTime == nil && p.Priority == nil && p.Interval == nil && p.CronExpr == nil
}

// HistoryItem records one finished attempt sequence.
type HistoryItem struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Group       string        `json:"group,omitempty"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Attempts    int           `json:"attempts"`
	State       task.State    `json:"state"`
	Error       string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* events on the event bus.
type TaskEvent struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Group       string    `json:"group,omitempty"`
	DueTime     time.Time `json:"due_time"`
	Attempt     int       `json:"attempt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func eventFor(t *task.Task) TaskEvent {
	return TaskEvent{ID: t.ID, Description: t.Description, Group: t.Group, DueTime: t.DueTime}
}

// ActionResolver maps a persisted description back to an executable action.
// ok=false skips the record.
type ActionResolver func(description string) (action task.Action, ok bool)

// HooksResolver maps a persisted description back to lifecycle hooks.
type HooksResolver func(description string) task.Hooks
