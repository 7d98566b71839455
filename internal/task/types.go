package task

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Action is the executable unit of work. A nil return means success.
//
// Actions should honor ctx: it is canceled on attempt timeout and on scheduler shutdown.
type Action func(ctx context.Context) error

// Hooks are optional observers invoked by the scheduler at lifecycle transitions.
// They receive a copy of the task; mutating it has no effect on scheduling.
type Hooks struct {
	OnStart    func(t Task)
	OnComplete func(t Task)
	OnFailure  func(t Task, err error)
}

// Task is one unit of deferred or recurring work.
//
// ID is assigned once and never reused. A recurring task is re-enqueued as a copy
// with the same ID and an updated DueTime.
type Task struct {
	ID       string
	DueTime  time.Time
	Priority int // smaller value runs first at equal DueTime

	Action Action

	// Interval reschedules the task to now+Interval after each run.
	Interval time.Duration
	// CronExpr reschedules the task to its next occurrence after each run.
	// It takes precedence over Interval.
	CronExpr string

	// Description is a human-readable label and the key used to resolve
	// Action again after a snapshot is loaded.
	Description string

	// Dependencies must all be Completed before this task may run.
	Dependencies []string
	Group        string

	MaxRetries int
	// Timeout bounds a single attempt. 0 means the scheduler default.
	Timeout time.Duration

	Hooks Hooks
}

// Recurring reports whether the task reschedules itself after a run.
func (t *Task) Recurring() bool {
	return strings.TrimSpace(t.CronExpr) != "" || t.Interval > 0
}

// Clone returns a copy that shares no mutable slices with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	return &cp
}

// Validate checks the task for fields the scheduler cannot work with.
func (t *Task) Validate() error {
	if t == nil {
		return &ValidationError{Field: "task", Reason: "is nil"}
	}
	if strings.TrimSpace(t.ID) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if t.Action == nil {
		return &ValidationError{Field: "action", Reason: "is required", TaskID: t.ID}
	}
	if t.MaxRetries < 0 {
		return &ValidationError{Field: "max_retries", Reason: "must be >= 0", TaskID: t.ID}
	}
	if t.Timeout < 0 {
		return &ValidationError{Field: "timeout", Reason: "must be >= 0", TaskID: t.ID}
	}
	if t.Interval < 0 {
		return &ValidationError{Field: "interval", Reason: "must be >= 0", TaskID: t.ID}
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return &ValidationError{Field: "dependencies", Reason: "task cannot depend on itself", TaskID: t.ID}
		}
		if strings.TrimSpace(dep) == "" {
			return &ValidationError{Field: "dependencies", Reason: "empty dependency id", TaskID: t.ID}
		}
	}
	return nil
}

func (t *Task) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", t.ID, t.Description)
}

// State is the lifecycle state of a task.
type State int

const (
	Pending State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState parses the textual form produced by State.String.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "":
		return Pending, nil
	case "running":
		return Running, nil
	case "completed":
		return Completed, nil
	case "failed":
		return Failed, nil
	default:
		return Pending, fmt.Errorf("unknown task state %q", raw)
	}
}

// Status is the mutable lifecycle record kept per live task ID.
type Status struct {
	State         State
	ScheduledTime time.Time
	LastRunTime   *time.Time
	// ExecutionCount counts completed runs, not attempts.
	ExecutionCount int
	LastError      string
}

// NewStatus returns a fresh Pending status for a task due at due.
func NewStatus(due time.Time) Status {
	return Status{State: Pending, ScheduledTime: due}
}

// Clone returns a copy that does not share LastRunTime with s.
func (s Status) Clone() Status {
	if s.LastRunTime != nil {
		t := *s.LastRunTime
		s.LastRunTime = &t
	}
	return s
}
