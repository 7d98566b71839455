package api

import (
	"time"

	"schedq/internal/task"
)

type taskView struct {
	ID           string      `json:"id"`
	Description  string      `json:"description"`
	Group        string      `json:"group,omitempty"`
	DueTime      time.Time   `json:"due_time"`
	Priority     int         `json:"priority"`
	Interval     string      `json:"interval,omitempty"`
	CronExpr     string      `json:"cron_expr,omitempty"`
	Dependencies []string    `json:"dependencies,omitempty"`
	MaxRetries   int         `json:"max_retries"`
	Timeout      string      `json:"timeout,omitempty"`
	Status       *statusView `json:"status,omitempty"`
}

type statusView struct {
	State          task.State `json:"state"`
	ScheduledTime  time.Time  `json:"scheduled_time"`
	LastRunTime    *time.Time `json:"last_run_time,omitempty"`
	ExecutionCount int        `json:"execution_count"`
	LastError      string     `json:"last_error,omitempty"`
}

func viewTask(t *task.Task) taskView {
	v := taskView{
		ID:           t.ID,
		Description:  t.Description,
		Group:        t.Group,
		DueTime:      t.DueTime,
		Priority:     t.Priority,
		CronExpr:     t.CronExpr,
		Dependencies: t.Dependencies,
		MaxRetries:   t.MaxRetries,
	}
	if t.Interval > 0 {
		v.Interval = t.Interval.String()
	}
	if t.Timeout > 0 {
		v.Timeout = t.Timeout.String()
	}
	return v
}

func viewStatus(st task.Status) *statusView {
	return &statusView{
		State:          st.State,
		ScheduledTime:  st.ScheduledTime,
		LastRunTime:    st.LastRunTime,
		ExecutionCount: st.ExecutionCount,
		LastError:      st.LastError,
	}
}

// createRequest is the body of POST /api/tasks. Description selects the
// action, e.g. "shell: backup.sh" or "http: POST https://example.com/hook".
type createRequest struct {
	ID           string     `json:"id,omitempty"`
	Description  string     `json:"description"`
	Group        string     `json:"group,omitempty"`
	DueTime      *time.Time `json:"due_time,omitempty"`
	Delay        string     `json:"delay,omitempty"`
	Priority     int        `json:"priority,omitempty"`
	Interval     string     `json:"interval,omitempty"`
	CronExpr     string     `json:"cron_expr,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	MaxRetries   int        `json:"max_retries,omitempty"`
	Timeout      string     `json:"timeout,omitempty"`
}

// patchRequest is the body of PATCH /api/tasks/{id}. Omitted fields are kept.
type patchRequest struct {
	DueTime  *time.Time `json:"due_time,omitempty"`
	Priority *int       `json:"priority,omitempty"`
	Interval *string    `json:"interval,omitempty"`
	CronExpr *string    `json:"cron_expr,omitempty"`
}
