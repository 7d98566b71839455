package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"schedq/internal/task"
	logx "schedq/pkg/logx"
)

const snapshotVersion = 1

type snapshotDoc struct {
	Version  int                     `json:"version"`
	SavedAt  time.Time               `json:"saved_at"`
	Tasks    []taskRecord            `json:"tasks"`
	Statuses map[string]statusRecord `json:"statuses"`
}

type taskRecord struct {
	ID           string    `json:"id"`
	DueTime      time.Time `json:"due_time"`
	Priority     int       `json:"priority"`
	Interval     string    `json:"interval,omitempty"`
	CronExpr     string    `json:"cron_expr,omitempty"`
	Description  string    `json:"description"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Group        string    `json:"group,omitempty"`
	MaxRetries   int       `json:"max_retries"`
	Timeout      string    `json:"timeout,omitempty"`
}

type statusRecord struct {
	State          task.State `json:"state"`
	ScheduledTime  time.Time  `json:"scheduled_time"`
	LastRunTime    *time.Time `json:"last_run_time,omitempty"`
	ExecutionCount int        `json:"execution_count"`
	LastError      string     `json:"last_error,omitempty"`
}

func durString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

func parseDur(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, v, err)
	}
	return d, nil
}

func toRecord(t *task.Task) taskRecord {
	return taskRecord{
		ID:           t.ID,
		DueTime:      t.DueTime,
		Priority:     t.Priority,
		Interval:     durString(t.Interval),
		CronExpr:     t.CronExpr,
		Description:  t.Description,
		Dependencies: append([]string(nil), t.Dependencies...),
		Group:        t.Group,
		MaxRetries:   t.MaxRetries,
		Timeout:      durString(t.Timeout),
	}
}

func (r taskRecord) toTask() (*task.Task, error) {
	interval, err := parseDur("interval", r.Interval)
	if err != nil {
		return nil, err
	}
	timeout, err := parseDur("timeout", r.Timeout)
	if err != nil {
		return nil, err
	}
	return &task.Task{
		ID:           r.ID,
		DueTime:      r.DueTime,
		Priority:     r.Priority,
		Interval:     interval,
		CronExpr:     r.CronExpr,
		Description:  r.Description,
		Dependencies: append([]string(nil), r.Dependencies...),
		Group:        r.Group,
		MaxRetries:   r.MaxRetries,
		Timeout:      timeout,
	}, nil
}

func statusToRecord(st task.Status) statusRecord {
	st = st.Clone()
	return statusRecord{
		State:          st.State,
		ScheduledTime:  st.ScheduledTime,
		LastRunTime:    st.LastRunTime,
		ExecutionCount: st.ExecutionCount,
		LastError:      st.LastError,
	}
}

func (r statusRecord) toStatus() task.Status {
	st := task.Status{
		State:          r.State,
		ScheduledTime:  r.ScheduledTime,
		LastRunTime:    r.LastRunTime,
		ExecutionCount: r.ExecutionCount,
		LastError:      r.LastError,
	}
	// In-flight execution state is not persisted.
	if st.State == task.Running {
		st.State = task.Pending
	}
	return st.Clone()
}

// SaveSnapshot writes every queued task and its status to path in the blob
// store. Statuses of dependencies that are no longer queued are included so
// dependency gates evaluate the same after a reload.
func (s *Service) SaveSnapshot(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	doc := snapshotDoc{
		Version:  snapshotVersion,
		SavedAt:  time.Now().UTC(),
		Statuses: map[string]statusRecord{},
	}

	s.mu.Lock()
	for _, t := range s.q.List("") {
		doc.Tasks = append(doc.Tasks, toRecord(t))
		if st, ok := s.statuses.get(t.ID); ok {
			doc.Statuses[t.ID] = statusToRecord(st)
		}
		for _, dep := range t.Dependencies {
			if _, seen := doc.Statuses[dep]; seen {
				continue
			}
			if st, ok := s.statuses.get(dep); ok {
				doc.Statuses[dep] = statusToRecord(st)
			}
		}
	}
	s.mu.Unlock()

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &task.PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := s.store.WriteBlob(ctx, path, b); err != nil {
		return &task.PersistenceError{Op: "save", Path: path, Err: err}
	}
	s.log.Info("snapshot saved", logx.String("path", path), logx.Int("tasks", len(doc.Tasks)), logx.Int("statuses", len(doc.Statuses)))
	return nil
}

// LoadOption tunes LoadSnapshot.
type LoadOption func(*loadOptions)

type loadOptions struct {
	hooks HooksResolver
}

// WithHooksResolver reattaches lifecycle hooks to loaded tasks.
func WithHooksResolver(r HooksResolver) LoadOption {
	return func(o *loadOptions) { o.hooks = r }
}

// LoadSnapshot reads a snapshot from path and inserts its tasks, resolving each
// action by description. Records whose action cannot be resolved, or that fail
// validation, are skipped and logged. It returns the number of tasks restored.
// It does not start the loop.
func (s *Service) LoadSnapshot(ctx context.Context, path string, resolve ActionResolver, opts ...LoadOption) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if resolve == nil {
		return 0, &task.PersistenceError{Op: "load", Path: path, Err: fmt.Errorf("action resolver is required")}
	}
	var lo loadOptions
	for _, o := range opts {
		if o != nil {
			o(&lo)
		}
	}

	b, err := s.store.ReadBlob(ctx, path)
	if err != nil {
		return 0, &task.PersistenceError{Op: "load", Path: path, Err: err}
	}
	var doc snapshotDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return 0, &task.PersistenceError{Op: "load", Path: path, Err: err}
	}
	if doc.Version != snapshotVersion {
		return 0, &task.PersistenceError{Op: "load", Path: path, Err: fmt.Errorf("unsupported snapshot version %d", doc.Version)}
	}

	restored := make([]*task.Task, 0, len(doc.Tasks))
	for _, rec := range doc.Tasks {
		t, err := rec.toTask()
		if err != nil {
			s.log.Warn("snapshot record skipped", logx.String("task", rec.ID), logx.Err(err))
			continue
		}
		action, ok := resolve(rec.Description)
		if !ok || action == nil {
			s.log.Warn("snapshot record skipped: no action for description", logx.String("task", rec.ID), logx.String("desc", rec.Description))
			continue
		}
		t.Action = action
		if lo.hooks != nil {
			t.Hooks = lo.hooks(rec.Description)
		}
		if err := s.validate(t); err != nil {
			s.log.Warn("snapshot record skipped", logx.String("task", rec.ID), logx.Err(err))
			continue
		}
		restored = append(restored, t)
	}

	s.mu.Lock()
	live := map[string]bool{}
	for _, t := range restored {
		s.q.Insert(t)
		live[t.ID] = true
		if rec, ok := doc.Statuses[t.ID]; ok {
			st := rec.toStatus()
			st.ScheduledTime = t.DueTime
			s.statuses.put(t.ID, st)
		} else {
			s.statuses.put(t.ID, task.NewStatus(t.DueTime))
		}
	}
	// Dependency-only statuses never override a status the running process already has.
	for id, rec := range doc.Statuses {
		if live[id] {
			continue
		}
		if _, ok := s.statuses.get(id); ok {
			continue
		}
		s.statuses.put(id, rec.toStatus())
	}
	s.mu.Unlock()

	s.log.Info("snapshot loaded",
		logx.String("path", path),
		logx.Int("tasks", len(restored)),
		logx.Int("skipped", len(doc.Tasks)-len(restored)),
		logx.Time("saved_at", doc.SavedAt),
	)
	s.signal()
	return len(restored), nil
}
