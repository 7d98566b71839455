package scheduler

import (
	"strings"
	"time"

	"schedq/internal/eventbus"
	"schedq/internal/task"
	logx "schedq/pkg/logx"
)

// Enqueue validates t and adds a copy of it to the queue. A task with an ID that
// is already queued replaces the queued one. The status of a known ID keeps its
// counters and goes back to Pending.
//
// Invalid tasks are logged and rejected with a *task.ValidationError; nothing
// changes.
func (s *Service) Enqueue(t *task.Task) error {
	if err := s.validate(t); err != nil {
		s.reports.rejected(t, err)
		return err
	}
	cp := t.Clone()

	s.mu.Lock()
	replaced := s.q.Contains(cp.ID)
	s.q.Insert(cp)
	if !s.statuses.update(cp.ID, func(st *task.Status) {
		st.State = task.Pending
		st.ScheduledTime = cp.DueTime
	}) {
		s.statuses.put(cp.ID, task.NewStatus(cp.DueTime))
	}
	s.mu.Unlock()

	s.publish(eventbus.TaskEnqueued, cp, 0, nil)
	s.log.Debug("task enqueued",
		logx.String("task", cp.ID),
		logx.String("desc", cp.Description),
		logx.Time("due", cp.DueTime),
		logx.Int("priority", cp.Priority),
		logx.Bool("replaced", replaced),
	)
	s.signal()
	return nil
}

func (s *Service) validate(t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if expr := strings.TrimSpace(t.CronExpr); expr != "" {
		if _, err := s.parser.Parse(expr); err != nil {
			return &task.ValidationError{TaskID: t.ID, Field: "cron_expr", Reason: err.Error()}
		}
	}
	return nil
}

// List returns copies of the queued (pending) tasks in queue order. A non-empty
// group filters by Group.
func (s *Service) List(group string) []task.Task {
	s.mu.Lock()
	ts := s.q.List(group)
	out := make([]task.Task, 0, len(ts))
	for _, t := range ts {
		out = append(out, *t.Clone())
	}
	s.mu.Unlock()
	return out
}

// Remove drops a pending task and its status. Running tasks are not affected.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	t, ok := s.q.Remove(id)
	if ok {
		s.statuses.delete(id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.reports.forget(id)
	s.publish(eventbus.TaskRemoved, t, 0, nil)
	s.log.Debug("task removed", logx.String("task", id))
	return true
}

// RemoveGroup drops every pending task of group and returns how many were removed.
// An empty group removes nothing.
func (s *Service) RemoveGroup(group string) int {
	if strings.TrimSpace(group) == "" {
		return 0
	}
	s.mu.Lock()
	victims := s.q.List(group)
	for _, t := range victims {
		s.q.Remove(t.ID)
		s.statuses.delete(t.ID)
	}
	s.mu.Unlock()

	for _, t := range victims {
		s.reports.forget(t.ID)
		s.publish(eventbus.TaskRemoved, t, 0, nil)
	}
	if len(victims) > 0 {
		s.log.Info("task group removed", logx.String("group", group), logx.Int("removed", len(victims)))
	}
	return len(victims)
}

// Update merges p into a pending task by removing and reinserting it. It
// returns false when id is not queued or the merged task is invalid.
func (s *Service) Update(id string, p Patch) bool {
	if p.empty() {
		s.mu.Lock()
		ok := s.q.Contains(id)
		s.mu.Unlock()
		return ok
	}

	s.mu.Lock()
	cur, ok := s.q.Get(id)
	if !ok {
		s.mu.Unlock()
		return false
	}
	nt := cur.Clone()
	if p.DueTime != nil {
		nt.DueTime = *p.DueTime
	}
	if p.Priority != nil {
		nt.Priority = *p.Priority
	}
	if p.Interval != nil {
		nt.Interval = *p.Interval
	}
	if p.CronExpr != nil {
		nt.CronExpr = strings.TrimSpace(*p.CronExpr)
	}
	if err := s.validate(nt); err != nil {
		s.mu.Unlock()
		s.reports.rejected(nt, err)
		return false
	}
	s.q.Remove(id)
	s.q.Insert(nt)
	s.statuses.update(id, func(st *task.Status) { st.ScheduledTime = nt.DueTime })
	s.mu.Unlock()

	s.publish(eventbus.TaskUpdated, nt, 0, nil)
	s.log.Debug("task updated", logx.String("task", id), logx.Time("due", nt.DueTime), logx.Int("priority", nt.Priority))
	s.signal()
	return true
}

func (s *Service) GetStatus(id string) (task.Status, bool) {
	return s.statuses.get(id)
}

func (s *Service) Stats() Stats {
	now := time.Now()
	s.mu.Lock()
	size := s.q.Len()
	blocked := 0
	s.q.Ascend(func(t *task.Task) bool {
		if t.DueTime.After(now) {
			return false
		}
		if !s.canRun(t) {
			blocked++
		}
		return true
	})
	s.mu.Unlock()

	return Stats{
		QueueSize:     size,
		ActiveCount:   s.lim.InUse(),
		Blocked:       blocked,
		MaxConcurrent: s.lim.Cap(),
		Completed:     s.completed.Load(),
		Failed:        s.failed.Load(),
		State:         s.State(),
	}
}

// History returns recent outcomes, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}
