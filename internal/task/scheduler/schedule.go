package scheduler

import (
	"fmt"
	"strings"
	"time"

	"schedq/internal/task"
	logx "schedq/pkg/logx"
)

// ScheduleOptions tunes Schedule.
type ScheduleOptions struct {
	// Spread delays the first run of an interval task by a random startup jitter.
	Spread bool
}

// Schedule sets t's recurrence from a schedule string (see ParseSchedule), sets
// DueTime to the first occurrence and enqueues it. Interval tasks first run one
// interval from now.
func (s *Service) Schedule(t *task.Task, schedule string, opt ScheduleOptions) error {
	if t == nil {
		return &task.ValidationError{Field: "task", Reason: "is nil"}
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return &task.ValidationError{TaskID: t.ID, Field: "schedule", Reason: err.Error()}
	}
	now := time.Now()
	cp := t.Clone()
	switch ps.Kind {
	case SpecCron:
		cp.CronExpr = ps.Cron
		cp.Interval = 0
		sched, err := s.parser.Parse(ps.Cron)
		if err != nil {
			return &task.ValidationError{TaskID: t.ID, Field: "cron_expr", Reason: err.Error()}
		}
		cp.DueTime = sched.Next(now.In(s.location()))
		if cp.DueTime.IsZero() {
			return &task.ValidationError{TaskID: t.ID, Field: "cron_expr", Reason: "has no future occurrence"}
		}
	case SpecInterval:
		cp.CronExpr = ""
		cp.Interval = ps.Every
		cp.DueTime = now.Add(ps.Every)
		if opt.Spread {
			cp.DueTime = cp.DueTime.Add(startupSpread(ps.Every, cp.ID))
		}
	default:
		return fmt.Errorf("unsupported schedule kind %d", ps.Kind)
	}
	if err := s.Enqueue(cp); err != nil {
		return err
	}
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered",
			logx.String("task", cp.ID),
			logx.String("schedule", schedule),
			logx.String("source", ps.Source),
			logx.String("next", s.previewNextRuns(cp, 4)),
		)
	}
	return nil
}

// AddDaily runs t every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(t *task.Task, atHHMM string) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return &task.ValidationError{Field: "schedule", Reason: err.Error()}
	}
	return s.Schedule(t, fmt.Sprintf("cron:%d %d * * *", m, h), ScheduleOptions{})
}

// AddWeekly runs t every week on weekday at HH:MM in the scheduler timezone.
func (s *Service) AddWeekly(t *task.Task, weekday time.Weekday, atHHMM string) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return &task.ValidationError{Field: "schedule", Reason: err.Error()}
	}
	return s.Schedule(t, fmt.Sprintf("cron:%d %d * * %d", m, h, int(weekday)), ScheduleOptions{})
}

// previewNextRuns lists the upcoming run times of a recurring task for debug logs.
func (s *Service) previewNextRuns(t *task.Task, n int) string {
	var b strings.Builder
	next := t.DueTime
	for i := 0; i < n && !next.IsZero(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(next.In(s.location()).Format("2006-01-02 15:04:05"))
		var ok bool
		next, ok = s.nextRun(t, next)
		if !ok {
			break
		}
	}
	return b.String()
}
