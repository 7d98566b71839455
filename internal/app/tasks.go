package app

import (
	"errors"
	"fmt"
	"strings"

	"schedq/internal/actions"
	"schedq/internal/config"
	"schedq/internal/task"
	"schedq/internal/task/scheduler"
	logx "schedq/pkg/logx"
)

// taskDef is a config task turned into something the scheduler can take.
type taskDef struct {
	task     *task.Task
	schedule string
	spread   bool
}

func actionSpec(ac config.ActionConfig) actions.Spec {
	return actions.Spec{
		Kind:    ac.Kind,
		Unit:    ac.Unit,
		Op:      ac.Op,
		Command: ac.Command,
		Args:    ac.Args,
		Method:  ac.Method,
		URL:     ac.URL,
		Headers: ac.Headers,
		Body:    ac.Body,
	}
}

// buildTaskDef builds the task for tc. Its description is tc.Name, or the
// action's own description, or "config:<id>"; the caller registers the action
// under that description so a snapshot can resolve it.
func buildTaskDef(tc config.TaskConfig) (taskDef, error) {
	spec := actionSpec(tc.Action)
	act, err := actions.Build(spec)
	if err != nil {
		return taskDef{}, fmt.Errorf("task %s: %w", tc.ID, err)
	}
	timeout, err := config.ParseDurationField("tasks."+tc.ID+".timeout", tc.Timeout)
	if err != nil {
		return taskDef{}, err
	}

	desc := strings.TrimSpace(tc.Name)
	if desc == "" {
		if d, ok := spec.Description(); ok {
			desc = d
		} else {
			desc = "config:" + tc.ID
		}
	}
	t := task.New(desc, act,
		task.WithID(strings.TrimSpace(tc.ID)),
		task.WithGroup(tc.Group),
		task.WithPriority(tc.Priority),
		task.WithMaxRetries(tc.MaxRetries),
		task.WithTimeout(timeout),
		task.WithDependencies(tc.Dependencies...),
	)
	if err := t.Validate(); err != nil {
		return taskDef{}, err
	}
	return taskDef{task: t, schedule: strings.TrimSpace(tc.Schedule), spread: tc.Spread}, nil
}

// validateTasks checks every config task the way registration would, so a
// bad hot reload is rejected as a whole.
func validateTasks(tasks []config.TaskConfig) error {
	var errs []error
	descs := map[string]string{}
	for _, tc := range tasks {
		def, err := buildTaskDef(tc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if def.schedule != "" {
			if _, err := scheduler.ParseSchedule(def.schedule); err != nil {
				errs = append(errs, fmt.Errorf("task %s: schedule: %w", tc.ID, err))
			}
		}
		desc := def.task.Description
		if other, dup := descs[desc]; dup {
			errs = append(errs, fmt.Errorf("task %s: name %q already used by task %s", tc.ID, desc, other))
			continue
		}
		descs[desc] = tc.ID
	}
	return errors.Join(errs...)
}

// registerTasks schedules each config task, replacing any queued task with the
// same ID. It returns how many were registered.
func (a *App) registerTasks(tasks []config.TaskConfig) int {
	n := 0
	for _, tc := range tasks {
		if a.registerTask(tc) {
			n++
		}
	}
	return n
}

func (a *App) registerTask(tc config.TaskConfig) bool {
	def, err := buildTaskDef(tc)
	if err != nil {
		a.log.Warn("config task skipped", logx.String("task", tc.ID), logx.Err(err))
		return false
	}
	a.registry.Register(def.task.Description, def.task.Action)

	if def.schedule == "" {
		err = a.sched.Enqueue(def.task)
	} else {
		err = a.sched.Schedule(def.task, def.schedule, scheduler.ScheduleOptions{Spread: def.spread})
	}
	if err != nil {
		a.log.Warn("config task rejected", logx.String("task", tc.ID), logx.Err(err))
		return false
	}
	return true
}

// syncTasks applies task changes from a reload: changed tasks are registered
// again and tasks no longer in the config are removed from the queue.
func (a *App) syncTasks(cfg *config.Config, changed []string) {
	byID := make(map[string]config.TaskConfig, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		byID[strings.TrimSpace(tc.ID)] = tc
	}
	for _, id := range changed {
		if tc, ok := byID[id]; ok {
			a.registerTask(tc)
			continue
		}
		if a.sched.Remove(id) {
			a.log.Info("config task removed", logx.String("task", id))
		}
	}
}
