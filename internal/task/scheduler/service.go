package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"schedq/internal/eventbus"
	"schedq/internal/runtime/supervisor"
	"schedq/internal/storage"
	"schedq/internal/task"
	"schedq/internal/task/engine"
	"schedq/internal/task/queue"
	logx "schedq/pkg/logx"
)

type Service struct {
	// mu guards q. Status cells have their own locks, but transitions that must
	// agree with queue membership are made while mu is held.
	mu       sync.Mutex
	q        *queue.Queue
	statuses statusTable

	cfgMu sync.RWMutex
	cfg   Config
	loc   *time.Location

	parser cron.Parser
	exec   *engine.Executor
	lim    *engine.Limiter
	log    logx.Logger
	bus    eventbus.Bus
	store  storage.BlobStore

	reports *reporter

	lifeMu   sync.Mutex
	state    RunState
	sup      *supervisor.Supervisor
	stopDone chan struct{}

	wake chan struct{}

	completed atomic.Uint64
	failed    atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a stopped scheduler. store is used by SaveSnapshot/LoadSnapshot;
// nil means plain files on the OS filesystem. bus may be nil.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.BlobStore) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	if store == nil {
		store = storage.NewFileStore(afero.NewOsFs(), log)
	}
	s := &Service{
		q:     queue.New(),
		cfg:   cfg,
		log:   log,
		bus:   bus,
		store: store,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		exec:   engine.NewExecutor(engineConfig(cfg), log.With(logx.String("comp", "engine"))),
		lim:    engine.NewLimiter(cfg.MaxConcurrent),
		wake:   make(chan struct{}, 1),
	}
	s.loc = loadLocation(cfg.Timezone, log)
	s.reports = newReporter(log, cfg.BlockedWarnEvery)
	return s
}

func engineConfig(cfg Config) engine.Config {
	return engine.Config{
		RetryBase:      cfg.RetryBase,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		DefaultTimeout: cfg.DefaultTimeout,
	}
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *Service) location() *time.Location {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.loc
}

// Apply swaps the hot-reloadable settings. MaxConcurrent only takes effect on a
// new Service.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfgMu.Lock()
	prev := s.cfg
	if cfg.MaxConcurrent != s.lim.Cap() {
		s.log.Warn("max_concurrent change requires restart", logx.Int("current", s.lim.Cap()), logx.Int("requested", cfg.MaxConcurrent))
		cfg.MaxConcurrent = s.lim.Cap()
	}
	s.cfg = cfg
	if strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.loc = loadLocation(cfg.Timezone, s.log)
	}
	s.cfgMu.Unlock()

	s.exec.Apply(engineConfig(cfg))
	s.reports.setEvery(cfg.BlockedWarnEvery)
	s.signal()
	s.log.Debug("scheduler config applied",
		logx.Duration("scan_interval", cfg.ScanInterval),
		logx.Duration("retry_base", cfg.RetryBase),
		logx.Duration("default_timeout", cfg.DefaultTimeout),
		logx.Int("history_size", cfg.HistorySize),
	)
}

func (s *Service) State() RunState {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.state
}

// Start spawns the scheduler loop. Canceling ctx has the same effect on the loop
// and on in-flight attempts as Stop. Start is idempotent; if a Stop is in
// progress it waits for it first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifeMu.Lock()
	for s.state == Stopping {
		done := s.stopDone
		s.lifeMu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.lifeMu.Lock()
	}
	if s.state == Running {
		s.lifeMu.Unlock()
		return
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "supervisor"))))
	s.sup = sup
	s.state = Running
	s.lifeMu.Unlock()

	sup.GoRestart("scheduler.loop", func(c context.Context) error {
		return s.loop(c, sup)
	})
	go func() {
		<-sup.Context().Done()
		s.stop(context.Background(), sup)
	}()

	cfg := s.config()
	s.mu.Lock()
	queued := s.q.Len()
	s.mu.Unlock()
	s.log.Info("scheduler started",
		logx.Int("max_concurrent", s.lim.Cap()),
		logx.Duration("scan_interval", cfg.ScanInterval),
		logx.String("tz", s.location().String()),
		logx.Int("queued", queued),
	)
}

// Stop cancels the loop, pending slot waits and in-flight attempts, then waits
// for them to return (bounded by ctx). Errors are logged, not returned.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.stop(ctx, nil)
}

// stop moves Running to Stopped. A non-nil only restricts it to the run owned
// by that supervisor, so a canceled Start context cannot stop a later run.
func (s *Service) stop(ctx context.Context, only *supervisor.Supervisor) {
	s.lifeMu.Lock()
	if only != nil && (s.state != Running || s.sup != only) {
		s.lifeMu.Unlock()
		return
	}
	switch s.state {
	case Stopped:
		s.lifeMu.Unlock()
		return
	case Stopping:
		done := s.stopDone
		s.lifeMu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	s.state = Stopping
	done := make(chan struct{})
	s.stopDone = done
	sup := s.sup
	s.lifeMu.Unlock()

	start := time.Now()
	if only != nil {
		s.log.Info("scheduler context canceled; stopping")
	} else {
		s.log.Info("stop requested")
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("scheduler stopped with errors", logx.Err(err), logx.Int("in_flight", s.lim.InUse()))
	}

	s.lifeMu.Lock()
	s.state = Stopped
	s.sup = nil
	s.stopDone = nil
	close(done)
	s.lifeMu.Unlock()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context, sup *supervisor.Supervisor) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		t, prevRun := s.nextEligible(time.Now())
		if t == nil {
			tmr := time.NewTimer(s.config().ScanInterval)
			select {
			case <-ctx.Done():
				tmr.Stop()
				return nil
			case <-s.wake:
				tmr.Stop()
			case <-tmr.C:
			}
			continue
		}
		s.dispatch(ctx, sup, t, prevRun)
	}
}

// nextEligible scans the queue in order for the first due task whose
// dependencies are met, removes it and marks it Running. Due tasks that are
// blocked are skipped, not waited on. The LastRunTime it replaced is returned
// alongside.
func (s *Service) nextEligible(now time.Time) (*task.Task, *time.Time) {
	var (
		picked  *task.Task
		prevRun *time.Time
		blocked []*task.Task
	)
	s.mu.Lock()
	s.q.Ascend(func(t *task.Task) bool {
		if t.DueTime.After(now) {
			return false
		}
		if s.canRun(t) {
			picked = t
			return false
		}
		blocked = append(blocked, t)
		return true
	})
	if picked != nil {
		s.q.Remove(picked.ID)
		ts := now
		if !s.statuses.update(picked.ID, func(st *task.Status) {
			prevRun = st.LastRunTime
			st.State = task.Running
			st.LastRunTime = &ts
		}) {
			st := task.NewStatus(picked.DueTime)
			st.State = task.Running
			st.LastRunTime = &ts
			s.statuses.put(picked.ID, st)
		}
	}
	s.mu.Unlock()

	for _, t := range blocked {
		s.reports.blocked(t, s.unmet(t))
	}
	return picked, prevRun
}

// canRun is true iff every dependency has status Completed. A dependency with
// no status at all is unmet.
func (s *Service) canRun(t *task.Task) bool {
	for _, dep := range t.Dependencies {
		st, ok := s.statuses.state(dep)
		if !ok || st != task.Completed {
			return false
		}
	}
	return true
}

func (s *Service) unmet(t *task.Task) []string {
	var out []string
	for _, dep := range t.Dependencies {
		st, ok := s.statuses.state(dep)
		switch {
		case !ok:
			out = append(out, dep+"(missing)")
		case st != task.Completed:
			out = append(out, dep+"("+st.String()+")")
		}
	}
	return out
}

func (s *Service) dispatch(ctx context.Context, sup *supervisor.Supervisor, t *task.Task, prevRun *time.Time) {
	s.reports.forget(t.ID)
	s.publish(eventbus.TaskDispatched, t, 0, nil)
	s.log.Debug("task dispatched", logx.String("task", t.ID), logx.String("desc", t.Description), logx.Time("due", t.DueTime))

	if t.Hooks.OnStart != nil {
		s.runHook("on_start", t, t.Hooks.OnStart)
	}

	if err := s.lim.Acquire(ctx); err != nil {
		s.requeueUndispatched(t, prevRun)
		return
	}
	sup.Go("task.exec", func(c context.Context) error {
		defer s.signal()
		defer s.lim.Release()
		s.finish(t, s.exec.Run(c, t, engine.ObserverFunc(s.attemptFailed)))
		return nil
	})
}

// requeueUndispatched puts back a task whose slot wait was cut short by
// shutdown. It never ran, so LastRunTime goes back to prevRun.
func (s *Service) requeueUndispatched(t *task.Task, prevRun *time.Time) {
	s.mu.Lock()
	if !s.q.Contains(t.ID) {
		s.q.Insert(t)
		s.statuses.update(t.ID, func(st *task.Status) {
			st.State = task.Pending
			st.LastRunTime = prevRun
		})
	}
	s.mu.Unlock()
	s.log.Debug("task returned to queue on shutdown", logx.String("task", t.ID))
}

func (s *Service) attemptFailed(t *task.Task, attempt int, err error, delay time.Duration) {
	s.statuses.update(t.ID, func(st *task.Status) { st.LastError = err.Error() })
	s.publish(eventbus.TaskRetry, t, attempt, err)
	s.log.Info("task attempt failed; retrying",
		logx.String("task", t.ID),
		logx.Int("attempt", attempt),
		logx.Int("max_attempts", t.MaxRetries+1),
		logx.Duration("backoff", delay),
		logx.Err(err),
	)
}

// finish records the outcome of an attempt sequence and reschedules recurring tasks.
func (s *Service) finish(t *task.Task, out engine.Outcome) {
	now := time.Now()
	item := HistoryItem{
		ID:          t.ID,
		Description: t.Description,
		Group:       t.Group,
		Started:     out.Started,
		Duration:    out.Duration,
		Attempts:    out.Attempts,
	}

	switch {
	case out.Interrupted && t.Recurring():
		item.State = task.Failed
		item.Error = out.Err.Error()
		s.record(item)
		s.requeueInterrupted(t, item.Error)
		return

	case out.Interrupted:
		item.State = task.Failed
		item.Error = out.Err.Error()
		s.settle(t.ID, task.Failed, item.Error)
		s.failed.Add(1)
		s.publish(eventbus.TaskFailed, t, out.Attempts, out.Err)
		s.log.Warn("task interrupted by shutdown", logx.String("task", t.ID), logx.Int("attempts", out.Attempts), logx.Err(out.Err))
		s.record(item)
		return

	case out.OK():
		item.State = task.Completed
		s.settle(t.ID, task.Completed, "")
		s.completed.Add(1)
		s.publish(eventbus.TaskCompleted, t, out.Attempts, nil)
		if out.Duration >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", t.ID), logx.Duration("dur", out.Duration), logx.Int("attempts", out.Attempts))
		} else {
			s.log.Debug("task.completed", logx.String("task", t.ID), logx.Duration("dur", out.Duration), logx.Int("attempts", out.Attempts))
		}
		if t.Hooks.OnComplete != nil {
			s.runHook("on_complete", t, t.Hooks.OnComplete)
		}

	default:
		item.State = task.Failed
		item.Error = out.Err.Error()
		s.settle(t.ID, task.Failed, item.Error)
		s.failed.Add(1)
		s.publish(eventbus.TaskFailed, t, out.Attempts, out.Err)
		s.log.Warn("task.failed", logx.String("task", t.ID), logx.String("desc", t.Description), logx.Int("attempts", out.Attempts), logx.Duration("dur", out.Duration), logx.Err(out.Err))
		if t.Hooks.OnFailure != nil {
			err := out.Err
			s.runHook("on_failure", t, func(c task.Task) { t.Hooks.OnFailure(c, err) })
		}
	}

	s.record(item)
	s.reschedule(t, now)
}

// settle records the terminal state of a finished run. If a newer instance of
// the same ID was enqueued while it ran, that instance keeps its Pending status
// and only the counters of the run are folded in.
func (s *Service) settle(id string, state task.State, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	superseded := s.q.Contains(id)
	s.statuses.update(id, func(st *task.Status) {
		if state == task.Completed {
			st.ExecutionCount++
		} else {
			st.LastError = errMsg
		}
		if !superseded {
			st.State = state
		}
	})
	if superseded {
		s.log.Debug("finished run superseded by queued instance", logx.String("task", id), logx.String("state", state.String()))
	}
}

// requeueInterrupted puts a recurring task cut short by shutdown back in the
// queue at its original due time, so the shutdown snapshot keeps its schedule.
func (s *Service) requeueInterrupted(t *task.Task, errMsg string) {
	s.mu.Lock()
	if s.q.Contains(t.ID) {
		s.statuses.update(t.ID, func(st *task.Status) { st.LastError = errMsg })
		s.mu.Unlock()
		return
	}
	s.q.Insert(t.Clone())
	if !s.statuses.update(t.ID, func(st *task.Status) {
		st.State = task.Pending
		st.ScheduledTime = t.DueTime
		st.LastError = errMsg
	}) {
		st := task.NewStatus(t.DueTime)
		st.LastError = errMsg
		s.statuses.put(t.ID, st)
	}
	s.mu.Unlock()

	s.publish(eventbus.TaskRequeued, t, 0, nil)
	s.log.Warn("recurring task interrupted by shutdown; kept in queue", logx.String("task", t.ID), logx.Time("due", t.DueTime), logx.String("err", errMsg))
}

// reschedule re-enqueues a recurring task under the same ID. A cron expression
// wins over Interval. A newer definition enqueued while the task ran is kept.
func (s *Service) reschedule(t *task.Task, now time.Time) {
	next, ok := s.nextRun(t, now)
	if !ok {
		return
	}
	nt := t.Clone()
	nt.DueTime = next

	s.mu.Lock()
	if s.q.Contains(nt.ID) {
		s.mu.Unlock()
		s.log.Debug("recurring task superseded while running", logx.String("task", nt.ID))
		return
	}
	s.q.Insert(nt)
	if !s.statuses.update(nt.ID, func(st *task.Status) {
		st.State = task.Pending
		st.ScheduledTime = next
	}) {
		s.statuses.put(nt.ID, task.NewStatus(next))
	}
	s.mu.Unlock()

	s.publish(eventbus.TaskRequeued, nt, 0, nil)
	s.log.Debug("task requeued", logx.String("task", nt.ID), logx.Time("next", next))
	s.signal()
}

func (s *Service) nextRun(t *task.Task, now time.Time) (time.Time, bool) {
	if expr := strings.TrimSpace(t.CronExpr); expr != "" {
		sched, err := s.parser.Parse(expr)
		if err != nil {
			s.log.Error("cron expression no longer parses; not rescheduling", logx.String("task", t.ID), logx.String("cron", expr), logx.Err(err))
			return time.Time{}, false
		}
		next := sched.Next(now.In(s.location()))
		if next.IsZero() {
			return time.Time{}, false
		}
		return next, true
	}
	if t.Interval > 0 {
		return now.Add(t.Interval), true
	}
	return time.Time{}, false
}

func (s *Service) runHook(name string, t *task.Task, fn func(task.Task)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task hook panicked", logx.String("hook", name), logx.String("task", t.ID), logx.Any("panic", r))
		}
	}()
	fn(*t.Clone())
}

func (s *Service) publish(typ string, t *task.Task, attempt int, err error) {
	if s.bus == nil {
		return
	}
	ev := eventFor(t)
	ev.Attempt = attempt
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (s *Service) record(item HistoryItem) {
	size := s.config().HistorySize
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = append([]HistoryItem(nil), s.history[len(s.history)-size:]...)
	}
	s.hmu.Unlock()
}
