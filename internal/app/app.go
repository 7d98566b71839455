// Package app wires config, logging, storage, the scheduler and the admin API
// into the schedq daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"schedq/internal/actions"
	"schedq/internal/api"
	"schedq/internal/config"
	"schedq/internal/eventbus"
	"schedq/internal/notifier"
	"schedq/internal/runtime/supervisor"
	"schedq/internal/storage"
	"schedq/internal/task/scheduler"
	logx "schedq/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.BlobStore

	sched    *scheduler.Service
	registry *actions.Registry
	api      *api.Server // nil when http.enabled is false
	notify   *notifier.Service

	snap  snapshotSettings
	saver *autosaver
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	stCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	snap, err := mapSnapshotConfig(cfg)
	if err != nil {
		return nil, err
	}

	notifyCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus, store)
	registry := actions.NewRegistry(log.With(logx.String("comp", "actions")))

	a := &App{
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		sched:    sched,
		registry: registry,
		notify:   notifier.New(notifyCfg, nil, log.With(logx.String("comp", "notifier")), bus),
		snap:     snap,
	}
	a.saver = newAutosaver(a.saveSnapshot, snap.autosave, log.With(logx.String("comp", "snapshot")))

	if cfg.HTTP.Enabled {
		apiCfg, err := mapAPIConfig(cfg, snap.path)
		if err != nil {
			return nil, err
		}
		a.api = api.New(sched, registry.Resolve, apiCfg, log.With(logx.String("comp", "api")))
	}
	appLog.Info("storage ready", logx.String("driver", stCfg.Driver))
	return a, nil
}

// validateConfig runs every check a config must pass, at startup and before a
// hot reload is committed.
func validateConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSnapshotConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAPIConfig(cfg, ""); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	return validateTasks(cfg.Tasks)
}

// Scheduler exposes the scheduler, mainly for tests and embedding.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the errors collected by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	cfg := a.cfgm.Get()

	// Actions must be resolvable before the snapshot is read.
	for _, tc := range cfg.Tasks {
		if def, err := buildTaskDef(tc); err == nil {
			a.registry.Register(def.task.Description, def.task.Action)
		}
	}
	if a.snap.restore {
		a.restoreSnapshot(runCtx)
	}
	n := a.registerTasks(cfg.Tasks)
	a.log.Info("config tasks registered", logx.Int("count", n), logx.Int("configured", len(cfg.Tasks)))

	// Detached from runCtx so queued alerts drain during Stop.
	a.notify.Start(context.WithoutCancel(runCtx))
	a.sched.Start(runCtx)
	if a.api != nil {
		a.api.Start(runCtx)
	}

	a.sup.Go0("snapshot.autosave", func(c context.Context) { a.saver.run(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		runWatchdog(c, a.log, func() bool { return a.sched.State() == scheduler.Running })
	})

	sdNotify(a.log, "READY=1")
	a.log.Info("app started")
	return nil
}

func (a *App) restoreSnapshot(ctx context.Context) {
	n, err := a.sched.LoadSnapshot(ctx, a.snap.path, a.registry.Resolve)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a.log.Info("no snapshot to restore", logx.String("path", a.snap.path))
	case err != nil:
		a.log.Warn("snapshot restore failed; starting empty", logx.String("path", a.snap.path), logx.Err(err))
	default:
		a.log.Info("snapshot restored", logx.String("path", a.snap.path), logx.Int("tasks", n))
	}
}

func (a *App) saveSnapshot(ctx context.Context) error {
	return a.sched.SaveSnapshot(ctx, a.snap.path)
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if ev, ok := e.Data.(scheduler.TaskEvent); ok {
				a.log.Debug("event", logx.String("type", e.Type), logx.String("task", ev.ID), logx.Time("time", e.Time))
				continue
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// reloadLoop applies published configs. Bursts are coalesced to the newest.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, tasksChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := make(map[string]bool, len(sections))
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if changed["scheduler"] {
		if sc, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(sc)
		}
	}
	if changed["snapshot"] {
		if snap, err := mapSnapshotConfig(newCfg); err == nil {
			a.saver.setEvery(snap.autosave)
			if snap.path != a.snap.path {
				a.log.Warn("snapshot.path changed; restart required for changes to take effect")
			}
		}
	}
	if changed["notifier"] {
		a.applyNotifier(newCfg)
	}
	for _, s := range []string{"storage", "http"} {
		if changed[s] {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	if changed["tasks"] {
		a.syncTasks(newCfg, tasksChanged)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyNotifier restarts the alert pipeline with the new settings. Alerts
// still queued are drained first.
func (a *App) applyNotifier(cfg *config.Config) {
	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.notify.Stop(ctx)
	a.notify.Apply(nc)
	if a.sup != nil && a.sup.Context().Err() == nil {
		a.notify.Start(context.WithoutCancel(a.sup.Context()))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, "STOPPING=1")
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("api", 2*time.Second, func(c context.Context) error {
		if a.api != nil {
			a.api.Stop(c)
		}
		return nil
	})
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notify.Stop(c); return nil })
	step("snapshot", 2*time.Second, a.saveSnapshot)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
