package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"schedq/internal/config"
	"schedq/internal/eventbus"
	"schedq/internal/notifier"
	"schedq/internal/task"
	logx "schedq/pkg/logx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "schedq.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func hasTask(a *App, id string) bool {
	for _, tk := range a.Scheduler().List("") {
		if tk.ID == id {
			return true
		}
	}
	return false
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestAppRunsConfigTasksAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
  "logging": {"level": "error"},
  "scheduler": {"max_concurrent": 2, "scan_interval": "5ms"},
  "storage": {"driver": "memory"},
  "snapshot": {"path": "queue.json"},
  "tasks": [
    {"id": "hourly", "schedule": "@every 1h", "action": {"kind": "noop"}},
    {"id": "once", "action": {"kind": "shell", "command": "true"}}
  ]
}`)
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	if !hasTask(a, "hourly") {
		t.Fatalf("hourly task not queued")
	}
	waitFor(t, "one-off task to complete", func() bool {
		st, ok := a.Scheduler().GetStatus("once")
		return ok && st.State == task.Completed
	})

	writeConfig(t, dir, `{
  "logging": {"level": "error"},
  "scheduler": {"max_concurrent": 2, "scan_interval": "5ms"},
  "storage": {"driver": "memory"},
  "snapshot": {"path": "queue.json"},
  "tasks": [
    {"id": "daily", "schedule": "cron:0 3 * * *", "action": {"kind": "noop"}}
  ]
}`)
	// The file watcher may get there first; either way the change is applied once.
	if _, err := a.cfgm.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	waitFor(t, "reload to apply", func() bool { return hasTask(a, "daily") && !hasTask(a, "hourly") })
}

func TestAppRestoresSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "queue.json")
	path := writeConfig(t, dir, `{
  "logging": {"level": "error"},
  "snapshot": {"path": "`+snap+`", "restore_on_start": true}
}`)

	first, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	err = first.Scheduler().Enqueue(&task.Task{
		ID:          "later",
		Description: "shell: true",
		DueTime:     time.Now().Add(time.Hour),
		Action:      func(context.Context) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	stopApp(t, first)
	if _, err := os.Stat(snap); err != nil {
		t.Fatalf("snapshot not saved on stop: %v", err)
	}

	second, err := NewApp(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stopApp(t, second)
	if !hasTask(second, "later") {
		t.Fatalf("task not restored from snapshot")
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cases := []string{
		`{"scheduler": {"timezone": "Mars/Olympus"}}`,
		`{"storage": {"driver": "sqlite"}}`,
		`{"tasks": [{"id": "x", "schedule": "whenever", "action": {"kind": "noop"}}]}`,
		`{"tasks": [{"id": "x", "action": {"kind": "shell"}}]}`,
		`{"tasks": [{"id": "a", "name": "n", "action": {"kind": "noop"}}, {"id": "b", "name": "n", "action": {"kind": "noop"}}]}`,
	}
	for i, body := range cases {
		p := filepath.Join(dir, "c"+string(rune('a'+i))+".json")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewApp(p); err == nil {
			t.Fatalf("config %d accepted: %s", i, body)
		}
	}
}

func TestBuildTaskDefDescriptions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		tc   config.TaskConfig
		want string
	}{
		{config.TaskConfig{ID: "a", Name: "nightly backup", Action: config.ActionConfig{Kind: "noop"}}, "nightly backup"},
		{config.TaskConfig{ID: "b", Action: config.ActionConfig{Kind: "shell", Command: "true"}}, "shell: true"},
		{config.TaskConfig{ID: "c", Action: config.ActionConfig{Kind: "http", URL: "http://x", Body: "{}"}}, "config:c"},
	}
	for _, c := range cases {
		def, err := buildTaskDef(c.tc)
		if err != nil {
			t.Fatalf("%s: %v", c.tc.ID, err)
		}
		if def.task.Description != c.want || def.task.ID != c.tc.ID {
			t.Fatalf("%s: description %q, want %q", c.tc.ID, def.task.Description, c.want)
		}
	}
	if _, err := buildTaskDef(config.TaskConfig{ID: "d", Timeout: "x", Action: config.ActionConfig{Kind: "noop"}}); err == nil {
		t.Fatalf("bad timeout accepted")
	}
}

func TestAutosaverSavesOnlyWhenDirty(t *testing.T) {
	t.Parallel()
	var saves atomic.Int32
	fail := atomic.Bool{}
	save := func(context.Context) error {
		if fail.Load() {
			return os.ErrPermission
		}
		saves.Add(1)
		return nil
	}
	as := newAutosaver(save, 10*time.Millisecond, logx.Nop())
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go as.run(ctx, bus)

	time.Sleep(40 * time.Millisecond)
	if saves.Load() != 0 {
		t.Fatalf("saved while clean")
	}
	bus.Publish(eventbus.Event{Type: eventbus.TaskEnqueued, Time: time.Now()})
	waitFor(t, "autosave", func() bool { return saves.Load() == 1 })

	// Non-task events do not mark the queue dirty.
	bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now()})
	time.Sleep(40 * time.Millisecond)
	if saves.Load() != 1 {
		t.Fatalf("saved after a non-task event")
	}

	fail.Store(true)
	idle := newAutosaver(save, 0, logx.Nop())
	idle.dirty.Store(true)
	if idle.flush(ctx) {
		t.Fatalf("flush reported success on error")
	}
	if !idle.dirty.Load() {
		t.Fatalf("dirty flag lost after failed save")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	sc, err := mapStorageConfig(&config.Config{})
	if err != nil || sc.Driver != "file" {
		t.Fatalf("default: %+v %v", sc, err)
	}
	sc, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db"}})
	if err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("sqlite: %+v %v", sc, err)
	}
	if _, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "etcd"}}); err == nil || !strings.Contains(err.Error(), "etcd") {
		t.Fatalf("unknown driver: %v", err)
	}
}

func TestAppAlertsOnFailedTask(t *testing.T) {
	alerts := make(chan notifier.Alert, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a notifier.Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err == nil {
			alerts <- a
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	dir := t.TempDir()
	path := writeConfig(t, dir, `{
  "logging": {"level": "error"},
  "scheduler": {"scan_interval": "5ms"},
  "storage": {"driver": "memory"},
  "notifier": {"enabled": true, "webhook_url": "`+hook.URL+`"},
  "tasks": [
    {"id": "broken", "action": {"kind": "shell", "command": "exit 3"}}
  ]
}`)
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	select {
	case got := <-alerts:
		if got.TaskID != "broken" || got.Event != eventbus.TaskFailed || got.Error == "" {
			t.Fatalf("unexpected alert %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no alert for failed task")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	nc, err := mapNotifierConfig(&config.Config{Notifier: config.NotifierConfig{
		Enabled: true, WebhookURL: " http://hook ", RetryBase: "2s", DedupWindow: "5m",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if nc.WebhookURL != "http://hook" || nc.RetryBase != 2*time.Second || nc.DedupWindow != 5*time.Minute {
		t.Fatalf("mapped %+v", nc)
	}
	if _, err := mapNotifierConfig(&config.Config{Notifier: config.NotifierConfig{SendTimeout: "x"}}); err == nil {
		t.Fatal("bad send_timeout accepted")
	}
}
