package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  max_concurrent: 4
  retry_base: 2s
  timezone: UTC
snapshot:
  path: ./queue.json
  restore_on_start: true
  autosave_every: 30s
http:
  enabled: true
  addr: 127.0.0.1:8380
notifier:
  enabled: true
  webhook_url: http://localhost:9000/hook
  headers:
    X-Token: secret
  dedup_window: 10m
tasks:
  - id: backup
    schedule: "cron:0 3 * * *"
    max_retries: 2
    action:
      kind: shell
      command: "tar czf /tmp/b.tgz /etc"
  - id: ping
    schedule: "@every 1m"
    dependencies: [backup]
    action:
      kind: http
      url: http://localhost/health
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("schedq.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 4 || cfg.Scheduler.RetryBase != "2s" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if !cfg.Snapshot.RestoreOnStart || cfg.Snapshot.AutosaveEvery != "30s" {
		t.Fatalf("snapshot = %+v", cfg.Snapshot)
	}
	if len(cfg.Tasks) != 2 || cfg.Tasks[1].Dependencies[0] != "backup" || cfg.Tasks[1].Action.Kind != "http" {
		t.Fatalf("tasks = %+v", cfg.Tasks)
	}
	if !cfg.Notifier.Enabled || cfg.Notifier.Headers["X-Token"] != "secret" || cfg.Notifier.DedupWindow != "10m" {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"scheduler":{"workers":2}}`)); err == nil {
		t.Fatalf("unknown field accepted")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatalf("trailing data accepted")
	}
	if _, err := Decode("c.yml", []byte("bogus: 1\n")); err == nil {
		t.Fatalf("unknown yaml field accepted")
	}
	cfg, err := Decode("c.yaml", []byte(""))
	if err != nil || cfg == nil {
		t.Fatalf("empty yaml: cfg=%v err=%v", cfg, err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Scheduler: SchedulerConfig{RetryBase: "soon", MaxConcurrent: -1},
		Storage:   &StorageConfig{Driver: "redis"},
		Notifier:  NotifierConfig{Enabled: true, DedupWindow: "often"},
		Tasks: []TaskConfig{
			{ID: "a", Action: ActionConfig{Kind: "noop"}},
			{ID: "a", Action: ActionConfig{Kind: "noop"}},
			{ID: "", Timeout: "-1s", Action: ActionConfig{Kind: "ftp"}},
		},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{
		"scheduler.retry_base", "scheduler.max_concurrent", "storage.driver",
		"notifier.webhook_url", "notifier.dedup_window",
		"duplicate id", "tasks[2].id", "tasks[2].timeout", "tasks[2].action.kind",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " "); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-2s"); err == nil {
		t.Fatalf("negative accepted")
	}
	if d, _ := ParseDurationOrDefault("x", "0s", time.Minute); d != time.Minute {
		t.Fatalf("default not applied: %v", d)
	}
	if d, _ := ParseDurationOrDefault("x", "5s", time.Minute); d != 5*time.Second {
		t.Fatalf("value not kept: %v", d)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Tasks:   []TaskConfig{{ID: "a"}, {ID: "b", Priority: 1}},
	}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Storage:  &StorageConfig{Driver: "sqlite", Path: "x.db"},
		Notifier: NotifierConfig{Enabled: true, WebhookURL: "http://hook"},
		Tasks:    []TaskConfig{{ID: "a"}, {ID: "b", Priority: 2}, {ID: "c"}},
	}
	sections, attrs, tasks := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "logging,notifier,storage,tasks" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
	if strings.Join(tasks, ",") != "b,c" {
		t.Fatalf("tasks = %v", tasks)
	}

	if s, _, _ := SummarizeConfigChange(newCfg, newCfg); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}

func TestManagerReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "schedq.json")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"logging":{"level":"info"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	t.Cleanup(func() { m.Unsubscribe(ch) })
	ctx := context.Background()

	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("unchanged reload: ok=%v err=%v", ok, err)
	}

	write(`{"logging":{"level":"debug"}}`)
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("changed reload: ok=%v err=%v", ok, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatalf("nothing published")
	}

	m.SetValidator(func(context.Context, *Config) error { return os.ErrInvalid })
	write(`{"logging":{"level":"warn"}}`)
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("rejected reload: ok=%v err=%v", ok, err)
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("rejected config was committed")
	}
}

func TestManagerPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	m.publish(&Config{HTTP: HTTPConfig{Addr: "one"}})
	m.publish(&Config{HTTP: HTTPConfig{Addr: "two"}})
	if got := (<-ch).HTTP.Addr; got != "two" {
		t.Fatalf("got %q, want newest", got)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
}

func TestManagerWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedq.json")
	if err := os.WriteFile(path, []byte(`{"http":{"addr":"a"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"http":{"addr":"b"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.HTTP.Addr != "b" {
			t.Fatalf("addr = %q", cfg.HTTP.Addr)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload observed")
	}
}
