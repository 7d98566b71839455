package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schedq/internal/eventbus"
	"schedq/internal/task/scheduler"
	logx "schedq/pkg/logx"
)

func fastConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		SendTimeout:   time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFailedTaskPostsWebhook(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		got []Alert
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var a Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := eventbus.New()
	cfg := fastConfig()
	cfg.WebhookURL = srv.URL
	cfg.Headers = map[string]string{"X-Token": "abc"}
	s := New(cfg, nil, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.TaskCompleted, Data: scheduler.TaskEvent{ID: "ok"}})
	bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: scheduler.TaskEvent{
		ID: "t1", Description: "shell: false", Group: "g", Attempt: 3, Error: "exit status 1",
	}})

	waitFor(t, "webhook delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	a := got[0]
	mu.Unlock()
	if a.Event != eventbus.TaskFailed || a.TaskID != "t1" || a.Attempt != 3 || a.Error != "exit status 1" || a.Group != "g" {
		t.Fatalf("unexpected alert %+v", a)
	}
	if h := s.History(); len(h) != 1 || h[0].Alert.TaskID != "t1" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyDedupWithinWindow(t *testing.T) {
	t.Parallel()
	var sent atomic.Int32
	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	s := New(cfg, SenderFunc(func(context.Context, Alert) error {
		sent.Add(1)
		return nil
	}), logx.Nop(), nil)
	s.Start(context.Background())

	a := Alert{Event: eventbus.TaskFailed, TaskID: "t1", Error: "boom"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), a); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	other := a
	other.Error = "different"
	if err := s.Notify(context.Background(), other); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	s.Stop(context.Background())
	if n := sent.Load(); n != 2 {
		t.Fatalf("sent %d alerts, want 2", n)
	}
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := New(fastConfig(), SenderFunc(func(context.Context, Alert) error {
		if calls.Add(1) < 3 {
			return errors.New("temporary")
		}
		return nil
	}), logx.Nop(), nil)
	s.Start(context.Background())

	if err := s.Notify(context.Background(), Alert{TaskID: "t"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	s.Stop(context.Background())

	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
	if len(s.History()) != 1 {
		t.Fatal("delivered alert missing from history")
	}
}

func TestSendGivesUpAndPublishesFailure(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "notifier.failed")
	defer unsub()

	var calls atomic.Int32
	s := New(fastConfig(), SenderFunc(func(context.Context, Alert) error {
		calls.Add(1)
		return errors.New("down")
	}), logx.Nop(), bus)
	s.Start(context.Background())
	_ = s.Notify(context.Background(), Alert{TaskID: "t"})
	s.Stop(context.Background())

	if n := calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 1 + RetryMax", n)
	}
	select {
	case e := <-events:
		ev, ok := e.Data.(AlertEvent)
		if !ok || ev.TaskID != "t" || ev.Error == "" {
			t.Fatalf("unexpected failure event %+v", e.Data)
		}
	default:
		t.Fatal("notifier.failed not published")
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, SenderFunc(func(context.Context, Alert) error { return nil }), logx.Nop(), nil)
	if err := s.Notify(context.Background(), Alert{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: got %v", err)
	}

	block := make(chan struct{})
	cfg := fastConfig()
	cfg.QueueSize = 1
	s = New(cfg, SenderFunc(func(ctx context.Context, _ Alert) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}), logx.Nop(), nil)
	if err := s.Notify(context.Background(), Alert{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: got %v", err)
	}
	s.Start(context.Background())

	// One alert in flight, one buffered, then the queue is full.
	var full bool
	for i := 0; i < 4; i++ {
		if err := s.Notify(context.Background(), Alert{TaskID: "x"}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !full {
		t.Fatal("expected ErrQueueFull")
	}
	close(block)
	s.Stop(context.Background())

	if err := s.Notify(context.Background(), Alert{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: got %v", err)
	}
}

func TestDedupAllowCapsEntries(t *testing.T) {
	t.Parallel()
	s := New(Config{}, SenderFunc(func(context.Context, Alert) error { return nil }), logx.Nop(), nil)
	for _, k := range []string{"a", "b", "c", "d"} {
		if !s.dedupAllow(k, time.Minute, 2) {
			t.Fatalf("first sighting of %s suppressed", k)
		}
	}
	if len(s.dedup) != 2 {
		t.Fatalf("dedup size = %d, want 2", len(s.dedup))
	}
	if s.dedupAllow("d", time.Minute, 2) {
		t.Fatal("repeat inside window allowed")
	}
}

func TestRetryDelayBounded(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter band", d)
	}
}
