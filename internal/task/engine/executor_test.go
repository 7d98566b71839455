package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"schedq/internal/task"
	logx "schedq/pkg/logx"
)

type recordingObserver struct {
	mu     sync.Mutex
	delays []time.Duration
	errs   []error
}

func (o *recordingObserver) AttemptFailed(_ *task.Task, _ int, err error, delay time.Duration) {
	o.mu.Lock()
	o.delays = append(o.delays, delay)
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func newTestExecutor(cfg Config) *Executor {
	return NewExecutor(cfg, logx.Nop())
}

func TestExecutorSuccessFirstAttempt(t *testing.T) {
	t.Parallel()
	ex := newTestExecutor(Config{})
	var calls int32
	tk := &task.Task{ID: "ok", Action: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}}
	out := ex.Run(context.Background(), tk, nil)
	if !out.OK() || out.Attempts != 1 || calls != 1 {
		t.Fatalf("outcome = %+v, calls = %d", out, calls)
	}
}

func TestExecutorRetriesWithLinearBackoff(t *testing.T) {
	t.Parallel()
	ex := newTestExecutor(Config{RetryBase: 5 * time.Millisecond})
	obs := &recordingObserver{}
	var calls int32
	tk := &task.Task{ID: "flaky", MaxRetries: 3, Action: func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("boom")
		}
		return nil
	}}
	out := ex.Run(context.Background(), tk, obs)
	if !out.OK() {
		t.Fatalf("expected success, got %v", out.Err)
	}
	if out.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", out.Attempts)
	}
	want := []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}
	if len(obs.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", obs.delays, want)
	}
	for i := range want {
		if obs.delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, obs.delays[i], want[i])
		}
	}
	var ee *task.ExecutionError
	if !errors.As(obs.errs[0], &ee) || ee.Attempt != 1 {
		t.Fatalf("observer err = %v", obs.errs[0])
	}
}

func TestExecutorExhaustsAttempts(t *testing.T) {
	t.Parallel()
	ex := newTestExecutor(Config{RetryBase: time.Millisecond})
	var calls int32
	cause := errors.New("always")
	tk := &task.Task{ID: "bad", MaxRetries: 2, Action: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return cause
	}}
	out := ex.Run(context.Background(), tk, nil)
	if out.OK() || out.Interrupted {
		t.Fatalf("outcome = %+v", out)
	}
	if calls != 3 || out.Attempts != 3 {
		t.Fatalf("calls=%d attempts=%d, want 3", calls, out.Attempts)
	}
	if !errors.Is(out.Err, cause) {
		t.Fatalf("Err = %v, want wrapping %v", out.Err, cause)
	}
}

func TestExecutorNoRetryStopsEarly(t *testing.T) {
	t.Parallel()
	ex := newTestExecutor(Config{RetryBase: time.Millisecond})
	var calls int32
	tk := &task.Task{ID: "perm", MaxRetries: 5, Action: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return NoRetry(errors.New("bad input"))
	}}
	out := ex.Run(context.Background(), tk, nil)
	if calls != 1 || out.OK() || !IsNoRetry(out.Err) {
		t.Fatalf("calls=%d outcome=%+v", calls, out)
	}
}

func TestExecutorPanicBecomesExecutionError(t *testing.T) {
	t.Parallel()
	ex := newTestExecutor(Config{})
	tk := &task.Task{ID: "panicky", Action: func(context.Context) error { panic("kaboom") }}
	out := ex.Run(context.Background(), tk, nil)
	var ee *task.ExecutionError
	if !errors.As(out.Err, &ee) || !ee.Panic {
		t.Fatalf("Err = %v, want panic ExecutionError", out.Err)
	}
}

func TestExecutorTimeout(t *testing.T) {
	t.Parallel()
	ex := newTestExecutor(Config{RetryBase: time.Millisecond})
	tk := &task.Task{ID: "slow", Timeout: 10 * time.Millisecond, Action: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	out := ex.Run(context.Background(), tk, nil)
	var te *task.TimeoutError
	if !errors.As(out.Err, &te) {
		t.Fatalf("Err = %v, want *TimeoutError", out.Err)
	}
	if !errors.Is(out.Err, task.ErrTimeout) || te.Timeout != 10*time.Millisecond {
		t.Fatalf("unexpected timeout error: %+v", te)
	}
}

func TestExecutorTimeoutIgnoredContext(t *testing.T) {
	t.Parallel()
	ex := newTestExecutor(Config{DefaultTimeout: 10 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	tk := &task.Task{ID: "stubborn", Action: func(context.Context) error {
		<-release
		return nil
	}}
	start := time.Now()
	out := ex.Run(context.Background(), tk, nil)
	if !errors.Is(out.Err, task.ErrTimeout) {
		t.Fatalf("Err = %v, want timeout", out.Err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("attempt was not bounded by the default timeout")
	}
}

func TestExecutorShutdownAbortsBackoff(t *testing.T) {
	t.Parallel()
	ex := newTestExecutor(Config{RetryBase: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	tk := &task.Task{ID: "retry", MaxRetries: 3, Action: func(context.Context) error {
		return errors.New("fail")
	}}
	obs := ObserverFunc(func(*task.Task, int, error, time.Duration) { cancel() })

	done := make(chan Outcome, 1)
	go func() { done <- ex.Run(ctx, tk, obs) }()
	select {
	case out := <-done:
		if !out.Interrupted || !errors.Is(out.Err, ErrStopped) {
			t.Fatalf("outcome = %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		attempt int
		err     error
		want    time.Duration
	}{
		{name: "default base", cfg: Config{}, attempt: 1, want: time.Second},
		{name: "linear", cfg: Config{RetryBase: 2 * time.Second}, attempt: 3, want: 6 * time.Second},
		{name: "capped", cfg: Config{RetryBase: time.Second, RetryMaxDelay: 2 * time.Second}, attempt: 5, want: 2 * time.Second},
		{name: "retry after hint", cfg: Config{RetryBase: time.Second}, attempt: 1, err: RetryAfter(errors.New("429"), 7*time.Second), want: 7 * time.Second},
		{name: "hint capped", cfg: Config{RetryMaxDelay: 3 * time.Second}, attempt: 1, err: RetryAfter(errors.New("429"), time.Minute), want: 3 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := backoffDelay(tt.cfg, tt.attempt, tt.err); got != tt.want {
				t.Fatalf("backoffDelay = %v, want %v", got, tt.want)
			}
		})
	}
}
