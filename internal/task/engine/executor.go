package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"schedq/internal/task"
	logx "schedq/pkg/logx"
)

// Executor runs a task's attempt sequence: timeout per attempt, panic recovery,
// linear backoff between attempts. It holds no per-task state.
type Executor struct {
	mu  sync.RWMutex
	cfg Config
	log logx.Logger
}

func NewExecutor(cfg Config, log logx.Logger) *Executor {
	return &Executor{cfg: cfg.withDefaults(), log: log}
}

// Apply swaps the configuration. Sequences already running keep their timeout
// but pick up the new backoff settings on their next retry.
func (e *Executor) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Executor) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Run executes t up to MaxRetries+1 times. ctx is the shutdown signal: when it is
// canceled the current attempt's context is canceled, any backoff wait is abandoned
// and the outcome is marked Interrupted.
func (e *Executor) Run(ctx context.Context, t *task.Task, obs Observer) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	out := Outcome{Started: time.Now()}
	defer func() { out.Duration = time.Since(out.Started) }()

	maxAttempts := 1 + t.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		cfg := e.Config()

		err := e.attempt(ctx, t, attempt, cfg)
		if err == nil {
			out.Err = nil
			return out
		}
		if ctx.Err() != nil {
			out.Err = fmt.Errorf("%w: %v", ErrStopped, err)
			out.Interrupted = true
			return out
		}
		out.Err = err
		if IsNoRetry(err) || attempt >= maxAttempts {
			return out
		}

		delay := backoffDelay(cfg, attempt, err)
		e.log.Debug("task retry scheduled",
			logx.String("task", t.ID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Any("err", err),
		)
		if obs != nil {
			obs.AttemptFailed(t, attempt, err, delay)
		}
		if delay > 0 {
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				tmr.Stop()
				out.Err = fmt.Errorf("%w: %v", ErrStopped, err)
				out.Interrupted = true
				return out
			case <-tmr.C:
			}
		}
	}
	return out
}

type attemptResult struct {
	err      error
	panicked bool
	stack    []byte
}

// attempt runs one bounded invocation. The action runs on its own goroutine so an
// action that ignores ctx still yields a timeout; such an action keeps running in
// the background until it returns.
func (e *Executor) attempt(ctx context.Context, t *task.Task, n int, cfg Config) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		var res attemptResult
		defer func() {
			if r := recover(); r != nil {
				res = attemptResult{err: fmt.Errorf("panic: %v", r), panicked: true, stack: debug.Stack()}
			}
			done <- res
		}()
		res.err = t.Action(runCtx)
	}()

	var res attemptResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		// Prefer a result that raced the deadline.
		select {
		case res = <-done:
		default:
			res.err = runCtx.Err()
		}
	}

	if res.panicked {
		e.log.Error("task.panic", logx.String("task", t.ID), logx.Int("attempt", n), logx.Any("panic", res.err), logx.String("stack", string(res.stack)))
		return &task.ExecutionError{TaskID: t.ID, Attempt: n, Err: res.err, Panic: true}
	}
	if res.err == nil {
		return nil
	}
	if ctx.Err() == nil && timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &task.TimeoutError{TaskID: t.ID, Attempt: n, Timeout: timeout}
	}
	return &task.ExecutionError{TaskID: t.ID, Attempt: n, Err: res.err}
}

// backoffDelay is RetryBase*attempt, or the RetryAfter hint when err carries one,
// capped by RetryMaxDelay when set.
func backoffDelay(cfg Config, attempt int, err error) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = DefaultRetryBase
	}
	d := base * time.Duration(attempt)

	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d = ra.RetryAfter()
	}
	if d < 0 {
		d = 0
	}
	if cfg.RetryMaxDelay > 0 && d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
