package engine

import (
	"time"

	"schedq/internal/task"
)

const DefaultRetryBase = time.Second

// Config controls attempt execution.
type Config struct {
	// RetryBase is multiplied by the attempt number to get the delay before the next attempt.
	RetryBase time.Duration
	// RetryMaxDelay caps the backoff delay (including RetryAfter hints). 0 disables the cap.
	RetryMaxDelay time.Duration
	// DefaultTimeout is used when Task.Timeout is 0. 0 means attempts are unbounded.
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryMaxDelay < 0 {
		c.RetryMaxDelay = 0
	}
	if c.DefaultTimeout < 0 {
		c.DefaultTimeout = 0
	}
	return c
}

// Observer is notified about attempt-level progress. Implementations must be fast;
// they run on the executing goroutine.
type Observer interface {
	// AttemptFailed is called after a failed attempt that will be retried after delay.
	AttemptFailed(t *task.Task, attempt int, err error, delay time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t *task.Task, attempt int, err error, delay time.Duration)

func (f ObserverFunc) AttemptFailed(t *task.Task, attempt int, err error, delay time.Duration) {
	f(t, attempt, err, delay)
}

// Outcome is the result of a complete attempt sequence.
type Outcome struct {
	Started  time.Time
	Duration time.Duration
	Attempts int

	// Err is nil on success, otherwise the error of the last attempt
	// (*task.ExecutionError, *task.TimeoutError) or the shutdown cause.
	Err error
	// Interrupted is set when shutdown cut the sequence short.
	Interrupted bool
}

func (o Outcome) OK() bool { return o.Err == nil }
