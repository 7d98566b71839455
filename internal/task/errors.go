package task

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDependencyUnsatisfied marks a gating condition, not a failure: the task stays queued.
	ErrDependencyUnsatisfied = errors.New("task dependencies not completed")
	// ErrTimeout matches any *TimeoutError via errors.Is.
	ErrTimeout  = errors.New("task attempt timed out")
	ErrNotFound = errors.New("task not found")
)

// ValidationError rejects a task or parameter synchronously. No state changes.
type ValidationError struct {
	TaskID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("invalid task %s: %s %s", e.TaskID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid task: %s %s", e.Field, e.Reason)
}

// ExecutionError wraps a failure returned (or panicked) by an action.
type ExecutionError struct {
	TaskID  string
	Attempt int
	Err     error
	Panic   bool
}

func (e *ExecutionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("attempt %d panicked: %v", e.Attempt, e.Err)
	}
	return fmt.Sprintf("attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError reports an attempt that exceeded its per-attempt deadline.
type TimeoutError struct {
	TaskID  string
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %s", e.Attempt, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

// PersistenceError reports a snapshot save/load failure.
type PersistenceError struct {
	Op   string // "save" | "load"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
