package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func noop(context.Context) error { return nil }

func TestNewAppliesOptions(t *testing.T) {
	t.Parallel()
	due := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tk := New("  backup  ", noop,
		WithDue(due),
		WithPriority(3),
		WithGroup("nightly"),
		WithMaxRetries(2),
		WithTimeout(time.Second),
		WithDependencies("a", "b"),
	)
	if !strings.HasPrefix(tk.ID, "tsk_") {
		t.Fatalf("ID = %q, want tsk_ prefix", tk.ID)
	}
	if tk.Description != "backup" {
		t.Fatalf("Description = %q", tk.Description)
	}
	if !tk.DueTime.Equal(due) || tk.Priority != 3 || tk.Group != "nightly" || tk.MaxRetries != 2 || tk.Timeout != time.Second {
		t.Fatalf("unexpected task: %+v", tk)
	}
	if len(tk.Dependencies) != 2 {
		t.Fatalf("Dependencies = %v", tk.Dependencies)
	}
	if err := tk.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestNewIDsAreUnique(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		task  *Task
		field string
	}{
		{name: "nil", task: nil, field: "task"},
		{name: "no id", task: &Task{Action: noop}, field: "id"},
		{name: "no action", task: &Task{ID: "x"}, field: "action"},
		{name: "negative retries", task: &Task{ID: "x", Action: noop, MaxRetries: -1}, field: "max_retries"},
		{name: "negative timeout", task: &Task{ID: "x", Action: noop, Timeout: -time.Second}, field: "timeout"},
		{name: "negative interval", task: &Task{ID: "x", Action: noop, Interval: -time.Second}, field: "interval"},
		{name: "self dependency", task: &Task{ID: "x", Action: noop, Dependencies: []string{"x"}}, field: "dependencies"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("Field = %q, want %q", ve.Field, tt.field)
			}
			if !IsValidation(err) {
				t.Fatal("IsValidation = false")
			}
		})
	}
}

func TestCloneDoesNotShareDependencies(t *testing.T) {
	t.Parallel()
	orig := New("x", noop, WithDependencies("a"))
	cp := orig.Clone()
	cp.Dependencies[0] = "b"
	if orig.Dependencies[0] != "a" {
		t.Fatal("clone mutated original dependencies")
	}
}

func TestRecurring(t *testing.T) {
	t.Parallel()
	if (&Task{}).Recurring() {
		t.Fatal("plain task reported recurring")
	}
	if !(&Task{Interval: time.Minute}).Recurring() {
		t.Fatal("interval task not recurring")
	}
	if !(&Task{CronExpr: "@hourly"}).Recurring() {
		t.Fatal("cron task not recurring")
	}
}

func TestStateText(t *testing.T) {
	t.Parallel()
	for _, st := range []State{Pending, Running, Completed, Failed} {
		b, err := st.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var got State
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", b, err)
		}
		if got != st {
			t.Fatalf("round trip %v -> %v", st, got)
		}
	}
	if _, err := ParseState("bogus"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestTimeoutErrorIs(t *testing.T) {
	t.Parallel()
	err := error(&TimeoutError{TaskID: "x", Attempt: 1, Timeout: time.Second})
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("TimeoutError should match ErrTimeout")
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		t.Fatal("TimeoutError must be distinguishable from ExecutionError")
	}
}

func TestStatusCloneCopiesLastRun(t *testing.T) {
	t.Parallel()
	now := time.Now()
	st := Status{LastRunTime: &now}
	cp := st.Clone()
	*cp.LastRunTime = now.Add(time.Hour)
	if !st.LastRunTime.Equal(now) {
		t.Fatal("clone shares LastRunTime")
	}
}
