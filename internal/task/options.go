package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh task identity.
func NewID() string { return "tsk_" + uuid.NewString() }

// Option configures a Task built by New.
type Option func(*Task)

// New builds a task due now with a fresh ID. Options override the defaults.
func New(description string, action Action, opts ...Option) *Task {
	t := &Task{
		ID:          NewID(),
		DueTime:     time.Now(),
		Description: strings.TrimSpace(description),
		Action:      action,
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t
}

func WithID(id string) Option             { return func(t *Task) { t.ID = id } }
func WithDue(due time.Time) Option        { return func(t *Task) { t.DueTime = due } }
func WithDelay(d time.Duration) Option    { return func(t *Task) { t.DueTime = time.Now().Add(d) } }
func WithPriority(p int) Option           { return func(t *Task) { t.Priority = p } }
func WithInterval(d time.Duration) Option { return func(t *Task) { t.Interval = d } }
func WithCron(expr string) Option         { return func(t *Task) { t.CronExpr = strings.TrimSpace(expr) } }
func WithGroup(group string) Option       { return func(t *Task) { t.Group = group } }
func WithMaxRetries(n int) Option         { return func(t *Task) { t.MaxRetries = n } }
func WithTimeout(d time.Duration) Option  { return func(t *Task) { t.Timeout = d } }
func WithHooks(h Hooks) Option            { return func(t *Task) { t.Hooks = h } }
func WithDependencies(ids ...string) Option {
	return func(t *Task) { t.Dependencies = append([]string(nil), ids...) }
}
