package notifier

import (
	"context"
	"time"
)

// Config controls the alert pipeline.
type Config struct {
	Enabled bool

	WebhookURL string
	Headers    map[string]string

	// Events lists the bus event types that raise an alert.
	// Empty means task.failed only.
	Events []string

	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Alert is the JSON body posted to the webhook.
type Alert struct {
	Event       string    `json:"event"`
	TaskID      string    `json:"task_id"`
	Description string    `json:"description,omitempty"`
	Group       string    `json:"group,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Sender delivers one alert. A returned error is retried.
type Sender interface {
	Send(ctx context.Context, a Alert) error
}

type SenderFunc func(ctx context.Context, a Alert) error

func (f SenderFunc) Send(ctx context.Context, a Alert) error { return f(ctx, a) }

type HistoryItem struct {
	At    time.Time
	Alert Alert
}

// AlertEvent is published on the event bus for notifier lifecycle events
// (notifier.queued, notifier.sent, notifier.deduped, notifier.dropped,
// notifier.failed).
type AlertEvent struct {
	TaskID string    `json:"task_id"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
