// Package notifier delivers operator alerts about task outcomes.
//
// The service listens for scheduler events on the event bus, turns the ones it
// is configured for (task.failed by default) into alerts and posts them to a
// webhook through a queue, a worker pool, a shared rate limit and a retry loop
// with jittered exponential backoff. Identical alerts for the same task are
// suppressed for a dedup window so a flapping recurring task does not flood
// the receiver.
//
// A small in-memory history of delivered alerts is kept for diagnostics.
package notifier
