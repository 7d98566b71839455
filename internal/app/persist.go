package app

import (
	"context"
	"sync/atomic"
	"time"

	"schedq/internal/eventbus"
	logx "schedq/pkg/logx"
)

// autosaver saves the snapshot periodically, but only after the scheduler
// published a task event since the last save.
type autosaver struct {
	save  func(ctx context.Context) error
	log   logx.Logger
	dirty atomic.Bool
	every atomic.Int64 // time.Duration; 0 disables periodic saves
	kick  chan struct{}
}

func newAutosaver(save func(ctx context.Context) error, every time.Duration, log logx.Logger) *autosaver {
	as := &autosaver{save: save, log: log, kick: make(chan struct{}, 1)}
	as.every.Store(int64(every))
	return as
}

func (as *autosaver) setEvery(d time.Duration) {
	if time.Duration(as.every.Swap(int64(d))) != d {
		select {
		case as.kick <- struct{}{}:
		default:
		}
	}
}

// run consumes task events and saves on each tick while dirty.
func (as *autosaver) run(ctx context.Context, bus eventbus.Bus) {
	events, unsub := bus.Subscribe(256, "task.")
	defer unsub()

	var (
		tick  *time.Ticker
		tickC <-chan time.Time
	)
	reset := func() {
		if tick != nil {
			tick.Stop()
			tick, tickC = nil, nil
		}
		if d := time.Duration(as.every.Load()); d > 0 {
			tick = time.NewTicker(d)
			tickC = tick.C
		}
	}
	reset()
	defer func() {
		if tick != nil {
			tick.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			as.dirty.Store(true)
		case <-as.kick:
			reset()
		case <-tickC:
			as.flush(ctx)
		}
	}
}

// flush saves when dirty. A failed save leaves the flag set for the next try.
func (as *autosaver) flush(ctx context.Context) bool {
	if !as.dirty.Swap(false) {
		return false
	}
	if err := as.save(ctx); err != nil {
		as.dirty.Store(true)
		as.log.Warn("snapshot autosave failed", logx.Err(err))
		return false
	}
	as.log.Debug("snapshot autosaved")
	return true
}
