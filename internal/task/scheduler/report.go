package scheduler

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedq/internal/task"
	logx "schedq/pkg/logx"
)

// reporter throttles noisy warnings. Blocked tasks are reported at most once per
// interval each; enqueue rejections share one bucket so a misbehaving producer
// cannot flood the log.
type reporter struct {
	log logx.Logger

	mu      sync.Mutex
	every   time.Duration
	perTask map[string]*rate.Limiter

	rejects *rate.Limiter
}

func newReporter(log logx.Logger, every time.Duration) *reporter {
	return &reporter{
		log:     log,
		every:   every,
		perTask: map[string]*rate.Limiter{},
		rejects: rate.NewLimiter(rate.Every(time.Second), 10),
	}
}

func (r *reporter) setEvery(every time.Duration) {
	r.mu.Lock()
	if every != r.every {
		r.every = every
		r.perTask = map[string]*rate.Limiter{}
	}
	r.mu.Unlock()
}

func (r *reporter) blocked(t *task.Task, unmet []string) {
	r.mu.Lock()
	lim := r.perTask[t.ID]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(r.every), 1)
		r.perTask[t.ID] = lim
	}
	r.mu.Unlock()

	if !lim.Allow() {
		return
	}
	r.log.Warn("task blocked by dependencies",
		logx.String("task", t.ID),
		logx.String("desc", t.Description),
		logx.Duration("overdue", time.Since(t.DueTime).Truncate(time.Millisecond)),
		logx.String("unmet", strings.Join(unmet, ",")),
	)
}

// forget drops the limiter of a task that left the queue.
func (r *reporter) forget(id string) {
	r.mu.Lock()
	delete(r.perTask, id)
	r.mu.Unlock()
}

func (r *reporter) rejected(t *task.Task, err error) {
	id := ""
	if t != nil {
		id = t.ID
	}
	if r.rejects.Allow() {
		r.log.Warn("task rejected", logx.String("task", id), logx.Err(err))
		return
	}
	r.log.Debug("task rejected", logx.String("task", id), logx.Err(err))
}
