package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedq/internal/eventbus"
	"schedq/internal/runtime/supervisor"
	"schedq/internal/task/scheduler"
	logx "schedq/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyMax = 300

type job struct {
	a   Alert
	key string
}

// Service is an async alert pipeline: queue, worker pool, rate limit, retry
// and dedup. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue      chan job
	sup        *supervisor.Supervisor
	stopListen context.CancelFunc
	stopDone   chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time // key -> suppressed until

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a stopped service. A nil sender means a WebhookSender for
// cfg.WebhookURL.
func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil {
		sender = &WebhookSender{URL: cfg.WebhookURL, Headers: cfg.Headers}
	}
	s := &Service{sender: sender, log: log, bus: bus, dedup: map[string]time.Time{}}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates tunables. Workers and QueueSize take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if len(cfg.Events) == 0 {
		cfg.Events = []string{eventbus.TaskFailed}
	}
	if ws, ok := s.sender.(*WebhookSender); ok {
		ws.URL, ws.Headers = cfg.WebhookURL, cfg.Headers
	}
	s.cfg = cfg
	// Burst = rate per sec, so short spikes are not delayed.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start runs the workers and the bus listener. It is idempotent and does
// nothing while disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers, hookSet := s.cfg.Workers, s.cfg.WebhookURL != ""
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		// Alerts are best-effort; never take the daemon down.
		supervisor.WithCancelOnError(false),
	)
	sup, q := s.sup, s.queue
	lctx, lcancel := context.WithCancel(sup.Context())
	s.stopListen = lcancel
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if s.stopping() || c.Err() != nil {
				return nil
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
	if s.bus != nil {
		// Subscribe before returning so no event published after Start is missed.
		ch, unsub := s.bus.Subscribe(128, s.eventTypes()...)
		sup.Go0("notifier.listen", func(context.Context) {
			defer unsub()
			s.listen(lctx, ch)
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Bool("webhook_set", hookSet))
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopDone != nil
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, sup, stopListen := s.queue, s.sup, s.stopListen
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	stopListen()
	go func() {
		defer close(done)
		// In-flight Notify calls finish before the queue closes.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue, s.sup, s.stopListen, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Service) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cfg.Events...)
}

// listen turns configured bus events into alerts.
func (s *Service) listen(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			ev, ok := e.Data.(scheduler.TaskEvent)
			if !ok {
				continue
			}
			a := Alert{
				Event:       e.Type,
				TaskID:      ev.ID,
				Description: ev.Description,
				Group:       ev.Group,
				Attempt:     ev.Attempt,
				Error:       ev.Error,
				At:          e.Time,
			}
			if err := s.Notify(ctx, a); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("alert not queued", logx.String("task", ev.ID), logx.Err(err))
			}
		}
	}
}

// Notify queues a. Duplicates within the dedup window are dropped silently.
func (s *Service) Notify(ctx context.Context, a Alert) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if a.At.IsZero() {
		a.At = time.Now()
	}
	key := dedupKey(a)
	if window > 0 && !s.dedupAllow(key, window, maxEntries) {
		s.publish("notifier.deduped", a, key, nil)
		return nil
	}

	select {
	case q <- job{a: a, key: key}:
		s.publish("notifier.queued", a, key, nil)
		return nil
	default:
		s.publish("notifier.dropped", a, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// History returns recently delivered alerts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(a Alert) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Alert: a})
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, a Alert, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := AlertEvent{TaskID: a.TaskID, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sender.Send(callCtx, j.a)
		cancel()
		if err == nil {
			s.appendHistory(j.a)
			s.publish("notifier.sent", j.a, j.key, nil)
			return
		}
		lastErr = err
		s.log.Debug("alert send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("alert delivery failed", logx.String("task", j.a.TaskID), logx.Err(lastErr))
	s.publish("notifier.failed", j.a, j.key, lastErr)
}

func dedupKey(a Alert) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join([]string{a.Event, a.TaskID, a.Error}, "|")))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Evict earliest expiry first until within cap.
	for len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

// retryDelay is base*2^(attempt-1) with 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
