package engine

import "context"

// Limiter is a channel-based counting semaphore bounding concurrent executions.
// Tokens are pre-filled up to the capacity; the capacity is fixed for its lifetime.
type Limiter struct {
	ch chan struct{}
}

// NewLimiter returns a limiter with n slots. n < 1 is treated as 1.
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = 1
	}
	l := &Limiter{ch: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		l.ch <- struct{}{}
	}
	return l
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	// A canceled ctx never takes a slot, even if one is free.
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) TryAcquire() bool {
	if l == nil {
		return true
	}
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Release returns a slot. It never blocks; releasing more than was acquired is a no-op.
func (l *Limiter) Release() {
	if l == nil {
		return
	}
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// InUse reports the number of slots currently held.
func (l *Limiter) InUse() int {
	if l == nil {
		return 0
	}
	return cap(l.ch) - len(l.ch)
}

func (l *Limiter) Cap() int {
	if l == nil {
		return 0
	}
	return cap(l.ch)
}
