package presence

import (
	"sync"
	"time"
)

const DefaultThrottle = 100 * time.Millisecond

// Throttle forwards at most one value per interval. A value arriving too
// early is held and sent when the interval ends; newer values replace it,
// so the latest one is delayed but never lost.
type Throttle[T any] struct {
	interval time.Duration
	send     func(T)
	now      func() time.Time
	after    func(d time.Duration, f func()) (stop func() bool)

	last    time.Time
	pending *T
	stop    func() bool
	closed  bool

	mu sync.Mutex
}

func NewThrottle[T any](interval time.Duration, send func(T)) *Throttle[T] {
	if interval <= 0 {
		interval = DefaultThrottle
	}
	return &Throttle[T]{
		interval: interval,
		send:     send,
		now:      time.Now,
		after: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// Update offers a new value.
func (t *Throttle[T]) Update(v T) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	now := t.now()
	if t.pending == nil && now.Sub(t.last) >= t.interval {
		t.last = now
		t.mu.Unlock()
		t.send(v)
		return
	}
	t.pending = &v
	if t.stop == nil {
		wait := t.interval - now.Sub(t.last)
		if wait < 0 {
			wait = 0
		}
		t.stop = t.after(wait, t.trailing)
	}
	t.mu.Unlock()
}

func (t *Throttle[T]) trailing() {
	t.mu.Lock()
	t.stop = nil
	if t.closed || t.pending == nil {
		t.mu.Unlock()
		return
	}
	v := *t.pending
	t.pending = nil
	t.last = t.now()
	t.mu.Unlock()
	t.send(v)
}

// Stop drops any held value and ignores later updates.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}
