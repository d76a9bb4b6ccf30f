package state

import (
	"sync"
	"time"
)

// Clock supplies stroke creation times and point timestamps.
type Clock interface {
	// Now returns wall time in unix milliseconds.
	Now() int64
	// Monotonic returns milliseconds since an arbitrary origin. It never decreases.
	Monotonic() float64
}

type systemClock struct {
	origin time.Time
}

// NewClock returns the process clock.
func NewClock() Clock {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) Now() int64 {
	return time.Now().UnixMilli()
}

func (c *systemClock) Monotonic() float64 {
	return float64(time.Since(c.origin)) / float64(time.Millisecond)
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu sync.Mutex
	ms int64
}

func NewManualClock(startMs int64) *ManualClock {
	return &ManualClock{ms: startMs}
}

func (c *ManualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *ManualClock) Monotonic() float64 {
	return float64(c.Now())
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += d.Milliseconds()
}

// Stamper hands out strictly increasing creation times for one client, so
// "most recent" is never ambiguous among a single author's strokes.
type Stamper struct {
	clock Clock
	last  int64
	mu    sync.Mutex
}

func NewStamper(clock Clock) *Stamper {
	return &Stamper{clock: clock}
}

// Tick returns the next creation time.
func (s *Stamper) Tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}
