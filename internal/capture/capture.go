// Package capture turns pointer input into strokes. It owns the gesture
// in progress and nothing else: painting and storage are reached through
// callbacks and a Writer.
package capture

import (
	"math"
	"sync"

	"CoupleCanvas/internal/state"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

const (
	DefaultMinDistance = 0.002
	DefaultColor       = "#111111"
	DefaultSize        = 0.006
)

type Button int

const (
	ButtonPrimary Button = iota
	ButtonSecondary
	ButtonTertiary
)

// Style applies to the next gesture. A gesture keeps the style it started with.
type Style struct {
	Color string
	Size  float64
	Mode  state.Mode
}

func DefaultStyle() Style {
	return Style{Color: DefaultColor, Size: DefaultSize, Mode: state.ModeDraw}
}

type Config struct {
	AuthorID string
	// MinDistance is the world-space distance a move must exceed to be kept.
	MinDistance float64
	Clock       state.Clock
	// Stamper assigns createdAt. One is created from Clock when nil.
	Stamper *state.Stamper
	Writer  Writer
	// ReadOnly drops all input.
	ReadOnly bool

	// OnPoint runs for every accepted point, including the first, with the
	// gesture as it stands after the point was added.
	OnPoint func(live state.Stroke, p state.Point)
	// OnComplete runs once per gesture with the finished stroke.
	OnComplete func(p state.PendingStroke)
}

// Capture is the Idle/Capturing state machine for one pointer.
type Capture struct {
	cfg   Config
	style Style
	// nil while idle
	live *state.PendingStroke

	mu sync.Mutex
}

func New(cfg Config) *Capture {
	if cfg.MinDistance <= 0 {
		cfg.MinDistance = DefaultMinDistance
	}
	if cfg.Clock == nil {
		cfg.Clock = state.NewClock()
	}
	if cfg.Stamper == nil {
		cfg.Stamper = state.NewStamper(cfg.Clock)
	}
	if cfg.Writer == nil {
		cfg.Writer = NopWriter{}
	}
	return &Capture{cfg: cfg, style: DefaultStyle()}
}

func (c *Capture) SetStyle(s Style) {
	if s.Color == "" {
		s.Color = DefaultColor
	}
	if s.Size <= 0 {
		s.Size = DefaultSize
	}
	if !s.Mode.Valid() {
		s.Mode = state.ModeDraw
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.style = s
}

func (c *Capture) Style() Style {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.style
}

// SetReadOnly toggles input handling. A gesture in progress is finished first.
func (c *Capture) SetReadOnly(readOnly bool) {
	if readOnly {
		c.PointerUp()
	}
	c.mu.Lock()
	c.cfg.ReadOnly = readOnly
	c.mu.Unlock()
}

// Capturing reports whether a gesture is in progress.
func (c *Capture) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live != nil
}

// Live returns the gesture in progress.
func (c *Capture) Live() (state.Stroke, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return state.Stroke{}, false
	}
	s := c.live.Stroke()
	s.Points = append([]state.Point(nil), s.Points...)
	return s, true
}

// PointerDown starts a gesture at world coordinates (x, y). Only the
// primary button starts one, and a second press while capturing is ignored.
func (c *Capture) PointerDown(button Button, x, y float64) bool {
	c.mu.Lock()
	if button != ButtonPrimary || c.cfg.ReadOnly || c.live != nil {
		c.mu.Unlock()
		return false
	}
	p := state.Point{X: x, Y: y, T: c.cfg.Clock.Monotonic()}
	c.live = &state.PendingStroke{
		LocalID:   uuid.NewString(),
		AuthorID:  c.cfg.AuthorID,
		Color:     c.style.Color,
		Size:      c.style.Size,
		Mode:      c.style.Mode,
		CreatedAt: c.cfg.Stamper.Tick(),
		Points:    []state.Point{p},
	}
	begun := *c.live
	begun.Points = []state.Point{p}
	live := c.live.Stroke()
	c.mu.Unlock()

	glog.V(2).Infof("[capture] begin %s at (%.3f, %.3f)", begun.LocalID, x, y)
	c.cfg.Writer.Begin(begun)
	if c.cfg.OnPoint != nil {
		c.cfg.OnPoint(live, p)
	}
	return true
}

// PointerMove adds a point when it is far enough from the last kept one.
func (c *Capture) PointerMove(x, y float64) bool {
	c.mu.Lock()
	if c.live == nil {
		c.mu.Unlock()
		return false
	}
	last := c.live.Points[len(c.live.Points)-1]
	if math.Hypot(x-last.X, y-last.Y) <= c.cfg.MinDistance {
		c.mu.Unlock()
		return false
	}
	p := state.Point{X: x, Y: y, T: c.cfg.Clock.Monotonic()}
	c.live.Points = append(c.live.Points, p)
	localID := c.live.LocalID
	live := c.live.Stroke()
	live.Points = append([]state.Point(nil), live.Points...)
	c.mu.Unlock()

	c.cfg.Writer.Extend(localID, []state.Point{p})
	if c.cfg.OnPoint != nil {
		c.cfg.OnPoint(live, p)
	}
	return true
}

// PointerUp ends the gesture and commits every captured point.
func (c *Capture) PointerUp() (state.PendingStroke, bool) {
	c.mu.Lock()
	if c.live == nil {
		c.mu.Unlock()
		return state.PendingStroke{}, false
	}
	done := *c.live
	c.live = nil
	c.mu.Unlock()

	glog.V(2).Infof("[capture] end %s with %d points", done.LocalID, len(done.Points))
	c.cfg.Writer.End(done)
	if c.cfg.OnComplete != nil {
		c.cfg.OnComplete(done)
	}
	return done, true
}

// PointerCancel is treated as a release: nothing is rolled back.
func (c *Capture) PointerCancel() (state.PendingStroke, bool) {
	return c.PointerUp()
}

// PointerLeave is treated as a release.
func (c *Capture) PointerLeave() (state.PendingStroke, bool) {
	return c.PointerUp()
}
