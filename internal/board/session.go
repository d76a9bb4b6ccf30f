// Package board ties the pieces of one open canvas together: pointer
// capture, the optimistic tracker, the renderer and the store.
package board

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"CoupleCanvas/internal/capture"
	"CoupleCanvas/internal/dispatch"
	"CoupleCanvas/internal/presence"
	"CoupleCanvas/internal/render"
	"CoupleCanvas/internal/state"
	"CoupleCanvas/internal/store"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

type Options struct {
	CanvasID string
	// UserID authors every local stroke. A random id is used when empty.
	UserID   string
	Viewport render.Viewport
	Style    capture.Style

	MinDistance    float64
	MatchTolerance time.Duration
	PointSlack     int
	// Matcher overrides MatchTolerance and PointSlack.
	Matcher   state.Matcher
	UndoneTTL time.Duration

	// Streaming grows strokes in the store while they are drawn.
	Streaming      bool
	StreamInterval time.Duration

	ReadOnly      bool
	Clock         state.Clock
	QueueCapacity int
	// OnWriteError observes store writes that failed. The local view is
	// left as it is.
	OnWriteError func(name string, err error)
}

// Session is the state of one open canvas view. Open it when the canvas
// is shown and Close it when the view goes away.
type Session struct {
	opts    Options
	strokes store.StrokeStore

	tracker  *state.Tracker
	capture  *capture.Capture
	mapper   *render.Mapper
	queue    *dispatch.Queue
	renderer *render.Renderer
	// visible and pending strokes without the gesture in progress
	base *image.RGBA
	// store ids learned before the gesture finished
	early map[string]string
	// store ids of strokes undone before their write landed
	undoing map[string]string

	onChange func()
	changeMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
}

// Open subscribes to the canvas and returns a session painting it.
func Open(ctx context.Context, strokes store.StrokeStore, sub store.Subscriber, opts Options) (*Session, error) {
	if opts.CanvasID == "" {
		return nil, fmt.Errorf("open session: canvas id is required")
	}
	if opts.UserID == "" {
		opts.UserID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = state.NewClock()
	}
	if opts.Matcher == nil {
		tolerance := opts.MatchTolerance
		if tolerance <= 0 {
			tolerance = state.DefaultTolerance
		}
		slack := opts.PointSlack
		if slack <= 0 {
			slack = state.DefaultPointSlack
		}
		opts.Matcher = state.ExactOr(state.HeuristicMatcher{Tolerance: tolerance, PointSlack: slack})
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		opts:     opts,
		strokes:  strokes,
		renderer: render.NewRenderer(),
		early:    make(map[string]string),
		undoing:  make(map[string]string),
		ctx:      sctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.tracker = state.NewTracker(state.TrackerConfig{
		AuthorID:  opts.UserID,
		Matcher:   opts.Matcher,
		Clock:     opts.Clock,
		UndoneTTL: opts.UndoneTTL,
	})
	s.queue = dispatch.New(sctx, dispatch.Options{
		Capacity: opts.QueueCapacity,
		OnError:  opts.OnWriteError,
	})
	s.mapper = render.NewMapper(opts.Viewport)
	s.mapper.OnResize = func(render.Viewport) { s.refresh() }

	var writer capture.Writer
	if opts.Streaming {
		writer = &capture.StreamingWriter{
			Store:    strokes,
			Runner:   s.queue,
			CanvasID: opts.CanvasID,
			Confirm:  s.confirm,
			Clock:    opts.Clock,
			Interval: opts.StreamInterval,
		}
	} else {
		writer = &capture.BatchWriter{
			Store:    strokes,
			Runner:   s.queue,
			CanvasID: opts.CanvasID,
			Confirm:  s.confirm,
		}
	}
	s.capture = capture.New(capture.Config{
		AuthorID:    opts.UserID,
		MinDistance: opts.MinDistance,
		Clock:       opts.Clock,
		Writer:      writer,
		ReadOnly:    opts.ReadOnly,
		OnPoint:     s.paintLive,
		OnComplete:  s.complete,
	})
	if opts.Style != (capture.Style{}) {
		s.capture.SetStyle(opts.Style)
	}

	updates, err := sub.Subscribe(sctx, opts.CanvasID)
	if err != nil {
		cancel()
		s.queue.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", opts.CanvasID, err)
	}

	s.mu.Lock()
	s.rebuildLocked()
	s.mu.Unlock()

	go s.listen(updates)
	glog.Infof("[session] opened canvas %s as %s", opts.CanvasID, opts.UserID)
	return s, nil
}

func (s *Session) listen(updates <-chan []state.Stroke) {
	defer close(s.done)
	for snapshot := range updates {
		matched := s.tracker.Reconcile(snapshot)
		glog.V(2).Infof("[session] snapshot of %d strokes, %d pending confirmed", len(snapshot), matched)
		s.refresh()
	}
	glog.V(1).Infof("[session] subscription to %s ended", s.opts.CanvasID)
}

func (s *Session) CanvasID() string { return s.opts.CanvasID }
func (s *Session) UserID() string   { return s.opts.UserID }

// OnChange registers fn to run after every repaint. It runs on whichever
// goroutine caused the change.
func (s *Session) OnChange(fn func()) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()
	s.onChange = fn
}

func (s *Session) notify() {
	s.changeMu.RLock()
	fn := s.onChange
	s.changeMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (s *Session) refresh() {
	s.mu.Lock()
	s.rebuildLocked()
	s.mu.Unlock()
	s.notify()
}

// rebuildLocked repaints everything: visible authoritative strokes, then
// pending ones, then the gesture in progress on top.
func (s *Session) rebuildLocked() {
	v := s.mapper.Viewport()
	s.renderer.Render(s.tracker.Visible(), v)
	for _, p := range s.tracker.Pending() {
		s.renderer.RenderOne(p.Stroke(), v)
	}
	s.base = s.renderer.Snapshot()
	if live, ok := s.capture.Live(); ok {
		s.renderer.RenderOne(live, v)
	}
}

func (s *Session) paintLive(live state.Stroke, _ state.Point) {
	s.mu.Lock()
	v := s.mapper.Viewport()
	s.renderer.Load(s.base, v)
	s.renderer.RenderOne(live, v)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) complete(p state.PendingStroke) {
	s.mu.Lock()
	if id, ok := s.early[p.LocalID]; ok {
		p.StoreID = id
		delete(s.early, p.LocalID)
	}
	s.tracker.Add(p)
	s.rebuildLocked()
	s.mu.Unlock()
	s.notify()
}

// confirm runs on the write queue once a stroke has a store id.
func (s *Session) confirm(localID, storeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.undoing[localID]; ok {
		s.undoing[localID] = storeID
		s.tracker.Confirm(localID, storeID)
		return
	}
	if !s.tracker.Confirm(localID, storeID) {
		s.early[localID] = storeID
	}
}

func (s *Session) PointerDown(button capture.Button, px, py float64) bool {
	x, y := s.mapper.ScreenToWorld(px, py)
	return s.capture.PointerDown(button, x, y)
}

func (s *Session) PointerMove(px, py float64) bool {
	x, y := s.mapper.ScreenToWorld(px, py)
	return s.capture.PointerMove(x, y)
}

func (s *Session) PointerUp() bool {
	_, ok := s.capture.PointerUp()
	return ok
}

func (s *Session) PointerCancel() bool {
	_, ok := s.capture.PointerCancel()
	return ok
}

func (s *Session) PointerLeave() bool {
	_, ok := s.capture.PointerLeave()
	return ok
}

// ScreenToWorld maps a position on the surface to world space.
func (s *Session) ScreenToWorld(px, py float64) (float64, float64) {
	return s.mapper.ScreenToWorld(px, py)
}

// Resize re-projects every known stroke onto a surface of the new size.
func (s *Session) Resize(width, height, scale float64) bool {
	return s.mapper.Resize(width, height, scale)
}

func (s *Session) Viewport() render.Viewport {
	return s.mapper.Viewport()
}

func (s *Session) SetStyle(style capture.Style) {
	s.capture.SetStyle(style)
}

func (s *Session) Style() capture.Style {
	return s.capture.Style()
}

func (s *Session) SetReadOnly(readOnly bool) {
	s.capture.SetReadOnly(readOnly)
}

// Undo hides the most recent local stroke at once and asks the store to
// delete that same stroke. A pending stroke whose write never landed has
// nothing to delete. It reports false when there was nothing to undo.
func (s *Session) Undo() bool {
	s.mu.Lock()
	u := s.tracker.Undo()
	if u.Kind == state.UndoNone {
		s.mu.Unlock()
		return false
	}
	if u.Kind == state.UndoPending && u.StrokeID == "" {
		s.undoing[u.LocalID] = ""
	}
	s.rebuildLocked()
	s.mu.Unlock()
	s.notify()

	queued := s.queue.Go("undo", func(ctx context.Context) error {
		// queued after the stroke's own writes, so its id is known by now
		// unless they failed
		id := u.StrokeID
		if id == "" {
			s.mu.Lock()
			id = s.undoing[u.LocalID]
			delete(s.undoing, u.LocalID)
			s.mu.Unlock()
		}
		if id == "" {
			glog.V(1).Infof("[session] undo of %s: stroke never reached the store", u.LocalID)
			return nil
		}
		if err := s.strokes.Delete(ctx, id); err != nil {
			return err
		}
		glog.V(1).Infof("[session] undo deleted %s", id)
		return nil
	})
	if !queued {
		s.mu.Lock()
		delete(s.undoing, u.LocalID)
		s.mu.Unlock()
	}
	return true
}

// Clear empties the canvas for everyone.
func (s *Session) Clear() int {
	s.mu.Lock()
	n := s.tracker.Clear()
	s.rebuildLocked()
	s.mu.Unlock()
	s.notify()

	canvasID := s.opts.CanvasID
	s.queue.Go("clear", func(ctx context.Context) error {
		deleted, err := s.strokes.DeleteAllByCanvas(ctx, canvasID)
		if err != nil {
			return err
		}
		glog.Infof("[session] cleared %s (%d strokes)", canvasID, deleted)
		return nil
	})
	return n
}

// Frame returns a copy of the current raster.
func (s *Session) Frame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderer.Snapshot()
}

// Strokes returns what is on screen in paint order: visible authoritative
// strokes followed by pending ones.
func (s *Session) Strokes() []state.Stroke {
	out := s.tracker.Visible()
	for _, p := range s.tracker.Pending() {
		out = append(out, p.Stroke())
	}
	return out
}

func (s *Session) Pending() []state.PendingStroke {
	return s.tracker.Pending()
}

// CoViewers drops the local user and offline users from a presence listing.
func (s *Session) CoViewers(entries []presence.Entry) []presence.Entry {
	return presence.Others(entries, s.opts.UserID)
}

// Flush waits until every write issued so far has been attempted.
func (s *Session) Flush(ctx context.Context) error {
	return s.queue.Wait(ctx)
}

// Close finishes any gesture, drains queued writes and stops listening.
func (s *Session) Close() {
	s.capture.PointerUp()
	s.queue.Close()
	s.cancel()
	<-s.done
	glog.Infof("[session] closed canvas %s", s.opts.CanvasID)
}
