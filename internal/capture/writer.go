package capture

import (
	"context"
	"sync"
	"time"

	"CoupleCanvas/internal/dispatch"
	"CoupleCanvas/internal/state"
	"CoupleCanvas/internal/store"

	"github.com/golang/glog"
)

const DefaultStreamInterval = 80 * time.Millisecond

// Writer persists gestures. Implementations hand the work to a background
// queue and return at once.
type Writer interface {
	// Begin is called on pointer-down with the first point.
	Begin(p state.PendingStroke)
	// Extend is called with each accepted point after the first.
	Extend(localID string, points []state.Point)
	// End is called on release with the complete stroke.
	End(p state.PendingStroke)
}

// Runner runs named fire-and-forget tasks in submission order.
type Runner interface {
	Go(name string, fn dispatch.Task) bool
}

// ConfirmFunc learns the store id of a local stroke once the write lands.
type ConfirmFunc func(localID, storeID string)

type NopWriter struct{}

func (NopWriter) Begin(state.PendingStroke)    {}
func (NopWriter) Extend(string, []state.Point) {}
func (NopWriter) End(state.PendingStroke)      {}

func toStroke(canvasID string, p state.PendingStroke) state.Stroke {
	s := p.Stroke()
	s.ID = ""
	s.CanvasID = canvasID
	s.Points = append([]state.Point(nil), p.Points...)
	return s
}

// BatchWriter appends the whole stroke in one write on release.
type BatchWriter struct {
	Store    store.StrokeStore
	Runner   Runner
	CanvasID string
	Confirm  ConfirmFunc
}

func (w *BatchWriter) Begin(state.PendingStroke)    {}
func (w *BatchWriter) Extend(string, []state.Point) {}

func (w *BatchWriter) End(p state.PendingStroke) {
	s := toStroke(w.CanvasID, p)
	w.Runner.Go("append "+p.LocalID, func(ctx context.Context) error {
		id, err := w.Store.Append(ctx, s)
		if err != nil {
			return err
		}
		if w.Confirm != nil {
			w.Confirm(p.LocalID, id)
		}
		return nil
	})
}

type stream struct {
	storeID string
	mode    state.Mode
	unsent  []state.Point
	// monotonic ms of the last flush
	lastFlush float64
}

// StreamingWriter creates the stroke on pointer-down and grows it while
// the gesture runs, so co-viewers see it drawn live. Points are flushed
// at most once per Interval and the rest on release.
type StreamingWriter struct {
	Store    store.StrokeStore
	Runner   Runner
	CanvasID string
	Confirm  ConfirmFunc
	Clock    state.Clock
	Interval time.Duration

	streams map[string]*stream
	mu      sync.Mutex
}

func (w *StreamingWriter) interval() float64 {
	if w.Interval <= 0 {
		return float64(DefaultStreamInterval.Milliseconds())
	}
	return float64(w.Interval) / float64(time.Millisecond)
}

func (w *StreamingWriter) now() float64 {
	if w.Clock == nil {
		w.Clock = state.NewClock()
	}
	return w.Clock.Monotonic()
}

func (w *StreamingWriter) Begin(p state.PendingStroke) {
	w.mu.Lock()
	st := &stream{mode: p.Mode, lastFlush: w.now()}
	if w.streams == nil {
		w.streams = make(map[string]*stream)
	}
	w.streams[p.LocalID] = st
	w.mu.Unlock()

	s := toStroke(w.CanvasID, p)
	w.Runner.Go("start "+p.LocalID, func(ctx context.Context) error {
		id, err := w.Store.Append(ctx, s)
		if err != nil {
			return err
		}
		w.mu.Lock()
		st.storeID = id
		w.mu.Unlock()
		if w.Confirm != nil {
			w.Confirm(p.LocalID, id)
		}
		return nil
	})
}

func (w *StreamingWriter) Extend(localID string, points []state.Point) {
	w.mu.Lock()
	st, ok := w.streams[localID]
	if !ok {
		w.mu.Unlock()
		return
	}
	st.unsent = append(st.unsent, points...)
	now := w.now()
	if now-st.lastFlush <= w.interval() {
		w.mu.Unlock()
		return
	}
	batch := st.unsent
	st.unsent = nil
	st.lastFlush = now
	w.mu.Unlock()

	w.flush(localID, st, batch)
}

func (w *StreamingWriter) End(p state.PendingStroke) {
	w.mu.Lock()
	st, ok := w.streams[p.LocalID]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.streams, p.LocalID)
	batch := st.unsent
	st.unsent = nil
	w.mu.Unlock()

	if len(batch) > 0 {
		w.flush(p.LocalID, st, batch)
	}
}

// flush queues an append of points. The store id is read when the task
// runs, after the queued start task has recorded it.
func (w *StreamingWriter) flush(localID string, st *stream, points []state.Point) {
	w.Runner.Go("points "+localID, func(ctx context.Context) error {
		w.mu.Lock()
		id := st.storeID
		w.mu.Unlock()
		if id == "" {
			glog.Warningf("[capture] dropping %d points of %s: stroke was never created", len(points), localID)
			return nil
		}
		return w.Store.AppendPoints(ctx, id, points, st.mode)
	})
}

// Live reports whether the writer is still streaming localID.
func (w *StreamingWriter) Live(localID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.streams[localID]
	return ok
}
