package state

import (
	"sort"
)

// Mode selects how a stroke is composited.
type Mode string

const (
	ModeDraw  Mode = "draw"
	ModeErase Mode = "erase"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeDraw || m == ModeErase
}

// Point is a captured sample in world space. X and Y are in [0,1],
// T is a monotonic timestamp in milliseconds.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// Stroke is the durable record of one gesture.
type Stroke struct {
	ID        string  `json:"id"`
	CanvasID  string  `json:"canvasId"`
	AuthorID  string  `json:"authorId,omitempty"` // empty for anonymous
	Color     string  `json:"color"`
	Size      float64 `json:"size"`
	Points    []Point `json:"points"`
	Mode      Mode    `json:"mode"`
	CreatedAt int64   `json:"createdAt"` // unix milliseconds
}

// Empty reports whether the stroke has nothing to paint.
func (s Stroke) Empty() bool {
	return len(s.Points) == 0
}

// Clone returns a copy that does not share the point slice.
func (s Stroke) Clone() Stroke {
	c := s
	c.Points = append([]Point(nil), s.Points...)
	return c
}

// PendingStroke is a locally captured stroke that has been sent to the
// store but not yet observed coming back through the subscription.
type PendingStroke struct {
	LocalID   string
	AuthorID  string
	Color     string
	Size      float64
	Points    []Point
	Mode      Mode
	CreatedAt int64

	// Confirmed is set once the store acknowledged the write.
	Confirmed bool
	// StoreID is known when the write path returned an id (streaming).
	StoreID string
}

// Stroke converts the pending entry into a renderable stroke.
func (p PendingStroke) Stroke() Stroke {
	return Stroke{
		ID:        p.StoreID,
		AuthorID:  p.AuthorID,
		Color:     p.Color,
		Size:      p.Size,
		Points:    p.Points,
		Mode:      p.Mode,
		CreatedAt: p.CreatedAt,
	}
}

// SortByCreatedAt orders strokes by creation time. The sort is stable so
// strokes sharing a timestamp keep the store's insertion order, which is
// the same for every client.
func SortByCreatedAt(strokes []Stroke) {
	sort.SliceStable(strokes, func(i, j int) bool {
		return strokes[i].CreatedAt < strokes[j].CreatedAt
	})
}

// Sorted returns a sorted copy of strokes.
func Sorted(strokes []Stroke) []Stroke {
	out := make([]Stroke, len(strokes))
	copy(out, strokes)
	SortByCreatedAt(out)
	return out
}

// Cursor is a co-viewer pointer position in world space.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
