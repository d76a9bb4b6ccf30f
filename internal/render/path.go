package render

import (
	"CoupleCanvas/internal/state"
)

// PathSink receives path construction commands. *gg.Context satisfies it.
type PathSink interface {
	MoveTo(x, y float64)
	LineTo(x, y float64)
	QuadraticTo(x1, y1, x2, y2 float64)
}

// Projection maps world coordinates to the sink's coordinate space.
type Projection func(x, y float64) (float64, float64)

// tapOffset is the length of the segment drawn for a single-point stroke.
const tapOffset = 0.1

// Trace emits the smoothed outline of pts into sink and reports whether
// anything was emitted.
//
// One point becomes a near-zero segment so a tap leaves a dot; two points
// a straight line. Longer runs use each point as the control of a
// quadratic ending at the midpoint to the next point, finishing with a
// straight segment to the last point.
func Trace(sink PathSink, pts []state.Point, project Projection) bool {
	switch len(pts) {
	case 0:
		return false
	case 1:
		x, y := project(pts[0].X, pts[0].Y)
		sink.MoveTo(x, y)
		sink.LineTo(x+tapOffset, y+tapOffset)
		return true
	case 2:
		x0, y0 := project(pts[0].X, pts[0].Y)
		x1, y1 := project(pts[1].X, pts[1].Y)
		sink.MoveTo(x0, y0)
		sink.LineTo(x1, y1)
		return true
	}

	x, y := project(pts[0].X, pts[0].Y)
	sink.MoveTo(x, y)
	for i := 1; i < len(pts); i++ {
		prev, cur := pts[i-1], pts[i]
		cx, cy := project(prev.X, prev.Y)
		mx, my := project((prev.X+cur.X)/2, (prev.Y+cur.Y)/2)
		sink.QuadraticTo(cx, cy, mx, my)
	}
	last := pts[len(pts)-1]
	lx, ly := project(last.X, last.Y)
	sink.LineTo(lx, ly)
	return true
}
