package render

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"CoupleCanvas/internal/state"

	"github.com/go-playground/assert/v2"
)

type recorder struct {
	cmds []string
}

func (r *recorder) MoveTo(x, y float64) {
	r.cmds = append(r.cmds, fmt.Sprintf("M %.2f %.2f", x, y))
}

func (r *recorder) LineTo(x, y float64) {
	r.cmds = append(r.cmds, fmt.Sprintf("L %.2f %.2f", x, y))
}

func (r *recorder) QuadraticTo(x1, y1, x2, y2 float64) {
	r.cmds = append(r.cmds, fmt.Sprintf("Q %.2f %.2f %.2f %.2f", x1, y1, x2, y2))
}

func identity(x, y float64) (float64, float64) {
	return x, y
}

func TestTraceSmoothing(t *testing.T) {
	pts := []state.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 20, Y: 10}}
	r := &recorder{}
	assert.Equal(t, true, Trace(r, pts, identity))
	assert.Equal(t, []string{
		"M 0.00 0.00",
		"Q 0.00 0.00 5.00 0.00",
		"Q 10.00 0.00 10.00 5.00",
		"Q 10.00 10.00 15.00 10.00",
		"L 20.00 10.00",
	}, r.cmds)
}

func TestTraceShortStrokes(t *testing.T) {
	r := &recorder{}
	assert.Equal(t, false, Trace(r, nil, identity))
	assert.Equal(t, 0, len(r.cmds))

	r = &recorder{}
	Trace(r, []state.Point{{X: 3, Y: 4}}, identity)
	assert.Equal(t, []string{"M 3.00 4.00", "L 3.10 4.10"}, r.cmds)

	r = &recorder{}
	Trace(r, []state.Point{{X: 1, Y: 1}, {X: 2, Y: 3}}, identity)
	assert.Equal(t, []string{"M 1.00 1.00", "L 2.00 3.00"}, r.cmds)
}

func line(id string, createdAt int64, mode state.Mode, size float64) state.Stroke {
	return state.Stroke{
		ID:        id,
		Color:     "#ff0000",
		Size:      size,
		Mode:      mode,
		CreatedAt: createdAt,
		Points: []state.Point{
			{X: 0.1, Y: 0.5}, {X: 0.3, Y: 0.52}, {X: 0.5, Y: 0.5}, {X: 0.7, Y: 0.48}, {X: 0.9, Y: 0.5},
		},
	}
}

func TestRenderDeterministic(t *testing.T) {
	v := NewViewport(100, 100, 1)
	strokes := []state.Stroke{line("a", 1, state.ModeDraw, 0.05), line("b", 2, state.ModeDraw, 0.02)}
	first := Render(strokes, v)
	second := Render(strokes, v)
	assert.Equal(t, true, bytes.Equal(first.Pix, second.Pix))

	// re-sorting an already sorted list changes nothing
	third := Render(state.Sorted(strokes), v)
	assert.Equal(t, true, bytes.Equal(first.Pix, third.Pix))
}

func TestRenderDrawAndErase(t *testing.T) {
	v := NewViewport(100, 100, 1)
	img := Render([]state.Stroke{line("a", 1, state.ModeDraw, 0.08)}, v)
	c := img.RGBAAt(50, 50)
	assert.Equal(t, uint8(255), c.A)
	assert.Equal(t, uint8(255), c.R)
	assert.Equal(t, uint8(0), img.RGBAAt(50, 10).A)

	img = Render([]state.Stroke{
		line("a", 1, state.ModeDraw, 0.08),
		line("b", 2, state.ModeErase, 0.2),
	}, v)
	assert.Equal(t, uint8(0), img.RGBAAt(50, 50).A)

	// erasing only affects what was painted before it
	img = Render([]state.Stroke{
		line("b", 1, state.ModeErase, 0.2),
		line("a", 2, state.ModeDraw, 0.08),
	}, v)
	assert.Equal(t, uint8(255), img.RGBAAt(50, 50).A)
}

func TestRenderTapLeavesDot(t *testing.T) {
	v := NewViewport(100, 100, 1)
	tap := state.Stroke{ID: "t", Color: "#000000", Size: 0.1, Mode: state.ModeDraw, Points: []state.Point{{X: 0.5, Y: 0.5}}}
	img := Render([]state.Stroke{tap}, v)
	assert.Equal(t, uint8(255), img.RGBAAt(50, 50).A)
}

func TestRenderSkipsMalformed(t *testing.T) {
	v := NewViewport(20, 20, 1)
	bad := []state.Stroke{
		{ID: "empty", Size: 0.1, Mode: state.ModeDraw},
		{ID: "nan", Size: math.NaN(), Mode: state.ModeDraw, Points: []state.Point{{X: 0.5, Y: 0.5}}},
		{ID: "inf", Size: 0.1, Mode: state.ModeErase, Points: []state.Point{{X: math.Inf(1), Y: 0.5}}},
	}
	img := Render(bad, v)
	for _, b := range img.Pix {
		if b != 0 {
			t.Fatalf("expected blank bitmap")
		}
	}
}

func TestRenderOneKeepsExisting(t *testing.T) {
	v := NewViewport(100, 100, 1)
	r := NewRenderer()
	r.Render([]state.Stroke{line("a", 1, state.ModeDraw, 0.08)}, v)
	top := state.Stroke{ID: "t", Color: "#0000ff", Size: 0.05, Mode: state.ModeDraw, Points: []state.Point{{X: 0.5, Y: 0.1}, {X: 0.5, Y: 0.2}}}
	img := r.RenderOne(top, v)
	assert.Equal(t, uint8(255), img.RGBAAt(50, 50).A)
	assert.Equal(t, uint8(255), img.RGBAAt(50, 15).B)

	// incremental paint equals a full render of the same order
	full := Render([]state.Stroke{line("a", 1, state.ModeDraw, 0.08), top}, v)
	assert.Equal(t, true, bytes.Equal(full.Pix, img.Pix))
}

func TestRenderScalesWithDevicePixelRatio(t *testing.T) {
	img := Render([]state.Stroke{line("a", 1, state.ModeDraw, 0.08)}, NewViewport(50, 40, 2))
	assert.Equal(t, 100, img.Rect.Dx())
	assert.Equal(t, 80, img.Rect.Dy())
	assert.Equal(t, uint8(255), img.RGBAAt(50, 40).A)
}
