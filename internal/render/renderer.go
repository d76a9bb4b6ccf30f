// Package render rasterizes strokes. Output depends only on the stroke
// list and the viewport, so every client and every export produces the
// same pixels for the same canvas.
package render

import (
	"image"
	"math"

	"CoupleCanvas/internal/state"

	"github.com/fogleman/gg"
	"github.com/golang/glog"
	xdraw "golang.org/x/image/draw"
)

// Renderer owns a bitmap and paints strokes onto it.
type Renderer struct {
	viewport Viewport
	img      *image.RGBA
	// erase strokes are rasterized here first and used as a mask
	scratch *image.RGBA
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render clears the bitmap and paints strokes in the given order.
// Callers pass strokes already sorted by CreatedAt.
func (r *Renderer) Render(strokes []state.Stroke, v Viewport) *image.RGBA {
	r.reset(v)
	for _, s := range strokes {
		r.paint(s)
	}
	return r.img
}

// RenderOne paints a single stroke on top of the existing bitmap. A
// viewport different from the last one starts a blank bitmap first.
func (r *Renderer) RenderOne(s state.Stroke, v Viewport) *image.RGBA {
	if r.img == nil || v != r.viewport {
		r.reset(v)
	}
	r.paint(s)
	return r.img
}

// Load replaces the bitmap with a copy of src, typically a Snapshot taken
// earlier, so a stroke in progress can be repainted over a fixed base.
func (r *Renderer) Load(src *image.RGBA, v Viewport) *image.RGBA {
	r.reset(v)
	if src != nil {
		xdraw.Draw(r.img, r.img.Rect, src, src.Rect.Min, xdraw.Src)
	}
	return r.img
}

// Image returns the bitmap. It is reused by later calls.
func (r *Renderer) Image() *image.RGBA {
	return r.img
}

// Snapshot returns a copy of the bitmap.
func (r *Renderer) Snapshot() *image.RGBA {
	if r.img == nil {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	out := image.NewRGBA(r.img.Rect)
	copy(out.Pix, r.img.Pix)
	return out
}

// Render is the one-shot form of Renderer.Render.
func Render(strokes []state.Stroke, v Viewport) *image.RGBA {
	return NewRenderer().Render(strokes, v)
}

func (r *Renderer) reset(v Viewport) {
	w, h := v.DeviceSize()
	r.viewport = v
	if r.img != nil && r.img.Rect.Dx() == w && r.img.Rect.Dy() == h {
		clear(r.img.Pix)
		return
	}
	r.img = image.NewRGBA(image.Rect(0, 0, w, h))
	r.scratch = nil
}

func (r *Renderer) paint(s state.Stroke) {
	if s.Empty() || !finite(s) {
		glog.V(2).Infof("[render] skipping malformed stroke %q", s.ID)
		return
	}
	width := r.viewport.LineWidth(s.Size)
	if s.Mode == state.ModeErase {
		r.erase(s, width)
		return
	}

	dc := gg.NewContextForRGBA(r.img)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	dc.SetLineWidth(width)
	dc.SetColor(ParseColor(s.Color))
	if Trace(dc, s.Points, r.viewport.WorldToScreen) {
		dc.Stroke()
	}
}

// erase removes destination coverage under the stroke: the stroke is drawn
// opaque into the scratch mask and a transparent source is composited with
// Src through it.
func (r *Renderer) erase(s state.Stroke, width float64) {
	area := r.bounds(s, width)
	if area.Empty() {
		return
	}
	if r.scratch == nil {
		r.scratch = image.NewRGBA(r.img.Rect)
	} else {
		xdraw.Draw(r.scratch, area, image.Transparent, image.Point{}, xdraw.Src)
	}

	dc := gg.NewContextForRGBA(r.scratch)
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	dc.SetLineWidth(width)
	dc.SetRGBA(0, 0, 0, 1)
	if !Trace(dc, s.Points, r.viewport.WorldToScreen) {
		return
	}
	dc.Stroke()

	xdraw.DrawMask(r.img, area, image.Transparent, image.Point{}, r.scratch, area.Min, xdraw.Src)
}

// bounds is the device-pixel rectangle a stroke can touch.
func (r *Renderer) bounds(s state.Stroke, width float64) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range s.Points {
		x, y := r.viewport.WorldToScreen(p.X, p.Y)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	pad := width/2 + tapOffset + 2
	rect := image.Rect(
		int(math.Floor(minX-pad)), int(math.Floor(minY-pad)),
		int(math.Ceil(maxX+pad)), int(math.Ceil(maxY+pad)),
	)
	return rect.Intersect(r.img.Rect)
}

func finite(s state.Stroke) bool {
	if math.IsNaN(s.Size) || math.IsInf(s.Size, 0) {
		return false
	}
	for _, p := range s.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return false
		}
	}
	return true
}
