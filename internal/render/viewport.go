package render

import (
	"math"
	"sync"
)

// Viewport describes the drawing surface: its size in logical units and
// the device pixel ratio.
type Viewport struct {
	Width  float64
	Height float64
	Scale  float64
}

// NewViewport returns a viewport with scale 1 when scale is not positive.
func NewViewport(width, height, scale float64) Viewport {
	if scale <= 0 {
		scale = 1
	}
	return Viewport{Width: width, Height: height, Scale: scale}
}

// DeviceSize is the bitmap size in device pixels, at least 1x1.
func (v Viewport) DeviceSize() (int, int) {
	w := int(math.Floor(v.Width * v.scale()))
	h := int(math.Floor(v.Height * v.scale()))
	return max(1, w), max(1, h)
}

// WorldToScreen maps a world point to device pixels.
func (v Viewport) WorldToScreen(x, y float64) (float64, float64) {
	return x * v.Width * v.scale(), y * v.Height * v.scale()
}

// ScreenToWorld maps a logical offset inside the surface to world space,
// clamped to [0,1].
func (v Viewport) ScreenToWorld(px, py float64) (float64, float64) {
	if v.Width <= 0 || v.Height <= 0 {
		return 0, 0
	}
	return clamp01(px / v.Width), clamp01(py / v.Height)
}

// LineWidth converts a world-relative stroke size to device pixels.
func (v Viewport) LineWidth(size float64) float64 {
	w, h := v.DeviceSize()
	return math.Max(1, size*float64(min(w, h)))
}

func (v Viewport) scale() float64 {
	if v.Scale <= 0 {
		return 1
	}
	return v.Scale
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// Mapper caches the current viewport and reports changes. A resize is a
// re-projection only; OnResize is expected to repaint every known stroke.
type Mapper struct {
	viewport Viewport
	OnResize func(Viewport)
	mu       sync.RWMutex
}

func NewMapper(v Viewport) *Mapper {
	return &Mapper{viewport: v}
}

// Viewport returns the cached viewport.
func (m *Mapper) Viewport() Viewport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewport
}

// Resize updates the cached viewport. OnResize runs only when something changed.
func (m *Mapper) Resize(width, height, scale float64) bool {
	v := NewViewport(width, height, scale)
	m.mu.Lock()
	if v == m.viewport {
		m.mu.Unlock()
		return false
	}
	m.viewport = v
	onResize := m.OnResize
	m.mu.Unlock()

	if onResize != nil {
		onResize(v)
	}
	return true
}

func (m *Mapper) ScreenToWorld(px, py float64) (float64, float64) {
	return m.Viewport().ScreenToWorld(px, py)
}

func (m *Mapper) WorldToScreen(x, y float64) (float64, float64) {
	return m.Viewport().WorldToScreen(x, y)
}
