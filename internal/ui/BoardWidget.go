package ui

import (
	"image/color"
	"sync"

	"CoupleCanvas/internal/board"
	"CoupleCanvas/internal/capture"
	"CoupleCanvas/internal/presence"
	"CoupleCanvas/internal/render"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
)

const cursorDot = 10

// BoardWidget shows a session's raster and feeds it pointer input.
type BoardWidget struct {
	widget.BaseWidget
	session *board.Session
	room    *board.Room

	coViewers []presence.Entry
	mu        sync.RWMutex
}

var _ fyne.Widget = (*BoardWidget)(nil)
var _ fyne.Draggable = (*BoardWidget)(nil)
var _ desktop.Mouseable = (*BoardWidget)(nil)
var _ desktop.Hoverable = (*BoardWidget)(nil)

func NewBoardWidget(s *board.Session) *BoardWidget {
	b := &BoardWidget{session: s}
	b.ExtendBaseWidget(b)
	// session changes arrive from store and queue goroutines
	s.OnChange(func() { fyne.Do(b.Refresh) })
	return b
}

// SetRoom shares this user's cursor through r.
func (b *BoardWidget) SetRoom(r *board.Room) {
	b.mu.Lock()
	b.room = r
	b.mu.Unlock()
}

// ShowCoViewers draws the cursors of everyone else in the listing.
func (b *BoardWidget) ShowCoViewers(entries []presence.Entry) {
	others := b.session.CoViewers(entries)
	b.mu.Lock()
	b.coViewers = others
	b.mu.Unlock()
	fyne.Do(b.Refresh)
}

func (b *BoardWidget) shareCursor(pos fyne.Position) {
	b.mu.RLock()
	r := b.room
	b.mu.RUnlock()
	if r != nil {
		r.MoveCursor(b.session.ScreenToWorld(float64(pos.X), float64(pos.Y)))
	}
}

func button(b desktop.MouseButton) capture.Button {
	switch b {
	case desktop.MouseButtonSecondary:
		return capture.ButtonSecondary
	case desktop.MouseButtonTertiary:
		return capture.ButtonTertiary
	}
	return capture.ButtonPrimary
}

func (b *BoardWidget) MouseDown(e *desktop.MouseEvent) {
	b.session.PointerDown(button(e.Button), float64(e.Position.X), float64(e.Position.Y))
}

func (b *BoardWidget) MouseUp(*desktop.MouseEvent) {
	b.session.PointerUp()
}

func (b *BoardWidget) Dragged(e *fyne.DragEvent) {
	b.session.PointerMove(float64(e.Position.X), float64(e.Position.Y))
	b.shareCursor(e.Position)
}

func (b *BoardWidget) DragEnd() {
	b.session.PointerUp()
}

func (b *BoardWidget) MouseIn(*desktop.MouseEvent) {}

func (b *BoardWidget) MouseMoved(e *desktop.MouseEvent) {
	b.session.PointerMove(float64(e.Position.X), float64(e.Position.Y))
	b.shareCursor(e.Position)
}

func (b *BoardWidget) MouseOut() {
	b.session.PointerLeave()
	b.mu.RLock()
	r := b.room
	b.mu.RUnlock()
	if r != nil {
		r.HideCursor()
	}
}

func (b *BoardWidget) CreateRenderer() fyne.WidgetRenderer {
	r := &boardWidgetRenderer{
		board:      b,
		background: canvas.NewRectangle(color.White),
		raster:     canvas.NewImageFromImage(b.session.Frame()),
	}
	r.raster.FillMode = canvas.ImageFillStretch
	r.raster.ScaleMode = canvas.ImageScalePixels
	return r
}

type boardWidgetRenderer struct {
	board      *BoardWidget
	background *canvas.Rectangle
	raster     *canvas.Image
	cursors    []fyne.CanvasObject
	size       fyne.Size
}

func (r *boardWidgetRenderer) Objects() []fyne.CanvasObject {
	objects := []fyne.CanvasObject{r.background, r.raster}
	return append(objects, r.cursors...)
}

func (r *boardWidgetRenderer) Layout(size fyne.Size) {
	r.size = size
	r.background.Resize(size)
	r.raster.Resize(size)
	scale := float32(1)
	if c := fyne.CurrentApp().Driver().CanvasForObject(r.board); c != nil {
		scale = c.Scale()
	}
	r.board.session.Resize(float64(size.Width), float64(size.Height), float64(scale))
}

func (r *boardWidgetRenderer) Refresh() {
	r.raster.Image = r.board.session.Frame()
	r.raster.Refresh()
	r.layoutCursors()
	canvas.Refresh(r.board)
}

func (r *boardWidgetRenderer) layoutCursors() {
	r.board.mu.RLock()
	others := r.board.coViewers
	r.board.mu.RUnlock()

	r.cursors = r.cursors[:0]
	for _, e := range others {
		if e.Data.Cursor == nil {
			continue
		}
		dot := canvas.NewCircle(render.ParseColor(e.Data.Color))
		dot.Resize(fyne.NewSize(cursorDot, cursorDot))
		dot.Move(fyne.NewPos(
			float32(e.Data.Cursor.X)*r.size.Width-cursorDot/2,
			float32(e.Data.Cursor.Y)*r.size.Height-cursorDot/2,
		))
		r.cursors = append(r.cursors, dot)
	}
}

func (r *boardWidgetRenderer) MinSize() fyne.Size {
	return fyne.NewSize(300, 300)
}

func (r *boardWidgetRenderer) Destroy() {}
