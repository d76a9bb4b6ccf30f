package ui

import (
	"fmt"
	"image/color"

	"CoupleCanvas/internal/board"
	"CoupleCanvas/internal/capture"
	"CoupleCanvas/internal/export"
	"CoupleCanvas/internal/render"
	"CoupleCanvas/internal/state"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/golang/glog"
)

var palette = []string{"#111111", "#e11d48", "#16a34a", "#2563eb", "#f59e0b"}

type colorSwatch struct {
	widget.BaseWidget
	Hex      string
	OnTapped func(string)
}

func newColorSwatch(hex string, tapped func(string)) *colorSwatch {
	s := &colorSwatch{Hex: hex, OnTapped: tapped}
	s.ExtendBaseWidget(s)
	return s
}

func (s *colorSwatch) CreateRenderer() fyne.WidgetRenderer {
	rect := canvas.NewRectangle(render.ParseColor(s.Hex))
	rect.SetMinSize(fyne.NewSize(32, 32))

	border := canvas.NewRectangle(color.Transparent)
	border.StrokeColor = color.Gray{Y: 150}
	border.StrokeWidth = 1

	return widget.NewSimpleRenderer(container.NewStack(rect, border))
}

func (s *colorSwatch) Tapped(_ *fyne.PointEvent) {
	if s.OnTapped != nil {
		s.OnTapped(s.Hex)
	}
}

// NewToolbar builds the pen, eraser, palette, size and canvas actions for
// a session.
func NewToolbar(w fyne.Window, s *board.Session, status *widget.Label) fyne.CanvasObject {
	setMode := func(mode state.Mode) {
		style := s.Style()
		style.Mode = mode
		s.SetStyle(style)
	}
	tb := widget.NewToolbar(
		widget.NewToolbarAction(theme.DocumentCreateIcon(), func() { setMode(state.ModeDraw) }),
		widget.NewToolbarAction(theme.ContentClearIcon(), func() { setMode(state.ModeErase) }),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.ContentUndoIcon(), func() {
			if !s.Undo() {
				status.SetText("Nothing to undo")
			}
		}),
		widget.NewToolbarAction(theme.DeleteIcon(), func() {
			dialog.ShowConfirm("Clear canvas", "Remove every stroke for everyone?", func(ok bool) {
				if ok {
					status.SetText(fmt.Sprintf("Cleared %d strokes", s.Clear()))
				}
			}, w)
		}),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.DocumentSaveIcon(), func() { saveJSON(w, s, status) }),
		widget.NewToolbarAction(theme.DocumentPrintIcon(), func() { savePDF(w, s, status) }),
	)

	onColorTapped := func(hex string) {
		style := s.Style()
		style.Color = hex
		style.Mode = state.ModeDraw
		s.SetStyle(style)
	}
	colorBox := container.NewHBox()
	for _, hex := range palette {
		colorBox.Add(newColorSwatch(hex, onColorTapped))
	}

	sizeSlider := widget.NewSlider(0.002, 0.05)
	sizeSlider.Step = 0.001
	sizeSlider.SetValue(s.Style().Size)
	sizeSlider.OnChanged = func(v float64) {
		style := s.Style()
		style.Size = v
		s.SetStyle(style)
	}
	sliderContainer := container.New(layout.NewGridWrapLayout(fyne.NewSize(150, 35)), sizeSlider)

	return container.NewHBox(
		widget.NewLabel("Tool:"),
		tb,
		widget.NewSeparator(),
		widget.NewLabel("Color:"),
		colorBox,
		widget.NewSeparator(),
		widget.NewLabel("Size:"),
		sliderContainer,
		layout.NewSpacer(),
	)
}

func saveJSON(w fyne.Window, s *board.Session, status *widget.Label) {
	dialog.ShowFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil || writer == nil {
			return
		}
		defer writer.Close()
		strokes := s.Strokes()
		if err := export.SaveJSON(writer, export.NewDocument(nil, strokes)); err != nil {
			glog.Errorf("save %s: %v", writer.URI(), err)
			status.SetText("Error saving file")
			return
		}
		status.SetText(fmt.Sprintf("Saved %d strokes", len(strokes)))
	}, w)
}

func savePDF(w fyne.Window, s *board.Session, status *widget.Label) {
	dialog.ShowFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil || writer == nil {
			return
		}
		defer writer.Close()
		if err := export.WritePDF(writer, s.Strokes(), export.PDFOptions{}); err != nil {
			glog.Errorf("export %s: %v", writer.URI(), err)
			status.SetText("Error exporting PDF")
			return
		}
		status.SetText("Exported " + writer.URI().Name())
	}, w)
}

// styleFor is the starting style from configured defaults.
func styleFor(color string, size float64) capture.Style {
	style := capture.DefaultStyle()
	if color != "" {
		style.Color = color
	}
	if size > 0 {
		style.Size = size
	}
	return style
}
