package ui

import (
	"CoupleCanvas/internal/board"
	"CoupleCanvas/internal/presence"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

type AppOptions struct {
	Title   string
	Session *board.Session
	// JoinRoom is optional. It is called once the board exists with the
	// callback that draws co-viewers, and the room it returns carries the
	// local cursor.
	JoinRoom func(onChange func([]presence.Entry)) *board.Room
	// Status is shown under the board, typically the share link.
	Status string

	DefaultColor string
	DefaultSize  float64
}

// RunApp opens the board window and blocks until it is closed.
func RunApp(opts AppOptions) {
	myApp := app.New()
	title := opts.Title
	if title == "" {
		title = "CoupleCanvas"
	}
	myWindow := myApp.NewWindow(title)
	myWindow.Resize(fyne.NewSize(1024, 768))

	s := opts.Session
	s.SetStyle(styleFor(opts.DefaultColor, opts.DefaultSize))
	boardWidget := NewBoardWidget(s)
	if opts.JoinRoom != nil {
		if room := opts.JoinRoom(boardWidget.ShowCoViewers); room != nil {
			boardWidget.SetRoom(room)
		}
	}

	status := widget.NewLabel(opts.Status)
	status.Truncation = fyne.TextTruncateEllipsis
	toolbar := NewToolbar(myWindow, s, status)

	content := container.NewBorder(toolbar, status, nil, nil, boardWidget)
	myWindow.SetContent(content)
	myWindow.ShowAndRun()
}
