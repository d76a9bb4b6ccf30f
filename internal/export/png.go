package export

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"CoupleCanvas/internal/render"
	"CoupleCanvas/internal/state"

	xdraw "golang.org/x/image/draw"
)

// Image renders strokes the way a client would and flattens them onto
// white.
func Image(strokes []state.Stroke, v render.Viewport) *image.RGBA {
	ink := render.Render(state.Sorted(strokes), v)
	out := image.NewRGBA(ink.Rect)
	xdraw.Draw(out, out.Rect, image.White, image.Point{}, xdraw.Src)
	xdraw.Draw(out, out.Rect, ink, ink.Rect.Min, xdraw.Over)
	return out
}

func WritePNG(w io.Writer, strokes []state.Stroke, v render.Viewport) error {
	if err := png.Encode(w, Image(strokes, v)); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
