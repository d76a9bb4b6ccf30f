// Package export writes a canvas out as PDF, PNG or a JSON document and
// reads the JSON form back.
package export

import (
	"fmt"
	"io"
	"math"

	"CoupleCanvas/internal/render"
	"CoupleCanvas/internal/state"

	"github.com/jung-kurt/gofpdf"
)

// PDFOptions sizes the page. Zero values give an A4 landscape page with a
// 10mm margin.
type PDFOptions struct {
	Title  string
	Width  float64 // mm
	Height float64 // mm
	Margin float64 // mm
}

func (o *PDFOptions) defaults() {
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = 297, 210
	}
	if o.Margin <= 0 || o.Margin*2 >= math.Min(o.Width, o.Height) {
		o.Margin = 10
	}
}

// pdfPath feeds render.Trace into the current PDF path.
type pdfPath struct {
	pdf *gofpdf.Fpdf
}

func (p pdfPath) MoveTo(x, y float64) { p.pdf.MoveTo(x, y) }
func (p pdfPath) LineTo(x, y float64) { p.pdf.LineTo(x, y) }
func (p pdfPath) QuadraticTo(x1, y1, x2, y2 float64) {
	p.pdf.CurveTo(x1, y1, x2, y2)
}

// WritePDF draws strokes as vector paths on a single page. Erase strokes
// are painted in white, which matches the bitmap on a white page.
func WritePDF(w io.Writer, strokes []state.Stroke, opts PDFOptions) error {
	pdf := newPDF(strokes, opts)
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// ExportPDF writes the PDF to a file.
func ExportPDF(path string, strokes []state.Stroke, opts PDFOptions) error {
	pdf := newPDF(strokes, opts)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func newPDF(strokes []state.Stroke, opts PDFOptions) *gofpdf.Fpdf {
	opts.defaults()
	orientation := "P"
	if opts.Width > opts.Height {
		orientation = "L"
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: orientation,
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: opts.Width, Ht: opts.Height},
	})
	pdf.SetCreator("CoupleCanvas", true)
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	innerW := opts.Width - 2*opts.Margin
	innerH := opts.Height - 2*opts.Margin
	project := func(x, y float64) (float64, float64) {
		return opts.Margin + x*innerW, opts.Margin + y*innerH
	}
	sink := pdfPath{pdf: pdf}
	for _, s := range state.Sorted(strokes) {
		if s.Empty() {
			continue
		}
		ink := render.ParseColor(s.Color)
		if s.Mode == state.ModeErase {
			ink.R, ink.G, ink.B = 255, 255, 255
		}
		pdf.SetDrawColor(int(ink.R), int(ink.G), int(ink.B))
		pdf.SetLineWidth(math.Max(0.2, s.Size*math.Min(innerW, innerH)))
		if render.Trace(sink, s.Points, project) {
			pdf.DrawPath("D")
		}
	}
	return pdf
}
