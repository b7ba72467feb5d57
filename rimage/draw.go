package rimage

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// NewOverlayContext returns a drawing context holding an RGBA copy of img.
func NewOverlayContext(img image.Image) *gg.Context {
	dc := gg.NewContext(img.Bounds().Dx(), img.Bounds().Dy())
	dc.DrawImage(img, -img.Bounds().Min.X, -img.Bounds().Min.Y)
	return dc
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p r2.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawString(text, p.X, p.Y)
}

// DrawMarker draws a filled circle of the given radius.
func DrawMarker(dc *gg.Context, p r2.Point, c color.Color, radius float64) {
	dc.SetColor(c)
	dc.DrawCircle(p.X, p.Y, radius)
	dc.Fill()
}

// DrawPolyline strokes straight segments through the points in order.
func DrawPolyline(dc *gg.Context, pts []r2.Point, c color.Color, width float64) {
	if len(pts) < 2 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(pts[0].X, pts[0].Y)
	for _, p := range pts[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.Stroke()
}
