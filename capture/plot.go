package capture

import (
	"fmt"
	"image/color"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotView selects the two axes a 3D point set is projected onto.
type PlotView string

// The orthographic views of a reconstruction.
const (
	FrontView PlotView = "xy"
	TopView   PlotView = "xz"
	SideView  PlotView = "zy"
)

var (
	axisColors = map[byte]color.RGBA{
		'x': {R: 255, A: 255},
		'y': {G: 160, A: 255},
		'z': {B: 255, A: 255},
	}
	pointColor = color.RGBA{R: 220, G: 30, B: 30, A: 255}
)

func component(p r3.Vector, axis byte) float64 {
	switch axis {
	case 'x':
		return p.X
	case 'y':
		return p.Y
	default:
		return p.Z
	}
}

// PlotPoints saves an orthographic projection of points, each labelled with its index. The
// file type follows the extension of path.
func PlotPoints(points []r3.Vector, view PlotView, path string) error {
	if len(view) != 2 {
		return errors.Errorf("invalid plot view %q", view)
	}
	h, v := view[0], view[1]
	if _, ok := axisColors[h]; !ok {
		return errors.Errorf("invalid plot view %q", view)
	}
	if _, ok := axisColors[v]; !ok {
		return errors.Errorf("invalid plot view %q", view)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Triangulated points (%s view)", view)
	p.X.Label.Text = string(h - 'a' + 'A')
	p.X.Label.TextStyle.Color = axisColors[h]
	p.Y.Label.Text = string(v - 'a' + 'A')
	p.Y.Label.TextStyle.Color = axisColors[v]
	p.Add(plotter.NewGrid())
	if len(points) == 0 {
		return p.Save(4*vg.Inch, 4*vg.Inch, path)
	}

	xys := make(plotter.XYs, len(points))
	labels := make([]string, len(points))
	for i, pt := range points {
		xys[i].X = component(pt, h)
		xys[i].Y = component(pt, v)
		labels[i] = strconv.Itoa(i)
	}
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Color = pointColor
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(3)

	names, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return err
	}
	for i := range names.TextStyle {
		names.TextStyle[i].XAlign = text.XLeft
	}
	p.Add(scatter, names)
	return p.Save(4*vg.Inch, 4*vg.Inch, path)
}

// PlotViewErrors saves a bar chart of the per-view reprojection errors of each camera.
func PlotViewErrors(path string, viewErrors ...[]float64) error {
	if len(viewErrors) == 0 {
		return errors.New("no view errors to plot")
	}
	p := plot.New()
	p.Title.Text = "Reprojection error per view"
	p.X.Label.Text = "view"
	p.Y.Label.Text = "RMS error (px)"
	p.Add(plotter.NewGrid())

	width := vg.Points(8)
	palette := []color.RGBA{{R: 40, G: 110, B: 220, A: 255}, {R: 230, G: 120, B: 20, A: 255}}
	for i, errs := range viewErrors {
		if len(errs) == 0 {
			continue
		}
		bars, err := plotter.NewBarChart(plotter.Values(errs), width)
		if err != nil {
			return err
		}
		bars.Color = palette[i%len(palette)]
		bars.LineStyle.Width = 0
		bars.Offset = width * vg.Length(i-len(viewErrors)/2)
		p.Add(bars)
		p.Legend.Add(fmt.Sprintf("camera %d", i), bars)
	}
	p.Legend.Top = true
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
