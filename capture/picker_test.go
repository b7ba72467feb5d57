package capture

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/stereocal/rimage"
)

func TestParsePoints(t *testing.T) {
	want := []r2.Point{{X: 10, Y: 20.5}, {X: -3, Y: 4}}
	for _, tc := range []struct {
		name  string
		input string
	}{
		{"csv", "10,20.5\n-3,4\n"},
		{"csv with header and comments", "x,y\n# clicked\n\n10, 20.5\n-3 ,4"},
		{"quoted csv", "\"10\",\"20.5\"\r\n\"-3\",\"4\"\r\n"},
		{"json", " [[10, 20.5], [-3, 4]]"},
		{"json with comments and trailing commas", "[\n  // clicked in camera 0\n  [10, 20.5],\n  [-3, 4,],\n]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			points, err := ParsePoints(strings.NewReader(tc.input))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, points, test.ShouldResemble, want)
		})
	}

	points, err := ParsePoints(strings.NewReader("  \n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldBeEmpty)

	_, err = ParsePoints(strings.NewReader("1,2\n3,4,5\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 2")

	_, err = ParsePoints(strings.NewReader("1,2\n3,y\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 2")

	_, err = ParsePoints(strings.NewReader("[[1, 2], [3]]"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "point 1")
}

func TestPickers(t *testing.T) {
	ctx := context.Background()
	static := StaticPicker{{X: 1, Y: 2}}
	points, err := static.Pick(ctx)
	test.That(t, err, test.ShouldBeNil)
	points[0].X = 7
	test.That(t, static[0].X, test.ShouldEqual, 1.)

	path := filepath.Join(t.TempDir(), "points0.csv")
	test.That(t, os.WriteFile(path, []byte("5,6\n7,8\n"), 0o600), test.ShouldBeNil)
	var picker PointPicker = NewFilePicker(path)
	points, err = picker.Pick(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldResemble, []r2.Point{{X: 5, Y: 6}, {X: 7, Y: 8}})

	_, err = NewFilePicker(filepath.Join(t.TempDir(), "missing.csv")).Pick(ctx)
	test.That(t, err, test.ShouldNotBeNil)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = static.Pick(cancelled)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestOverlaysAndPlots(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 64, 48))

	out := filepath.Join(dir, "annotated.png")
	test.That(t, AnnotatePoints(img, []r2.Point{{X: 10, Y: 10}, {X: 30, Y: 20}}, out), test.ShouldBeNil)
	annotated, err := rimage.ReadImageFromFile(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, annotated.Bounds(), test.ShouldResemble, img.Bounds())
	r, _, _, _ := annotated.At(10, 10).RGBA()
	test.That(t, r, test.ShouldBeGreaterThan, 0)

	points := []r3.Vector{{}, {X: 1, Y: 2, Z: 3}, {X: -1, Y: 0.5, Z: 2}}
	for _, view := range []PlotView{FrontView, TopView, SideView} {
		path := filepath.Join(dir, "points_"+string(view)+".png")
		test.That(t, PlotPoints(points, view, path), test.ShouldBeNil)
		_, err := os.Stat(path)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, PlotPoints(points, "xw", filepath.Join(dir, "bad.png")), test.ShouldNotBeNil)

	errorsPath := filepath.Join(dir, "view_errors.png")
	test.That(t, PlotViewErrors(errorsPath, []float64{0.2, 0.3, 0.25}, []float64{0.1, 0.4}), test.ShouldBeNil)
	_, err = os.Stat(errorsPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, PlotViewErrors(errorsPath), test.ShouldNotBeNil)
}
