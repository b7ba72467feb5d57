package chessboard

import (
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/testutils"
)

var board54 = testutils.Board{Rows: 5, Columns: 4, SquareSize: 40}

// affineAround maps the board centre to (cx, cy) with the given scale, rotation and shear.
func affineAround(board testutils.Board, scale, angle, shear, cx, cy float64) *mat.Dense {
	a := scale * math.Cos(angle)
	b := -scale*math.Sin(angle) + shear
	c := scale * math.Sin(angle)
	d := scale * math.Cos(angle)
	center := board.Center()
	// board units are already in SquareSize, so scale per unit is scale / SquareSize
	k := 1 / board.SquareSize
	a, b, c, d = a*k, b*k, c*k, d*k
	return testutils.AffineHomography(a, b, c, d,
		cx-(a*center.X+b*center.Y),
		cy-(c*center.X+d*center.Y))
}

func maxError(got, want []r2.Point) float64 {
	worst := 0.
	for i := range want {
		worst = math.Max(worst, got[i].Sub(want[i]).Norm())
	}
	return worst
}

func TestFindChessboardAffine(t *testing.T) {
	size := PatternSize{Rows: board54.Rows, Columns: board54.Columns}
	for _, tc := range []struct {
		name                      string
		scale, angle, shear, x, y float64
	}{
		{"upright", 40, 0, 0, 320, 240},
		{"rotated", 38, 0.17, 0, 300, 250},
		{"sheared", 42, -0.1, 6, 330, 230},
		{"small", 28, 0.05, 0, 200, 180},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := affineAround(board54, tc.scale, tc.angle, tc.shear, tc.x, tc.y)
			img := testutils.RenderChessboard(board54, h, 640, 480)
			want := testutils.ProjectHomography(board54, h)

			corners, err := FindChessboardCorners(img, size, DefaultDetectionConf)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, len(corners), test.ShouldEqual, size.Count())
			test.That(t, maxError(corners, want), test.ShouldBeLessThan, 0.5)
		})
	}
}

func TestFindChessboardPerspective(t *testing.T) {
	board := testutils.Board{Rows: 5, Columns: 4, SquareSize: 1}
	cam := testutils.DefaultCamera
	for _, tilt := range []r3.Vector{
		{},
		{X: 0.25, Y: -0.2, Z: 0.05},
		{X: -0.3, Y: 0.1, Z: -0.1},
	} {
		pose := testutils.LookingAt(board, tilt, 10, r2.Point{})
		img := cam.Render(board, pose)
		corners, err := FindChessboardCorners(img, PatternSize{Rows: 5, Columns: 4}, DefaultDetectionConf)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, maxError(corners, cam.ProjectCorners(board, pose)), test.ShouldBeLessThan, 0.5)
	}
}

func TestFindChessboardOrdering(t *testing.T) {
	size := PatternSize{Rows: board54.Rows, Columns: board54.Columns}
	// Upside down: the detected order starts at the top-left corner, which is the last board corner.
	h := affineAround(board54, 40, math.Pi, 0, 320, 240)
	img := testutils.RenderChessboard(board54, h, 640, 480)
	want := testutils.ProjectHomography(board54, h)

	corners, err := FindChessboardCorners(img, size, DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	n := size.Count()
	for k := range corners {
		test.That(t, corners[k].Sub(want[n-1-k]).Norm(), test.ShouldBeLessThan, 0.5)
	}
	test.That(t, corners[1].X, test.ShouldBeGreaterThan, corners[0].X)
	test.That(t, corners[size.Rows].Y, test.ShouldBeGreaterThan, corners[0].Y)
}

func TestFindChessboardSquarePattern(t *testing.T) {
	board := testutils.Board{Rows: 4, Columns: 4, SquareSize: 40}
	h := affineAround(board, 40, 0.2, 0, 320, 240)
	img := testutils.RenderChessboard(board, h, 640, 480)

	corners, err := FindChessboardCorners(img, PatternSize{Rows: 4, Columns: 4}, DefaultDetectionConf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxError(corners, testutils.ProjectHomography(board, h)), test.ShouldBeLessThan, 0.5)
}

func TestFindChessboardNotFound(t *testing.T) {
	size := PatternSize{Rows: board54.Rows, Columns: board54.Columns}

	blank := image.NewGray(image.Rect(0, 0, 320, 240))
	for i := range blank.Pix {
		blank.Pix[i] = 200
	}
	_, err := FindChessboardCorners(blank, size, DefaultDetectionConf)
	test.That(t, errors.Is(err, ErrChessboardNotFound), test.ShouldBeTrue)

	// Half of the board is outside the image.
	h := affineAround(board54, 40, 0, 0, 20, 240)
	_, err = FindChessboardCorners(testutils.RenderChessboard(board54, h, 640, 480), size, DefaultDetectionConf)
	test.That(t, errors.Is(err, ErrChessboardNotFound), test.ShouldBeTrue)

	// The pattern is larger than the board.
	h = affineAround(board54, 40, 0, 0, 320, 240)
	img := testutils.RenderChessboard(board54, h, 640, 480)
	_, err = FindChessboardCorners(img, PatternSize{Rows: 6, Columns: 4}, DefaultDetectionConf)
	test.That(t, errors.Is(err, ErrChessboardNotFound), test.ShouldBeTrue)

	_, err = FindChessboardCorners(img, PatternSize{Rows: 1, Columns: 4}, DefaultDetectionConf)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrChessboardNotFound), test.ShouldBeFalse)

	_, err = FindChessboardCorners(&image.Gray{}, size, DefaultDetectionConf)
	test.That(t, errors.Is(err, ErrChessboardNotFound), test.ShouldBeTrue)
}

func TestDetectionConfigurationCheckValid(t *testing.T) {
	cfg := DefaultDetectionConf
	test.That(t, cfg.CheckValid(), test.ShouldBeNil)

	cfg.Grid.Tolerance = 0.7
	test.That(t, cfg.CheckValid(), test.ShouldNotBeNil)

	cfg = DefaultDetectionConf
	cfg.SubPix.Criteria.MaxIterations = 0
	err := cfg.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "subpix.criteria")
}

func TestCornerSubPix(t *testing.T) {
	h := affineAround(board54, 40, 0.1, 0, 320, 240)
	img := testutils.RenderChessboard(board54, h, 640, 480)
	want := testutils.ProjectHomography(board54, h)

	start := make([]r2.Point, len(want))
	for i, p := range want {
		start[i] = r2.Point{X: math.Round(p.X) + 1, Y: math.Round(p.Y) - 1}
	}
	refined := CornerSubPix(rimage.GrayToDense(img), start, &DefaultDetectionConf.SubPix)
	test.That(t, maxError(refined, want), test.ShouldBeLessThan, 0.1)
}

func TestDrawCorners(t *testing.T) {
	h := affineAround(board54, 40, 0, 0, 320, 240)
	img := testutils.RenderChessboard(board54, h, 640, 480)
	out := filepath.Join(t.TempDir(), "corners.png")
	test.That(t, DrawCorners(img, testutils.ProjectHomography(board54, h), out), test.ShouldBeNil)
	info, err := os.Stat(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}
