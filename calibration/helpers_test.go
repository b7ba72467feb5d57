package calibration

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage/detection/chessboard"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/spatialmath"
	"go.viam.com/stereocal/testutils"
)

var (
	board54   = testutils.Board{Rows: 5, Columns: 4, SquareSize: 40}
	pattern54 = chessboard.PatternSize{Rows: 5, Columns: 4}

	// camera 1 differs from camera 0 so that mixing them up shows
	camera1 = testutils.Camera{Width: 640, Height: 480, Fx: 620, Fy: 615, Cx: 330, Cy: 236}

	// X1 = relRotation X0 + relTranslation
	relRotation    = spatialmath.RotationVectorToMatrix(r3.Vector{X: 0.01, Y: 0.08, Z: -0.02})
	relTranslation = r3.Vector{X: -100, Y: 2, Z: 5}
)

var viewTilts = []r3.Vector{
	{X: 0.25, Y: -0.2, Z: 0.05},
	{X: -0.25, Y: 0.1, Z: -0.1},
	{X: 0.1, Y: 0.22, Z: 0},
	{X: -0.2, Y: -0.22, Z: 0.08},
	{X: 0.25, Y: 0.05, Z: -0.05},
	{X: 0, Y: -0.25, Z: 0.1},
	{X: -0.15, Y: 0.2, Z: -0.08},
	{X: 0.2, Y: 0.15, Z: 0.03},
	{X: -0.05, Y: 0.05, Z: 0},
	{X: 0.15, Y: -0.1, Z: -0.12},
}

// viewPose places the board for view i in camera 0's frame.
func viewPose(i int) testutils.Pose {
	shift := r2.Point{X: 30 * math.Sin(float64(i)), Y: 20 * math.Cos(float64(i))}
	return testutils.LookingAt(board54, viewTilts[i%len(viewTilts)], 550+10*float64(i%3), shift)
}

func exactCalibration(t *testing.T, cam testutils.Camera) *CameraCalibration {
	t.Helper()
	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromMatrix(cam.Matrix(), cam.Width, cam.Height)
	test.That(t, err, test.ShouldBeNil)
	return &CameraCalibration{Intrinsics: intrinsics, Distortion: &transform.BrownConrady{}, Views: 1}
}

// stereoViews returns exact corners of n board poses seen by both cameras.
func stereoViews(n int) ([][]r2.Point, [][]r2.Point) {
	var views0, views1 [][]r2.Point
	for i := 0; i < n; i++ {
		pose := viewPose(i)
		views0 = append(views0, testutils.DefaultCamera.ProjectCorners(board54, pose))
		views1 = append(views1, camera1.ProjectCorners(board54, pose.Relative(relRotation, relTranslation)))
	}
	return views0, views1
}

// stereoImages renders n board poses seen by both cameras.
func stereoImages(n int) ([]*image.Gray, []*image.Gray) {
	var images0, images1 []*image.Gray
	for i := 0; i < n; i++ {
		pose := viewPose(i)
		images0 = append(images0, testutils.DefaultCamera.Render(board54, pose))
		images1 = append(images1, camera1.Render(board54, pose.Relative(relRotation, relTranslation)))
	}
	return images0, images1
}

func blankImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return img
}

func translationError(sc *StereoCalibration) float64 {
	return sc.TranslationVector().Sub(relTranslation).Norm()
}

func matrixClose(t *testing.T, got, want mat.Matrix, tol float64) {
	t.Helper()
	test.That(t, mat.EqualApprox(got, want, tol), test.ShouldBeTrue)
}
