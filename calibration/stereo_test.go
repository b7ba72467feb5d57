package calibration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/spatialmath"
	"go.viam.com/stereocal/testutils"
)

func TestSolveStereoExact(t *testing.T) {
	logger := logging.NewTestLogger(t)
	model := ChessboardModel(pattern54, board54.SquareSize)
	cam0 := exactCalibration(t, testutils.DefaultCamera)
	cam1 := exactCalibration(t, camera1)
	cfg := DefaultStereoConfig(pattern54, board54.SquareSize)

	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d poses", n), func(t *testing.T) {
			views0, views1 := stereoViews(n)
			sc, err := SolveStereo(context.Background(), model, views0, views1, cam0, cam1, cfg, logger)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, sc.Poses, test.ShouldEqual, n)
			test.That(t, sc.RMSE, test.ShouldBeLessThan, 1e-4)
			test.That(t, spatialmath.RotationAngle(sc.Rotation, relRotation), test.ShouldBeLessThan, 1e-6)
			test.That(t, translationError(sc), test.ShouldBeLessThan, 1e-3)
			test.That(t, sc.Camera0, test.ShouldEqual, cam0)
			test.That(t, sc.Camera1, test.ShouldEqual, cam1)

			// corners of the same board point satisfy the epipolar constraint
			for i := range views0[0] {
				p0, p1 := views0[0][i], views1[0][i]
				test.That(t, transform.EpipolarDistance(sc.Fundamental, p0, p1), test.ShouldBeLessThan, 1e-3)
			}
			test.That(t, sc.EpipolarError, test.ShouldBeLessThan, 1e-3)
			test.That(t, sc.EpipolarMaxError, test.ShouldBeGreaterThanOrEqualTo, sc.EpipolarError)
			test.That(t, sc.EpipolarMaxError, test.ShouldBeLessThan, 1e-3)
		})
	}
}

func TestSolveStereoRefineIntrinsics(t *testing.T) {
	logger := logging.NewTestLogger(t)
	model := ChessboardModel(pattern54, board54.SquareSize)
	cam0 := exactCalibration(t, testutils.DefaultCamera)
	perturbed := camera1
	perturbed.Fx += 8
	perturbed.Cy -= 4
	cam1 := exactCalibration(t, perturbed)

	cfg := DefaultStereoConfig(pattern54, board54.SquareSize)
	cfg.FixIntrinsic = false
	views0, views1 := stereoViews(len(viewTilts))
	sc, err := SolveStereo(context.Background(), model, views0, views1, cam0, cam1, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sc.Camera1, test.ShouldNotEqual, cam1)
	test.That(t, sc.Camera1.Intrinsics.Fx, test.ShouldAlmostEqual, camera1.Fx, 1)
	test.That(t, sc.Camera1.Intrinsics.Ppy, test.ShouldAlmostEqual, camera1.Cy, 1)
	test.That(t, sc.RMSE, test.ShouldBeLessThan, 0.01)
	// the input calibration is left alone
	test.That(t, cam1.Intrinsics.Fx, test.ShouldEqual, perturbed.Fx)

	fixed := DefaultStereoConfig(pattern54, board54.SquareSize)
	scFixed, err := SolveStereo(context.Background(), model, views0, views1, cam0, cam1, fixed, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scFixed.RMSE, test.ShouldBeGreaterThan, sc.RMSE)
}

func TestSolveStereoErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	model := ChessboardModel(pattern54, board54.SquareSize)
	cam0 := exactCalibration(t, testutils.DefaultCamera)
	cam1 := exactCalibration(t, camera1)
	cfg := DefaultStereoConfig(pattern54, board54.SquareSize)
	ctx := context.Background()

	_, err := SolveStereo(ctx, model, nil, nil, cam0, cam1, cfg, logger)
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)

	views0, views1 := stereoViews(2)
	_, err = SolveStereo(ctx, model, views0, views1[:1], cam0, cam1, cfg, logger)
	test.That(t, errors.Is(err, ErrMismatchedImageLists), test.ShouldBeTrue)

	views1[1] = views1[1][:5]
	_, err = SolveStereo(ctx, model, views0, views1, cam0, cam1, cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStereoCalibratorErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cam0 := exactCalibration(t, testutils.DefaultCamera)
	cam1 := exactCalibration(t, camera1)
	calibrator := NewStereoCalibrator(DefaultStereoConfig(pattern54, board54.SquareSize), logger)
	ctx := context.Background()

	_, err := calibrator.Calibrate(ctx, cam0, cam1, make([]*image.Gray, 2), make([]*image.Gray, 3))
	test.That(t, errors.Is(err, ErrMismatchedImageLists), test.ShouldBeTrue)

	_, err = calibrator.Calibrate(ctx, cam0, cam1,
		[]*image.Gray{blankImage(640, 480)}, []*image.Gray{blankImage(640, 480)})
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)

	_, err = calibrator.Calibrate(ctx, cam0, cam1,
		[]*image.Gray{blankImage(640, 480), blankImage(640, 480)},
		[]*image.Gray{blankImage(640, 480), blankImage(320, 240)})
	var mismatch *DimensionMismatchError
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)
	test.That(t, mismatch.Index, test.ShouldEqual, 1)

	_, err = calibrator.Calibrate(ctx, nil, cam1, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

// A board turned a quarter turn has rows running down both images, so the pair is left out.
func TestStereoCalibratorSkipsAmbiguousOrder(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cam0 := exactCalibration(t, testutils.DefaultCamera)
	cam1 := exactCalibration(t, camera1)
	images0, images1 := stereoImages(4)
	turned := testutils.LookingAt(board54, r3.Vector{Z: math.Pi / 2}, 550, r2.Point{})
	images0 = append([]*image.Gray{testutils.DefaultCamera.Render(board54, turned)}, images0...)
	images1 = append([]*image.Gray{camera1.Render(board54, turned.Relative(relRotation, relTranslation))}, images1...)

	sc, err := NewStereoCalibrator(DefaultStereoConfig(pattern54, board54.SquareSize), logger).
		Calibrate(context.Background(), cam0, cam1, images0, images1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sc.Poses, test.ShouldEqual, 4)
	test.That(t, spatialmath.RotationAngle(sc.Rotation, relRotation), test.ShouldBeLessThan, 0.02)
}

// Ten image pairs of a 5x4 board; camera 1 misses the board in pair 3 and camera 0 in pair 7.
func TestStereoCalibrationScenario(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	images0, images1 := stereoImages(10)
	images1[3] = blankImage(640, 480)
	images0[7] = blankImage(640, 480)

	cam0, err := NewCameraCalibrator(DefaultCameraConfig(pattern54, board54.SquareSize), logger.Sublogger("camera0")).
		Calibrate(ctx, images0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam0.Views, test.ShouldEqual, 9)
	cam1, err := NewCameraCalibrator(DefaultCameraConfig(pattern54, board54.SquareSize), logger.Sublogger("camera1")).
		Calibrate(ctx, images1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam1.Views, test.ShouldEqual, 9)

	sc, err := NewStereoCalibrator(DefaultStereoConfig(pattern54, board54.SquareSize), logger).
		Calibrate(ctx, cam0, cam1, images0, images1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sc.Poses, test.ShouldEqual, 8)
	test.That(t, sc.RMSE, test.ShouldBeLessThan, 1)
	test.That(t, sc.EpipolarError, test.ShouldBeLessThan, 1)
	test.That(t, spatialmath.RotationAngle(sc.Rotation, relRotation), test.ShouldBeLessThan, 0.02)
	test.That(t, translationError(sc), test.ShouldBeLessThan, 0.05*relTranslation.Norm())

	// results survive a round trip through the file form
	path := filepath.Join(t.TempDir(), "calibration", "results.json")
	test.That(t, NewResultsFile(sc).WriteFile(path), test.ShouldBeNil)
	rf, err := ReadResultsFile(path)
	test.That(t, err, test.ShouldBeNil)
	back, err := rf.StereoCalibration()
	test.That(t, err, test.ShouldBeNil)
	matrixClose(t, back.Rotation, sc.Rotation, 1e-12)
	matrixClose(t, back.Translation, sc.Translation, 1e-12)
	matrixClose(t, back.Camera1.CameraMatrix(), sc.Camera1.CameraMatrix(), 1e-12)
	test.That(t, back.Camera0.DistortionCoefficients(), test.ShouldResemble, sc.Camera0.DistortionCoefficients())
	test.That(t, back.RMSE, test.ShouldEqual, sc.RMSE)
	test.That(t, back.Poses, test.ShouldEqual, 8)

	var report bytes.Buffer
	test.That(t, WriteReport(&report, sc), test.ShouldBeNil)
	test.That(t, report.String(), test.ShouldContainSubstring, "===== Camera 0 Calibration =====")
	test.That(t, report.String(), test.ShouldContainSubstring, "===== Camera 1 Calibration =====")
	test.That(t, report.String(), test.ShouldContainSubstring, "===== Stereo Calibration =====")
	test.That(t, report.String(), test.ShouldContainSubstring, "Translation Vector (T):\n[[")
}
