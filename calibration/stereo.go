package calibration

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage/detection/chessboard"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/spatialmath"
	"go.viam.com/stereocal/utils"
)

// StereoConfig configures the calibration of a camera pair.
type StereoConfig struct {
	Pattern    chessboard.PatternSize
	SquareSize float64
	Detection  chessboard.DetectionConfiguration
	// Criteria bounds the joint refinement of the relative pose and the board poses.
	Criteria utils.TermCriteria
	// FixIntrinsic holds both cameras' intrinsics and distortion at their single camera
	// values. When false they are refined together with the relative pose.
	FixIntrinsic bool
}

// DefaultStereoConfig returns the configuration for a board with the given inner corners and
// square size. Corner refinement and the solve share the stereo criteria.
func DefaultStereoConfig(pattern chessboard.PatternSize, squareSize float64) StereoConfig {
	det := chessboard.DefaultDetectionConf
	det.SubPix.Criteria = utils.DefaultStereoCriteria
	return StereoConfig{
		Pattern:      pattern,
		SquareSize:   squareSize,
		Detection:    det,
		Criteria:     utils.DefaultStereoCriteria,
		FixIntrinsic: true,
	}
}

// CheckValid returns an error naming the first invalid field.
func (cfg StereoConfig) CheckValid() error {
	if err := cfg.Pattern.CheckValid(); err != nil {
		return err
	}
	if cfg.SquareSize <= 0 {
		return errors.Errorf("square size must be positive, got %v", cfg.SquareSize)
	}
	if err := cfg.Detection.CheckValid(); err != nil {
		return errors.Wrap(err, "detection")
	}
	return errors.Wrap(cfg.Criteria.CheckValid(), "criteria")
}

// StereoCalibration is the pose of camera 1 relative to camera 0: X1 = Rotation X0 + Translation.
type StereoCalibration struct {
	Rotation    *mat.Dense // 3x3
	Translation *mat.Dense // 3x1
	Essential   *mat.Dense
	Fundamental *mat.Dense
	// RMSE is the root mean square reprojection error over the corners of both cameras.
	RMSE float64
	// EpipolarError is the mean distance in pixels from camera 1's undistorted corners to the
	// epipolar lines of camera 0's under Fundamental. EpipolarMaxError is the largest such distance.
	EpipolarError    float64
	EpipolarMaxError float64
	// Poses is the number of image pairs in which both cameras found the board.
	Poses   int
	Camera0 *CameraCalibration
	Camera1 *CameraCalibration
}

// TranslationVector returns Translation as a vector.
func (sc *StereoCalibration) TranslationVector() r3.Vector {
	return r3.Vector{X: sc.Translation.At(0, 0), Y: sc.Translation.At(1, 0), Z: sc.Translation.At(2, 0)}
}

// Baseline returns the distance between the camera centres, in board units.
func (sc *StereoCalibration) Baseline() float64 {
	return sc.TranslationVector().Norm()
}

// Triangulator returns a triangulator for the calibrated pair. With undistort set, pixels are
// corrected for each camera's lens distortion before solving.
func (sc *StereoCalibration) Triangulator(undistort bool) (*transform.Triangulator, error) {
	var opts []transform.TriangulatorOption
	if undistort {
		opts = append(opts, transform.WithUndistortion(sc.Camera0.Distortion, sc.Camera1.Distortion))
	}
	return transform.NewTriangulator(sc.Camera0.CameraMatrix(), sc.Camera1.CameraMatrix(), sc.Rotation, sc.Translation, opts...)
}

// StereoCalibrator calibrates the relative pose of two cameras with known intrinsics.
type StereoCalibrator struct {
	cfg    StereoConfig
	logger logging.Logger
}

// NewStereoCalibrator returns a calibrator for cfg.
func NewStereoCalibrator(cfg StereoConfig, logger logging.Logger) *StereoCalibrator {
	return &StereoCalibrator{cfg: cfg, logger: logger}
}

// Calibrate detects the board in each image pair and solves for the relative pose. images0[i]
// and images1[i] must be taken at the same instant; pairs where either detection fails, or
// where either view's corner order is ambiguous, are skipped.
func (sc *StereoCalibrator) Calibrate(
	ctx context.Context,
	cam0, cam1 *CameraCalibration,
	images0, images1 []*image.Gray,
) (*StereoCalibration, error) {
	if err := sc.cfg.CheckValid(); err != nil {
		return nil, err
	}
	if cam0 == nil || cam1 == nil {
		return nil, transform.NewNoIntrinsicsError("stereo calibration needs both single camera calibrations")
	}
	if len(images0) != len(images1) {
		return nil, errors.Wrapf(ErrMismatchedImageLists, "camera 0 has %d images, camera 1 has %d", len(images0), len(images1))
	}
	for _, side := range []struct {
		cam    *CameraCalibration
		images []*image.Gray
	}{{cam0, images0}, {cam1, images1}} {
		for i, img := range side.images {
			if img == nil {
				continue
			}
			if got := img.Bounds().Size(); got != side.cam.ImageSize() {
				return nil, &DimensionMismatchError{Index: i, Want: side.cam.ImageSize(), Got: got}
			}
		}
	}

	detections0, err := detectAll(ctx, images0, sc.cfg.Pattern, sc.cfg.Detection, sc.logger.Sublogger("camera0"))
	if err != nil {
		return nil, err
	}
	detections1, err := detectAll(ctx, images1, sc.cfg.Pattern, sc.cfg.Detection, sc.logger.Sublogger("camera1"))
	if err != nil {
		return nil, err
	}
	var views0, views1 [][]r2.Point
	for i := range detections0 {
		if !detections0[i].Found || !detections1[i].Found {
			sc.logger.Debugw("skipping image pair", "index", i,
				"camera0_found", detections0[i].Found, "camera1_found", detections1[i].Found)
			continue
		}
		if chessboard.AmbiguousOrder(detections0[i].Corners, sc.cfg.Pattern) ||
			chessboard.AmbiguousOrder(detections1[i].Corners, sc.cfg.Pattern) {
			sc.logger.Warnw("skipping image pair, board orientation makes the corner order ambiguous", "index", i)
			continue
		}
		views0 = append(views0, detections0[i].Corners)
		views1 = append(views1, detections1[i].Corners)
	}
	if len(views0) == 0 {
		return nil, errors.Wrapf(ErrInsufficientData, "no chessboard found by both cameras in %d image pairs", len(images0))
	}

	model := ChessboardModel(sc.cfg.Pattern, sc.cfg.SquareSize)
	return SolveStereo(ctx, model, views0, views1, cam0, cam1, sc.cfg, sc.logger)
}

// SolveStereo computes the relative pose from pre-detected corners; views0[i] and views1[i]
// show the same board pose.
func SolveStereo(
	ctx context.Context,
	model []r3.Vector,
	views0, views1 [][]r2.Point,
	cam0, cam1 *CameraCalibration,
	cfg StereoConfig,
	logger logging.Logger,
) (*StereoCalibration, error) {
	if len(views0) != len(views1) {
		return nil, errors.Wrapf(ErrMismatchedImageLists, "camera 0 has %d views, camera 1 has %d", len(views0), len(views1))
	}
	if len(views0) == 0 {
		return nil, errors.Wrap(ErrInsufficientData, "no views")
	}
	if len(model) < 4 {
		return nil, errors.Errorf("model needs at least 4 points, got %d", len(model))
	}
	for i := range views0 {
		if len(views0[i]) != len(model) || len(views1[i]) != len(model) {
			return nil, errors.Errorf("view %d has %d and %d corners, model has %d", i, len(views0[i]), len(views1[i]), len(model))
		}
	}
	if err := cfg.Criteria.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "criteria")
	}

	intr0, intr1 := intrinsicsVector(cam0), intrinsicsVector(cam1)
	poses := make([]boardPose, len(views0))
	rotations := make([][]float64, 3)
	translations := make([][]float64, 3)
	for i := range views0 {
		pose0, err := estimateBoardPose(intr0, model, views0[i])
		if err != nil {
			return nil, errors.Wrapf(err, "camera 0 view %d", i)
		}
		pose1, err := estimateBoardPose(intr1, model, views1[i])
		if err != nil {
			return nil, errors.Wrapf(err, "camera 1 view %d", i)
		}
		poses[i] = pose0
		rel, t := relativeTransform(pose0, pose1)
		rv := spatialmath.MatrixToRotationVector(rel)
		for axis, v := range []float64{rv.X, rv.Y, rv.Z} {
			rotations[axis] = append(rotations[axis], v)
		}
		for axis, v := range []float64{t.X, t.Y, t.Z} {
			translations[axis] = append(translations[axis], v)
		}
	}
	seed := make([]float64, 6)
	for axis := 0; axis < 3; axis++ {
		var err error
		if seed[axis], err = stats.Median(rotations[axis]); err != nil {
			return nil, err
		}
		if seed[3+axis], err = stats.Median(translations[axis]); err != nil {
			return nil, err
		}
	}
	logger.Debugw("initial relative pose", "rotation", seed[:3], "translation", seed[3:])

	// layout: relative pose, one board pose per view, then both intrinsics vectors
	posesStart := 6
	intrStart := posesStart + 6*len(poses)
	x0 := append([]float64(nil), seed...)
	for _, p := range poses {
		x0 = append(x0, p.params()...)
	}
	x0 = append(x0, intr0...)
	x0 = append(x0, intr1...)

	n := len(model)
	free := make([]bool, len(x0))
	for i := range free {
		free[i] = i < intrStart || !cfg.FixIntrinsic
	}
	problem := leastSquaresProblem{
		numResiduals: 4 * n * len(views0),
		free:         free,
		residuals: func(dst, x []float64) {
			rel := spatialmath.RotationVectorToMatrix(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
			relT := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
			in0 := x[intrStart : intrStart+numIntrinsics]
			in1 := x[intrStart+numIntrinsics:]
			for v := range views0 {
				pose := boardPoseFromParams(x[posesStart+6*v:])
				r0 := spatialmath.RotationVectorToMatrix(pose.Rotation)
				var r1 mat.Dense
				r1.Mul(rel, r0)
				t1 := spatialmath.Rotate(rel, pose.Translation).Add(relT)
				dst = reprojectionResiduals(dst, in0, r0, pose.Translation, model, views0[v])
				dst = reprojectionResiduals(dst, in1, &r1, t1, model, views1[v])
			}
		},
	}
	result, err := levenbergMarquardt(ctx, problem, x0, cfg.Criteria, logger)
	if err != nil {
		return nil, err
	}

	x := result.X
	out0, out1 := cam0, cam1
	if !cfg.FixIntrinsic {
		if out0, err = refinedCamera(cam0, x[intrStart:intrStart+numIntrinsics]); err != nil {
			return nil, errors.Wrap(err, "camera 0")
		}
		if out1, err = refinedCamera(cam1, x[intrStart+numIntrinsics:]); err != nil {
			return nil, errors.Wrap(err, "camera 1")
		}
	}

	rotation := spatialmath.RotationVectorToMatrix(r3.Vector{X: x[0], Y: x[1], Z: x[2]})
	translation := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
	essential := transform.EssentialFromRT(rotation, translation)
	fundamental, err := transform.FundamentalFromEssential(out0.CameraMatrix(), out1.CameraMatrix(), essential)
	if err != nil {
		return nil, err
	}

	epipolarMean, epipolarMax, err := epipolarErrors(fundamental, out0, out1, views0, views1)
	if err != nil {
		return nil, err
	}

	calib := &StereoCalibration{
		Rotation:         rotation,
		Translation:      mat.NewDense(3, 1, []float64{translation.X, translation.Y, translation.Z}),
		Essential:        essential,
		Fundamental:      fundamental,
		RMSE:             utils.RMS(result.Cost, 2*n*len(views0)),
		EpipolarError:    epipolarMean,
		EpipolarMaxError: epipolarMax,
		Poses:            len(views0),
		Camera0:          out0,
		Camera1:          out1,
	}
	logger.Infow("stereo pair calibrated",
		"poses", calib.Poses,
		"rmse", calib.RMSE,
		"epipolar_error", calib.EpipolarError,
		"baseline", calib.Baseline(),
		"iterations", result.Iterations,
		"fix_intrinsic", cfg.FixIntrinsic,
	)
	return calib, nil
}

// epipolarErrors returns the mean and largest epipolar distance of the corner pairs, after
// removing each camera's lens distortion.
func epipolarErrors(f mat.Matrix, cam0, cam1 *CameraCalibration, views0, views1 [][]r2.Point) (float64, float64, error) {
	model0, model1 := cam0.Model(), cam1.Model()
	var distances []float64
	for v := range views0 {
		for i := range views0[v] {
			p0 := model0.UndistortPixel(views0[v][i])
			p1 := model1.UndistortPixel(views1[v][i])
			distances = append(distances, transform.EpipolarDistance(f, p0, p1))
		}
	}
	mean, err := stats.Mean(distances)
	if err != nil {
		return 0, 0, err
	}
	largest, err := stats.Max(distances)
	if err != nil {
		return 0, 0, err
	}
	return mean, largest, nil
}

// refinedCamera copies cam with the intrinsics vector intr.
func refinedCamera(cam *CameraCalibration, intr []float64) (*CameraCalibration, error) {
	intrinsics := &transform.PinholeCameraIntrinsics{
		Width:  cam.Intrinsics.Width,
		Height: cam.Intrinsics.Height,
		Fx:     intr[0],
		Fy:     intr[1],
		Ppx:    intr[2],
		Ppy:    intr[3],
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	dist, err := transform.NewBrownConradyFromCoefficients(intr[4:numIntrinsics])
	if err != nil {
		return nil, err
	}
	out := *cam
	out.Intrinsics = intrinsics
	out.Distortion = dist
	return &out, nil
}
