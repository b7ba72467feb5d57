package calibration

import (
	"context"
	"image"
	"math"

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

// CameraConfig configures single camera calibration.
type CameraConfig struct {
	Pattern    chessboard.PatternSize
	SquareSize float64
	Detection  chessboard.DetectionConfiguration
	// Criteria bounds the joint refinement of intrinsics and board poses.
	Criteria utils.TermCriteria
	// ImageSize, when set, is the size every accepted image must have. Otherwise the first
	// accepted image decides.
	ImageSize image.Point
}

// DefaultCameraConfig returns the configuration for a board with the given inner corners and
// square size.
func DefaultCameraConfig(pattern chessboard.PatternSize, squareSize float64) CameraConfig {
	det := chessboard.DefaultDetectionConf
	det.SubPix.Criteria = utils.DefaultSubPixCriteria
	return CameraConfig{
		Pattern:    pattern,
		SquareSize: squareSize,
		Detection:  det,
		Criteria:   utils.DefaultCameraSolveCriteria,
	}
}

// CheckValid returns an error naming the first invalid field.
func (cfg CameraConfig) CheckValid() error {
	if err := cfg.Pattern.CheckValid(); err != nil {
		return err
	}
	if cfg.SquareSize <= 0 {
		return errors.Errorf("square size must be positive, got %v", cfg.SquareSize)
	}
	if err := cfg.Detection.CheckValid(); err != nil {
		return errors.Wrap(err, "detection")
	}
	if cfg.ImageSize.X < 0 || cfg.ImageSize.Y < 0 {
		return errors.Errorf("image size must not be negative, got %v", cfg.ImageSize)
	}
	return errors.Wrap(cfg.Criteria.CheckValid(), "criteria")
}

// CameraCalibration is the result of calibrating one camera.
type CameraCalibration struct {
	Intrinsics *transform.PinholeCameraIntrinsics
	Distortion *transform.BrownConrady
	// RMSE is the root mean square reprojection error over all corners, in pixels.
	RMSE float64
	// Views is the number of images that contributed.
	Views int
	// ViewErrors is the root mean square reprojection error of each contributing image.
	ViewErrors []float64
}

// CameraMatrix returns the 3x3 camera matrix.
func (c *CameraCalibration) CameraMatrix() *mat.Dense {
	return c.Intrinsics.CameraMatrix()
}

// DistortionCoefficients returns (k1, k2, p1, p2, k3).
func (c *CameraCalibration) DistortionCoefficients() []float64 {
	return c.Distortion.Coefficients()
}

// Model returns the camera as a pinhole model with lens distortion.
func (c *CameraCalibration) Model() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: c.Intrinsics, Distortion: c.Distortion}
}

// ImageSize returns the width and height the calibration was computed for.
func (c *CameraCalibration) ImageSize() image.Point {
	return image.Point{X: c.Intrinsics.Width, Y: c.Intrinsics.Height}
}

// CameraCalibrator calibrates a single camera from chessboard images.
type CameraCalibrator struct {
	cfg    CameraConfig
	logger logging.Logger
}

// NewCameraCalibrator returns a calibrator for cfg.
func NewCameraCalibrator(cfg CameraConfig, logger logging.Logger) *CameraCalibrator {
	return &CameraCalibrator{cfg: cfg, logger: logger}
}

// Calibrate detects the chessboard in every image, skipping those where it is not found, and
// solves for the intrinsics.
func (cc *CameraCalibrator) Calibrate(ctx context.Context, images []*image.Gray) (*CameraCalibration, error) {
	if err := cc.cfg.CheckValid(); err != nil {
		return nil, err
	}
	detections, err := detectAll(ctx, images, cc.cfg.Pattern, cc.cfg.Detection, cc.logger)
	if err != nil {
		return nil, err
	}

	want := cc.cfg.ImageSize
	var views [][]r2.Point
	for i, d := range detections {
		if !d.Found {
			continue
		}
		if want == (image.Point{}) {
			want = d.Size
		}
		if d.Size != want {
			return nil, &DimensionMismatchError{Index: i, Want: want, Got: d.Size}
		}
		views = append(views, d.Corners)
	}
	if len(views) == 0 {
		return nil, errors.Wrapf(ErrInsufficientData, "no chessboard found in %d images", len(images))
	}
	cc.logger.Debugw("chessboard detection done", "images", len(images), "accepted", len(views))

	model := ChessboardModel(cc.cfg.Pattern, cc.cfg.SquareSize)
	return SolveCamera(ctx, model, views, want.X, want.Y, cc.cfg.Criteria, cc.logger)
}

// SolveCamera computes intrinsics and distortion from pre-detected corners. Every view must
// list one corner per model point, in model order.
func SolveCamera(
	ctx context.Context,
	model []r3.Vector,
	views [][]r2.Point,
	width, height int,
	criteria utils.TermCriteria,
	logger logging.Logger,
) (*CameraCalibration, error) {
	if len(views) == 0 {
		return nil, errors.Wrap(ErrInsufficientData, "no views")
	}
	if len(model) < 4 {
		return nil, errors.Errorf("model needs at least 4 points, got %d", len(model))
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}
	for i, v := range views {
		if len(v) != len(model) {
			return nil, errors.Errorf("view %d has %d corners, model has %d", i, len(v), len(model))
		}
	}

	plane := boardPlane(model)
	homographies := make([]*mat.Dense, len(views))
	for i, v := range views {
		h, err := transform.EstimateHomography(plane, v)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		homographies[i] = h
	}

	cx, cy := float64(width)/2, float64(height)/2
	fx, fy := initFocalLengths(homographies, cx, cy, width, height)
	logger.Debugw("initial intrinsics", "fx", fx, "fy", fy, "cx", cx, "cy", cy)

	k := mat.NewDense(3, 3, []float64{fx, 0, cx, 0, fy, cy, 0, 0, 1})
	x0 := make([]float64, numIntrinsics, numIntrinsics+6*len(views))
	x0[0], x0[1], x0[2], x0[3] = fx, fy, cx, cy
	for i, h := range homographies {
		pose, err := poseFromHomography(k, h)
		if err != nil {
			return nil, errors.Wrapf(err, "view %d", i)
		}
		x0 = append(x0, pose.params()...)
	}

	n := len(model)
	problem := leastSquaresProblem{
		numResiduals: 2 * n * len(views),
		residuals: func(dst, x []float64) {
			intr := x[:numIntrinsics]
			for v, corners := range views {
				pose := boardPoseFromParams(x[numIntrinsics+6*v:])
				dst = reprojectionResiduals(dst, intr, spatialmath.RotationVectorToMatrix(pose.Rotation), pose.Translation, model, corners)
			}
		},
	}

	// settle focal lengths and poses before freeing the lens model
	problem.free = make([]bool, len(x0))
	for i := range problem.free {
		problem.free[i] = i < 4 || i >= numIntrinsics
	}
	pinhole, err := levenbergMarquardt(ctx, problem, x0, criteria, logger)
	if err != nil {
		return nil, err
	}
	problem.free = nil
	result, err := levenbergMarquardt(ctx, problem, pinhole.X, criteria, logger)
	if err != nil {
		return nil, err
	}

	x := result.X
	intrinsics := &transform.PinholeCameraIntrinsics{Width: width, Height: height, Fx: x[0], Fy: x[1], Ppx: x[2], Ppy: x[3]}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "calibration diverged")
	}
	dist, err := transform.NewBrownConradyFromCoefficients(x[4:numIntrinsics])
	if err != nil {
		return nil, errors.Wrap(err, "calibration diverged")
	}

	viewErrors := make([]float64, len(views))
	res := make([]float64, 2*n)
	for v, corners := range views {
		pose := boardPoseFromParams(x[numIntrinsics+6*v:])
		reprojectionResiduals(res, x[:numIntrinsics], spatialmath.RotationVectorToMatrix(pose.Rotation), pose.Translation, model, corners)
		sum := 0.
		for _, r := range res {
			sum += r * r
		}
		viewErrors[v] = utils.RMS(sum, n)
	}

	calib := &CameraCalibration{
		Intrinsics: intrinsics,
		Distortion: dist,
		RMSE:       utils.RMS(result.Cost, n*len(views)),
		Views:      len(views),
		ViewErrors: viewErrors,
	}
	worst, _ := stats.Max(viewErrors)
	median, _ := stats.Median(viewErrors)
	logger.Infow("camera calibrated",
		"views", calib.Views,
		"rmse", calib.RMSE,
		"view_rmse_median", median,
		"view_rmse_max", worst,
		"fx", intrinsics.Fx, "fy", intrinsics.Fy,
		"ppx", intrinsics.Ppx, "ppy", intrinsics.Ppy,
	)
	return calib, nil
}

// initFocalLengths estimates fx and fy from the orthogonality of the rotation columns encoded in
// each board homography, with the principal point held at (cx, cy). Views too close to
// fronto-parallel constrain nothing; when all of them are, a focal length of the larger image
// side is assumed.
func initFocalLengths(homographies []*mat.Dense, cx, cy float64, width, height int) (float64, float64) {
	shift := mat.NewDense(3, 3, []float64{1, 0, -cx, 0, 1, -cy, 0, 0, 1})
	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	for i, h := range homographies {
		var hs mat.Dense
		hs.Mul(shift, h)
		hs.Scale(1/mat.Norm(&hs, 2), &hs)
		h11, h12 := hs.At(0, 0), hs.At(0, 1)
		h21, h22 := hs.At(1, 0), hs.At(1, 1)
		h31, h32 := hs.At(2, 0), hs.At(2, 1)
		a.SetRow(2*i, []float64{h11 * h12, h21 * h22})
		b.SetVec(2*i, -h31*h32)
		a.SetRow(2*i+1, []float64{h11*h11 - h12*h12, h21*h21 - h22*h22})
		b.SetVec(2*i+1, -(h31*h31 - h32*h32))
	}

	fallback := math.Max(float64(width), float64(height))
	valid := func(f float64) bool {
		return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0.05*fallback && f < 50*fallback
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err == nil && sol.AtVec(0) > 0 && sol.AtVec(1) > 0 {
		fx, fy := 1/math.Sqrt(sol.AtVec(0)), 1/math.Sqrt(sol.AtVec(1))
		if valid(fx) && valid(fy) && fx/fy < 2 && fy/fx < 2 {
			return fx, fy
		}
	}

	// one focal length for both axes
	num, den := 0., 0.
	for i := 0; i < b.Len(); i++ {
		c := a.At(i, 0) + a.At(i, 1)
		num += c * b.AtVec(i)
		den += c * c
	}
	if den > 1e-12 && num > 0 {
		if f := 1 / math.Sqrt(num/den); valid(f) {
			return f, f
		}
	}
	return fallback, fallback
}
