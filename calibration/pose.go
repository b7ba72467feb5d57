package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/spatialmath"
)

// numIntrinsics is the length of an intrinsics vector: fx, fy, cx, cy, k1, k2, p1, p2, k3.
const numIntrinsics = 9

// boardPose places the board in a camera frame: X_cam = R(Rotation) X_board + Translation.
type boardPose struct {
	Rotation    r3.Vector // rotation vector
	Translation r3.Vector
}

func (p boardPose) params() []float64 {
	return []float64{p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Translation.X, p.Translation.Y, p.Translation.Z}
}

func boardPoseFromParams(x []float64) boardPose {
	return boardPose{
		Rotation:    r3.Vector{X: x[0], Y: x[1], Z: x[2]},
		Translation: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}

// intrinsicsVector packs a camera calibration into fx, fy, cx, cy, k1, k2, p1, p2, k3.
func intrinsicsVector(cam *CameraCalibration) []float64 {
	out := []float64{cam.Intrinsics.Fx, cam.Intrinsics.Fy, cam.Intrinsics.Ppx, cam.Intrinsics.Ppy}
	return append(out, cam.Distortion.Coefficients()...)
}

// projectPoint maps the camera frame point c through the intrinsics vector to a pixel.
func projectPoint(intr []float64, c r3.Vector) r2.Point {
	bc := transform.BrownConrady{
		RadialK1:     intr[4],
		RadialK2:     intr[5],
		TangentialP1: intr[6],
		TangentialP2: intr[7],
		RadialK3:     intr[8],
	}
	xd, yd := bc.Transform(c.X/c.Z, c.Y/c.Z)
	return r2.Point{X: intr[0]*xd + intr[2], Y: intr[1]*yd + intr[3]}
}

// reprojectionResiduals writes the (x, y) differences between the projected model and the
// observed corners into dst, which must hold 2*len(model) values. It returns dst[2*len(model):].
func reprojectionResiduals(dst, intr []float64, rot mat.Matrix, t r3.Vector, model []r3.Vector, observed []r2.Point) []float64 {
	for i, x := range model {
		p := projectPoint(intr, spatialmath.Rotate(rot, x).Add(t))
		dst[2*i] = p.X - observed[i].X
		dst[2*i+1] = p.Y - observed[i].Y
	}
	return dst[2*len(model):]
}

// boardPlane returns the (X, Y) coordinates of planar model points.
func boardPlane(model []r3.Vector) []r2.Point {
	out := make([]r2.Point, len(model))
	for i, p := range model {
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out
}

// poseFromHomography decomposes H = K [r1 r2 t] into a board pose. The rotation is projected
// onto the nearest proper rotation and the board is placed in front of the camera.
func poseFromHomography(k, h mat.Matrix) (boardPose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return boardPose{}, errors.Wrap(err, "camera matrix is singular")
	}
	var m mat.Dense
	m.Mul(&kInv, h)
	m1 := r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}
	m2 := r3.Vector{X: m.At(0, 1), Y: m.At(1, 1), Z: m.At(2, 1)}
	m3 := r3.Vector{X: m.At(0, 2), Y: m.At(1, 2), Z: m.At(2, 2)}
	norm := (m1.Norm() + m2.Norm()) / 2
	if norm < 1e-300 {
		return boardPose{}, errors.New("degenerate homography")
	}
	lambda := 1 / norm
	if m3.Z < 0 {
		lambda = -lambda
	}
	r1, r2v, t := m1.Mul(lambda), m2.Mul(lambda), m3.Mul(lambda)
	r3v := r1.Cross(r2v)
	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2v.X, r3v.X,
		r1.Y, r2v.Y, r3v.Y,
		r1.Z, r2v.Z, r3v.Z,
	})
	return boardPose{
		Rotation:    spatialmath.MatrixToRotationVector(spatialmath.NearestRotation(rot)),
		Translation: t,
	}, nil
}

// estimateBoardPose finds the board pose for a camera with known intrinsics: the corners are
// undistorted, a plane homography gives the initial pose and a quasi-Newton search polishes it
// against the pixel reprojection error.
func estimateBoardPose(intr []float64, model []r3.Vector, corners []r2.Point) (boardPose, error) {
	dist := &transform.BrownConrady{
		RadialK1:     intr[4],
		RadialK2:     intr[5],
		TangentialP1: intr[6],
		TangentialP2: intr[7],
		RadialK3:     intr[8],
	}
	normalized := make([]r2.Point, len(corners))
	for i, c := range corners {
		x, y := transform.InvertDistortion(dist, (c.X-intr[2])/intr[0], (c.Y-intr[3])/intr[1])
		normalized[i] = r2.Point{X: x, Y: y}
	}
	h, err := transform.EstimateHomography(boardPlane(model), normalized)
	if err != nil {
		return boardPose{}, err
	}
	initial, err := poseFromHomography(spatialmath.Identity(), h)
	if err != nil {
		return boardPose{}, err
	}
	return refineBoardPose(intr, model, corners, initial), nil
}

// refineBoardPose minimizes the squared reprojection error over the six pose parameters. The
// initial pose is kept when the search does not improve on it.
func refineBoardPose(intr []float64, model []r3.Vector, corners []r2.Point, initial boardPose) boardPose {
	cost := func(x []float64) float64 {
		pose := boardPoseFromParams(x)
		res := make([]float64, 2*len(model))
		reprojectionResiduals(res, intr, spatialmath.RotationVectorToMatrix(pose.Rotation), pose.Translation, model, corners)
		sum := 0.
		for _, v := range res {
			sum += v * v
		}
		if math.IsNaN(sum) {
			return math.Inf(1)
		}
		return sum
	}
	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central})
		},
	}
	x0 := initial.params()
	result, err := optimize.Minimize(problem, x0, &optimize.Settings{
		GradientThreshold: 1e-9,
		MajorIterations:   200,
	}, &optimize.LBFGS{})
	// a line search failure at the minimum still leaves a usable result
	if err != nil && result == nil {
		return initial
	}
	if result.F >= cost(x0) {
		return initial
	}
	return boardPoseFromParams(result.X)
}

// relativeTransform returns (R, T) with X1 = R X0 + T for the same board seen by two cameras.
func relativeTransform(pose0, pose1 boardPose) (*mat.Dense, r3.Vector) {
	r0 := spatialmath.RotationVectorToMatrix(pose0.Rotation)
	r1 := spatialmath.RotationVectorToMatrix(pose1.Rotation)
	var rel mat.Dense
	rel.Mul(r1, r0.T())
	return &rel, pose1.Translation.Sub(spatialmath.Rotate(&rel, pose0.Translation))
}
