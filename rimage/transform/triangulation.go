package transform

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/spatialmath"
	"go.viam.com/stereocal/utils"
)

// degenerateRatio bounds |w| / |(x, y, z)| of the homogeneous solution from below. The ratio is
// the inverse distance of the point from camera 0, so rays meeting further away than 1e7 board
// units, including parallel rays, are reported as degenerate.
const degenerateRatio = 1e-7

// DegenerateTriangulationError is returned for a point pair whose linear system has no finite
// solution.
type DegenerateTriangulationError struct {
	Index int
}

func (e *DegenerateTriangulationError) Error() string {
	return fmt.Sprintf("degenerate triangulation for point %d: solution is at infinity", e.Index)
}

// MismatchedPointListsError is returned when the two cameras supply different numbers of points.
type MismatchedPointListsError struct {
	Len0 int
	Len1 int
}

func (e *MismatchedPointListsError) Error() string {
	return fmt.Sprintf("point lists differ in length: camera 0 has %d, camera 1 has %d", e.Len0, e.Len1)
}

// TriangulatedPoint is a 3D point relative to the first point of its batch. Err is set when the
// pair could not be triangulated, in which case Point is meaningless.
type TriangulatedPoint struct {
	Point r3.Vector
	Err   error
}

// TriangulatorOption configures a Triangulator.
type TriangulatorOption func(*Triangulator)

// WithUndistortion removes lens distortion from both cameras' pixels before solving. A nil
// distorter leaves that camera's pixels untouched.
func WithUndistortion(dist0, dist1 Distorter) TriangulatorOption {
	return func(tr *Triangulator) {
		tr.dist0 = dist0
		tr.dist1 = dist1
	}
}

// Triangulator reconstructs 3D points from matching pixels of a calibrated camera pair with
// the direct linear transform. Camera 0 sits at the origin; camera 1 is reached with
// X1 = R X0 + T. A Triangulator is immutable and safe for concurrent use.
type Triangulator struct {
	k0, k1       *mat.Dense
	proj0, proj1 *mat.Dense
	dist0, dist1 Distorter
}

// NewTriangulator builds the projection matrices P0 = K0 [I | 0] and P1 = K1 [R | T].
func NewTriangulator(k0, k1, rotation, translation *mat.Dense, opts ...TriangulatorOption) (*Triangulator, error) {
	t, err := VectorFromColumn(translation)
	if err != nil {
		return nil, err
	}
	proj0, err := ProjectionMatrix(k0, spatialmath.Identity(), r3.Vector{})
	if err != nil {
		return nil, errors.Wrap(err, "camera 0")
	}
	proj1, err := ProjectionMatrix(k1, rotation, t)
	if err != nil {
		return nil, errors.Wrap(err, "camera 1")
	}
	tr := &Triangulator{
		k0:    mat.DenseCopyOf(k0),
		k1:    mat.DenseCopyOf(k1),
		proj0: proj0,
		proj1: proj1,
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr, nil
}

// ProjectionMatrices returns copies of P0 and P1.
func (tr *Triangulator) ProjectionMatrices() (*mat.Dense, *mat.Dense) {
	return mat.DenseCopyOf(tr.proj0), mat.DenseCopyOf(tr.proj1)
}

// TriangulatePoint returns the 3D point, in camera 0's frame, seen at pixel p0 by camera 0 and
// at p1 by camera 1. A degenerate pair, whose rays are parallel or meet further away than
// degenerateRatio allows, yields a *DegenerateTriangulationError with Index 0.
func (tr *Triangulator) TriangulatePoint(p0, p1 r2.Point) (r3.Vector, error) {
	pt, ok := tr.solve(p0, p1)
	if !ok {
		return r3.Vector{}, &DegenerateTriangulationError{}
	}
	return pt, nil
}

// Triangulate solves every pair in parallel and returns the points relative to the first one,
// in input order. Degenerate pairs carry their error in the result; a degenerate first pair
// fails the batch since it defines the origin.
func (tr *Triangulator) Triangulate(ctx context.Context, points0, points1 []r2.Point) ([]TriangulatedPoint, error) {
	if len(points0) != len(points1) {
		return nil, &MismatchedPointListsError{Len0: len(points0), Len1: len(points1)}
	}
	if len(points0) == 0 {
		return []TriangulatedPoint{}, nil
	}

	raw := make([]r3.Vector, len(points0))
	valid := make([]bool, len(points0))
	err := utils.GroupWorkParallel(
		ctx,
		len(points0),
		func(numGroups int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				raw[workNum], valid[workNum] = tr.solve(points0[workNum], points1[workNum])
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !valid[0] {
		return nil, errors.Wrap(&DegenerateTriangulationError{Index: 0}, "first point defines the origin")
	}

	shifted := ShiftToOrigin(raw)
	out := make([]TriangulatedPoint, len(raw))
	for i := range raw {
		if !valid[i] {
			out[i].Err = &DegenerateTriangulationError{Index: i}
			continue
		}
		out[i].Point = shifted[i]
	}
	return out, nil
}

// solve builds A = [y0 P0₃ - P0₂; P0₁ - x0 P0₃; y1 P1₃ - P1₂; P1₁ - x1 P1₃] and takes the
// right singular vector of AᵀA with the smallest singular value.
func (tr *Triangulator) solve(p0, p1 r2.Point) (r3.Vector, bool) {
	p0 = tr.undistort(p0, tr.k0, tr.dist0)
	p1 = tr.undistort(p1, tr.k1, tr.dist1)

	a := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		a.Set(0, j, p0.Y*tr.proj0.At(2, j)-tr.proj0.At(1, j))
		a.Set(1, j, tr.proj0.At(0, j)-p0.X*tr.proj0.At(2, j))
		a.Set(2, j, p1.Y*tr.proj1.At(2, j)-tr.proj1.At(1, j))
		a.Set(3, j, tr.proj1.At(0, j)-p1.X*tr.proj1.At(2, j))
	}
	var b mat.Dense
	b.Mul(a.T(), a)

	v, err := nullVector(&b)
	if err != nil {
		return r3.Vector{}, false
	}
	w := v[3]
	if math.Abs(w) <= degenerateRatio*math.Sqrt(v[0]*v[0]+v[1]*v[1]+v[2]*v[2]) {
		return r3.Vector{}, false
	}
	pt := r3.Vector{X: v[0] / w, Y: v[1] / w, Z: v[2] / w}
	if math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsNaN(pt.Z) {
		return r3.Vector{}, false
	}
	return pt, true
}

func (tr *Triangulator) undistort(p r2.Point, k *mat.Dense, d Distorter) r2.Point {
	if d == nil {
		return p
	}
	n := r2.Point{X: (p.X - k.At(0, 2)) / k.At(0, 0), Y: (p.Y - k.At(1, 2)) / k.At(1, 1)}
	x, y := InvertDistortion(d, n.X, n.Y)
	return r2.Point{X: x*k.At(0, 0) + k.At(0, 2), Y: y*k.At(1, 1) + k.At(1, 2)}
}

// ShiftToOrigin re-expresses the points relative to the first one.
func ShiftToOrigin(points []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(points))
	if len(points) == 0 {
		return out
	}
	origin := points[0]
	for i, p := range points {
		out[i] = p.Sub(origin)
	}
	return out
}
