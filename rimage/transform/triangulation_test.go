package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/spatialmath"
	"go.viam.com/stereocal/testutils"
)

type stereoRig struct {
	k           *mat.Dense
	rotation    *mat.Dense
	translation r3.Vector
}

func newStereoRig() stereoRig {
	return stereoRig{
		k:           testutils.DefaultCamera.Matrix(),
		rotation:    spatialmath.RotationVectorToMatrix(r3.Vector{X: 0.02, Y: -0.1, Z: 0.01}),
		translation: r3.Vector{X: -0.12, Y: 0.005, Z: 0.01},
	}
}

func (rig stereoRig) project(x r3.Vector) (r2.Point, r2.Point) {
	cam := testutils.DefaultCamera
	return cam.Project(x), cam.Project(spatialmath.Rotate(rig.rotation, x).Add(rig.translation))
}

func (rig stereoRig) triangulator(t *testing.T, opts ...TriangulatorOption) *Triangulator {
	t.Helper()
	tr, err := NewTriangulator(rig.k, rig.k, rig.rotation,
		mat.NewDense(3, 1, []float64{rig.translation.X, rig.translation.Y, rig.translation.Z}), opts...)
	test.That(t, err, test.ShouldBeNil)
	return tr
}

var scenePoints = []r3.Vector{
	{X: 0.1, Y: 0.05, Z: 1.5},
	{X: -0.2, Y: 0.1, Z: 2},
	{X: 0.3, Y: -0.15, Z: 1.2},
	{X: 0, Y: 0, Z: 3},
	{X: -0.05, Y: -0.2, Z: 0.9},
}

func TestTriangulatePoint(t *testing.T) {
	rig := newStereoRig()
	tr := rig.triangulator(t)
	for _, x := range scenePoints {
		p0, p1 := rig.project(x)
		got, err := tr.TriangulatePoint(p0, p1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Sub(x).Norm(), test.ShouldBeLessThan, 1e-6)
	}
}

func TestTriangulateBatch(t *testing.T) {
	rig := newStereoRig()
	tr := rig.triangulator(t)
	var points0, points1 []r2.Point
	for _, x := range scenePoints {
		p0, p1 := rig.project(x)
		points0 = append(points0, p0)
		points1 = append(points1, p1)
	}

	got, err := tr.Triangulate(context.Background(), points0, points1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, len(scenePoints))
	test.That(t, got[0].Point, test.ShouldResemble, r3.Vector{})
	for i, p := range got {
		test.That(t, p.Err, test.ShouldBeNil)
		want := scenePoints[i].Sub(scenePoints[0])
		test.That(t, p.Point.Sub(want).Norm(), test.ShouldBeLessThan, 1e-6)
	}
	// pairwise distances survive the shift
	for i := range got {
		for j := range got {
			d := got[i].Point.Sub(got[j].Point).Norm()
			test.That(t, d, test.ShouldAlmostEqual, scenePoints[i].Sub(scenePoints[j]).Norm(), 1e-6)
		}
	}

	again, err := tr.Triangulate(context.Background(), points0, points1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldResemble, got)
}

func TestTriangulateErrors(t *testing.T) {
	rig := newStereoRig()

	t.Run("mismatched lengths", func(t *testing.T) {
		tr := rig.triangulator(t)
		_, err := tr.Triangulate(context.Background(), make([]r2.Point, 3), make([]r2.Point, 2))
		var mismatch *MismatchedPointListsError
		test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)
		test.That(t, mismatch.Len0, test.ShouldEqual, 3)
		test.That(t, mismatch.Len1, test.ShouldEqual, 2)
	})

	t.Run("empty", func(t *testing.T) {
		tr := rig.triangulator(t)
		got, err := tr.Triangulate(context.Background(), nil, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldHaveLength, 0)
	})

	// a pure sideways baseline makes the rays through the principal points parallel
	parallel, err := NewTriangulator(rig.k, rig.k, spatialmath.Identity(), mat.NewDense(3, 1, []float64{-0.1, 0, 0}))
	test.That(t, err, test.ShouldBeNil)
	center := r2.Point{X: testutils.DefaultCamera.Cx, Y: testutils.DefaultCamera.Cy}

	t.Run("degenerate point", func(t *testing.T) {
		_, err := parallel.TriangulatePoint(center, center)
		var degenerate *DegenerateTriangulationError
		test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)

		good := r3.Vector{X: 0.1, Y: 0.1, Z: 2}
		p0 := testutils.DefaultCamera.Project(good)
		p1 := testutils.DefaultCamera.Project(good.Add(r3.Vector{X: -0.1}))
		got, err := parallel.Triangulate(context.Background(), []r2.Point{p0, center, p0}, []r2.Point{p1, center, p1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got[0].Err, test.ShouldBeNil)
		test.That(t, got[2].Err, test.ShouldBeNil)
		test.That(t, got[2].Point.Norm(), test.ShouldBeLessThan, 1e-9)
		test.That(t, errors.As(got[1].Err, &degenerate), test.ShouldBeTrue)
		test.That(t, degenerate.Index, test.ShouldEqual, 1)
	})

	t.Run("nearly parallel rays", func(t *testing.T) {
		// a disparity of 1e-7 px puts the point 6e8 units away
		_, err := parallel.TriangulatePoint(center, center.Sub(r2.Point{X: 1e-7}))
		var degenerate *DegenerateTriangulationError
		test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)

		// one pixel of disparity is 60 units away and still solvable
		got, err := parallel.TriangulatePoint(center, center.Sub(r2.Point{X: 1}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Z, test.ShouldAlmostEqual, 60, 1e-6)
	})

	t.Run("degenerate origin", func(t *testing.T) {
		_, err := parallel.Triangulate(context.Background(), []r2.Point{center}, []r2.Point{center})
		var degenerate *DegenerateTriangulationError
		test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)
		test.That(t, degenerate.Index, test.ShouldEqual, 0)
	})

	t.Run("bad shapes", func(t *testing.T) {
		_, err := NewTriangulator(rig.k, rig.k, rig.rotation, mat.NewDense(2, 1, nil))
		test.That(t, err, test.ShouldNotBeNil)
		_, err = NewTriangulator(mat.NewDense(2, 2, nil), rig.k, rig.rotation, mat.NewDense(3, 1, nil))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestTriangulateCancelled(t *testing.T) {
	rig := newStereoRig()
	tr := rig.triangulator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Triangulate(ctx, make([]r2.Point, 4), make([]r2.Point, 4))
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestTriangulateWithUndistortion(t *testing.T) {
	rig := newStereoRig()
	dist, err := NewBrownConradyFromCoefficients([]float64{-0.2, 0.05, 0.001, -0.0005, 0})
	test.That(t, err, test.ShouldBeNil)
	intrinsics, err := NewPinholeCameraIntrinsicsFromMatrix(rig.k, 640, 480)
	test.That(t, err, test.ShouldBeNil)
	model := &PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: dist}

	tr := rig.triangulator(t, WithUndistortion(dist, dist))
	for _, x := range scenePoints {
		p0 := model.Project(x)
		p1 := model.Project(spatialmath.Rotate(rig.rotation, x).Add(rig.translation))
		got, err := tr.TriangulatePoint(p0, p1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Sub(x).Norm(), test.ShouldBeLessThan, 1e-6)
	}
}

func TestShiftToOrigin(t *testing.T) {
	test.That(t, ShiftToOrigin(nil), test.ShouldHaveLength, 0)
	got := ShiftToOrigin([]r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 2, Y: 2, Z: 5}})
	test.That(t, got[0], test.ShouldResemble, r3.Vector{})
	test.That(t, got[1], test.ShouldResemble, r3.Vector{X: 1, Y: 0, Z: 2})
}
