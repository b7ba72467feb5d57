package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRotationVectorRoundTrip(t *testing.T) {
	for _, v := range []r3.Vector{
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: 0, Y: 0, Z: math.Pi / 2},
		{X: 1.2, Y: 0.4, Z: -0.9},
		{X: 0, Y: 0, Z: 0},
		{X: 1e-14, Y: 0, Z: 0},
	} {
		m := RotationVectorToMatrix(v)
		test.That(t, mat.Det(m), test.ShouldAlmostEqual, 1, 1e-12)
		back := MatrixToRotationVector(m)
		test.That(t, back.X, test.ShouldAlmostEqual, v.X, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, v.Y, 1e-9)
		test.That(t, back.Z, test.ShouldAlmostEqual, v.Z, 1e-9)
	}
}

func TestRotationVectorToMatrixZ(t *testing.T) {
	m := RotationVectorToMatrix(r3.Vector{Z: math.Pi / 2})
	p := Rotate(m, r3.Vector{X: 1})
	test.That(t, p.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, p.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, p.Z, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestR4AA(t *testing.T) {
	r4 := R3ToR4(r3.Vector{X: 0, Y: 2, Z: 0})
	test.That(t, r4.Theta, test.ShouldAlmostEqual, 2.)
	test.That(t, r4.RY, test.ShouldAlmostEqual, 1.)
	test.That(t, r4.ToR3().Y, test.ShouldAlmostEqual, 2.)

	q := r4.ToQuat()
	back := QuatToR4AA(q)
	test.That(t, back.Theta, test.ShouldAlmostEqual, 2., 1e-12)
	test.That(t, back.RY, test.ShouldAlmostEqual, 1., 1e-12)

	test.That(t, *R3ToR4(r3.Vector{}), test.ShouldResemble, *NewR4AA())

	zero := &R4AA{Theta: 1}
	zero.Normalize()
	test.That(t, *zero, test.ShouldResemble, *NewR4AA())
}

func TestNearestRotation(t *testing.T) {
	r := RotationVectorToMatrix(r3.Vector{X: 0.3, Y: -0.1, Z: 0.7})
	noisy := mat.DenseCopyOf(r)
	noisy.Set(0, 1, noisy.At(0, 1)+0.01)
	noisy.Scale(3, noisy)

	fixed := NearestRotation(noisy)
	test.That(t, mat.Det(fixed), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, RotationAngle(r, fixed), test.ShouldBeLessThan, 0.01)

	// A reflection is turned into a proper rotation.
	reflect := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
	test.That(t, mat.Det(NearestRotation(reflect)), test.ShouldAlmostEqual, 1, 1e-12)
}

func TestSkew(t *testing.T) {
	a := r3.Vector{X: 1, Y: 2, Z: 3}
	b := r3.Vector{X: -4, Y: 0.5, Z: 2}
	got := Rotate(Skew(a), b)
	want := a.Cross(b)
	test.That(t, got.X, test.ShouldAlmostEqual, want.X)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y)
	test.That(t, got.Z, test.ShouldAlmostEqual, want.Z)
}
