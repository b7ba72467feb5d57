package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/spatialmath"
)

// EssentialFromRT returns E = [t]x R for a second camera reached with X1 = R X0 + t, so that
// x1ᵀ E x0 = 0 for normalized points.
func EssentialFromRT(r mat.Matrix, t r3.Vector) *mat.Dense {
	var e mat.Dense
	e.Mul(spatialmath.Skew(t), r)
	return &e
}

// FundamentalFromEssential returns F = K1⁻ᵀ E K0⁻¹, scaled so F[2][2] = 1 when that entry is
// not zero. Pixels then satisfy p1ᵀ F p0 = 0.
func FundamentalFromEssential(k0, k1, e mat.Matrix) (*mat.Dense, error) {
	var k0Inv, k1Inv mat.Dense
	if err := k0Inv.Inverse(k0); err != nil {
		return nil, errors.Wrap(err, "camera matrix 0 is singular")
	}
	if err := k1Inv.Inverse(k1); err != nil {
		return nil, errors.Wrap(err, "camera matrix 1 is singular")
	}
	var f mat.Dense
	f.Product(k1Inv.T(), e, &k0Inv)
	if s := f.At(2, 2); math.Abs(s) > 1e-12 {
		f.Scale(1/s, &f)
	}
	return &f, nil
}

// EpipolarDistance returns the distance in pixels from p1 to the epipolar line F p0.
func EpipolarDistance(f mat.Matrix, p0, p1 r2.Point) float64 {
	a := f.At(0, 0)*p0.X + f.At(0, 1)*p0.Y + f.At(0, 2)
	b := f.At(1, 0)*p0.X + f.At(1, 1)*p0.Y + f.At(1, 2)
	c := f.At(2, 0)*p0.X + f.At(2, 1)*p0.Y + f.At(2, 2)
	n := math.Hypot(a, b)
	if n == 0 {
		return math.Inf(1)
	}
	return math.Abs(a*p1.X+b*p1.Y+c) / n
}
