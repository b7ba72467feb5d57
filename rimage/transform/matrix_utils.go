package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// nullVector returns the right singular vector of m with the smallest singular value, the
// least squares solution of m x = 0 with |x| = 1.
func nullVector(m mat.Matrix) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	var v mat.Dense
	svd.VTo(&v)
	_, c := v.Dims()
	return mat.Col(nil, c-1, &v), nil
}

// normalizePoints moves the centroid to the origin and scales the mean distance to sqrt(2), as
// described in Multiple View Geometry, Alg 4.2. It returns the moved points and the 3x3
// similarity that was applied.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	n := float64(len(pts))
	var mu r2.Point
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1 / n)

	d := 0.
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / n
	}
	scale := 1.
	if d > 0 {
		scale = math.Sqrt2 / d
	}
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = pt.Sub(mu).Mul(scale)
	}
	return out, t
}
