package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ProjectionMatrix returns the 3x4 matrix K [R | t].
func ProjectionMatrix(k, r mat.Matrix, t r3.Vector) (*mat.Dense, error) {
	if rows, cols := k.Dims(); rows != 3 || cols != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", rows, cols)
	}
	if rows, cols := r.Dims(); rows != 3 || cols != 3 {
		return nil, errors.Errorf("rotation must be 3x3, got %dx%d", rows, cols)
	}
	var rt mat.Dense
	rt.Augment(r, mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z}))
	var p mat.Dense
	p.Mul(k, &rt)
	return &p, nil
}

// VectorFromColumn reads a 3x1 (or 1x3) matrix into a vector.
func VectorFromColumn(m mat.Matrix) (r3.Vector, error) {
	rows, cols := m.Dims()
	switch {
	case rows == 3 && cols == 1:
		return r3.Vector{X: m.At(0, 0), Y: m.At(1, 0), Z: m.At(2, 0)}, nil
	case rows == 1 && cols == 3:
		return r3.Vector{X: m.At(0, 0), Y: m.At(0, 1), Z: m.At(0, 2)}, nil
	default:
		return r3.Vector{}, errors.Errorf("translation must be 3x1, got %dx%d", rows, cols)
	}
}
