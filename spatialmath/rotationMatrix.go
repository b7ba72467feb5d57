package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// QuatToRotationMatrix returns the 3x3 rotation matrix of a quaternion. The quaternion is
// normalized first.
func QuatToRotationMatrix(q quat.Number) *mat.Dense {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// RotationMatrixToQuat converts a rotation matrix to a unit quaternion with a non-negative
// real part, picking the numerically largest pivot.
func RotationMatrixToQuat(m mat.Matrix) quat.Number {
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 2 * math.Sqrt(trace+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// RotationVectorToMatrix converts a rotation vector (Rodrigues form) to a 3x3 rotation matrix.
func RotationVectorToMatrix(aa r3.Vector) *mat.Dense {
	return QuatToRotationMatrix(RotationVectorToQuat(aa))
}

// MatrixToRotationVector converts a 3x3 rotation matrix to a rotation vector (Rodrigues form).
func MatrixToRotationVector(m mat.Matrix) r3.Vector {
	return QuatToRotationVector(RotationMatrixToQuat(m))
}

// NearestRotation returns the rotation matrix closest to m in the Frobenius norm, U·Vᵀ of its
// singular value decomposition with the sign fixed so the determinant is +1.
func NearestRotation(m mat.Matrix) *mat.Dense {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return Identity()
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var ud mat.Dense
		ud.Mul(&u, d)
		r.Mul(&ud, v.T())
	}
	return &r
}

// Identity returns a new 3x3 identity matrix.
func Identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// Skew returns the cross product matrix [v]x, so that Skew(v)·w = v × w.
func Skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// Rotate applies the 3x3 rotation r to the point p.
func Rotate(r mat.Matrix, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.At(0, 0)*p.X + r.At(0, 1)*p.Y + r.At(0, 2)*p.Z,
		Y: r.At(1, 0)*p.X + r.At(1, 1)*p.Y + r.At(1, 2)*p.Z,
		Z: r.At(2, 0)*p.X + r.At(2, 1)*p.Y + r.At(2, 2)*p.Z,
	}
}

// RotationAngle returns the angle in radians of the rotation taking a to b.
func RotationAngle(a, b mat.Matrix) float64 {
	var rel mat.Dense
	rel.Mul(a.T(), b)
	return MatrixToRotationVector(&rel).Norm()
}
