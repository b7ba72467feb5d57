// Package spatialmath converts between the rotation representations used by the calibrators:
// rotation vectors (axis scaled by angle), unit quaternions and 3x3 rotation matrices.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Below this angle a rotation vector is treated with its small angle expansion.
const smallAngle = 1e-12

// R4AA is an axis angle with a unit axis (RX, RY, RZ) and an angle Theta in radians.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA returns the identity rotation.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// ToR3 converts an R4 axis angle to a rotation vector.
func (r4 *R4AA) ToR3() r3.Vector {
	return r3.Vector{X: r4.RX * r4.Theta, Y: r4.RY * r4.Theta, Z: r4.RZ * r4.Theta}
}

// ToQuat converts an R4 axis angle to a unit quaternion.
func (r4 *R4AA) ToQuat() quat.Number {
	sinA := math.Sin(r4.Theta / 2)
	r4.Normalize()
	return quat.Number{
		Real: math.Cos(r4.Theta / 2),
		Imag: r4.RX * sinA,
		Jmag: r4.RY * sinA,
		Kmag: r4.RZ * sinA,
	}
}

// Normalize scales the axis onto the unit sphere. A zero axis becomes +Z with a zero angle.
func (r4 *R4AA) Normalize() {
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if norm == 0 {
		*r4 = *NewR4AA()
		return
	}
	r4.RX /= norm
	r4.RY /= norm
	r4.RZ /= norm
}

// R3ToR4 converts a rotation vector to an R4 axis angle.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta < smallAngle {
		return NewR4AA()
	}
	return &R4AA{theta, aa.X / theta, aa.Y / theta, aa.Z / theta}
}

// RotationVectorToQuat converts a rotation vector to a unit quaternion. Unlike going through
// R3ToR4 it stays smooth around the identity, which keeps numeric derivatives well behaved.
func RotationVectorToQuat(aa r3.Vector) quat.Number {
	theta := aa.Norm()
	if theta < smallAngle {
		return quat.Number{Real: 1, Imag: aa.X / 2, Jmag: aa.Y / 2, Kmag: aa.Z / 2}
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: aa.X * s, Jmag: aa.Y * s, Kmag: aa.Z * s}
}

// QuatToRotationVector converts a quaternion to a rotation vector with angle in [0, pi].
func QuatToRotationVector(q quat.Number) r3.Vector {
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	denom := v.Norm()
	if denom < smallAngle {
		return v.Mul(2)
	}
	angle := 2 * math.Atan2(denom, q.Real)
	return v.Mul(angle / denom)
}

// QuatToR4AA converts a quaternion to an R4 axis angle.
func QuatToR4AA(q quat.Number) R4AA {
	r4 := R3ToR4(QuatToRotationVector(q))
	return *r4
}

// Normalize returns q scaled to unit length. The zero quaternion maps to the identity.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/norm, q)
}
