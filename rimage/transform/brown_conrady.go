package transform

import (
	"math"

	"github.com/pkg/errors"
)

// BrownConrady is the radial (k1, k2, k3) and tangential (p1, p2) lens distortion model. It
// maps ideal normalized coordinates to the distorted ones a lens produces:
//
//	x_d = x (1 + k1 r² + k2 r⁴ + k3 r⁶) + 2 p1 x y + p2 (r² + 2 x²)
//	y_d = y (1 + k1 r² + k2 r⁴ + k3 r⁶) + 2 p2 x y + p1 (r² + 2 y²)
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes parameters in the order (k1, k2, k3, p1, p2). Missing trailing values
// are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	bc := &BrownConrady{padded[0], padded[1], padded[2], padded[3], padded[4]}
	return bc, bc.CheckValid()
}

// NewBrownConradyFromCoefficients takes the conventional coefficient vector
// (k1, k2, p1, p2, k3) used by calibration results. Missing trailing values are zero.
func NewBrownConradyFromCoefficients(coeffs []float64) (*BrownConrady, error) {
	if len(coeffs) > 5 {
		return nil, errors.Errorf("expected at most 5 distortion coefficients, got %d", len(coeffs))
	}
	padded := make([]float64, 5)
	copy(padded, coeffs)
	bc := &BrownConrady{
		RadialK1:     padded[0],
		RadialK2:     padded[1],
		TangentialP1: padded[2],
		TangentialP2: padded[3],
		RadialK3:     padded[4],
	}
	return bc, bc.CheckValid()
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	for _, p := range bc.Parameters() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return InvalidDistortionError("BrownConrady parameters must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the distortion parameters in the order (k1, k2, k3, p1, p2).
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Coefficients returns the conventional coefficient vector (k1, k2, p1, p2, k3).
func (bc *BrownConrady) Coefficients() []float64 {
	if bc == nil {
		return make([]float64, 5)
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Transform distorts the normalized point (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radial := 1 + r2*(bc.RadialK1+r2*(bc.RadialK2+r2*bc.RadialK3))
	xd := x*radial + 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	yd := y*radial + 2*bc.TangentialP2*x*y + bc.TangentialP1*(r2+2*y*y)
	return xd, yd
}

// Inverse returns the model that undoes this distortion.
func (bc *BrownConrady) Inverse() *InverseBrownConrady {
	if bc == nil {
		return nil
	}
	return &InverseBrownConrady{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}
