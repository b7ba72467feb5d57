package transform

import "github.com/pkg/errors"

// InverseBrownConrady undoes a Brown-Conrady distortion: given distorted normalized points it
// finds the ideal ones with Newton-Raphson iterations on the forward model.
type InverseBrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// CheckValid checks if the fields for InverseBrownConrady have valid inputs.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return ibc.Forward().CheckValid()
}

// NewInverseBrownConrady takes parameters in the order (k1, k2, k3, p1, p2).
func NewInverseBrownConrady(inp []float64) (*InverseBrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	ibc := &InverseBrownConrady{padded[0], padded[1], padded[2], padded[3], padded[4]}
	return ibc, ibc.CheckValid()
}

// ModelType returns the type of distortion model.
func (ibc *InverseBrownConrady) ModelType() DistortionType {
	return InverseBrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (ibc *InverseBrownConrady) Parameters() []float64 {
	if ibc == nil {
		return []float64{}
	}
	return []float64{ibc.RadialK1, ibc.RadialK2, ibc.RadialK3, ibc.TangentialP1, ibc.TangentialP2}
}

// Forward returns the distortion this model undoes.
func (ibc *InverseBrownConrady) Forward() *BrownConrady {
	if ibc == nil {
		return nil
	}
	return &BrownConrady{ibc.RadialK1, ibc.RadialK2, ibc.RadialK3, ibc.TangentialP1, ibc.TangentialP2}
}

// Transform converts the distorted point (xd, yd) to the undistorted one.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil {
		return xd, yd
	}

	const (
		maxIterations = 20
		tolerance     = 1e-10
	)
	k1, k2, k3 := ibc.RadialK1, ibc.RadialK2, ibc.RadialK3
	p1, p2 := ibc.TangentialP1, ibc.TangentialP2

	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		radial := 1 + r2*(k1+r2*(k2+r2*k3))
		errX := xu*radial + 2*p1*xu*yu + p2*(r2+2*xu*xu) - xd
		errY := yu*radial + 2*p2*xu*yu + p1*(r2+2*yu*yu) - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		// d(radial)/dr² so that d(radial)/dx = 2x * dRadial
		dRadial := k1 + 2*k2*r2 + 3*k3*r2*r2
		j00 := radial + 2*xu*xu*dRadial + 2*p1*yu + 6*p2*xu
		j01 := 2*xu*yu*dRadial + 2*p1*xu + 2*p2*yu
		j10 := 2*xu*yu*dRadial + 2*p2*yu + 2*p1*xu
		j11 := radial + 2*yu*yu*dRadial + 2*p2*xu + 6*p1*yu

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		xu -= (j11*errX - j01*errY) / det
		yu -= (-j10*errX + j00*errY) / det
	}
	return xu, yu
}
