package transform

import (
	"math"

	"github.com/pkg/errors"
)

// DistortionType is the name of the distortion model.
type DistortionType string

const (
	// BrownConradyDistortionType is for simple lenses of narrow field easily modeled as a pinhole camera.
	BrownConradyDistortionType = DistortionType("brown_conrady")
	// InverseBrownConradyDistortionType maps distorted points back through a Brown-Conrady model.
	InverseBrownConradyDistortionType = DistortionType("inverse_brown_conrady")
)

// Distorter defines a Transform on normalized image coordinates (the z = 1 plane).
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Transform(x, y float64) (float64, float64)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType and its parameters.
func NewDistorter(distortionType DistortionType, parameters []float64) (Distorter, error) {
	switch distortionType {
	case BrownConradyDistortionType:
		return NewBrownConrady(parameters)
	case InverseBrownConradyDistortionType:
		return NewInverseBrownConrady(parameters)
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}

// InvertDistortion finds the undistorted point that d maps onto (xd, yd). Brown-Conrady
// models use their closed form inverse pair; other models fall back to Newton-Raphson with a
// numeric Jacobian.
func InvertDistortion(d Distorter, xd, yd float64) (float64, float64) {
	switch dist := d.(type) {
	case *BrownConrady:
		return dist.Inverse().Transform(xd, yd)
	case *InverseBrownConrady:
		return dist.Forward().Transform(xd, yd)
	}

	const (
		maxIterations = 20
		tolerance     = 1e-10
		h             = 1e-7
	)
	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		fx, fy := d.Transform(xu, yu)
		errX, errY := fx-xd, fy-yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}
		x1, y1 := d.Transform(xu+h, yu)
		x0, y0 := d.Transform(xu-h, yu)
		j00, j10 := (x1-x0)/(2*h), (y1-y0)/(2*h)
		x1, y1 = d.Transform(xu, yu+h)
		x0, y0 = d.Transform(xu, yu-h)
		j01, j11 := (x1-x0)/(2*h), (y1-y0)/(2*h)
		det := j00*j11 - j01*j10
		if math.Abs(det) < 1e-300 {
			break
		}
		xu -= (j11*errX - j01*errY) / det
		yu -= (-j10*errX + j00*errY) / det
	}
	return xu, yu
}
