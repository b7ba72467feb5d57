// Package transform holds the camera model (pinhole intrinsics plus lens distortion), plane
// homographies, two view geometry and linear triangulation.
package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// NewPinholeCameraIntrinsicsFromMatrix reads fx, fy, ppx and ppy from a 3x3 camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix, width, height int) (*PinholeCameraIntrinsics, error) {
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("camera matrix must be 3x3, got %dx%d", r, c)
	}
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     k.At(0, 0),
		Fy:     k.At(1, 1),
		Ppx:    k.At(0, 2),
		Ppy:    k.At(1, 2),
	}
	return params, params.CheckValid()
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// CameraMatrix creates a new 3x3 camera matrix from the intrinsic parameters.
func (params *PinholeCameraIntrinsics) CameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Ppx,
		0, params.Fy, params.Ppy,
		0, 0, 1,
	})
}

// PixelToNormalized maps a pixel to the z = 1 plane of the camera frame.
func (params *PinholeCameraIntrinsics) PixelToNormalized(p r2.Point) r2.Point {
	return r2.Point{X: (p.X - params.Ppx) / params.Fx, Y: (p.Y - params.Ppy) / params.Fy}
}

// NormalizedToPixel maps a point on the z = 1 plane of the camera frame to pixels.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(p r2.Point) r2.Point {
	return r2.Point{X: p.X*params.Fx + params.Ppx, Y: p.Y*params.Fy + params.Ppy}
}

// PointToPixel projects a 3D point in the camera frame to a pixel, ignoring distortion.
func (params *PinholeCameraIntrinsics) PointToPixel(p r3.Vector) r2.Point {
	return params.NormalizedToPixel(r2.Point{X: p.X / p.Z, Y: p.Y / p.Z})
}

// PinholeCameraModel is the model of a pinhole camera with lens distortion.
type PinholeCameraModel struct {
	*PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion               Distorter `json:"distortion"`
}

// Project maps a 3D point in the camera frame to the distorted pixel the camera records.
func (params *PinholeCameraModel) Project(p r3.Vector) r2.Point {
	x, y := p.X/p.Z, p.Y/p.Z
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return params.NormalizedToPixel(r2.Point{X: x, Y: y})
}

// UndistortPixel returns the pixel an ideal pinhole camera with the same intrinsics would
// have recorded.
func (params *PinholeCameraModel) UndistortPixel(p r2.Point) r2.Point {
	if params.Distortion == nil {
		return p
	}
	n := params.PixelToNormalized(p)
	x, y := InvertDistortion(params.Distortion, n.X, n.Y)
	return params.NormalizedToPixel(r2.Point{X: x, Y: y})
}
