package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/utils"
)

// GaussianBlur blurs a grayscale image with a Gaussian of the given standard deviation.
// A non-positive sigma returns the input.
func GaussianBlur(img *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return img
	}
	return MakeGray(imaging.Blur(img, sigma))
}

// BilinearAt samples m at the sub-pixel position (x, y), x being the column. Positions
// outside the matrix read the nearest edge value.
func BilinearAt(m mat.Matrix, x, y float64) float64 {
	h, w := m.Dims()
	x = utils.Clamp(x, 0, float64(w-1))
	y = utils.Clamp(y, 0, float64(h-1))

	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)

	top := m.At(y0, x0)*(1-fx) + m.At(y0, x1)*fx
	bottom := m.At(y1, x0)*(1-fx) + m.At(y1, x1)*fx
	return top*(1-fy) + bottom*fy
}
