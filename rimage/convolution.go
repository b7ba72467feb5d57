package rimage

import (
	"image"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/utils"
)

// Kernel is a convolution kernel. Content is indexed [row][col].
type Kernel struct {
	Content [][]float64
	Height  int
	Width   int
}

// Size returns the kernel size as (width, height).
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel value at column x, row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// CheckValid returns an error if the kernel content does not match its size.
func (k *Kernel) CheckValid() error {
	if k.Height <= 0 || k.Width <= 0 || len(k.Content) != k.Height {
		return errors.Errorf("invalid kernel size %dx%d", k.Width, k.Height)
	}
	for _, row := range k.Content {
		if len(row) != k.Width {
			return errors.Errorf("kernel row has %d values, want %d", len(row), k.Width)
		}
	}
	return nil
}

// GetSobelX returns the Kernel corresponding to the Sobel kernel in the x direction.
func GetSobelX() Kernel {
	return Kernel{[][]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}, 3, 3}
}

// GetSobelY returns the Kernel corresponding to the Sobel kernel in the y direction.
func GetSobelY() Kernel {
	return Kernel{[][]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}, 3, 3}
}

// GetBlur3 returns a normalized 3x3 box blur kernel.
func GetBlur3() Kernel {
	const n = 1. / 9
	return Kernel{[][]float64{
		{n, n, n},
		{n, n, n},
		{n, n, n},
	}, 3, 3}
}

// BorderPad selects how pixels outside the image are read during a convolution.
type BorderPad int

const (
	// BorderConstant reads zeros outside the image.
	BorderConstant BorderPad = iota
	// BorderReplicate repeats the nearest edge pixel.
	BorderReplicate
	// BorderReflect mirrors the image around its edge, excluding the edge pixel.
	BorderReflect
)

// borderIndex maps an out of range index into [0, n) according to the border mode, or -1 for
// a constant border.
func borderIndex(i, n int, border BorderPad) int {
	if i >= 0 && i < n {
		return i
	}
	switch border {
	case BorderReplicate:
		return utils.ClampInt(i, 0, n-1)
	case BorderReflect:
		if n == 1 {
			return 0
		}
		period := 2 * (n - 1)
		i %= period
		if i < 0 {
			i += period
		}
		if i >= n {
			i = period - i
		}
		return i
	default:
		return -1
	}
}

// ConvolveGrayFloat64 correlates a float image with the kernel, anchored at the kernel centre.
// There is no clamping in this case.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel, border BorderPad) (*mat.Dense, error) {
	if err := filter.CheckValid(); err != nil {
		return nil, err
	}
	h, w := m.Dims()
	result := mat.NewDense(h, w, nil)
	kernelSize := filter.Size()
	anchor := image.Point{kernelSize.X / 2, kernelSize.Y / 2}

	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		sum := 0.
		for ky := 0; ky < kernelSize.Y; ky++ {
			py := borderIndex(y+ky-anchor.Y, h, border)
			if py < 0 {
				continue
			}
			for kx := 0; kx < kernelSize.X; kx++ {
				px := borderIndex(x+kx-anchor.X, w, border)
				if px < 0 {
					continue
				}
				sum += m.At(py, px) * filter.At(kx, ky)
			}
		}
		result.Set(y, x, sum)
	})
	return result, nil
}
