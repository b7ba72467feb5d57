// Package rimage holds the grayscale image plumbing used by the detectors: decoding, float
// conversion, convolution, blurring and sub-pixel sampling.
package rimage

import (
	"image"
	"image/color"
	// Register the stdlib decoders.
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	// Register the extra decoders from x/image.
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gonum.org/v1/gonum/mat"
)

// ReadImageFromFile decodes a PNG, JPEG, GIF, BMP, TIFF or WebP file.
func ReadImageFromFile(path string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %q", path)
	}
	return img, nil
}

// ReadGrayFromFile decodes an image file and converts it to grayscale.
func ReadGrayFromFile(path string) (*image.Gray, error) {
	img, err := ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	return MakeGray(img), nil
}

// WriteImageToFile encodes img as a PNG at path, creating parent directories.
func WriteImageToFile(path string, img image.Image) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return png.Encode(f, img)
}

// MakeGray converts any image to an *image.Gray whose bounds start at the origin. Gray
// images already at the origin are returned as is.
func MakeGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Bounds().Min == (image.Point{}) {
		return gray
	}
	b := img.Bounds()
	result := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(result, result.Bounds(), img, b.Min, xdraw.Src)
	return result
}

// SameImgSize compares two images to see if they're the same size.
func SameImgSize(g1, g2 image.Image) bool {
	return g1.Bounds().Size() == g2.Bounds().Size()
}

// GrayToDense converts a grayscale image to a float matrix indexed (row=y, col=x).
func GrayToDense(img *image.Gray) *mat.Dense {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x, v := range row {
			data[y*w+x] = float64(v)
		}
	}
	return mat.NewDense(h, w, data)
}

// DenseToGray converts a float matrix back into a grayscale image, clamping to [0, 255].
func DenseToGray(m mat.Matrix) *image.Gray {
	h, w := m.Dims()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := m.At(y, x)
			switch {
			case v < 0:
				v = 0
			case v > 255:
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v + 0.5)})
		}
	}
	return img
}
