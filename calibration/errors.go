package calibration

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
)

// ErrInsufficientData is returned when no image (or image pair) yields a usable chessboard.
var ErrInsufficientData = errors.New("insufficient calibration data")

// ErrMismatchedImageLists is returned when the two cameras supply different numbers of images.
var ErrMismatchedImageLists = errors.New("camera image lists differ in length")

// DimensionMismatchError is returned when an image does not have the size the calibration
// expects.
type DimensionMismatchError struct {
	Index int
	Want  image.Point
	Got   image.Point
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("image %d is %dx%d, expected %dx%d", e.Index, e.Got.X, e.Got.Y, e.Want.X, e.Want.Y)
}
