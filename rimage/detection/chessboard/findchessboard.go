// Package chessboard finds the inner corners of a chessboard calibration pattern in a
// grayscale image.
package chessboard

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/stereocal/rimage"
)

// ErrChessboardNotFound is returned, wrapped with the reason, when an image does not show the
// full pattern.
var ErrChessboardNotFound = errors.New("chessboard not found")

// FindChessboardCorners locates the size.Rows x size.Columns inner corners of a chessboard.
// Corners come back in raster order, Rows to a line, each refined to sub-pixel accuracy.
// Corner k corresponds to the board point (k % Rows, k / Rows). When the full pattern is not
// visible the error wraps ErrChessboardNotFound.
func FindChessboardCorners(img *image.Gray, size PatternSize, cfg DetectionConfiguration) ([]r2.Point, error) {
	if err := size.CheckValid(); err != nil {
		return nil, err
	}
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Wrap(ErrChessboardNotFound, "empty image")
	}
	img = rimage.MakeGray(img)

	raw := rimage.GrayToDense(img)
	blurred := rimage.GrayToDense(rimage.GaussianBlur(img, cfg.Saddle.BlurSigma))

	_, candidates, err := GetSaddleMapPoints(blurred, &cfg.Saddle)
	if err != nil {
		return nil, err
	}
	junctions := filterXJunctions(blurred, candidates, &cfg.Ring)
	corners, err := assembleGrid(junctions, size, &cfg.Grid)
	if err != nil {
		return nil, errors.Wrap(ErrChessboardNotFound, err.Error())
	}
	return CornerSubPix(raw, corners, &cfg.SubPix), nil
}
