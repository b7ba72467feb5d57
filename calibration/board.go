// Package calibration estimates the intrinsic parameters of a single camera and the relative
// pose of a camera pair from chessboard images.
package calibration

import (
	"github.com/golang/geo/r3"

	"go.viam.com/stereocal/rimage/detection/chessboard"
)

// ChessboardModel returns the inner corners of a flat chessboard in board coordinates, in the
// order the detector reports them: point k is (k % Rows, k / Rows, 0) times squareSize.
func ChessboardModel(size chessboard.PatternSize, squareSize float64) []r3.Vector {
	out := make([]r3.Vector, size.Count())
	for k := range out {
		out[k] = r3.Vector{
			X: float64(k%size.Rows) * squareSize,
			Y: float64(k/size.Rows) * squareSize,
		}
	}
	return out
}
