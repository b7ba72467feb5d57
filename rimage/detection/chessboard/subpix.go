package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage"
)

// CornerSubPix refines corner positions in place of their integer estimates. Within the
// window around a corner every image gradient is orthogonal to the vector from the corner to
// the gradient's pixel; each iteration solves that condition in the least squares sense, with
// Gaussian weights favouring pixels near the centre. A corner that drifts further than the
// window half size from its start keeps its starting position.
func CornerSubPix(img *mat.Dense, corners []r2.Point, cfg *SubPixConfiguration) []r2.Point {
	win := cfg.WindowSize
	side := 2*win + 1
	weights := make([]float64, side*side)
	for i := 0; i < side; i++ {
		y := float64(i-win) / float64(win)
		for j := 0; j < side; j++ {
			x := float64(j-win) / float64(win)
			weights[i*side+j] = math.Exp(-x*x - y*y)
		}
	}

	h, w := img.Dims()
	eps2 := cfg.Criteria.Epsilon * cfg.Criteria.Epsilon
	out := make([]r2.Point, len(corners))
	for n, start := range corners {
		current := start
		for iter := 0; iter < cfg.Criteria.MaxIterations; iter++ {
			var a, b, c, bb1, bb2 float64
			for i := 0; i < side; i++ {
				py := float64(i - win)
				for j := 0; j < side; j++ {
					px := float64(j - win)
					x, y := current.X+px, current.Y+py
					gx := rimage.BilinearAt(img, x+1, y) - rimage.BilinearAt(img, x-1, y)
					gy := rimage.BilinearAt(img, x, y+1) - rimage.BilinearAt(img, x, y-1)
					m := weights[i*side+j]
					gxx, gxy, gyy := gx*gx*m, gx*gy*m, gy*gy*m
					a += gxx
					b += gxy
					c += gyy
					bb1 += gxx*px + gxy*py
					bb2 += gxy*px + gyy*py
				}
			}
			det := a*c - b*b
			if math.Abs(det) <= 0x1p-52*0x1p-52 {
				break
			}
			next := r2.Point{
				X: current.X + (c*bb1-b*bb2)/det,
				Y: current.Y + (-b*bb1+a*bb2)/det,
			}
			shift := next.Sub(current)
			current = next
			if current.X < 0 || current.Y < 0 || current.X >= float64(w) || current.Y >= float64(h) {
				break
			}
			if shift.Dot(shift) <= eps2 {
				break
			}
		}
		if math.Abs(current.X-start.X) > float64(win) || math.Abs(current.Y-start.Y) > float64(win) {
			current = start
		}
		out[n] = current
	}
	return out
}
