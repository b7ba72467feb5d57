package testutils

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/spatialmath"
	"go.viam.com/stereocal/utils"
)

const (
	darkLevel  = 30
	lightLevel = 220
)

// Board is a printed chessboard with Rows x Columns inner corners.
type Board struct {
	Rows       int
	Columns    int
	SquareSize float64
}

// Corners returns the inner corners on the board plane in detection order: corner k sits at
// (k % Rows, k / Rows) squares.
func (b Board) Corners() []r3.Vector {
	out := make([]r3.Vector, 0, b.Rows*b.Columns)
	for k := 0; k < b.Rows*b.Columns; k++ {
		out = append(out, r3.Vector{X: float64(k%b.Rows) * b.SquareSize, Y: float64(k/b.Rows) * b.SquareSize})
	}
	return out
}

// Center returns the middle of the inner corner grid on the board plane.
func (b Board) Center() r3.Vector {
	return r3.Vector{X: float64(b.Rows-1) * b.SquareSize / 2, Y: float64(b.Columns-1) * b.SquareSize / 2}
}

// dark reports whether the board point (x, y) lies on a dark square. The squares bordering the
// inner corners extend one square past them in every direction.
func (b Board) dark(x, y float64) bool {
	s := b.SquareSize
	if x < -s || y < -s || x >= float64(b.Rows)*s || y >= float64(b.Columns)*s {
		return false
	}
	ix := int(math.Floor(x / s))
	iy := int(math.Floor(y / s))
	return ((ix+iy)%2+2)%2 == 0
}

// Camera is an ideal pinhole camera.
type Camera struct {
	Width  int
	Height int
	Fx     float64
	Fy     float64
	Cx     float64
	Cy     float64
}

// DefaultCamera is a 640x480 camera with a 600 px focal length and centred principal point.
var DefaultCamera = Camera{Width: 640, Height: 480, Fx: 600, Fy: 600, Cx: 320, Cy: 240}

// Matrix returns the 3x3 camera matrix.
func (c Camera) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{c.Fx, 0, c.Cx, 0, c.Fy, c.Cy, 0, 0, 1})
}

// Project maps a point in camera coordinates to pixels.
func (c Camera) Project(p r3.Vector) r2.Point {
	return r2.Point{X: c.Fx*p.X/p.Z + c.Cx, Y: c.Fy*p.Y/p.Z + c.Cy}
}

// Pose places the board in a camera frame: X_cam = R(Rotation) X_board + Translation.
type Pose struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// Apply maps a board point into the camera frame.
func (p Pose) Apply(x r3.Vector) r3.Vector {
	return spatialmath.Rotate(spatialmath.RotationVectorToMatrix(p.Rotation), x).Add(p.Translation)
}

// Relative returns the pose of the same board seen from a second camera whose frame is reached
// with X_1 = r X_0 + t.
func (p Pose) Relative(r *mat.Dense, t r3.Vector) Pose {
	var rot mat.Dense
	rot.Mul(r, spatialmath.RotationVectorToMatrix(p.Rotation))
	return Pose{
		Rotation:    spatialmath.MatrixToRotationVector(&rot),
		Translation: spatialmath.Rotate(r, p.Translation).Add(t),
	}
}

// LookingAt returns a pose that puts the board centre at `distance` along the optical axis,
// tilted by the rotation vector `tilt` about the board centre.
func LookingAt(board Board, tilt r3.Vector, distance float64, shift r2.Point) Pose {
	rot := spatialmath.RotationVectorToMatrix(tilt)
	center := spatialmath.Rotate(rot, board.Center())
	return Pose{
		Rotation:    tilt,
		Translation: r3.Vector{X: shift.X, Y: shift.Y, Z: distance}.Sub(center),
	}
}

// BoardHomography returns K [r1 r2 t], mapping board plane points to pixels.
func (c Camera) BoardHomography(pose Pose) *mat.Dense {
	rot := spatialmath.RotationVectorToMatrix(pose.Rotation)
	rt := mat.NewDense(3, 3, []float64{
		rot.At(0, 0), rot.At(0, 1), pose.Translation.X,
		rot.At(1, 0), rot.At(1, 1), pose.Translation.Y,
		rot.At(2, 0), rot.At(2, 1), pose.Translation.Z,
	})
	var h mat.Dense
	h.Mul(c.Matrix(), rt)
	return &h
}

// ProjectCorners returns the exact pixel positions of the board's inner corners in
// detection order.
func (c Camera) ProjectCorners(board Board, pose Pose) []r2.Point {
	out := make([]r2.Point, 0, board.Rows*board.Columns)
	for _, p := range board.Corners() {
		out = append(out, c.Project(pose.Apply(p)))
	}
	return out
}

// Render draws the board as seen by the camera.
func (c Camera) Render(board Board, pose Pose) *image.Gray {
	return RenderChessboard(board, c.BoardHomography(pose), c.Width, c.Height)
}

// AffineHomography returns the board to pixel map (x, y) -> (a x + b y + tx, c x + d y + ty).
func AffineHomography(a, b, c, d, tx, ty float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{a, b, tx, c, d, ty, 0, 0, 1})
}

// ProjectHomography maps the board's inner corners through h, in detection order.
func ProjectHomography(board Board, h mat.Matrix) []r2.Point {
	out := make([]r2.Point, 0, board.Rows*board.Columns)
	for _, p := range board.Corners() {
		w := h.At(2, 0)*p.X + h.At(2, 1)*p.Y + h.At(2, 2)
		out = append(out, r2.Point{
			X: (h.At(0, 0)*p.X + h.At(0, 1)*p.Y + h.At(0, 2)) / w,
			Y: (h.At(1, 0)*p.X + h.At(1, 1)*p.Y + h.At(1, 2)) / w,
		})
	}
	return out
}

// RenderChessboard draws the board through the board to pixel homography h on a light
// background. Each pixel averages a 4x4 grid of samples so edges carry sub-pixel information.
func RenderChessboard(board Board, h mat.Matrix, width, height int) *image.Gray {
	const samples = 4
	var inv mat.Dense
	if err := inv.Inverse(h); err != nil {
		panic(err)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	utils.ParallelForEachPixel(image.Point{width, height}, func(x, y int) {
		sum := 0.
		for sy := 0; sy < samples; sy++ {
			v := float64(y) + (float64(sy)+0.5)/samples - 0.5
			for sx := 0; sx < samples; sx++ {
				u := float64(x) + (float64(sx)+0.5)/samples - 0.5
				w := inv.At(2, 0)*u + inv.At(2, 1)*v + inv.At(2, 2)
				level := float64(lightLevel)
				if w > 0 {
					bx := (inv.At(0, 0)*u + inv.At(0, 1)*v + inv.At(0, 2)) / w
					by := (inv.At(1, 0)*u + inv.At(1, 1)*v + inv.At(1, 2)) / w
					if board.dark(bx, by) {
						level = darkLevel
					}
				}
				sum += level
			}
		}
		img.SetGray(x, y, color.Gray{Y: uint8(sum/(samples*samples) + 0.5)})
	})
	return img
}
