package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EstimateHomography returns the 3x3 homography H with dst ~ H src, solved with the
// normalized direct linear transform. H is scaled so H[2][2] = 1.
func EstimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets must have the same length, got %d and %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("a homography needs at least 4 points, got %d", len(src))
	}
	srcN, tSrc := normalizePoints(src)
	dstN, tDst := normalizePoints(dst)

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h, err := nullVector(a)
	if err != nil {
		return nil, errors.Wrap(err, "cannot estimate homography")
	}
	hn := mat.NewDense(3, 3, h)

	// denormalize: H = T_dst^-1 Hn T_src
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(err, "degenerate destination points")
	}
	var out mat.Dense
	out.Product(&tDstInv, hn, tSrc)
	if math.Abs(out.At(2, 2)) < 1e-300 {
		return nil, errors.New("degenerate homography")
	}
	out.Scale(1/out.At(2, 2), &out)
	return &out, nil
}

// ApplyHomography maps p through the 3x3 homography h.
func ApplyHomography(h mat.Matrix, p r2.Point) r2.Point {
	w := h.At(2, 0)*p.X + h.At(2, 1)*p.Y + h.At(2, 2)
	return r2.Point{
		X: (h.At(0, 0)*p.X + h.At(0, 1)*p.Y + h.At(0, 2)) / w,
		Y: (h.At(1, 0)*p.X + h.At(1, 1)*p.Y + h.At(1, 2)) / w,
	}
}
