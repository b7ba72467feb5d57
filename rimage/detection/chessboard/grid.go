package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// minBasisSine rejects basis pairs closer than 30 degrees to parallel.
const minBasisSine = 0.5

type latticeCoord struct {
	I, J int
}

type latticeNode struct {
	coord latticeCoord
	idx   int
	// local lattice steps along I and J, updated as the lattice grows
	u, v r2.Point
}

func cross(a, b r2.Point) float64 {
	return a.X*b.Y - a.Y*b.X
}

// reduceBasis applies Lagrange reduction so that u is the shortest lattice vector and v the
// shortest independent one.
func reduceBasis(u, v r2.Point) (r2.Point, r2.Point) {
	for iter := 0; iter < 32; iter++ {
		if u.Norm() > v.Norm() {
			u, v = v, u
		}
		m := math.Round(u.Dot(v) / u.Dot(u))
		if m == 0 {
			break
		}
		v = v.Sub(u.Mul(m))
	}
	return u, v
}

func nearest(points []r2.Point, target r2.Point) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, p := range points {
		if d := p.Sub(target).Norm(); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// initialBasis finds two independent lattice steps around the seed from its nearest neighbours.
func initialBasis(points []r2.Point, seed int) (r2.Point, r2.Point, bool) {
	others := make([]int, 0, len(points)-1)
	for i := range points {
		if i != seed {
			others = append(others, i)
		}
	}
	if len(others) < 2 {
		return r2.Point{}, r2.Point{}, false
	}
	origin := points[seed]
	sort.Slice(others, func(a, b int) bool {
		return points[others[a]].Sub(origin).Norm() < points[others[b]].Sub(origin).Norm()
	})

	u := points[others[0]].Sub(origin)
	for _, idx := range others[1:] {
		v := points[idx].Sub(origin)
		if math.Abs(cross(u, v)) > minBasisSine*u.Norm()*v.Norm() {
			u, v = reduceBasis(u, v)
			// adjacent lattice steps on a sanely viewed board have comparable lengths
			if v.Norm() > 2.5*u.Norm() {
				return r2.Point{}, r2.Point{}, false
			}
			return u, v, true
		}
	}
	return r2.Point{}, r2.Point{}, false
}

// growLattice labels candidates with integer lattice coordinates by breadth-first growth from
// the seed. Each step predicts the neighbour from the local step vectors and accepts the
// closest candidate if it lies within tolerance times the step length.
func growLattice(points []r2.Point, seed int, tolerance float64) map[latticeCoord]int {
	u, v, ok := initialBasis(points, seed)
	if !ok {
		return nil
	}

	labels := map[latticeCoord]int{{0, 0}: seed}
	used := map[int]bool{seed: true}
	queue := []latticeNode{{coord: latticeCoord{0, 0}, idx: seed, u: u, v: v}}
	directions := []latticeCoord{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		origin := points[node.idx]
		for _, d := range directions {
			target := latticeCoord{node.coord.I + d.I, node.coord.J + d.J}
			if _, done := labels[target]; done {
				continue
			}
			step := node.u.Mul(float64(d.I)).Add(node.v.Mul(float64(d.J)))
			idx, dist := nearest(points, origin.Add(step))
			if idx < 0 || used[idx] || dist > tolerance*step.Norm() {
				continue
			}
			labels[target] = idx
			used[idx] = true

			child := latticeNode{coord: target, idx: idx, u: node.u, v: node.v}
			actual := points[idx].Sub(origin)
			if d.I != 0 {
				child.u = actual.Mul(float64(d.I))
			} else {
				child.v = actual.Mul(float64(d.J))
			}
			queue = append(queue, child)
		}
	}
	return labels
}

// gridWindow is a fully labelled rectangle of the lattice. rowsAlongI tells whether the
// pattern's Rows run along the I axis.
type gridWindow struct {
	i0, j0     int
	rowsAlongI bool
}

// findWindow looks for the unique fully labelled Rows x Columns rectangle in the lattice.
func findWindow(labels map[latticeCoord]int, size PatternSize) (gridWindow, error) {
	imin, imax, jmin, jmax := math.MaxInt, math.MinInt, math.MaxInt, math.MinInt
	for c := range labels {
		imin, imax = min(imin, c.I), max(imax, c.I)
		jmin, jmax = min(jmin, c.J), max(jmax, c.J)
	}

	orientations := []bool{true}
	if size.Rows != size.Columns {
		orientations = append(orientations, false)
	}

	var found []gridWindow
	for _, rowsAlongI := range orientations {
		ni, nj := size.Rows, size.Columns
		if !rowsAlongI {
			ni, nj = nj, ni
		}
		for i0 := imin; i0+ni-1 <= imax; i0++ {
			for j0 := jmin; j0+nj-1 <= jmax; j0++ {
				if windowFull(labels, i0, j0, ni, nj) {
					found = append(found, gridWindow{i0, j0, rowsAlongI})
				}
			}
		}
	}
	switch len(found) {
	case 0:
		return gridWindow{}, errors.Errorf("lattice of %d corners spanning %dx%d has no complete %dx%d grid",
			len(labels), imax-imin+1, jmax-jmin+1, size.Rows, size.Columns)
	case 1:
		return found[0], nil
	default:
		return gridWindow{}, errors.Errorf("lattice of %d corners holds %d candidate %dx%d grids",
			len(labels), len(found), size.Rows, size.Columns)
	}
}

func windowFull(labels map[latticeCoord]int, i0, j0, ni, nj int) bool {
	for i := i0; i < i0+ni; i++ {
		for j := j0; j < j0+nj; j++ {
			if _, ok := labels[latticeCoord{i, j}]; !ok {
				return false
			}
		}
	}
	return true
}

// orderGrid lists the window's corners Rows to a line. The row axis points towards +x in the
// image and the column axis is chosen so the grid keeps the image's handedness, which puts the
// first corner top-left for an upright board. A row axis close to vertical, or for square
// patterns close to a diagonal, can be ordered differently by two cameras looking at the same
// pose; AmbiguousOrder reports those grids.
func orderGrid(points []r2.Point, labels map[latticeCoord]int, win gridWindow, size PatternSize) []r2.Point {
	rowsAlongI := win.rowsAlongI
	flipRow, flipCol := false, false
	at := func(a, b int) r2.Point {
		if flipRow {
			a = size.Rows - 1 - a
		}
		if flipCol {
			b = size.Columns - 1 - b
		}
		if rowsAlongI {
			return points[labels[latticeCoord{win.i0 + a, win.j0 + b}]]
		}
		return points[labels[latticeCoord{win.i0 + b, win.j0 + a}]]
	}
	rowDir := func() r2.Point {
		var d r2.Point
		for b := 0; b < size.Columns; b++ {
			d = d.Add(at(size.Rows-1, b).Sub(at(0, b)))
		}
		return d
	}
	colDir := func() r2.Point {
		var d r2.Point
		for a := 0; a < size.Rows; a++ {
			d = d.Add(at(a, size.Columns-1).Sub(at(a, 0)))
		}
		return d
	}

	// A square pattern has no preferred axis; take the more horizontal one as the row axis.
	if size.Rows == size.Columns && math.Abs(colDir().X) > math.Abs(rowDir().X) {
		rowsAlongI = !rowsAlongI
	}
	if rowDir().X < 0 {
		flipRow = true
	}
	if cross(rowDir(), colDir()) < 0 {
		flipCol = true
	}

	out := make([]r2.Point, 0, size.Count())
	for b := 0; b < size.Columns; b++ {
		for a := 0; a < size.Rows; a++ {
			out = append(out, at(a, b))
		}
	}
	return out
}

// orderToleranceSine is the sine of the smallest angle between the row axis and the image's
// vertical (or, for square patterns, between the two axes' slopes) for which the ordering is
// considered stable.
const orderToleranceSine = 0.17

// AmbiguousOrder reports whether corners, as returned by FindChessboardCorners, lie close to an
// orientation where the ordering rule flips. Such a board may be numbered differently in
// another view of the same pose.
func AmbiguousOrder(corners []r2.Point, size PatternSize) bool {
	if size.Rows < 2 || size.Columns < 2 || len(corners) != size.Count() {
		return true
	}
	var rowDir, colDir r2.Point
	for b := 0; b < size.Columns; b++ {
		rowDir = rowDir.Add(corners[b*size.Rows+size.Rows-1].Sub(corners[b*size.Rows]))
	}
	for a := 0; a < size.Rows; a++ {
		colDir = colDir.Add(corners[(size.Columns-1)*size.Rows+a].Sub(corners[a]))
	}
	rowNorm, colNorm := rowDir.Norm(), colDir.Norm()
	if rowNorm == 0 || colNorm == 0 {
		return true
	}
	if math.Abs(rowDir.X) < orderToleranceSine*rowNorm {
		return true
	}
	if size.Rows == size.Columns {
		return math.Abs(math.Abs(rowDir.X)/rowNorm-math.Abs(colDir.X)/colNorm) < orderToleranceSine
	}
	return false
}

// assembleGrid turns X-junction candidates into an ordered corner set, trying seeds closest to
// the candidates' centroid first.
func assembleGrid(points []r2.Point, size PatternSize, cfg *GridConfiguration) ([]r2.Point, error) {
	if len(points) < size.Count() {
		return nil, errors.Errorf("found %d x-junctions, need %d", len(points), size.Count())
	}
	var centroid r2.Point
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(points)))

	seeds := make([]int, len(points))
	for i := range seeds {
		seeds[i] = i
	}
	sort.SliceStable(seeds, func(a, b int) bool {
		return points[seeds[a]].Sub(centroid).Norm() < points[seeds[b]].Sub(centroid).Norm()
	})
	if len(seeds) > cfg.MaxSeeds {
		seeds = seeds[:cfg.MaxSeeds]
	}

	lastErr := errors.New("no lattice could be grown from the candidates")
	for _, seed := range seeds {
		labels := growLattice(points, seed, cfg.Tolerance)
		if len(labels) < size.Count() {
			if labels != nil {
				lastErr = errors.Errorf("lattice grew to %d corners, need %d", len(labels), size.Count())
			}
			continue
		}
		win, err := findWindow(labels, size)
		if err != nil {
			lastErr = err
			continue
		}
		return orderGrid(points, labels, win, size), nil
	}
	return nil, lastErr
}
