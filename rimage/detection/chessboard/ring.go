package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage"
)

const minArcSamples = 2

// isXJunction samples the image on a circle around p and reports whether the circle crosses
// exactly four light/dark boundaries in a centrally symmetric pattern, as around an inner
// chessboard corner. Edges and outer board corners cross two.
func isXJunction(img *mat.Dense, p r2.Point, cfg *RingConfiguration) bool {
	h, w := img.Dims()
	margin := cfg.Radius + 1
	if p.X < margin || p.Y < margin || p.X > float64(w-1)-margin || p.Y > float64(h-1)-margin {
		return false
	}

	n := cfg.Samples
	vals := make([]float64, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for k := range vals {
		angle := 2 * math.Pi * float64(k) / float64(n)
		v := rimage.BilinearAt(img, p.X+cfg.Radius*math.Cos(angle), p.Y+cfg.Radius*math.Sin(angle))
		vals[k] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < cfg.MinContrast {
		return false
	}

	mid := (lo + hi) / 2
	light := make([]bool, n)
	for k, v := range vals {
		light[k] = v > mid
	}

	var transitions []int
	for k := 0; k < n; k++ {
		if light[k] != light[(k+1)%n] {
			transitions = append(transitions, k)
		}
	}
	if len(transitions) != 4 {
		return false
	}
	for t := range transitions {
		arc := transitions[(t+1)%4] - transitions[t]
		if arc < 0 {
			arc += n
		}
		if arc < minArcSamples {
			return false
		}
	}

	half := n / 2
	matching := 0
	for k := 0; k < half; k++ {
		if light[k] == light[k+half] {
			matching++
		}
	}
	return float64(matching)/float64(half) >= cfg.MinSymmetry
}

func filterXJunctions(img *mat.Dense, candidates []saddleCandidate, cfg *RingConfiguration) []r2.Point {
	out := make([]r2.Point, 0, len(candidates))
	for _, c := range candidates {
		if isXJunction(img, c.Point, cfg) {
			out = append(out, c.Point)
		}
	}
	return out
}
