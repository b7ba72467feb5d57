package chessboard

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/utils"
)

// saddleCandidate is a local maximum of the saddle score map.
type saddleCandidate struct {
	Point r2.Point
	Score float64
}

// computeSaddleScore returns, for each pixel, max(0, gxy² - gxx·gyy): the negated determinant
// of the Hessian, clipped so that only saddle shaped neighbourhoods are positive.
func computeSaddleScore(img *mat.Dense) (*mat.Dense, error) {
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX, err := rimage.ConvolveGrayFloat64(img, &sobelX, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	gY, err := rimage.ConvolveGrayFloat64(img, &sobelY, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	gXX, err := rimage.ConvolveGrayFloat64(gX, &sobelX, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	gYY, err := rimage.ConvolveGrayFloat64(gY, &sobelY, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	gXY, err := rimage.ConvolveGrayFloat64(gX, &sobelY, rimage.BorderReplicate)
	if err != nil {
		return nil, err
	}
	nRows, nCols := img.Dims()
	out := mat.NewDense(nRows, nCols, nil)
	out.Apply(func(i, j int, _ float64) float64 {
		gxy := gXY.At(i, j)
		return math.Max(0, gxy*gxy-gXX.At(i, j)*gYY.At(i, j))
	}, out)
	return out, nil
}

// NonMaxSuppression keeps the pixels that are the maximum of their (2*winSize+1)² neighbourhood
// and zeroes everything else. On plateaus only the first pixel in raster order survives.
func NonMaxSuppression(img *mat.Dense, winSize int) *mat.Dense {
	h, w := img.Dims()
	imgSup := mat.NewDense(h, w, nil)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			v := img.At(i, j)
			if v <= 0 || !isLocalMax(img, i, j, winSize) {
				continue
			}
			imgSup.Set(i, j, v)
		}
	}
	return imgSup
}

func isLocalMax(img *mat.Dense, i, j, winSize int) bool {
	h, w := img.Dims()
	v := img.At(i, j)
	for y := max(0, i-winSize); y < min(h, i+winSize+1); y++ {
		for x := max(0, j-winSize); x < min(w, j+winSize+1); x++ {
			other := img.At(y, x)
			if other > v {
				return false
			}
			// ties go to the earlier pixel
			if other == v && (y < i || (y == i && x < j)) {
				return false
			}
		}
	}
	return true
}

// refinePeak fits a parabola through the score and its horizontal and vertical neighbours.
func refinePeak(score *mat.Dense, i, j int) r2.Point {
	h, w := score.Dims()
	pt := r2.Point{X: float64(j), Y: float64(i)}
	if j > 0 && j < w-1 {
		l, c, r := score.At(i, j-1), score.At(i, j), score.At(i, j+1)
		if d := l - 2*c + r; d < 0 {
			pt.X += utils.Clamp(0.5*(l-r)/d, -0.5, 0.5)
		}
	}
	if i > 0 && i < h-1 {
		u, c, b := score.At(i-1, j), score.At(i, j), score.At(i+1, j)
		if d := u - 2*c + b; d < 0 {
			pt.Y += utils.Clamp(0.5*(u-b)/d, -0.5, 0.5)
		}
	}
	return pt
}

// GetSaddleMapPoints computes the saddle score map of a (blurred) luminance image and returns
// it with the strongest saddle candidates, strongest first.
func GetSaddleMapPoints(img *mat.Dense, conf *SaddleConfiguration) (*mat.Dense, []saddleCandidate, error) {
	saddleMap, err := computeSaddleScore(img)
	if err != nil {
		return nil, nil, err
	}
	peak := mat.Max(saddleMap)
	if peak <= 0 {
		return saddleMap, nil, nil
	}
	thresh := peak * conf.RelativeThreshold
	nms := NonMaxSuppression(saddleMap, conf.NMSWindowSize)

	h, w := nms.Dims()
	var candidates []saddleCandidate
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			if s := nms.At(i, j); s >= thresh {
				candidates = append(candidates, saddleCandidate{Point: refinePeak(saddleMap, i, j), Score: s})
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].Score > candidates[b].Score })
	if len(candidates) > conf.MaxCandidates {
		candidates = candidates[:conf.MaxCandidates]
	}
	return saddleMap, candidates, nil
}
