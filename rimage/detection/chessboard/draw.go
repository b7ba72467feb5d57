package chessboard

import (
	"image"
	"image/color"
	"strconv"

	"github.com/golang/geo/r2"

	"go.viam.com/stereocal/rimage"
)

// DrawCorners saves a PNG of img with the corners connected in detection order, the first
// corner ringed in red, the rest marked in green and each labelled with its index.
func DrawCorners(img image.Image, corners []r2.Point, outFile string) error {
	dc := rimage.NewOverlayContext(img)
	rimage.DrawPolyline(dc, corners, color.RGBA{R: 0, G: 128, B: 255, A: 255}, 1)
	for i, pt := range corners {
		c := color.RGBA{R: 0, G: 255, B: 0, A: 255}
		if i == 0 {
			c = color.RGBA{R: 255, G: 0, B: 0, A: 255}
		}
		rimage.DrawMarker(dc, pt, c, 3)
		rimage.DrawString(dc, strconv.Itoa(i), pt.Add(r2.Point{X: 4, Y: -4}), c, 10)
	}
	return rimage.WriteImageToFile(outFile, dc.Image())
}
