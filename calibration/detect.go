package calibration

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage/detection/chessboard"
	"go.viam.com/stereocal/utils"
)

// detection is the outcome of looking for the chessboard in one image.
type detection struct {
	Corners []r2.Point
	Size    image.Point
	Found   bool
}

// detectAll runs the detector on every image concurrently. Results keep the order of images; a
// failed detection is logged and reported with Found unset.
func detectAll(
	ctx context.Context,
	images []*image.Gray,
	pattern chessboard.PatternSize,
	cfg chessboard.DetectionConfiguration,
	logger logging.Logger,
) ([]detection, error) {
	out := make([]detection, len(images))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(utils.ParallelFactor)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if img == nil {
				logger.Debugw("skipping image", "index", i, "reason", "no image")
				return nil
			}
			out[i].Size = img.Bounds().Size()
			corners, err := chessboard.FindChessboardCorners(img, pattern, cfg)
			if err != nil {
				if errors.Is(err, chessboard.ErrChessboardNotFound) {
					logger.Debugw("skipping image", "index", i, "reason", err)
					return nil
				}
				return errors.Wrapf(err, "image %d", i)
			}
			out[i].Corners = corners
			out[i].Found = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
