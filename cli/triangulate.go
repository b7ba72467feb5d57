package cli

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/calibration"
	"go.viam.com/stereocal/capture"
	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/transform"
)

// TriangulateAction reconstructs the picked pixel pairs with a saved calibration and prints or
// writes them relative to the first pair.
func TriangulateAction(c *cli.Context) error {
	logger, err := loggerFromContext(c)
	if err != nil {
		return err
	}
	undistort := c.Bool(flagUndistort)
	if c.IsSet(flagConfig) {
		cfg, err := readConfig(c)
		if err != nil {
			return err
		}
		undistort = undistort || cfg.Triangulation.UndistortPoints
	}

	rf, err := calibration.ReadResultsFile(c.Path(flagResults))
	if err != nil {
		return err
	}
	sc, err := rf.StereoCalibration()
	if err != nil {
		return errors.Wrapf(err, "invalid results file %q", c.Path(flagResults))
	}
	tr, err := sc.Triangulator(undistort)
	if err != nil {
		return err
	}

	points0, err := capture.NewFilePicker(c.Path(flagPoints0)).Pick(c.Context)
	if err != nil {
		return err
	}
	points1, err := capture.NewFilePicker(c.Path(flagPoints1)).Pick(c.Context)
	if err != nil {
		return err
	}
	logger.Debugw("triangulating", "points", len(points0), "undistort", undistort)

	for _, img := range []struct {
		flag   string
		points []r2.Point
	}{{flagImage0, points0}, {flagImage1, points1}} {
		if path := c.Path(img.flag); path != "" {
			if err := annotate(path, img.points); err != nil {
				return err
			}
		}
	}

	results, err := tr.Triangulate(c.Context, points0, points1)
	if err != nil {
		return err
	}

	var pointErrs error
	for _, p := range results {
		pointErrs = multierr.Append(pointErrs, p.Err)
	}
	if errs := multierr.Errors(pointErrs); len(errs) > 0 {
		warningf(c.App.ErrWriter, "%d of %d points could not be triangulated: %v", len(errs), len(results), pointErrs)
	}

	if out := c.Path(flagOut); out != "" {
		if err := writePointsFile(out, results); err != nil {
			return errors.Wrapf(err, "cannot write points to %q", out)
		}
		printf(c.App.Writer, "%s", pointsTable(results))
	} else if err := writePoints(c.App.Writer, results); err != nil {
		return err
	}

	if dir := c.Path(flagPlotDir); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		solved := lo.FilterMap(results, func(p transform.TriangulatedPoint, _ int) (r3.Vector, bool) {
			return p.Point, p.Err == nil
		})
		for _, view := range []capture.PlotView{capture.FrontView, capture.TopView, capture.SideView} {
			path := filepath.Join(dir, "points_"+string(view)+".png")
			if err := capture.PlotPoints(solved, view, path); err != nil {
				return errors.Wrapf(err, "cannot plot points to %q", path)
			}
		}
	}
	return nil
}

func annotate(imagePath string, points []r2.Point) error {
	img, err := rimage.ReadImageFromFile(imagePath)
	if err != nil {
		return err
	}
	ext := filepath.Ext(imagePath)
	out := imagePath[:len(imagePath)-len(ext)] + "_points.png"
	return capture.AnnotatePoints(img, points, out)
}

// writePoints writes an "x,y,z,status" header and one row per point. Degenerate points have
// empty coordinates and the status "degenerate".
func writePoints(w io.Writer, points []transform.TriangulatedPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"x", "y", "z", "status"}); err != nil {
		return err
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, p := range points {
		row := []string{"", "", "", "degenerate"}
		if p.Err == nil {
			row = []string{format(p.Point.X), format(p.Point.Y), format(p.Point.Z), "ok"}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writePointsFile(path string, points []transform.TriangulatedPoint) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return writePoints(f, points)
}
