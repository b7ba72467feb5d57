package cli

import (
	"context"
	"image"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/stereocal/calibration"
	"go.viam.com/stereocal/capture"
	"go.viam.com/stereocal/config"
	"go.viam.com/stereocal/utils"
)

// readConfig reads the file named by --config, or returns the defaults when it is unset.
func readConfig(c *cli.Context) (*config.Config, error) {
	path := c.Path(flagConfig)
	if path == "" {
		return config.Default(), nil
	}
	return config.Read(path)
}

// CalibrateAction calibrates both cameras and their relative pose from a directory of frame
// pairs, then writes the results file and the text report.
func CalibrateAction(c *cli.Context) error {
	logger, err := loggerFromContext(c)
	if err != nil {
		return err
	}
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	dir := cfg.Capture.Directory
	if frames := c.Path(flagFrames); frames != "" {
		dir = frames
	}

	src, err := capture.NewDirectorySource(dir, cfg.Capture.Camera0Prefix, cfg.Capture.Camera1Prefix, logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(src.Close)
	images0, images1, err := capture.ReadAll(c.Context, src)
	if err != nil {
		return err
	}
	if len(images0) == 0 {
		return errors.Wrapf(calibration.ErrInsufficientData, "no frame pairs in %q", dir)
	}
	printf(c.App.Writer, "Read %d frame pairs from %s", len(images0), dir)

	printf(c.App.Writer, "Calibrating cameras 0 and 1...")
	var cam0, cam1 *calibration.CameraCalibration
	calibrateCamera := func(name string, images []*image.Gray, dst **calibration.CameraCalibration) utils.SimpleFunc {
		return func(ctx context.Context) error {
			cam, err := calibration.NewCameraCalibrator(cfg.CameraConfig(), logger.Sublogger(name)).Calibrate(ctx, images)
			if err != nil {
				return errors.Wrap(err, name)
			}
			*dst = cam
			return nil
		}
	}
	elapsed, err := utils.RunInParallel(c.Context, []utils.SimpleFunc{
		calibrateCamera("camera0", images0, &cam0),
		calibrateCamera("camera1", images1, &cam1),
	})
	if err != nil {
		return err
	}
	logger.Debugw("single camera calibration done", "elapsed", elapsed)
	printf(c.App.Writer, "Performing stereo calibration...")
	stereo, err := calibration.NewStereoCalibrator(cfg.StereoConfig(), logger.Sublogger("stereo")).
		Calibrate(c.Context, cam0, cam1, images0, images1)
	if err != nil {
		return errors.Wrap(err, "stereo")
	}
	if stereo.Poses < len(images0) {
		warningf(c.App.ErrWriter, "chessboard found by both cameras in %d of %d frame pairs", stereo.Poses, len(images0))
	}

	out := c.Path(flagOut)
	if err := calibration.NewResultsFile(stereo).WriteFile(out); err != nil {
		return errors.Wrapf(err, "cannot write results to %q", out)
	}
	if report := c.Path(flagReport); report != "" {
		if err := writeReport(report, stereo); err != nil {
			return errors.Wrapf(err, "cannot write report to %q", report)
		}
		printf(c.App.Writer, "Calibration results saved to %q and %q.", out, report)
	} else {
		printf(c.App.Writer, "Calibration results saved to %q.", out)
	}
	if plotPath := c.Path(flagPlot); plotPath != "" {
		if err := os.MkdirAll(filepath.Dir(plotPath), 0o750); err != nil {
			return err
		}
		if err := capture.PlotViewErrors(plotPath, cam0.ViewErrors, cam1.ViewErrors); err != nil {
			return errors.Wrapf(err, "cannot plot view errors to %q", plotPath)
		}
	}

	printf(c.App.Writer, "%s", calibrationTable(stereo))
	printf(c.App.Writer, "%s", stereoTable(stereo))
	return nil
}

func writeReport(path string, sc *calibration.StereoCalibration) (err error) {
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
	return calibration.WriteReport(f, sc)
}
