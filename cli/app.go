// Package cli contains the stereocal command line tool.
package cli

import (
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"

	"go.viam.com/stereocal/logging"
)

const (
	// Global flags.
	flagDebug   = "debug"
	flagLogFile = "log-file"

	// Command flags.
	flagConfig    = "config"
	flagFrames    = "frames"
	flagOut       = "out"
	flagReport    = "report"
	flagPlot      = "plot"
	flagResults   = "results"
	flagPoints0   = "points0"
	flagPoints1   = "points1"
	flagImage0    = "image0"
	flagImage1    = "image1"
	flagUndistort = "undistort"
	flagPlotDir   = "plot-dir"
	flagRows      = "rows"
	flagColumns   = "columns"
	flagOutDir    = "out-dir"

	loggerKey = "logger"
)

var configFlag = &cli.PathFlag{
	Name:    flagConfig,
	Aliases: []string{"c"},
	Usage:   "load settings from `FILE` (JSON, or YAML with a .yaml extension)",
}

// NewApp returns the stereocal app writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	var logFile *lumberjack.Logger
	return &cli.App{
		Name:      "stereocal",
		Usage:     "calibrate a pair of cameras and triangulate points seen by both",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.PathFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated when it grows large",
			},
		},
		Before: func(c *cli.Context) error {
			logger := logging.NewBlankLogger("stereocal")
			logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
			if !c.Bool(flagDebug) {
				logger.SetLevel(logging.INFO)
			}
			if path := c.Path(flagLogFile); path != "" {
				logFile = &lumberjack.Logger{
					Filename:   path,
					MaxSize:    10,
					MaxBackups: 3,
				}
				logger.AddAppender(logging.NewWriterAppender(logFile))
			}
			if c.App.Metadata == nil {
				c.App.Metadata = map[string]interface{}{}
			}
			c.App.Metadata[loggerKey] = logger
			return nil
		},
		After: func(c *cli.Context) error {
			var err error
			if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
				err = logger.Sync()
			}
			if logFile != nil {
				err = multierr.Combine(err, logFile.Close())
			}
			return err
		},
		Commands: []*cli.Command{
			{
				Name:      "calibrate",
				Usage:     "calibrate both cameras and their relative pose from chessboard frames",
				UsageText: "stereocal calibrate [--config FILE] [--frames DIR] [other options]",
				Flags: []cli.Flag{
					configFlag,
					&cli.PathFlag{
						Name:  flagFrames,
						Usage: "read frame pairs from `DIR` instead of the configured capture directory",
					},
					&cli.PathFlag{
						Name:  flagOut,
						Value: "calibration_results.json",
						Usage: "write the calibration to `FILE`",
					},
					&cli.PathFlag{
						Name:  flagReport,
						Value: "calibration_results.txt",
						Usage: "write a human readable summary to `FILE`",
					},
					&cli.PathFlag{
						Name:  flagPlot,
						Usage: "save a chart of the per view reprojection errors to `FILE`",
					},
				},
				Action: CalibrateAction,
			},
			{
				Name:      "triangulate",
				Usage:     "reconstruct 3D points from matching pixels picked in both cameras",
				UsageText: "stereocal triangulate --points0 FILE --points1 FILE [other options]",
				Flags: []cli.Flag{
					configFlag,
					&cli.PathFlag{
						Name:  flagResults,
						Value: "calibration_results.json",
						Usage: "read the calibration from `FILE`",
					},
					&cli.PathFlag{
						Name:     flagPoints0,
						Required: true,
						Usage:    "pixels picked in camera 0, CSV or JSON, from `FILE`",
					},
					&cli.PathFlag{
						Name:     flagPoints1,
						Required: true,
						Usage:    "pixels picked in camera 1 in the same order, from `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagUndistort,
						Usage: "correct picked pixels for lens distortion before solving",
					},
					&cli.PathFlag{
						Name:  flagOut,
						Usage: "write x,y,z rows to `FILE` instead of stdout",
					},
					&cli.PathFlag{
						Name:  flagImage0,
						Usage: "annotate the picked pixels on camera 0's `IMAGE`",
					},
					&cli.PathFlag{
						Name:  flagImage1,
						Usage: "annotate the picked pixels on camera 1's `IMAGE`",
					},
					&cli.PathFlag{
						Name:  flagPlotDir,
						Usage: "save front, top and side plots of the points to `DIR`",
					},
				},
				Action: TriangulateAction,
			},
			{
				Name:      "detect",
				Usage:     "find chessboard corners in images and save overlays of them",
				UsageText: "stereocal detect [--rows N --columns M | --config FILE] IMAGE...",
				Flags: []cli.Flag{
					configFlag,
					&cli.IntFlag{
						Name:  flagRows,
						Usage: "inner corners per row; overrides the configuration",
					},
					&cli.IntFlag{
						Name:  flagColumns,
						Usage: "rows of inner corners; overrides the configuration",
					},
					&cli.PathFlag{
						Name:  flagOutDir,
						Value: "corners",
						Usage: "save overlays to `DIR`",
					},
				},
				Action: DetectAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the configuration file",
				Action: SchemaAction,
			},
		},
	}
}

func loggerFromContext(c *cli.Context) (logging.Logger, error) {
	logger, ok := c.App.Metadata[loggerKey].(logging.Logger)
	if !ok {
		return nil, errors.New("logger not initialized")
	}
	return logger, nil
}
