package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/config"
	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/detection/chessboard"
)

// DetectAction looks for the chessboard in each image argument and saves an overlay of the
// corners it finds.
func DetectAction(c *cli.Context) error {
	logger, err := loggerFromContext(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return errors.New("no images given")
	}
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	pattern := cfg.Board.Pattern()
	if c.IsSet(flagRows) {
		pattern.Rows = c.Int(flagRows)
	}
	if c.IsSet(flagColumns) {
		pattern.Columns = c.Int(flagColumns)
	}
	if err := pattern.CheckValid(); err != nil {
		return err
	}
	detection := cfg.CameraConfig().Detection
	outDir := c.Path(flagOutDir)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Image", "Size", "Corners", "Overlay"})
	found := 0
	for _, path := range c.Args().Slice() {
		if err := c.Context.Err(); err != nil {
			return err
		}
		img, err := rimage.ReadGrayFromFile(path)
		if err != nil {
			return err
		}
		size := img.Bounds().Size()
		corners, err := chessboard.FindChessboardCorners(img, pattern, detection)
		if errors.Is(err, chessboard.ErrChessboardNotFound) {
			logger.Debugw("chessboard not found", "image", path, "error", err)
			t.AppendRow(table.Row{path, size, "not found", ""})
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "cannot search %q", path)
		}
		found++
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		overlay := filepath.Join(outDir, base+"_corners.png")
		if err := chessboard.DrawCorners(img, corners, overlay); err != nil {
			return err
		}
		t.AppendRow(table.Row{path, size, len(corners), overlay})
	}
	t.AppendFooter(table.Row{"", "", found, ""})
	printf(c.App.Writer, "%s", t.Render())
	if found == 0 {
		warningf(c.App.ErrWriter, "no %dx%d chessboard found in %d images", pattern.Rows, pattern.Columns, c.NArg())
	}
	return nil
}

// SchemaAction prints the JSON schema of the configuration file.
func SchemaAction(c *cli.Context) error {
	out, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}
