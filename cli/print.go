package cli

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"go.viam.com/stereocal/calibration"
	"go.viam.com/stereocal/rimage/transform"
	"go.viam.com/stereocal/spatialmath"
)

// printf prints a message with a trailing newline; write errors are ignored.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	_, _ = fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a warning to the app's error writer.
func warningf(w io.Writer, format string, a ...interface{}) {
	printf(w, "Warning: "+format, a...)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// calibrationTable lists the intrinsics and distortion of both cameras side by side.
func calibrationTable(sc *calibration.StereoCalibration) string {
	t := table.NewWriter()
	t.SetTitle("Camera calibration")
	t.AppendHeader(table.Row{"", "Camera 0", "Camera 1"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	cam0, cam1 := sc.Camera0, sc.Camera1
	t.AppendRow(table.Row{"Image size", fmt.Sprintf("%dx%d", cam0.Intrinsics.Width, cam0.Intrinsics.Height),
		fmt.Sprintf("%dx%d", cam1.Intrinsics.Width, cam1.Intrinsics.Height)})
	t.AppendRow(table.Row{"Views", cam0.Views, cam1.Views})
	t.AppendRow(table.Row{"RMSE (px)", num(cam0.RMSE), num(cam1.RMSE)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"fx", num(cam0.Intrinsics.Fx), num(cam1.Intrinsics.Fx)})
	t.AppendRow(table.Row{"fy", num(cam0.Intrinsics.Fy), num(cam1.Intrinsics.Fy)})
	t.AppendRow(table.Row{"cx", num(cam0.Intrinsics.Ppx), num(cam1.Intrinsics.Ppx)})
	t.AppendRow(table.Row{"cy", num(cam0.Intrinsics.Ppy), num(cam1.Intrinsics.Ppy)})
	t.AppendSeparator()
	d0, d1 := cam0.DistortionCoefficients(), cam1.DistortionCoefficients()
	for i, name := range []string{"k1", "k2", "p1", "p2", "k3"} {
		t.AppendRow(table.Row{name, strconv.FormatFloat(d0[i], 'e', 3, 64), strconv.FormatFloat(d1[i], 'e', 3, 64)})
	}
	return t.Render()
}

// stereoTable summarizes the relative pose of camera 1.
func stereoTable(sc *calibration.StereoCalibration) string {
	t := table.NewWriter()
	t.SetTitle("Stereo calibration")
	tv := sc.TranslationVector()
	rv := spatialmath.MatrixToRotationVector(sc.Rotation)
	t.AppendRow(table.Row{"Poses", sc.Poses})
	t.AppendRow(table.Row{"RMSE (px)", num(sc.RMSE)})
	t.AppendRow(table.Row{"Epipolar error (px)", fmt.Sprintf("mean %s, max %s", num(sc.EpipolarError), num(sc.EpipolarMaxError))})
	t.AppendRow(table.Row{"Baseline", num(sc.Baseline())})
	t.AppendRow(table.Row{"Translation", fmt.Sprintf("X:%s, Y:%s, Z:%s", num(tv.X), num(tv.Y), num(tv.Z))})
	t.AppendRow(table.Row{"Rotation (deg)", num(rv.Norm() * 180 / math.Pi)})
	return t.Render()
}

// pointsTable lists triangulated points, marking those that could not be solved.
func pointsTable(points []transform.TriangulatedPoint) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "X", "Y", "Z", "Distance", ""})
	for i, p := range points {
		if p.Err != nil {
			t.AppendRow(table.Row{i, "", "", "", "", "degenerate"})
			continue
		}
		t.AppendRow(table.Row{i, num(p.Point.X), num(p.Point.Y), num(p.Point.Z), num(p.Point.Norm()), ""})
	}
	return t.Render()
}
