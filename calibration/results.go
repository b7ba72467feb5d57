package calibration

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage/transform"
)

// Matrix is the file form of a matrix: its shape and row-major data.
type Matrix struct {
	Shape [2]int    `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewMatrix copies m.
func NewMatrix(m mat.Matrix) Matrix {
	r, c := m.Dims()
	out := Matrix{Shape: [2]int{r, c}, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Data = append(out.Data, m.At(i, j))
		}
	}
	return out
}

// Dense returns the matrix, checking the data against the shape.
func (m Matrix) Dense() (*mat.Dense, error) {
	if m.Shape[0] <= 0 || m.Shape[1] <= 0 {
		return nil, errors.Errorf("invalid matrix shape %v", m.Shape)
	}
	if len(m.Data) != m.Shape[0]*m.Shape[1] {
		return nil, errors.Errorf("matrix of shape %v has %d values", m.Shape, len(m.Data))
	}
	return mat.NewDense(m.Shape[0], m.Shape[1], append([]float64(nil), m.Data...)), nil
}

// CameraResult is the file form of a CameraCalibration.
type CameraResult struct {
	Width        int       `json:"width_px"`
	Height       int       `json:"height_px"`
	CameraMatrix Matrix    `json:"camera_matrix"`
	Distortion   Matrix    `json:"distortion_coefficients"`
	RMSE         float64   `json:"rmse"`
	Views        int       `json:"views"`
	ViewErrors   []float64 `json:"view_errors,omitempty"`
}

// StereoResult is the file form of the relative pose part of a StereoCalibration.
type StereoResult struct {
	Rotation    Matrix  `json:"rotation"`
	Translation Matrix  `json:"translation"`
	Essential   Matrix  `json:"essential"`
	Fundamental Matrix  `json:"fundamental"`
	RMSE        float64 `json:"rmse"`
	Poses       int     `json:"poses"`
}

// ResultsFile holds everything needed to triangulate with a calibrated pair.
type ResultsFile struct {
	Camera0 CameraResult `json:"camera0"`
	Camera1 CameraResult `json:"camera1"`
	Stereo  StereoResult `json:"stereo"`
}

func newCameraResult(c *CameraCalibration) CameraResult {
	return CameraResult{
		Width:        c.Intrinsics.Width,
		Height:       c.Intrinsics.Height,
		CameraMatrix: NewMatrix(c.CameraMatrix()),
		Distortion:   NewMatrix(mat.NewDense(1, 5, c.DistortionCoefficients())),
		RMSE:         c.RMSE,
		Views:        c.Views,
		ViewErrors:   c.ViewErrors,
	}
}

func (cr CameraResult) calibration() (*CameraCalibration, error) {
	k, err := cr.CameraMatrix.Dense()
	if err != nil {
		return nil, errors.Wrap(err, "camera_matrix")
	}
	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromMatrix(k, cr.Width, cr.Height)
	if err != nil {
		return nil, err
	}
	dist, err := transform.NewBrownConradyFromCoefficients(cr.Distortion.Data)
	if err != nil {
		return nil, errors.Wrap(err, "distortion_coefficients")
	}
	return &CameraCalibration{
		Intrinsics: intrinsics,
		Distortion: dist,
		RMSE:       cr.RMSE,
		Views:      cr.Views,
		ViewErrors: cr.ViewErrors,
	}, nil
}

// NewResultsFile converts a stereo calibration, including both cameras, to its file form.
func NewResultsFile(sc *StereoCalibration) *ResultsFile {
	return &ResultsFile{
		Camera0: newCameraResult(sc.Camera0),
		Camera1: newCameraResult(sc.Camera1),
		Stereo: StereoResult{
			Rotation:    NewMatrix(sc.Rotation),
			Translation: NewMatrix(sc.Translation),
			Essential:   NewMatrix(sc.Essential),
			Fundamental: NewMatrix(sc.Fundamental),
			RMSE:        sc.RMSE,
			Poses:       sc.Poses,
		},
	}
}

// StereoCalibration converts the file back.
func (rf *ResultsFile) StereoCalibration() (*StereoCalibration, error) {
	cam0, err := rf.Camera0.calibration()
	if err != nil {
		return nil, errors.Wrap(err, "camera0")
	}
	cam1, err := rf.Camera1.calibration()
	if err != nil {
		return nil, errors.Wrap(err, "camera1")
	}
	out := &StereoCalibration{RMSE: rf.Stereo.RMSE, Poses: rf.Stereo.Poses, Camera0: cam0, Camera1: cam1}
	for _, m := range []struct {
		name string
		src  Matrix
		dst  **mat.Dense
		rows int
		cols int
	}{
		{"rotation", rf.Stereo.Rotation, &out.Rotation, 3, 3},
		{"translation", rf.Stereo.Translation, &out.Translation, 3, 1},
		{"essential", rf.Stereo.Essential, &out.Essential, 3, 3},
		{"fundamental", rf.Stereo.Fundamental, &out.Fundamental, 3, 3},
	} {
		d, err := m.src.Dense()
		if err != nil {
			return nil, errors.Wrap(err, m.name)
		}
		if r, c := d.Dims(); r != m.rows || c != m.cols {
			return nil, errors.Errorf("%s must be %dx%d, got %dx%d", m.name, m.rows, m.cols, r, c)
		}
		*m.dst = d
	}
	return out, nil
}

// WriteFile writes the results as indented JSON, creating the directory if needed.
func (rf *ResultsFile) WriteFile(path string) (err error) {
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
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(rf)
}

// ReadResultsFile reads a file written by WriteFile.
func ReadResultsFile(path string) (*ResultsFile, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	var rf ResultsFile
	if err := json.NewDecoder(f).Decode(&rf); err != nil {
		return nil, errors.Wrapf(err, "cannot decode results file %q", path)
	}
	return &rf, nil
}

// WriteReport writes a human readable summary of both camera calibrations and the stereo
// calibration.
func WriteReport(w io.Writer, sc *StereoCalibration) error {
	var sb strings.Builder
	for i, cam := range []*CameraCalibration{sc.Camera0, sc.Camera1} {
		fmt.Fprintf(&sb, "===== Camera %d Calibration =====\n", i)
		fmt.Fprintf(&sb, "RMSE: %s\n", formatFloat(cam.RMSE))
		fmt.Fprintf(&sb, "Camera Matrix:\n%s\n", formatMatrix(cam.CameraMatrix()))
		fmt.Fprintf(&sb, "Distortion Coefficients:\n%s\n\n", formatMatrix(mat.NewDense(1, 5, cam.DistortionCoefficients())))
	}
	sb.WriteString("===== Stereo Calibration =====\n")
	fmt.Fprintf(&sb, "Stereo Calibration RMSE: %s\n", formatFloat(sc.RMSE))
	fmt.Fprintf(&sb, "Rotation Matrix (R):\n%s\n", formatMatrix(sc.Rotation))
	fmt.Fprintf(&sb, "Translation Vector (T):\n%s\n", formatMatrix(sc.Translation))
	_, err := io.WriteString(w, sb.String())
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// formatMatrix prints m as nested bracketed rows with right aligned columns.
func formatMatrix(m mat.Matrix) string {
	r, c := m.Dims()
	cells := make([][]string, r)
	width := 0
	for i := 0; i < r; i++ {
		cells[i] = make([]string, c)
		for j := 0; j < c; j++ {
			cells[i][j] = strconv.FormatFloat(m.At(i, j), 'e', 8, 64)
			width = max(width, len(cells[i][j]))
		}
	}
	var sb strings.Builder
	sb.WriteString("[")
	for i, row := range cells {
		if i > 0 {
			sb.WriteString("\n ")
		}
		sb.WriteString("[")
		for j, cell := range row {
			if j > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(strings.Repeat(" ", width-len(cell)))
			sb.WriteString(cell)
		}
		sb.WriteString("]")
	}
	sb.WriteString("]")
	return sb.String()
}
