// Package config defines the settings of the calibration and triangulation tools and how they
// are read from disk.
package config

import (
	"image"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/stereocal/calibration"
	"go.viam.com/stereocal/rimage/detection/chessboard"
	"go.viam.com/stereocal/utils"
)

// Config is the full set of settings. It is read once and never modified afterwards.
type Config struct {
	ConfigFilePath string `json:"-"`

	Board         BoardConfig                       `json:"board"`
	Detection     chessboard.DetectionConfiguration `json:"detection"`
	Camera        CameraConfig                      `json:"camera"`
	Stereo        StereoConfig                      `json:"stereo"`
	Triangulation TriangulationConfig               `json:"triangulation"`
	Capture       CaptureConfig                     `json:"capture"`
}

// BoardConfig describes the printed chessboard.
type BoardConfig struct {
	Rows       int     `json:"rows"`    // inner corners per line
	Columns    int     `json:"columns"` // lines of inner corners
	SquareSize float64 `json:"square_size"`
}

// Pattern returns the inner corner grid of the board.
func (b BoardConfig) Pattern() chessboard.PatternSize {
	return chessboard.PatternSize{Rows: b.Rows, Columns: b.Columns}
}

// CameraConfig holds the settings of single camera calibration.
type CameraConfig struct {
	SubPixCriteria utils.TermCriteria `json:"subpix_criteria"`
	Criteria       utils.TermCriteria `json:"criteria"`
}

// StereoConfig holds the settings of stereo calibration. Criteria apply both to corner
// refinement and to the solve.
type StereoConfig struct {
	Criteria utils.TermCriteria `json:"criteria"`
	// FixIntrinsic defaults to true.
	FixIntrinsic *bool `json:"fix_intrinsic,omitempty"`
}

// TriangulationConfig holds the settings of point reconstruction.
type TriangulationConfig struct {
	UndistortPoints bool `json:"undistort_points"`
}

// CaptureConfig describes where frames come from.
type CaptureConfig struct {
	Directory     string `json:"directory"`
	Camera0Prefix string `json:"camera0_prefix"`
	Camera1Prefix string `json:"camera1_prefix"`

	// Device identifiers and capture settings of the live capture tool.
	Camera0     string  `json:"camera0,omitempty"`
	Camera1     string  `json:"camera1,omitempty"`
	Frames      int     `json:"stereo_calibration_frames,omitempty"`
	FrameWidth  int     `json:"frame_width,omitempty"`
	FrameHeight int     `json:"frame_height,omitempty"`
	ViewResize  float64 `json:"view_resize,omitempty"`
	Cooldown    int     `json:"cooldown,omitempty"`
}

// ExpectedImageSize returns the configured frame size, or the zero point when unset.
func (c CaptureConfig) ExpectedImageSize() image.Point {
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return image.Point{}
	}
	return image.Point{X: c.FrameWidth, Y: c.FrameHeight}
}

// Default returns the settings used for anything a file leaves out.
func Default() *Config {
	fix := true
	return &Config{
		Board:     BoardConfig{Rows: 4, Columns: 5, SquareSize: 1},
		Detection: chessboard.DefaultDetectionConf,
		Camera: CameraConfig{
			SubPixCriteria: utils.DefaultSubPixCriteria,
			Criteria:       utils.DefaultCameraSolveCriteria,
		},
		Stereo: StereoConfig{
			Criteria:     utils.DefaultStereoCriteria,
			FixIntrinsic: &fix,
		},
		Capture: CaptureConfig{
			Directory:     "stereo_frames",
			Camera0Prefix: "camera0",
			Camera1Prefix: "camera1",
		},
	}
}

// Validate returns an error naming the first invalid field.
func (cfg *Config) Validate() error {
	if err := cfg.Board.Validate("board"); err != nil {
		return err
	}
	if err := cfg.Detection.CheckValid(); err != nil {
		return goutils.NewConfigValidationError("detection", err)
	}
	if err := cfg.Camera.SubPixCriteria.CheckValid(); err != nil {
		return goutils.NewConfigValidationError("camera.subpix_criteria", err)
	}
	if err := cfg.Camera.Criteria.CheckValid(); err != nil {
		return goutils.NewConfigValidationError("camera.criteria", err)
	}
	if err := cfg.Stereo.Criteria.CheckValid(); err != nil {
		return goutils.NewConfigValidationError("stereo.criteria", err)
	}
	return cfg.Capture.Validate("capture")
}

// Validate checks the board dimensions.
func (b BoardConfig) Validate(path string) error {
	if b.Rows == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "rows")
	}
	if b.Columns == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "columns")
	}
	if err := b.Pattern().CheckValid(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if b.SquareSize <= 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("square_size must be positive, got %v", b.SquareSize))
	}
	return nil
}

// Validate checks the capture settings.
func (c CaptureConfig) Validate(path string) error {
	if c.Camera0Prefix == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "camera0_prefix")
	}
	if c.Camera1Prefix == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "camera1_prefix")
	}
	if c.Camera0Prefix == c.Camera1Prefix {
		return goutils.NewConfigValidationError(path, errors.New("camera prefixes must differ"))
	}
	if c.FrameWidth < 0 || c.FrameHeight < 0 {
		return goutils.NewConfigValidationError(path, errors.New("frame_width and frame_height must not be negative"))
	}
	if c.Frames < 0 {
		return goutils.NewConfigValidationError(path, errors.New("stereo_calibration_frames must not be negative"))
	}
	return nil
}

// FixIntrinsic reports whether stereo calibration keeps the single camera intrinsics.
func (cfg *Config) FixIntrinsic() bool {
	return cfg.Stereo.FixIntrinsic == nil || *cfg.Stereo.FixIntrinsic
}

// CameraConfig derives the single camera calibrator settings.
func (cfg *Config) CameraConfig() calibration.CameraConfig {
	det := cfg.Detection
	det.SubPix.Criteria = cfg.Camera.SubPixCriteria
	return calibration.CameraConfig{
		Pattern:    cfg.Board.Pattern(),
		SquareSize: cfg.Board.SquareSize,
		Detection:  det,
		Criteria:   cfg.Camera.Criteria,
		ImageSize:  cfg.Capture.ExpectedImageSize(),
	}
}

// StereoConfig derives the stereo calibrator settings.
func (cfg *Config) StereoConfig() calibration.StereoConfig {
	det := cfg.Detection
	det.SubPix.Criteria = cfg.Stereo.Criteria
	return calibration.StereoConfig{
		Pattern:      cfg.Board.Pattern(),
		SquareSize:   cfg.Board.SquareSize,
		Detection:    det,
		Criteria:     cfg.Stereo.Criteria,
		FixIntrinsic: cfg.FixIntrinsic(),
	}
}

// Schema returns the JSON schema of the configuration file.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
