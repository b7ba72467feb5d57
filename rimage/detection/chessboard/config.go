package chessboard

import (
	"github.com/pkg/errors"

	"go.viam.com/stereocal/utils"
)

// PatternSize is the number of inner corners of a chessboard. Corners are reported Rows to a
// line, Columns lines.
type PatternSize struct {
	Rows    int `json:"rows"`
	Columns int `json:"columns"`
}

// Count returns the number of inner corners.
func (ps PatternSize) Count() int {
	return ps.Rows * ps.Columns
}

// CheckValid returns an error if the pattern cannot describe a chessboard.
func (ps PatternSize) CheckValid() error {
	if ps.Rows < 2 || ps.Columns < 2 {
		return errors.Errorf("pattern size must be at least 2x2 inner corners, got %dx%d", ps.Rows, ps.Columns)
	}
	return nil
}

// DetectionConfiguration stores the parameters necessary for chessboard detection in an image.
type DetectionConfiguration struct {
	Saddle SaddleConfiguration `json:"saddle"`
	Ring   RingConfiguration   `json:"ring"`
	Grid   GridConfiguration   `json:"grid"`
	SubPix SubPixConfiguration `json:"subpix"`
}

// SaddleConfiguration stores the parameters to turn the Hessian determinant image into
// saddle point candidates.
type SaddleConfiguration struct {
	BlurSigma         float64 `json:"blur_sigma"`         // gaussian blur applied before differentiation
	RelativeThreshold float64 `json:"relative_threshold"` // fraction of the strongest saddle score a candidate needs
	NMSWindowSize     int     `json:"nms_win_size"`       // half size of the non-maximum suppression window
	MaxCandidates     int     `json:"max_candidates"`     // strongest candidates kept after suppression
}

// RingConfiguration controls the test that keeps only X-junctions among saddle candidates.
type RingConfiguration struct {
	Radius      float64 `json:"radius"`       // pixels
	Samples     int     `json:"samples"`      // samples on the circle
	MinContrast float64 `json:"min_contrast"` // gray levels between darkest and lightest sample
	MinSymmetry float64 `json:"min_symmetry"` // fraction of samples matching their opposite
}

// GridConfiguration controls how candidates are assembled into a lattice.
type GridConfiguration struct {
	Tolerance float64 `json:"tolerance"` // allowed prediction error, as a fraction of the local step
	MaxSeeds  int     `json:"max_seeds"` // seeds tried, closest to the candidates' centroid first
}

// SubPixConfiguration controls corner refinement.
type SubPixConfiguration struct {
	WindowSize int                `json:"win_size"` // half size; the search window is 2*WindowSize+1 wide
	Criteria   utils.TermCriteria `json:"criteria"`
}

// DefaultDetectionConf stores the default detection parameters.
var DefaultDetectionConf = DetectionConfiguration{
	Saddle: SaddleConfiguration{
		BlurSigma:         1.5,
		RelativeThreshold: 0.05,
		NMSWindowSize:     5,
		MaxCandidates:     1000,
	},
	Ring: RingConfiguration{
		Radius:      5,
		Samples:     32,
		MinContrast: 30,
		MinSymmetry: 0.75,
	},
	Grid: GridConfiguration{
		Tolerance: 0.35,
		MaxSeeds:  5,
	},
	SubPix: SubPixConfiguration{
		WindowSize: 11,
		Criteria:   utils.DefaultSubPixCriteria,
	},
}

// CheckValid returns an error naming the first invalid parameter.
func (cfg *DetectionConfiguration) CheckValid() error {
	switch {
	case cfg.Saddle.BlurSigma < 0:
		return errors.New("saddle.blur_sigma must be non-negative")
	case cfg.Saddle.RelativeThreshold <= 0 || cfg.Saddle.RelativeThreshold >= 1:
		return errors.New("saddle.relative_threshold must be in (0, 1)")
	case cfg.Saddle.NMSWindowSize < 1:
		return errors.New("saddle.nms_win_size must be positive")
	case cfg.Saddle.MaxCandidates < 4:
		return errors.New("saddle.max_candidates must be at least 4")
	case cfg.Ring.Radius < 2:
		return errors.New("ring.radius must be at least 2 pixels")
	case cfg.Ring.Samples < 8:
		return errors.New("ring.samples must be at least 8")
	case cfg.Ring.MinContrast < 0:
		return errors.New("ring.min_contrast must be non-negative")
	case cfg.Ring.MinSymmetry < 0 || cfg.Ring.MinSymmetry > 1:
		return errors.New("ring.min_symmetry must be in [0, 1]")
	case cfg.Grid.Tolerance <= 0 || cfg.Grid.Tolerance >= 0.5:
		return errors.New("grid.tolerance must be in (0, 0.5)")
	case cfg.Grid.MaxSeeds < 1:
		return errors.New("grid.max_seeds must be positive")
	case cfg.SubPix.WindowSize < 1:
		return errors.New("subpix.win_size must be positive")
	}
	return errors.Wrap(cfg.SubPix.Criteria.CheckValid(), "subpix.criteria")
}
