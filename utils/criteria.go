package utils

import (
	"math"

	"github.com/pkg/errors"
)

// TermCriteria bounds an iterative refinement. Iteration stops after MaxIterations steps or
// once a step moves less than Epsilon, whichever happens first.
type TermCriteria struct {
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"`
}

// DefaultSubPixCriteria is used when refining detected corners of a single camera.
var DefaultSubPixCriteria = TermCriteria{MaxIterations: 30, Epsilon: 0.001}

// DefaultStereoCriteria is used for both corner refinement and the joint solve of a camera pair.
var DefaultStereoCriteria = TermCriteria{MaxIterations: 100, Epsilon: 0.0001}

// DefaultCameraSolveCriteria is used by the single camera solver. Epsilon is the float64
// machine epsilon.
var DefaultCameraSolveCriteria = TermCriteria{MaxIterations: 30, Epsilon: 0x1p-52}

// CheckValid returns an error if the criteria can never terminate or never run.
func (tc TermCriteria) CheckValid() error {
	if tc.MaxIterations <= 0 {
		return errors.Errorf("max_iterations must be positive, got %d", tc.MaxIterations)
	}
	if tc.Epsilon < 0 || math.IsNaN(tc.Epsilon) {
		return errors.Errorf("epsilon must be non-negative, got %v", tc.Epsilon)
	}
	return nil
}

// Done reports whether an iteration that just moved by `step` should be the last.
func (tc TermCriteria) Done(iteration int, step float64) bool {
	return iteration >= tc.MaxIterations || step <= tc.Epsilon
}
