package calibration

import (
	"context"
	"math"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/utils"
)

// rosenbrock is the Rosenbrock function written as two residuals; its minimum is (1, 1).
var rosenbrock = leastSquaresProblem{
	numResiduals: 2,
	residuals: func(dst, x []float64) {
		dst[0] = 10 * (x[1] - x[0]*x[0])
		dst[1] = 1 - x[0]
	},
}

func TestLevenbergMarquardtRosenbrock(t *testing.T) {
	logger := logging.NewTestLogger(t)
	res, err := levenbergMarquardt(context.Background(), rosenbrock, []float64{-1.2, 1},
		utils.TermCriteria{MaxIterations: 100, Epsilon: 1e-12}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, res.Cost, test.ShouldBeLessThan, 1e-12)
	test.That(t, res.Iterations, test.ShouldBeGreaterThan, 0)
}

func TestLevenbergMarquardtFreeMask(t *testing.T) {
	logger := logging.NewTestLogger(t)
	problem := rosenbrock
	problem.free = []bool{true, false}
	res, err := levenbergMarquardt(context.Background(), problem, []float64{0.5, 4},
		utils.TermCriteria{MaxIterations: 100, Epsilon: 1e-12}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.X[1], test.ShouldEqual, 4.)
	// with x1 = 4 the best x0 is close to 2
	test.That(t, math.Abs(res.X[0]-2), test.ShouldBeLessThan, 0.01)

	problem.free = []bool{false, false}
	res, err = levenbergMarquardt(context.Background(), problem, []float64{1, 1},
		utils.TermCriteria{MaxIterations: 10, Epsilon: 0}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Cost, test.ShouldEqual, 0.)

	problem.free = []bool{true}
	_, err = levenbergMarquardt(context.Background(), problem, []float64{1, 1},
		utils.TermCriteria{MaxIterations: 10, Epsilon: 0}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLevenbergMarquardtErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := levenbergMarquardt(context.Background(), rosenbrock, []float64{0, 0},
		utils.TermCriteria{MaxIterations: 0, Epsilon: 1}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = levenbergMarquardt(ctx, rosenbrock, []float64{-1.2, 1}, utils.DefaultStereoCriteria, logger)
	test.That(t, err, test.ShouldBeError, context.Canceled)

	underdetermined := leastSquaresProblem{
		numResiduals: 1,
		residuals:    func(dst, x []float64) { dst[0] = x[0] + x[1] },
	}
	_, err = levenbergMarquardt(context.Background(), underdetermined, []float64{0, 0}, utils.DefaultStereoCriteria, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
