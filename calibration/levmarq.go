package calibration

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/utils"
)

const (
	initialLambda = 1e-3
	minLambda     = 1e-12
	maxLambda     = 1e12
)

// leastSquaresProblem is a nonlinear least squares problem min |r(x)|².
type leastSquaresProblem struct {
	numResiduals int
	// residuals writes r(x) into dst. It must be safe for concurrent use.
	residuals func(dst, x []float64)
	// free marks the parameters the solver may change; nil frees all of them.
	free []bool
}

type leastSquaresResult struct {
	X          []float64
	Cost       float64 // sum of squared residuals
	Iterations int
}

// relativeStep is the largest parameter change, relative to the parameter's magnitude for
// magnitudes above one.
func relativeStep(step, z []float64) float64 {
	worst := 0.
	for k := range step {
		worst = math.Max(worst, math.Abs(step[k])/math.Max(math.Abs(z[k]), 1))
	}
	return worst
}

// levenbergMarquardt minimizes the problem from x0. The Jacobian is estimated with central
// differences evaluated concurrently. Iteration stops after criteria.MaxIterations steps, when
// no parameter moves by more than criteria.Epsilon relative to its magnitude, or when no
// damping produces a decrease.
func levenbergMarquardt(
	ctx context.Context,
	problem leastSquaresProblem,
	x0 []float64,
	criteria utils.TermCriteria,
	logger logging.Logger,
) (*leastSquaresResult, error) {
	if err := criteria.CheckValid(); err != nil {
		return nil, err
	}
	if problem.free != nil && len(problem.free) != len(x0) {
		return nil, errors.Errorf("free mask has %d entries for %d parameters", len(problem.free), len(x0))
	}

	var freeIdx []int
	for i := range x0 {
		if problem.free == nil || problem.free[i] {
			freeIdx = append(freeIdx, i)
		}
	}
	x := append([]float64(nil), x0...)
	m, n := problem.numResiduals, len(freeIdx)
	if n == 0 {
		r := make([]float64, m)
		problem.residuals(r, x)
		return &leastSquaresResult{X: x, Cost: floats.Dot(r, r)}, nil
	}
	if m < n {
		return nil, errors.Errorf("%d residuals cannot determine %d parameters", m, n)
	}

	// reduced maps the free parameters z onto a copy of x.
	reduced := func(base []float64) func(dst, z []float64) {
		return func(dst, z []float64) {
			full := append([]float64(nil), base...)
			for k, i := range freeIdx {
				full[i] = z[k]
			}
			problem.residuals(dst, full)
		}
	}
	gather := func(full []float64) []float64 {
		z := make([]float64, n)
		for k, i := range freeIdx {
			z[k] = full[i]
		}
		return z
	}

	r := make([]float64, m)
	problem.residuals(r, x)
	cost := floats.Dot(r, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return nil, errors.New("initial residuals are not finite")
	}

	jac := mat.NewDense(m, n, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central, Concurrent: true}
	lambda := initialLambda
	result := &leastSquaresResult{X: x, Cost: cost}

	for iter := 1; iter <= criteria.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		z := gather(x)
		fd.Jacobian(jac, reduced(x), z, settings)

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(m, r))

		improved := false
		var step []float64
		for lambda <= maxLambda {
			damped := mat.NewSymDense(n, nil)
			damped.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				damped.SetSym(i, i, d+lambda*math.Max(d, 1e-9))
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(damped); !ok {
				lambda *= 10
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, &g); err != nil {
				lambda *= 10
				continue
			}

			candidate := append([]float64(nil), x...)
			step = make([]float64, n)
			for k, i := range freeIdx {
				step[k] = -delta.AtVec(k)
				candidate[i] += step[k]
			}
			rNew := make([]float64, m)
			problem.residuals(rNew, candidate)
			costNew := floats.Dot(rNew, rNew)
			if costNew < cost && !math.IsNaN(costNew) {
				x, r, cost = candidate, rNew, costNew
				lambda = math.Max(lambda/10, minLambda)
				improved = true
				break
			}
			lambda *= 10
		}

		result.X, result.Cost, result.Iterations = x, cost, iter
		logger.Debugw("solver iteration", "iteration", iter, "cost", cost, "lambda", lambda, "improved", improved)
		if !improved {
			break
		}
		if criteria.Done(iter, relativeStep(step, gather(x))) {
			break
		}
	}
	return result, nil
}
