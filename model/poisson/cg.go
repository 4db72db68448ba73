// Copyright 2025 poismf Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package poisson

import (
	"github.com/chewxy/math32"

	"github.com/zshwuhan/poismf/common/floats"
)

const (
	cgTol           = 1e-2
	cgMaxFunEval    = 150
	cgDecay         = 0.25
	cgSlope         = 0.01
	cgMaxLineSearch = 20
)

// cgSolver minimizes the row objective with a non-negative conjugate gradient
// method: Polak–Ribière directions projected onto the feasible cone and
// backtracking line searches with projection onto the non-negative orthant.
// With limitStep, every line search starts at the step that zeroes out the
// first coordinate to hit the bound, so at most one coordinate turns exactly
// zero per iteration.
type cgSolver struct {
	maxIter   int
	limitStep bool
}

func (cg *cgSolver) scratchFloats(k int) int { return 5 * k }

func (cg *cgSolver) scratchInts(k int) int { return 0 }

func (cg *cgSolver) endIteration() {}

func (cg *cgSolver) solveRow(a []float32, prob *rowProblem, s *scratch) error {
	var (
		grad     = s.vec(0)
		projGrad = s.vec(1)
		prevProj = s.vec(2)
		dir      = s.vec(3)
		next     = s.vec(4)
	)
	f, err := prob.evalGrad(a, grad)
	if err != nil {
		return err
	}
	nfeval := 1
	for iter := 0; iter < cg.maxIter && nfeval < cgMaxFunEval; iter++ {
		// project the gradient onto the feasible directions: components
		// pushing a bound coordinate outward are inactive
		copy(projGrad, grad)
		for i := range a {
			if a[i] <= 0 && grad[i] > 0 {
				projGrad[i] = 0
			}
		}
		gradNorm := floats.Dot(projGrad, projGrad)
		if gradNorm <= cgTol*cgTol*(1+math32.Abs(f)) {
			break
		}
		if iter == 0 {
			floats.MulConstTo(projGrad, -1, dir)
		} else {
			// Polak–Ribière, restarted when conjugacy is lost
			beta := (gradNorm - floats.Dot(projGrad, prevProj)) / floats.Dot(prevProj, prevProj)
			if beta < 0 {
				beta = 0
			}
			for i := range dir {
				dir[i] = -projGrad[i] + beta*dir[i]
			}
			for i := range a {
				if a[i] <= 0 && dir[i] < 0 {
					dir[i] = 0
				}
			}
			if floats.Dot(dir, projGrad) >= 0 {
				floats.MulConstTo(projGrad, -1, dir)
			}
		}
		descent := floats.Dot(grad, dir)
		step := float32(1)
		if cg.limitStep {
			step = min(step, boundaryStep(a, dir))
		}
		// backtracking line search with projection
		accepted := false
		for ls := 0; ls < cgMaxLineSearch && nfeval < cgMaxFunEval; ls++ {
			floats.MulConstAddTo(dir, step, a, next)
			clipNonNeg(next)
			fNext, evalErr := prob.eval(next)
			nfeval++
			// a degenerate trial point is rejected like any failed step
			if evalErr == nil && fNext <= f+cgSlope*step*descent {
				copy(prevProj, projGrad)
				copy(a, next)
				f = fNext
				accepted = true
				break
			}
			step *= cgDecay
		}
		if !accepted {
			break
		}
		if err := prob.grad(a, grad); err != nil {
			return err
		}
	}
	return nil
}

// boundaryStep returns the smallest step along dir at which a positive
// coordinate reaches zero, or 1 if none does before a full step.
func boundaryStep(a, dir []float32) float32 {
	step := float32(1)
	for i := range a {
		if a[i] > 0 && dir[i] < 0 {
			step = min(step, a[i]/-dir[i])
		}
	}
	return step
}
