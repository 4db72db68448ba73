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
	tncgFTol          = 1e-4
	tncgEta           = 0.25
	tncgSlope         = 1e-4
	tncgDecay         = 0.5
	tncgMaxLineSearch = 20
)

// tncgSolver is a truncated-Newton solver for the box [0, ∞). Each outer step
// approximates the Newton direction with an inner conjugate gradient on the
// free variables, using exact Hessian-vector products of the row objective,
// and applies it through a projected backtracking line search. maxFunEval
// bounds the number of objective evaluations.
type tncgSolver struct {
	maxFunEval int
}

// maxCGIterations caps the inner Newton-CG iteration count.
func maxCGIterations(k int) int {
	return max(1, min(50, k/2))
}

func (t *tncgSolver) scratchFloats(k int) int { return 6 * k }

func (t *tncgSolver) scratchInts(k int) int { return k }

func (t *tncgSolver) endIteration() {}

func (t *tncgSolver) solveRow(a []float32, prob *rowProblem, s *scratch) error {
	var (
		grad     = s.vec(0)
		dir      = s.vec(1)
		residual = s.vec(2)
		conjDir  = s.vec(3)
		hessProd = s.vec(4)
		next     = s.vec(5)
	)
	f, err := prob.evalGrad(a, grad)
	if err != nil {
		return err
	}
	nfeval := 1
	for nfeval < t.maxFunEval {
		// free variables: strictly inside the box, or at the bound with the
		// gradient pointing inward
		free := s.ints[:0]
		var gradNorm float32
		for i := range a {
			if a[i] > 0 || grad[i] < 0 {
				free = append(free, int32(i))
				gradNorm += grad[i] * grad[i]
			}
		}
		if len(free) == 0 || gradNorm <= tncgFTol*tncgFTol*(1+math32.Abs(f)) {
			break
		}
		// inner CG: approximately solve H·dir = −grad on the free variables
		floats.Zero(dir)
		floats.Zero(residual)
		for _, i := range free {
			residual[i] = -grad[i]
		}
		copy(conjDir, residual)
		rr := gradNorm
		rr0 := rr
		for cgIter := 0; cgIter < maxCGIterations(len(a)); cgIter++ {
			if err := prob.hessProd(a, conjDir, hessProd); err != nil {
				return err
			}
			maskFree(hessProd, a, grad)
			curvature := floats.Dot(conjDir, hessProd)
			if curvature <= 0 {
				// negative curvature: fall back to steepest descent on the
				// first iteration, otherwise keep the direction built so far
				if cgIter == 0 {
					copy(dir, conjDir)
				}
				break
			}
			alpha := rr / curvature
			floats.MulConstAdd(conjDir, alpha, dir)
			floats.MulConstAdd(hessProd, -alpha, residual)
			rrNext := floats.Dot(residual, residual)
			if rrNext <= tncgEta*tncgEta*rr0 {
				break
			}
			for i := range conjDir {
				conjDir[i] = residual[i] + (rrNext/rr)*conjDir[i]
			}
			rr = rrNext
		}
		descent := floats.Dot(grad, dir)
		if descent >= 0 {
			// the truncated direction is unusable, restart from the
			// projected gradient
			floats.Zero(dir)
			for _, i := range free {
				dir[i] = -grad[i]
			}
			descent = -gradNorm
		}
		// projected backtracking line search
		step := float32(1)
		accepted := false
		for ls := 0; ls < tncgMaxLineSearch && nfeval < t.maxFunEval; ls++ {
			floats.MulConstAddTo(dir, step, a, next)
			clipNonNeg(next)
			fNext, evalErr := prob.eval(next)
			nfeval++
			if evalErr == nil && fNext <= f+tncgSlope*step*descent {
				accepted = true
				prevF := f
				copy(a, next)
				f = fNext
				if prevF-f <= tncgFTol*(1+math32.Abs(f)) {
					return nil
				}
				break
			}
			step *= tncgDecay
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

// maskFree zeroes the components of v belonging to bound variables.
func maskFree(v, a, grad []float32) {
	for i := range v {
		if a[i] <= 0 && grad[i] >= 0 {
			v[i] = 0
		}
	}
}
