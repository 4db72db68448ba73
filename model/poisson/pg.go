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
	"github.com/zshwuhan/poismf/common/floats"
)

// pgSolver updates a row with fixed-step proximal gradient steps:
//
//	a ← max(0, (a + step·w·ascent(a)) / (1 + 2·l2·step) − step·sums)
//
// The division implements the proximal shrinkage of the L2 penalty; clipping
// projects back onto the non-negative orthant. The step size is global and
// halves after every full outer iteration.
type pgSolver struct {
	step       float32
	maxUpdates int
}

func (pg *pgSolver) scratchFloats(k int) int { return k }

func (pg *pgSolver) scratchInts(k int) int { return 0 }

// endIteration halves the step size once both matrices have been updated.
func (pg *pgSolver) endIteration() { pg.step *= 0.5 }

func (pg *pgSolver) solveRow(a []float32, prob *rowProblem, s *scratch) error {
	grad := s.vec(0)
	shrink := 1 / (1 + 2*prob.l2Reg*pg.step)
	ascentStep := pg.step * prob.weight
	for upd := 0; upd < pg.maxUpdates; upd++ {
		if err := prob.ascent(a, grad); err != nil {
			return err
		}
		floats.MulConstAdd(grad, ascentStep, a)
		if shrink != 1 {
			floats.MulConst(a, shrink)
		}
		floats.MulConstAdd(prob.sums, -pg.step, a)
		clipNonNeg(a)
	}
	return nil
}
