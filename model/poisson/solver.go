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
	"github.com/juju/errors"
)

// SolverType selects the per-row optimization strategy.
type SolverType string

const (
	// PG runs fixed-step proximal gradient updates with a decaying step size.
	// Cheapest per update, slowest to converge.
	PG SolverType = "pg"
	// CG runs a non-negative conjugate gradient minimizer on each row.
	CG SolverType = "cg"
	// TNCG runs a bound-constrained truncated-Newton solver on each row.
	// Most expensive, best likelihood and sparsest factors.
	TNCG SolverType = "tncg"
)

// solver solves one row's subproblem in place. Implementations keep no state
// across rows except budgets and the proximal gradient step size, which only
// changes between outer iterations, so one instance is shared by all workers.
type solver interface {
	solveRow(a []float32, prob *rowProblem, s *scratch) error
	scratchFloats(k int) int
	scratchInts(k int) int
	endIteration()
}

func newSolver(cfg *Config) (solver, error) {
	switch cfg.Solver {
	case PG:
		return &pgSolver{step: cfg.StepSize, maxUpdates: cfg.MaxUpdates}, nil
	case CG:
		return &cgSolver{maxIter: cfg.MaxUpdates, limitStep: cfg.LimitStep}, nil
	case TNCG:
		return &tncgSolver{maxFunEval: cfg.MaxUpdates}, nil
	default:
		return nil, errors.NotSupportedf("solver %q", cfg.Solver)
	}
}

// scratch is one worker's private buffer region. Buffers are carved out of a
// single arena allocated before the parallel phase starts, so row updates
// never allocate and never share mutable state across workers.
type scratch struct {
	floats []float32
	ints   []int32
	k      int
}

func newScratch(sol solver, k int) *scratch {
	return &scratch{
		floats: make([]float32, sol.scratchFloats(k)),
		ints:   make([]int32, sol.scratchInts(k)),
		k:      k,
	}
}

// vec returns the i-th k-sized vector of the arena.
func (s *scratch) vec(i int) []float32 {
	return s.floats[i*s.k : (i+1)*s.k]
}

func clipNonNeg(a []float32) {
	for i := range a {
		if a[i] < 0 {
			a[i] = 0
		}
	}
}
