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
	"context"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/zshwuhan/poismf/base"
	"github.com/zshwuhan/poismf/base/log"
	"github.com/zshwuhan/poismf/base/progress"
	"github.com/zshwuhan/poismf/common/parallel"
)

// ErrAborted reports cooperative cancellation. The factor matrices retain the
// values of the last fully-completed phase; this is an early exit, not a
// failure.
var ErrAborted = errors.New("factorization aborted")

// Config carries the optimization settings of one Fit call.
type Config struct {
	L2Reg      float32    // L2 regularization on both factor matrices
	L1Reg      float32    // L1 regularization on both factor matrices
	Weight     float32    // weight multiplier for observed entries, 1 disables reweighting
	StepSize   float32    // initial step size, PG only
	Solver     SolverType // row solver
	LimitStep  bool       // zero out at most one coordinate per CG step
	NEpochs    int        // number of outer iterations
	MaxUpdates int        // per-row update budget
	Jobs       int        // number of parallel workers
}

// NewConfig creates a Config with the default settings.
func NewConfig() *Config {
	return &Config{
		Weight:     1,
		StepSize:   1e-7,
		Solver:     TNCG,
		NEpochs:    10,
		MaxUpdates: 15,
		Jobs:       1,
	}
}

func (cfg *Config) validate() error {
	if cfg.L2Reg < 0 || cfg.L1Reg < 0 {
		return errors.NotValidf("negative regularization")
	}
	if cfg.Weight <= 0 {
		return errors.NotValidf("weight multiplier %v", cfg.Weight)
	}
	if cfg.Solver == PG && cfg.StepSize <= 0 {
		return errors.NotValidf("step size %v", cfg.StepSize)
	}
	if cfg.NEpochs < 0 {
		return errors.NotValidf("%d iterations", cfg.NEpochs)
	}
	if cfg.MaxUpdates < 1 {
		return errors.NotValidf("update budget %d", cfg.MaxUpdates)
	}
	return nil
}

// Fit maximizes the regularized Poisson likelihood of X ≈ Poisson(A·Bᵗ) by
// alternating block coordinate descent. Both factor matrices are mutated in
// place and stay entrywise non-negative after every update; they are never
// reallocated. Per outer iteration the driver recomputes B's column
// statistics, re-solves every row of A in parallel, then does the same for B
// against A. Rows are independent within a phase: each update reads its own
// sparse slice, the opposite matrix and the shared statistics, so no locking
// is needed and results do not depend on the number of workers.
//
// Cancellation is checked at the top of each outer iteration and between the
// A- and B-phases; a started phase always runs to completion. On cancellation
// Fit returns ErrAborted and leaves the matrices in the state of the last
// completed phase.
func Fit(ctx context.Context, a, b [][]float32, x *DualView, cfg *Config) error {
	if err := cfg.validate(); err != nil {
		return errors.Trace(err)
	}
	if err := checkDims(a, b, x); err != nil {
		return errors.Trace(err)
	}
	k := len(a[0])
	jobs := max(1, cfg.Jobs)
	sol, err := newSolver(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	// all working memory is carved out before the first row update
	sums := make([]float32, k)
	scratches := make([]*scratch, jobs)
	for i := range scratches {
		scratches[i] = newScratch(sol, k)
	}
	var adjusted [][]float32
	if cfg.Weight != 1 {
		adjusted = base.NewMatrix32(max(len(a), len(b)), k)
	}
	// a started phase runs every row to completion; cancellation is honored
	// between phases only
	phaseCtx := context.WithoutCancel(ctx)
	_, span := progress.Start(ctx, "poisson.Fit", cfg.NEpochs)
	for epoch := 0; epoch < cfg.NEpochs; epoch++ {
		if ctx.Err() != nil {
			span.Fail(ctx.Err())
			return ErrAborted
		}
		fitStart := time.Now()
		// update A against fixed B
		columnSums(b, cfg.L1Reg, sums)
		rowSums := adjusted
		if adjusted != nil {
			rowSums = adjusted[:len(a)]
			adjustSums(b, sums, &x.Row, cfg.Weight, rowSums, jobs)
		}
		if err := updatePhase(phaseCtx, a, b, &x.Row, sums, rowSums, cfg, sol, scratches, jobs); err != nil {
			span.Fail(err)
			return errors.Trace(err)
		}
		if ctx.Err() != nil {
			span.Fail(ctx.Err())
			return ErrAborted
		}
		// update B against fixed A
		columnSums(a, cfg.L1Reg, sums)
		if adjusted != nil {
			rowSums = adjusted[:len(b)]
			adjustSums(a, sums, &x.Col, cfg.Weight, rowSums, jobs)
		}
		if err := updatePhase(phaseCtx, b, a, &x.Col, sums, rowSums, cfg, sol, scratches, jobs); err != nil {
			span.Fail(err)
			return errors.Trace(err)
		}
		sol.endIteration()
		span.Add(1)
		log.Logger().Debug("fit poisson iteration",
			zap.Int("epoch", epoch+1),
			zap.Int("n_epochs", cfg.NEpochs),
			zap.Duration("fit_time", time.Since(fitStart)))
	}
	span.End()
	return nil
}

// updatePhase re-solves every row of target against the fixed opposite matrix.
// Row updates are write-disjoint and read only shared immutable state, so they
// run in parallel without synchronization.
func updatePhase(ctx context.Context, target, opposite [][]float32, view *CSMatrix,
	sums []float32, rowSums [][]float32, cfg *Config, sol solver, scratches []*scratch, jobs int) error {
	return parallel.Parallel(ctx, len(target), jobs, func(workerId, row int) error {
		values, indices := view.Slice(row)
		prob := rowProblem{
			opposite: opposite,
			values:   values,
			indices:  indices,
			sums:     sums,
			l2Reg:    cfg.L2Reg,
			weight:   cfg.Weight,
		}
		if rowSums != nil {
			prob.sums = rowSums[row]
		}
		return sol.solveRow(target[row], &prob, scratches[workerId])
	})
}

// FitRow infers a factor row for counts unseen at training time, holding the
// opposite matrix fixed. It reuses the row solvers with a one-row dataset: the
// caller supplies the row's non-zero support as parallel value and index
// slices, and the row vector is updated in place.
func FitRow(a []float32, opposite [][]float32, values []float32, indices []int32, cfg *Config) error {
	if err := cfg.validate(); err != nil {
		return errors.Trace(err)
	}
	if len(values) != len(indices) {
		return errors.NotValidf("support with %d values and %d indices", len(values), len(indices))
	}
	k := len(a)
	for _, j := range indices {
		if int(j) >= len(opposite) || j < 0 {
			return errors.NotValidf("index %d outside the opposite matrix", j)
		}
	}
	sol, err := newSolver(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	sums := make([]float32, k)
	columnSums(opposite, cfg.L1Reg, sums)
	if cfg.Weight != 1 {
		corrected := make([]float32, k)
		for _, j := range indices {
			for i := range corrected {
				corrected[i] += opposite[j][i]
			}
		}
		for i := range corrected {
			sums[i] += (cfg.Weight - 1) * corrected[i]
		}
	}
	prob := rowProblem{
		opposite: opposite,
		values:   values,
		indices:  indices,
		sums:     sums,
		l2Reg:    cfg.L2Reg,
		weight:   cfg.Weight,
	}
	return errors.Trace(sol.solveRow(a, &prob, newScratch(sol, k)))
}

func checkDims(a, b [][]float32, x *DualView) error {
	if len(a) == 0 || len(b) == 0 {
		return errors.NotValidf("empty factor matrix")
	}
	k := len(a[0])
	if k == 0 {
		return errors.NotValidf("zero latent factors")
	}
	for _, row := range a {
		if len(row) != k {
			return errors.NotValidf("ragged factor matrix")
		}
	}
	for _, row := range b {
		if len(row) != k {
			return errors.NotValidf("ragged factor matrix")
		}
	}
	if x.Row.Len() != len(a) || x.Col.Len() != len(b) {
		return errors.NotValidf("count matrix of %d×%d for factors of %d×%d",
			x.Row.Len(), x.Col.Len(), len(a), len(b))
	}
	for _, j := range x.Row.Indices {
		if int(j) >= len(b) || j < 0 {
			return errors.NotValidf("column index %d", j)
		}
	}
	for _, i := range x.Col.Indices {
		if int(i) >= len(a) || i < 0 {
			return errors.NotValidf("row index %d", i)
		}
	}
	return nil
}
