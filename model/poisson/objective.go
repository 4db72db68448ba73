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
	"github.com/juju/errors"

	"github.com/zshwuhan/poismf/common/floats"
)

// ErrDegenerate is returned when the predicted intensity for an observed count
// reaches zero, which would otherwise propagate non-finite values into the
// factor matrices.
var ErrDegenerate = errors.New("zero predicted intensity for an observed count")

// rowProblem is one row's local convex subproblem: minimize
//
//	f(a) = sums·a + l2·‖a‖² − w·Σ_{(j,x)} x·log(a·M_j)   s.t. a ≥ 0
//
// where M is the fixed opposite factor matrix, (values, indices) the row's
// non-zero support and sums the shared statistics vector. Both the objective
// and its derivatives touch only the support, so their cost is O(nnz·k).
type rowProblem struct {
	opposite [][]float32 // fixed opposite factor matrix, read-only
	values   []float32   // non-zero counts of this row
	indices  []int32     // indices into opposite
	sums     []float32   // statistics vector, possibly row-corrected
	l2Reg    float32
	weight   float32
}

// eval returns the objective at a.
func (p *rowProblem) eval(a []float32) (float32, error) {
	f := floats.Dot(p.sums, a) + p.l2Reg*floats.Dot(a, a)
	var likelihood float32
	for i, j := range p.indices {
		pred := floats.Dot(a, p.opposite[j])
		if pred <= 0 {
			return 0, ErrDegenerate
		}
		likelihood += p.values[i] * math32.Log(pred)
	}
	return f - likelihood*p.weight, nil
}

// grad writes the gradient at a into out.
func (p *rowProblem) grad(a, out []float32) error {
	floats.Zero(out)
	for i, j := range p.indices {
		pred := floats.Dot(a, p.opposite[j])
		if pred <= 0 {
			return ErrDegenerate
		}
		floats.MulConstAdd(p.opposite[j], -p.values[i]/pred, out)
	}
	if p.weight != 1 {
		floats.MulConst(out, p.weight)
	}
	floats.Add(out, p.sums)
	floats.MulConstAdd(a, 2*p.l2Reg, out)
	return nil
}

// evalGrad returns the objective at a and writes the gradient into out.
func (p *rowProblem) evalGrad(a, out []float32) (float32, error) {
	floats.Zero(out)
	var likelihood float32
	for i, j := range p.indices {
		pred := floats.Dot(a, p.opposite[j])
		if pred <= 0 {
			return 0, ErrDegenerate
		}
		floats.MulConstAdd(p.opposite[j], -p.values[i]/pred, out)
		likelihood += p.values[i] * math32.Log(pred)
	}
	if p.weight != 1 {
		floats.MulConst(out, p.weight)
	}
	floats.Add(out, p.sums)
	floats.MulConstAdd(a, 2*p.l2Reg, out)
	return floats.Dot(p.sums, a) + p.l2Reg*floats.Dot(a, a) - likelihood*p.weight, nil
}

// hessProd writes the Hessian-vector product at a into out:
//
//	H(a)·v = 2·l2·v + w·Σ_{(j,x)} x·(M_j·v)/(a·M_j)² · M_j
func (p *rowProblem) hessProd(a, v, out []float32) error {
	floats.MulConstTo(v, 2*p.l2Reg, out)
	for i, j := range p.indices {
		pred := floats.Dot(a, p.opposite[j])
		if pred <= 0 {
			return ErrDegenerate
		}
		scale := p.weight * p.values[i] * floats.Dot(p.opposite[j], v) / (pred * pred)
		floats.MulConstAdd(p.opposite[j], scale, out)
	}
	return nil
}

// ascent writes the likelihood ascent term Σ_{(j,x)} (x/(a·M_j))·M_j into out.
// Used by the proximal gradient solver, which handles the linear and
// regularization terms in closed form.
func (p *rowProblem) ascent(a, out []float32) error {
	floats.Zero(out)
	for i, j := range p.indices {
		pred := floats.Dot(a, p.opposite[j])
		if pred <= 0 {
			return ErrDegenerate
		}
		floats.MulConstAdd(p.opposite[j], p.values[i]/pred, out)
	}
	return nil
}
