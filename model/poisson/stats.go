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
	"github.com/zshwuhan/poismf/common/parallel"
)

// columnSums writes the column sums of m, shifted by the L1 penalty, into out.
// The result is the aggregate linear term shared by every row subproblem of
// the opposite matrix during one half-iteration.
func columnSums(m [][]float32, l1Reg float32, out []float32) {
	floats.Zero(out)
	for _, row := range m {
		floats.Add(out, row)
	}
	if l1Reg > 0 {
		floats.AddConst(out, l1Reg)
	}
}

// adjustSums writes, for every row of view, the weight-corrected statistics
//
//	out[r] = colsum + (w−1)·Σ_{c ∈ nonzero(r)} m[c]
//
// folding the implicitly-assumed negative mass over missing entries into a
// closed form without materializing dense zeros. Rows of out are
// write-disjoint, so the loop runs in parallel.
func adjustSums(m [][]float32, colsum []float32, view *CSMatrix, weight float32, out [][]float32, jobs int) {
	parallel.For(view.Len(), jobs, func(row int) {
		rowSums := out[row]
		floats.Zero(rowSums)
		_, indices := view.Slice(row)
		for _, c := range indices {
			floats.Add(rowSums, m[c])
		}
		floats.MulConst(rowSums, weight-1)
		floats.Add(rowSums, colsum)
	})
}
